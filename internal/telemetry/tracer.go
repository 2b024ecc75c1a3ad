package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for controller operations.
// These follow OpenTelemetry semantic conventions where applicable; domain
// attributes use topology-oriented prefixes.
const (
	// Client attributes
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// Topology attributes
	AttrProjectID  = "project.id"
	AttrNodeID     = "node.id"
	AttrNodeType   = "node.type"
	AttrNodeStatus = "node.status"
	AttrLinkID     = "link.id"
	AttrLinkType   = "link.type"
	AttrDrawingID  = "drawing.id"
	AttrSnapshotID = "snapshot.id"

	// Compute fleet attributes
	AttrComputeID   = "compute.id"
	AttrComputeHost = "compute.host"
	AttrEmulator    = "compute.emulator"

	// Operation metadata
	AttrOperation = "controller.operation"
	AttrStatus    = "controller.status"

	// Notification attributes
	AttrAction     = "notification.action"
	AttrSubscriber = "notification.subscriber"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanNodeCreate    = "node.create"
	SpanNodeStart     = "node.start"
	SpanNodeStop      = "node.stop"
	SpanNodeSuspend   = "node.suspend"
	SpanNodeReload    = "node.reload"
	SpanNodeDelete    = "node.delete"
	SpanNodeDuplicate = "node.duplicate"

	SpanLinkCreate  = "link.create"
	SpanLinkDelete  = "link.delete"
	SpanLinkCapture = "link.capture"

	SpanProjectOpen      = "project.open"
	SpanProjectClose     = "project.close"
	SpanProjectExport    = "project.export"
	SpanProjectImport    = "project.import"
	SpanProjectDuplicate = "project.duplicate"
	SpanSnapshotCreate   = "snapshot.create"
	SpanSnapshotRestore  = "snapshot.restore"

	SpanComputeCall      = "compute.call"
	SpanComputeHandshake = "compute.handshake"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ProjectID returns an attribute for a project identifier
func ProjectID(id string) attribute.KeyValue {
	return attribute.String(AttrProjectID, id)
}

// NodeID returns an attribute for a node identifier
func NodeID(id string) attribute.KeyValue {
	return attribute.String(AttrNodeID, id)
}

// NodeType returns an attribute for a node kind
func NodeType(t string) attribute.KeyValue {
	return attribute.String(AttrNodeType, t)
}

// LinkID returns an attribute for a link identifier
func LinkID(id string) attribute.KeyValue {
	return attribute.String(AttrLinkID, id)
}

// ComputeID returns an attribute for a compute identifier
func ComputeID(id string) attribute.KeyValue {
	return attribute.String(AttrComputeID, id)
}

// Emulator returns an attribute for a compute-side emulator kind
func Emulator(kind string) attribute.KeyValue {
	return attribute.String(AttrEmulator, kind)
}

// Operation returns an attribute for a controller operation name
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Action returns an attribute for a notification action
func Action(action string) attribute.KeyValue {
	return attribute.String(AttrAction, action)
}

// StartNodeSpan starts a span for a node lifecycle operation.
func StartNodeSpan(ctx context.Context, span, projectID, nodeID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		ProjectID(projectID),
		NodeID(nodeID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, span, trace.WithAttributes(allAttrs...))
}

// StartComputeSpan starts a span for an outbound compute call.
func StartComputeSpan(ctx context.Context, computeID, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		ComputeID(computeID),
		Operation(operation),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanComputeCall, trace.WithAttributes(allAttrs...))
}

// StartProjectSpan starts a span for a project-wide operation.
func StartProjectSpan(ctx context.Context, span, projectID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		ProjectID(projectID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, span, trace.WithAttributes(allAttrs...))
}
