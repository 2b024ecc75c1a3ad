package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that logs from the
// controller, the compute proxies, and the notification bus can be aggregated
// and queried together.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Topology entities
	KeyProjectID  = "project_id"
	KeyNodeID     = "node_id"
	KeyNodeName   = "node_name"
	KeyNodeType   = "node_type"
	KeyLinkID     = "link_id"
	KeyDrawingID  = "drawing_id"
	KeySnapshotID = "snapshot_id"

	// Compute fleet
	KeyComputeID = "compute_id"
	KeyHost      = "host"
	KeyPort      = "port"
	KeyEmulator  = "emulator"
	KeyConnected = "connected"

	// Link wiring
	KeyAdapterNumber = "adapter_number"
	KeyPortNumber    = "port_number"
	KeyUDPPort       = "udp_port"
	KeyConsolePort   = "console_port"

	// Notification bus
	KeyAction     = "action"
	KeySubscriber = "subscriber"
	KeyDropped    = "dropped"

	// Request handling
	KeyClientIP   = "client_ip"
	KeyRequestID  = "request_id"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyDurationMs = "duration_ms"

	// Operation metadata
	KeyOperation  = "operation"
	KeyError      = "error"
	KeyAttempt    = "attempt"
	KeyBackoff    = "backoff"
	KeyFile       = "file"
	KeySize       = "size"
	KeyChecksum   = "checksum"
	KeyBucket     = "bucket"
	KeyStoreType  = "store_type"
)

// Field constructors for type safety.

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ProjectID returns a slog.Attr for a project identifier
func ProjectID(id string) slog.Attr {
	return slog.String(KeyProjectID, id)
}

// NodeID returns a slog.Attr for a node identifier
func NodeID(id string) slog.Attr {
	return slog.String(KeyNodeID, id)
}

// NodeName returns a slog.Attr for a node display name
func NodeName(name string) slog.Attr {
	return slog.String(KeyNodeName, name)
}

// LinkID returns a slog.Attr for a link identifier
func LinkID(id string) slog.Attr {
	return slog.String(KeyLinkID, id)
}

// ComputeID returns a slog.Attr for a compute identifier
func ComputeID(id string) slog.Attr {
	return slog.String(KeyComputeID, id)
}

// Emulator returns a slog.Attr for a compute-side emulator kind
func Emulator(kind string) slog.Attr {
	return slog.String(KeyEmulator, kind)
}

// Action returns a slog.Attr for a notification action
func Action(action string) slog.Attr {
	return slog.String(KeyAction, action)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for a sub-operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
