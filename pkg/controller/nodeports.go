package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/netloom/netloom/internal/logger"
)

// computeNodePorts derives a node's port list from its properties. Driver
// responses win when they carry ports; this covers built-in kinds and
// drivers that report none.
func computeNodePorts(node *Node) []NodePort {
	linkType := "ethernet"
	if node.NodeTypeIsSerial() {
		linkType = "serial"
	}

	switch node.NodeType {
	case NodeTypeEthernetSwitch, NodeTypeEthernetHub, NodeTypeCloud, NodeTypeNAT,
		NodeTypeFrameRelaySwitch, NodeTypeATMSwitch:
		return portsFromMapping(node, linkType)
	default:
		return portsFromAdapters(node, linkType)
	}
}

// NodeTypeIsSerial reports whether the node's ports are serial.
func (n *Node) NodeTypeIsSerial() bool {
	return n.NodeType == NodeTypeFrameRelaySwitch || n.NodeType == NodeTypeATMSwitch
}

// portsFromMapping builds ports from the "ports_mapping" property used by
// switches, hubs, clouds and NATs. Ports live on adapter 0.
func portsFromMapping(node *Node, linkType string) []NodePort {
	mapping, _ := node.Properties["ports_mapping"].([]any)
	if len(mapping) == 0 {
		// A fresh switch exposes 8 ports by default, a NAT one.
		count := 8
		if node.NodeType == NodeTypeNAT || node.NodeType == NodeTypeCloud {
			count = 1
		}
		out := make([]NodePort, count)
		for i := range out {
			name := formatPortName(node, i)
			out[i] = NodePort{Name: name, ShortName: shortPortName(name), PortNumber: i, LinkType: linkType}
		}
		return out
	}

	out := make([]NodePort, 0, len(mapping))
	for i, raw := range mapping {
		entry, _ := raw.(map[string]any)
		portNumber := i
		if f, ok := entry["port_number"].(float64); ok {
			portNumber = int(f)
		}
		name, _ := entry["name"].(string)
		if name == "" {
			name = formatPortName(node, portNumber)
		}
		out = append(out, NodePort{
			Name:       name,
			ShortName:  shortPortName(name),
			PortNumber: portNumber,
			LinkType:   linkType,
		})
	}
	return out
}

// portsFromAdapters builds one port per adapter (VM-style kinds), honoring
// the "adapters" and "ports_per_adapter" properties.
func portsFromAdapters(node *Node, linkType string) []NodePort {
	adapters := 1
	if f, ok := node.Properties["adapters"].(float64); ok && f > 0 {
		adapters = int(f)
	}
	perAdapter := 1
	if f, ok := node.Properties["ports_per_adapter"].(float64); ok && f > 0 {
		perAdapter = int(f)
	}

	out := make([]NodePort, 0, adapters*perAdapter)
	for a := 0; a < adapters; a++ {
		for pn := 0; pn < perAdapter; pn++ {
			idx := a*perAdapter + pn
			name := formatPortName(node, idx)
			out = append(out, NodePort{
				Name:          name,
				ShortName:     shortPortName(name),
				AdapterNumber: a,
				PortNumber:    pn,
				LinkType:      linkType,
			})
		}
	}
	return out
}

// formatPortName expands the node's port name template for port index i.
// Supported placeholders: {0} (index), {segment0}/{port0} (segmented
// naming, segment size from port_segment_size, default 4).
func formatPortName(node *Node, i int) string {
	format := node.PortNameFormat
	if format == "" {
		format = node.NodeType.DefaultPortNameFormat()
	}
	if node.FirstPortName != "" && i == 0 {
		return node.FirstPortName
	}

	segmentSize := node.PortSegmentSize
	if segmentSize <= 0 {
		segmentSize = 4
	}

	name := strings.ReplaceAll(format, "{0}", fmt.Sprintf("%d", i))
	name = strings.ReplaceAll(name, "{segment0}", fmt.Sprintf("%d", i/segmentSize))
	name = strings.ReplaceAll(name, "{port0}", fmt.Sprintf("%d", i%segmentSize))
	return name
}

// shortPortName abbreviates well-known interface prefixes for labels.
func shortPortName(name string) string {
	replacements := [][2]string{
		{"FastEthernet", "f"},
		{"GigabitEthernet", "g"},
		{"Ethernet", "e"},
		{"Serial", "s"},
	}
	for _, r := range replacements {
		if strings.HasPrefix(name, r[0]) {
			return r[1] + strings.TrimPrefix(name, r[0])
		}
	}
	return name
}

// detachRemovedPorts tears down link endpoints that no longer exist after a
// port recomputation, emitting link.port-removed before the deletion.
func (p *Project) detachRemovedPorts(ctx context.Context, node *Node) {
	valid := make(map[[2]int]bool, len(node.Ports))
	for _, port := range node.Ports {
		valid[[2]int{port.AdapterNumber, port.PortNumber}] = true
	}

	for _, link := range p.linksForNode(node.NodeID) {
		removed := false
		for _, ep := range link.Nodes {
			if ep.NodeID == node.NodeID && !valid[[2]int{ep.AdapterNumber, ep.PortNumber}] {
				removed = true
				break
			}
		}
		if !removed {
			continue
		}

		p.emit("link.port-removed", map[string]any{
			"link_id":    link.LinkID,
			"node_id":    node.NodeID,
			"project_id": p.projectID,
		})
		if err := p.DeleteLink(ctx, link.LinkID); err != nil {
			logger.Warn("failed to delete link after port removal",
				logger.KeyProjectID, p.projectID,
				logger.KeyLinkID, link.LinkID,
				logger.KeyError, err,
			)
		}
	}
}
