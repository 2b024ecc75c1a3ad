package controller

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/models"
)

// LinkRequest is the caller-supplied link creation/update payload.
type LinkRequest struct {
	Nodes     []LinkEndpoint   `json:"nodes"`
	Filters   map[string][]any `json:"filters,omitempty"`
	Suspend   bool             `json:"suspend"`
	LinkStyle map[string]any   `json:"link_style,omitempty"`
}

// validFilterKeys bound the per-direction filter set.
var validFilterKeys = map[string]bool{
	"latency_ms":     true,
	"jitter_ms":      true,
	"loss_pct":       true,
	"corrupt_pct":    true,
	"bpf":            true,
	"frequency_drop": true,
}

func validateFilters(filters map[string][]any) error {
	for key, values := range filters {
		if !validFilterKeys[key] {
			return fmt.Errorf("unknown filter %q: %w", key, models.ErrValidation)
		}
		for _, v := range values {
			switch key {
			case "bpf":
				if _, ok := v.(string); !ok {
					return fmt.Errorf("bpf filter values must be strings: %w", models.ErrValidation)
				}
			case "loss_pct", "corrupt_pct":
				f, ok := toFloat(v)
				if !ok || f < 0 || f > 100 {
					return fmt.Errorf("%s must be between 0 and 100: %w", key, models.ErrValidation)
				}
			case "latency_ms", "jitter_ms":
				f, ok := toFloat(v)
				if !ok || f < 0 {
					return fmt.Errorf("%s must be non-negative: %w", key, models.ErrValidation)
				}
			case "frequency_drop":
				if _, ok := toFloat(v); !ok {
					return fmt.Errorf("frequency_drop values must be numbers: %w", models.ErrValidation)
				}
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// CreateLink validates, wires and registers a point-to-point link. The link
// is established immediately when both computes are connected.
func (p *Project) CreateLink(ctx context.Context, req LinkRequest) (*Link, error) {
	if err := p.requireOpened(); err != nil {
		return nil, err
	}
	if len(req.Nodes) != 2 {
		return nil, fmt.Errorf("a link needs exactly two endpoints: %w", models.ErrValidation)
	}
	if req.Nodes[0].NodeID == req.Nodes[1].NodeID {
		return nil, fmt.Errorf("%w: %s", models.ErrSameNodeLoop, req.Nodes[0].NodeID)
	}
	if err := validateFilters(req.Filters); err != nil {
		return nil, err
	}

	linkType := ""
	for _, ep := range req.Nodes {
		node, err := p.GetNode(ep.NodeID)
		if err != nil {
			return nil, err
		}
		port := findPort(node, ep.AdapterNumber, ep.PortNumber)
		if port == nil {
			return nil, fmt.Errorf("node %s has no port %d/%d: %w",
				node.Name, ep.AdapterNumber, ep.PortNumber, models.ErrValidation)
		}
		if linkType == "" {
			linkType = port.LinkType
		} else if port.LinkType != linkType {
			return nil, fmt.Errorf("cannot link %s port to %s port: %w",
				linkType, port.LinkType, models.ErrValidation)
		}
	}

	link := &Link{
		LinkID:    uuid.New().String(),
		ProjectID: p.projectID,
		Nodes:     req.Nodes,
		LinkType:  linkType,
		Status:    LinkDeclared,
		Suspend:   req.Suspend,
		Filters:   req.Filters,
		LinkStyle: req.LinkStyle,
	}

	p.mu.Lock()
	for _, existing := range p.links {
		if endpointsOverlap(existing, link) {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w", models.ErrPortInUse)
		}
	}
	p.links[link.LinkID] = link
	p.mu.Unlock()

	if err := p.establishLink(ctx, link); err != nil {
		p.mu.Lock()
		delete(p.links, link.LinkID)
		p.mu.Unlock()
		return nil, err
	}

	p.emit("link.created", link)
	return link, nil
}

func findPort(node *Node, adapter, port int) *NodePort {
	for i := range node.Ports {
		if node.Ports[i].AdapterNumber == adapter && node.Ports[i].PortNumber == port {
			return &node.Ports[i]
		}
	}
	return nil
}

func endpointsOverlap(a, b *Link) bool {
	for _, epA := range a.Nodes {
		for _, epB := range b.Nodes {
			if epA.NodeID == epB.NodeID &&
				epA.AdapterNumber == epB.AdapterNumber &&
				epA.PortNumber == epB.PortNumber {
				return true
			}
		}
	}
	return false
}

// establishLink performs the three construction phases: validate computes,
// allocate the UDP pair, install both NIOs. Any failure rolls everything
// back and surfaces the error.
func (p *Project) establishLink(ctx context.Context, link *Link) error {
	nodeA, err := p.GetNode(link.Nodes[0].NodeID)
	if err != nil {
		return err
	}
	nodeB, err := p.GetNode(link.Nodes[1].NodeID)
	if err != nil {
		return err
	}
	proxyA, err := p.proxyForNode(nodeA)
	if err != nil {
		return err
	}
	proxyB, err := p.proxyForNode(nodeB)
	if err != nil {
		return err
	}
	if !proxyA.Connected() {
		return fmt.Errorf("compute %s: %w", nodeA.ComputeID, models.ErrComputeUnreachable)
	}
	if !proxyB.Connected() {
		return fmt.Errorf("compute %s: %w", nodeB.ComputeID, models.ErrComputeUnreachable)
	}

	// Two UDP ports are always allocated, one per side, even when both
	// nodes share a compute (loopback wiring).
	portA, err := proxyA.AcquireUDPPort()
	if err != nil {
		return err
	}
	portB, err := proxyB.AcquireUDPPort()
	if err != nil {
		proxyA.ReleaseUDPPort(portA)
		return err
	}

	nioA := p.udpNIO(link, portA, proxyB.Host(), portB)
	nioB := p.udpNIO(link, portB, proxyA.Host(), portA)

	pathA := nioPath(p.projectID, nodeA, link.Nodes[0])
	pathB := nioPath(p.projectID, nodeB, link.Nodes[1])

	if err := proxyA.Post(ctx, pathA, nioA, nil); err != nil {
		proxyA.ReleaseUDPPort(portA)
		proxyB.ReleaseUDPPort(portB)
		link.Status = LinkCreationFailed
		return err
	}
	if err := proxyB.Post(ctx, pathB, nioB, nil); err != nil {
		if rbErr := proxyA.Delete(ctx, pathA, nil); rbErr != nil {
			logger.Warn("failed to roll back NIO",
				logger.KeyLinkID, link.LinkID,
				logger.KeyNodeID, nodeA.NodeID,
				logger.KeyError, rbErr,
			)
		}
		proxyA.ReleaseUDPPort(portA)
		proxyB.ReleaseUDPPort(portB)
		link.Status = LinkCreationFailed
		return err
	}

	link.wiring = []wiredEndpoint{
		{computeID: nodeA.ComputeID, udpPort: portA, host: proxyA.Host()},
		{computeID: nodeB.ComputeID, udpPort: portB, host: proxyB.Host()},
	}
	link.Status = LinkEstablished
	return nil
}

// udpNIO builds the driver payload for one side of the tunnel.
func (p *Project) udpNIO(link *Link, localPort int, remoteHost string, remotePort int) map[string]any {
	nio := map[string]any{
		"type":  "nio_udp",
		"lport": localPort,
		"rhost": remoteHost,
		"rport": remotePort,
	}
	if len(link.Filters) > 0 {
		nio["filters"] = link.Filters
	}
	if link.Suspend {
		nio["suspend"] = true
	}
	return nio
}

func nioPath(projectID string, node *Node, ep LinkEndpoint) string {
	return driverPath(projectID, node.NodeType,
		fmt.Sprintf("/%s/adapters/%d/ports/%d/nio", node.NodeID, ep.AdapterNumber, ep.PortNumber))
}

// establishLinksFor wires declared links touching a node, used after node
// start on a reopened project. Failures log; the link stays declared.
func (p *Project) establishLinksFor(ctx context.Context, nodeID string) {
	for _, link := range p.linksForNode(nodeID) {
		if link.Status != LinkDeclared {
			continue
		}
		if err := p.establishLink(ctx, link); err != nil {
			link.Status = LinkDeclared
			logger.Warn("failed to establish link",
				logger.KeyProjectID, p.projectID,
				logger.KeyLinkID, link.LinkID,
				logger.KeyError, err,
			)
			continue
		}
		p.emit("link.updated", link)
	}
}

// teardownWiring removes both NIOs and releases both UDP ports, best-effort.
func (p *Project) teardownWiring(ctx context.Context, link *Link) {
	if link.Status != LinkEstablished {
		return
	}
	for i, ep := range link.Nodes {
		node, err := p.GetNode(ep.NodeID)
		if err != nil {
			continue
		}
		proxy, err := p.proxyForNode(node)
		if err != nil {
			continue
		}
		if err := proxy.Delete(ctx, nioPath(p.projectID, node, ep), nil); err != nil {
			logger.Warn("failed to remove NIO",
				logger.KeyLinkID, link.LinkID,
				logger.KeyNodeID, node.NodeID,
				logger.KeyError, err,
			)
		}
		if i < len(link.wiring) {
			proxy.ReleaseUDPPort(link.wiring[i].udpPort)
		}
	}
	link.wiring = nil
}

// GetLink resolves a link id.
func (p *Project) GetLink(linkID string) (*Link, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	link, ok := p.links[linkID]
	if !ok {
		return nil, models.ErrLinkNotFound
	}
	return link, nil
}

// ListLinks returns all links of the project.
func (p *Project) ListLinks() []*Link {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Link, 0, len(p.links))
	for _, link := range p.links {
		out = append(out, link)
	}
	return out
}

func (p *Project) linksForNode(nodeID string) []*Link {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Link
	for _, link := range p.links {
		for _, ep := range link.Nodes {
			if ep.NodeID == nodeID {
				out = append(out, link)
				break
			}
		}
	}
	return out
}

// UpdateLink changes filters, suspend state or styling. Filter and suspend
// changes are pushed to both NIOs; drivers that ignore them still forward
// and the controller keeps the state.
func (p *Project) UpdateLink(ctx context.Context, linkID string, req LinkRequest) (*Link, error) {
	if err := p.requireOpened(); err != nil {
		return nil, err
	}
	link, err := p.GetLink(linkID)
	if err != nil {
		return nil, err
	}
	if err := validateFilters(req.Filters); err != nil {
		return nil, err
	}

	link.Filters = req.Filters
	link.Suspend = req.Suspend
	if req.LinkStyle != nil {
		link.LinkStyle = req.LinkStyle
	}
	if len(req.Nodes) == len(link.Nodes) {
		for i := range req.Nodes {
			if req.Nodes[i].Label != nil {
				link.Nodes[i].Label = req.Nodes[i].Label
			}
		}
	}

	if link.Status == LinkEstablished {
		for i, ep := range link.Nodes {
			node, err := p.GetNode(ep.NodeID)
			if err != nil {
				continue
			}
			proxy, err := p.proxyForNode(node)
			if err != nil {
				continue
			}
			remote := link.wiring[(i+1)%len(link.wiring)]
			nio := p.udpNIO(link, link.wiring[i].udpPort, remote.host, remote.udpPort)
			if err := proxy.Put(ctx, nioPath(p.projectID, node, ep), nio, nil); err != nil {
				return nil, err
			}
		}
	}

	p.emit("link.updated", link)
	return link, nil
}

// DeleteLink tears down the wiring and removes the link.
func (p *Project) DeleteLink(ctx context.Context, linkID string) error {
	link, err := p.GetLink(linkID)
	if err != nil {
		return err
	}

	if link.Capturing {
		if err := p.StopCapture(ctx, linkID); err != nil {
			logger.Warn("failed to stop capture while deleting link",
				logger.KeyLinkID, linkID,
				logger.KeyError, err,
			)
		}
	}

	p.teardownWiring(ctx, link)

	p.mu.Lock()
	delete(p.links, linkID)
	p.mu.Unlock()

	p.emit("link.deleted", map[string]any{"link_id": linkID, "project_id": p.projectID})
	return nil
}

// ============================================
// PACKET CAPTURE
// ============================================

// CaptureRequest selects the capture parameters.
type CaptureRequest struct {
	CaptureFileName string `json:"capture_file_name,omitempty"`
	DataLinkType    string `json:"data_link_type,omitempty"`
}

// StartCapture begins a pcap recording on the link's first endpoint whose
// compute is connected. Only one endpoint captures at a time.
func (p *Project) StartCapture(ctx context.Context, linkID string, req CaptureRequest) (*Link, error) {
	if err := p.requireOpened(); err != nil {
		return nil, err
	}
	link, err := p.GetLink(linkID)
	if err != nil {
		return nil, err
	}
	if link.Capturing {
		return nil, models.ErrAlreadyCaptured
	}
	if link.Status != LinkEstablished {
		return nil, fmt.Errorf("link %s is not established: %w", linkID, models.ErrValidation)
	}

	fileName := req.CaptureFileName
	if fileName == "" {
		fileName = fmt.Sprintf("%s.pcap", linkID)
	}
	if strings.ContainsAny(fileName, "/\\") {
		return nil, fmt.Errorf("capture file name must not contain path separators: %w", models.ErrValidation)
	}
	dlt := req.DataLinkType
	if dlt == "" {
		dlt = "DLT_EN10MB"
	}

	captureIdx := -1
	for i, cand := range link.Nodes {
		n, err := p.GetNode(cand.NodeID)
		if err != nil {
			continue
		}
		if px, err := p.proxyForNode(n); err == nil && px.Connected() {
			captureIdx = i
			break
		}
	}
	if captureIdx < 0 {
		return nil, fmt.Errorf("no endpoint of link %s has a connected compute: %w",
			linkID, models.ErrComputeUnreachable)
	}

	ep := link.Nodes[captureIdx]
	node, err := p.GetNode(ep.NodeID)
	if err != nil {
		return nil, err
	}
	proxy, err := p.proxyForNode(node)
	if err != nil {
		return nil, err
	}

	path := driverPath(p.projectID, node.NodeType,
		fmt.Sprintf("/%s/adapters/%d/ports/%d/start_capture", node.NodeID, ep.AdapterNumber, ep.PortNumber))
	payload := map[string]any{
		"capture_file_name": fileName,
		"data_link_type":    dlt,
	}
	var driverResp map[string]any
	if err := proxy.Post(ctx, path, payload, &driverResp); err != nil {
		return nil, err
	}

	link.Capturing = true
	link.CaptureFileName = fileName
	link.CaptureComputeID = node.ComputeID
	link.captureNodeID = node.NodeID
	if fp, ok := driverResp["pcap_file_path"].(string); ok {
		link.CaptureFilePath = fp
	}

	p.emit("link.updated", link)
	return link, nil
}

// StopCapture ends the pcap recording.
func (p *Project) StopCapture(ctx context.Context, linkID string) error {
	link, err := p.GetLink(linkID)
	if err != nil {
		return err
	}
	if !link.Capturing {
		return models.ErrNotCapturing
	}

	var captureEP *LinkEndpoint
	for i := range link.Nodes {
		if link.Nodes[i].NodeID == link.captureNodeID {
			captureEP = &link.Nodes[i]
			break
		}
	}
	if captureEP != nil {
		node, err := p.GetNode(captureEP.NodeID)
		if err == nil {
			proxy, err := p.proxyForNode(node)
			if err == nil {
				path := driverPath(p.projectID, node.NodeType,
					fmt.Sprintf("/%s/adapters/%d/ports/%d/stop_capture",
						node.NodeID, captureEP.AdapterNumber, captureEP.PortNumber))
				if err := proxy.Post(ctx, path, nil, nil); err != nil {
					return err
				}
			}
		}
	}

	link.Capturing = false
	link.CaptureFileName = ""
	link.CaptureFilePath = ""
	link.CaptureComputeID = ""
	link.captureNodeID = ""

	p.emit("link.updated", link)
	return nil
}

// StreamPCAP proxies the capture byte stream from the capture endpoint's
// compute. rangeHeader, when non-empty, is forwarded so a client can resume
// a partial read; the compute's status and Content-Range pass through in the
// response. The caller owns the response body, unbounded while the capture
// runs.
func (p *Project) StreamPCAP(ctx context.Context, linkID, rangeHeader string) (*http.Response, error) {
	link, err := p.GetLink(linkID)
	if err != nil {
		return nil, err
	}
	if !link.Capturing {
		return nil, models.ErrNotCapturing
	}

	node, err := p.GetNode(link.captureNodeID)
	if err != nil {
		return nil, err
	}
	proxy, err := p.proxyForNode(node)
	if err != nil {
		return nil, err
	}

	var ep *LinkEndpoint
	for i := range link.Nodes {
		if link.Nodes[i].NodeID == link.captureNodeID {
			ep = &link.Nodes[i]
			break
		}
	}
	if ep == nil {
		return nil, models.ErrNotCapturing
	}

	path := driverPath(p.projectID, node.NodeType,
		fmt.Sprintf("/%s/adapters/%d/ports/%d/pcap", node.NodeID, ep.AdapterNumber, ep.PortNumber))
	return proxy.OpenPCAP(ctx, path, rangeHeader)
}
