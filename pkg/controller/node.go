package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/compute"
	"github.com/netloom/netloom/pkg/models"
)

// NodeRequest is the caller-supplied node creation/update payload.
type NodeRequest struct {
	NodeID      string `json:"node_id,omitempty"`
	Name        string `json:"name"`
	NodeType    string `json:"node_type"`
	ComputeID   string `json:"compute_id"`
	ConsoleType string `json:"console_type,omitempty"`
	Console     int    `json:"console,omitempty"`

	Symbol string `json:"symbol,omitempty"`
	// Position fields are pointers so a partial update can leave them alone.
	X     *int   `json:"x,omitempty"`
	Y     *int   `json:"y,omitempty"`
	Z     *int   `json:"z,omitempty"`
	Label *Label `json:"label,omitempty"`

	Properties map[string]any `json:"properties,omitempty"`
}

// driverPath builds the compute API path for a node's driver.
func driverPath(projectID string, nodeType NodeType, suffix string) string {
	return fmt.Sprintf("/v2/compute/projects/%s/%s/nodes%s", projectID, nodeType.Emulator(), suffix)
}

// CreateNode validates the request, allocates a console port, asks the
// driver to create the node, and registers the adapter.
func (p *Project) CreateNode(ctx context.Context, req NodeRequest) (*Node, error) {
	if err := p.requireOpened(); err != nil {
		return nil, err
	}

	nodeType, err := ParseNodeType(req.NodeType)
	if err != nil {
		return nil, err
	}
	if req.ComputeID == "" {
		return nil, fmt.Errorf("compute_id is required: %w", models.ErrValidation)
	}
	proxy, err := p.c.proxyFor(req.ComputeID)
	if err != nil {
		return nil, err
	}

	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	} else if _, err := uuid.Parse(nodeID); err != nil {
		return nil, fmt.Errorf("invalid node_id: %w", models.ErrValidation)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = p.nextNodeName(string(nodeType))
	}

	p.mu.Lock()
	if p.nameInUse(name, "") {
		p.mu.Unlock()
		return nil, fmt.Errorf("node name %q: %w", name, models.ErrDuplicateName)
	}
	// Reserve the name before the driver call so concurrent creates with
	// the same name cannot race past the check.
	placeholder := &Node{NodeID: nodeID, Name: name}
	p.nodes[nodeID] = placeholder
	p.mu.Unlock()

	node, err := p.createNodeOnDriver(ctx, proxy, nodeType, nodeID, name, req)
	if err != nil {
		p.mu.Lock()
		delete(p.nodes, nodeID)
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.nodes[nodeID] = node
	p.mu.Unlock()

	p.emit("node.created", node)
	return node, nil
}

func (p *Project) createNodeOnDriver(ctx context.Context, proxy *compute.Proxy, nodeType NodeType, nodeID, name string, req NodeRequest) (*Node, error) {
	consoleType := req.ConsoleType
	if consoleType == "" {
		if nodeType == NodeTypeCloud || nodeType == NodeTypeNAT {
			consoleType = "none"
		} else {
			consoleType = "telnet"
		}
	}

	console := 0
	if consoleType != "none" {
		var err error
		if req.Console != 0 {
			if err = proxy.Pools().Console.AcquireSpecific(req.Console); err != nil {
				return nil, err
			}
			console = req.Console
		} else if console, err = proxy.Pools().Console.Acquire(); err != nil {
			return nil, err
		}
	}

	payload := map[string]any{
		"node_id": nodeID,
		"name":    name,
	}
	if console != 0 {
		payload["console"] = console
		payload["console_type"] = consoleType
	}
	for k, v := range req.Properties {
		payload[k] = v
	}

	var driverResp map[string]any
	if err := proxy.Post(ctx, driverPath(p.projectID, nodeType, ""), payload, &driverResp); err != nil {
		if console != 0 {
			proxy.Pools().Console.Release(console)
		}
		return nil, err
	}

	symbol := req.Symbol
	if symbol == "" {
		symbol = nodeType.DefaultSymbol()
	}

	node := &Node{
		NodeID:         nodeID,
		ProjectID:      p.projectID,
		ComputeID:      req.ComputeID,
		NodeType:       nodeType,
		Name:           name,
		Status:         StatusStopped,
		ConsoleType:    consoleType,
		Console:        console,
		ConsoleHost:    proxy.Host(),
		Symbol:         symbol,
		X:              intValue(req.X),
		Y:              intValue(req.Y),
		Z:              intValue(req.Z),
		Label:          req.Label,
		PortNameFormat: nodeType.DefaultPortNameFormat(),
		Properties:     req.Properties,
	}
	if node.Label == nil {
		node.Label = &Label{Text: name, X: 0, Y: -25}
	}
	if nodeType.AlwaysOn() {
		node.Status = StatusStarted
	}

	p.adoptDriverState(node, driverResp)
	if len(node.Ports) == 0 {
		node.Ports = computeNodePorts(node)
	}
	return node, nil
}

// nextNodeName generates "vpcs-1", "vpcs-2", ... for unnamed creates.
func (p *Project) nextNodeName(base string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !p.nameInUse(candidate, "") {
			return candidate
		}
	}
}

// adoptDriverState folds a driver JSON response into the adapter: the driver
// is authoritative for status, ports and properties it reports.
func (p *Project) adoptDriverState(node *Node, resp map[string]any) {
	if resp == nil {
		return
	}
	if status, ok := resp["status"].(string); ok && status != "" {
		node.Status = status
	}
	if props, ok := resp["properties"].(map[string]any); ok {
		node.Properties = props
	}
	if rawPorts, ok := resp["ports"].([]any); ok && len(rawPorts) > 0 {
		ports := make([]NodePort, 0, len(rawPorts))
		for _, raw := range rawPorts {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			port := NodePort{}
			port.Name, _ = m["name"].(string)
			port.ShortName, _ = m["short_name"].(string)
			port.LinkType, _ = m["link_type"].(string)
			if f, ok := m["adapter_number"].(float64); ok {
				port.AdapterNumber = int(f)
			}
			if f, ok := m["port_number"].(float64); ok {
				port.PortNumber = int(f)
			}
			ports = append(ports, port)
		}
		node.Ports = ports
	}
}

// GetNode resolves a node id.
func (p *Project) GetNode(nodeID string) (*Node, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	node, ok := p.nodes[nodeID]
	if !ok {
		return nil, models.ErrNodeNotFound
	}
	return node, nil
}

// ListNodes returns all nodes of the project.
func (p *Project) ListNodes() []*Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Node, 0, len(p.nodes))
	for _, node := range p.nodes {
		out = append(out, node)
	}
	return out
}

// UpdateNode pushes changed properties to the driver and recomputes ports.
// Link endpoints referencing removed ports are torn down.
func (p *Project) UpdateNode(ctx context.Context, nodeID string, req NodeRequest) (*Node, error) {
	if err := p.requireOpened(); err != nil {
		return nil, err
	}
	node, err := p.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	node.lock()
	defer node.unlock()

	if req.Name != "" && normalizeName(req.Name) != normalizeName(node.Name) {
		p.mu.RLock()
		inUse := p.nameInUse(req.Name, nodeID)
		p.mu.RUnlock()
		if inUse {
			return nil, fmt.Errorf("node name %q: %w", req.Name, models.ErrDuplicateName)
		}
	}

	proxy, err := p.proxyForNode(node)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if req.Name != "" {
		payload["name"] = strings.TrimSpace(req.Name)
	}
	for k, v := range req.Properties {
		payload[k] = v
	}

	var driverResp map[string]any
	if len(payload) > 0 {
		path := driverPath(p.projectID, node.NodeType, "/"+nodeID)
		if err := proxy.Put(ctx, path, payload, &driverResp); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	if req.Name != "" {
		node.Name = strings.TrimSpace(req.Name)
	}
	if req.Symbol != "" {
		node.Symbol = req.Symbol
	}
	if req.X != nil {
		node.X = *req.X
	}
	if req.Y != nil {
		node.Y = *req.Y
	}
	if req.Z != nil {
		node.Z = *req.Z
	}
	if req.Label != nil {
		node.Label = req.Label
	}
	if req.Properties != nil {
		if node.Properties == nil {
			node.Properties = map[string]any{}
		}
		for k, v := range req.Properties {
			node.Properties[k] = v
		}
	}
	p.adoptDriverState(node, driverResp)
	if driverResp == nil || driverResp["ports"] == nil {
		node.Ports = computeNodePorts(node)
	}
	p.mu.Unlock()

	p.detachRemovedPorts(ctx, node)
	p.emit("node.updated", node)
	return node, nil
}

// DeleteNode removes a stopped node, its links and its console reservation.
func (p *Project) DeleteNode(ctx context.Context, nodeID string) error {
	if err := p.requireOpened(); err != nil {
		return err
	}
	node, err := p.GetNode(nodeID)
	if err != nil {
		return err
	}

	node.lock()
	defer node.unlock()

	if !node.NodeType.AlwaysOn() && node.Status != StatusStopped {
		return fmt.Errorf("node %s is %s: %w", node.Name, node.Status, models.ErrNodeRunning)
	}

	// Links referencing this node go first.
	for _, link := range p.linksForNode(nodeID) {
		if err := p.DeleteLink(ctx, link.LinkID); err != nil {
			logger.Warn("failed to delete link while deleting node",
				logger.KeyProjectID, p.projectID,
				logger.KeyNodeID, nodeID,
				logger.KeyLinkID, link.LinkID,
				logger.KeyError, err,
			)
		}
	}

	proxy, err := p.proxyForNode(node)
	if err != nil {
		return err
	}
	path := driverPath(p.projectID, node.NodeType, "/"+nodeID)
	if err := proxy.Delete(ctx, path, nil); err != nil {
		return err
	}

	p.releaseConsole(node)

	p.mu.Lock()
	delete(p.nodes, nodeID)
	p.mu.Unlock()

	p.emit("node.deleted", map[string]any{"node_id": nodeID, "project_id": p.projectID})
	return nil
}

func (p *Project) releaseConsole(node *Node) {
	if node.Console == 0 {
		return
	}
	if proxy, err := p.proxyForNode(node); err == nil {
		proxy.Pools().Console.Release(node.Console)
	}
}

// ============================================
// NODE LIFECYCLE
// ============================================

// StartNode moves a node to started. Starting a started node is a no-op; a
// suspended node is resumed.
func (p *Project) StartNode(ctx context.Context, nodeID string) error {
	return p.lifecycle(ctx, nodeID, "start")
}

// StopNode moves a node to stopped from any state.
func (p *Project) StopNode(ctx context.Context, nodeID string) error {
	return p.lifecycle(ctx, nodeID, "stop")
}

// SuspendNode suspends a started node. Kinds without suspend support treat
// it as a successful no-op and stay started.
func (p *Project) SuspendNode(ctx context.Context, nodeID string) error {
	return p.lifecycle(ctx, nodeID, "suspend")
}

// ResumeNode resumes a suspended node.
func (p *Project) ResumeNode(ctx context.Context, nodeID string) error {
	return p.lifecycle(ctx, nodeID, "resume")
}

// ReloadNode restarts a node: stop then start as one semantic step. Failure
// of either half leaves the node in the state actually reached.
func (p *Project) ReloadNode(ctx context.Context, nodeID string) error {
	if err := p.requireOpened(); err != nil {
		return err
	}
	node, err := p.GetNode(nodeID)
	if err != nil {
		return err
	}
	if node.NodeType.AlwaysOn() {
		return nil
	}

	node.lock()
	defer node.unlock()

	if node.Status != StatusStopped {
		if err := p.driverVerb(ctx, node, "stop", StatusStopped); err != nil {
			return err
		}
	}
	if err := p.driverVerb(ctx, node, "start", StatusStarted); err != nil {
		return err
	}
	p.establishLinksFor(ctx, node.NodeID)
	p.emit("node.updated", node)
	return nil
}

// lifecycle applies one verb under the node mutex with the transition table:
//
//	stopped  -> start            started  -> stop, suspend
//	suspended-> stop, resume     reload = stop;start
func (p *Project) lifecycle(ctx context.Context, nodeID, verb string) error {
	if err := p.requireOpened(); err != nil {
		return err
	}
	node, err := p.GetNode(nodeID)
	if err != nil {
		return err
	}

	// Always-on kinds run for the life of the project; lifecycle verbs
	// succeed without touching the driver.
	if node.NodeType.AlwaysOn() {
		return nil
	}

	node.lock()
	defer node.unlock()

	switch verb {
	case "start":
		switch node.Status {
		case StatusStarted:
			return nil
		case StatusSuspended:
			verb = "resume"
		}
		if err := p.driverVerb(ctx, node, verb, StatusStarted); err != nil {
			return err
		}
		p.establishLinksFor(ctx, node.NodeID)
		p.emit("node.started", node)
		return nil

	case "stop":
		if node.Status == StatusStopped {
			return nil
		}
		if err := p.driverVerb(ctx, node, "stop", StatusStopped); err != nil {
			return err
		}
		p.emit("node.stopped", node)
		return nil

	case "suspend":
		switch node.Status {
		case StatusSuspended:
			return nil
		case StatusStopped:
			return fmt.Errorf("cannot suspend a stopped node: %w", models.ErrInvalidStateMove)
		}
		if !node.NodeType.SupportsSuspend() {
			// No-op success; the node keeps running.
			return nil
		}
		if err := p.driverVerb(ctx, node, "suspend", StatusSuspended); err != nil {
			return err
		}
		p.emit("node.suspended", node)
		return nil

	case "resume":
		switch node.Status {
		case StatusStarted:
			return nil
		case StatusStopped:
			return fmt.Errorf("cannot resume a stopped node: %w", models.ErrInvalidStateMove)
		}
		if err := p.driverVerb(ctx, node, "resume", StatusStarted); err != nil {
			return err
		}
		p.emit("node.started", node)
		return nil

	default:
		return fmt.Errorf("unknown lifecycle verb %q: %w", verb, models.ErrValidation)
	}
}

// driverVerb posts one lifecycle verb to the driver and adopts the resulting
// status. When the driver reports none, the verb's target state is assumed.
func (p *Project) driverVerb(ctx context.Context, node *Node, verb, targetStatus string) error {
	proxy, err := p.proxyForNode(node)
	if err != nil {
		return err
	}

	path := driverPath(p.projectID, node.NodeType, fmt.Sprintf("/%s/%s", node.NodeID, verb))
	var driverResp map[string]any
	if err := proxy.Post(ctx, path, map[string]any{}, &driverResp); err != nil {
		return err
	}

	node.Status = targetStatus
	p.adoptDriverState(node, driverResp)
	return nil
}

// DuplicateNode clones a node inside the project at the given position.
func (p *Project) DuplicateNode(ctx context.Context, nodeID string, x, y, z int) (*Node, error) {
	if err := p.requireOpened(); err != nil {
		return nil, err
	}
	source, err := p.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	source.lock()
	defer source.unlock()

	proxy, err := p.proxyForNode(source)
	if err != nil {
		return nil, err
	}

	cloneID := uuid.New().String()

	p.mu.Lock()
	cloneName := p.copyName(source.Name)
	p.mu.Unlock()

	path := driverPath(p.projectID, source.NodeType, "/"+nodeID+"/duplicate")
	payload := map[string]any{"destination_node_id": cloneID}
	if err := proxy.Post(ctx, path, payload, nil); err != nil {
		return nil, err
	}

	console := 0
	if source.ConsoleType != "none" {
		if console, err = proxy.Pools().Console.Acquire(); err != nil {
			return nil, err
		}
	}

	clone := &Node{
		NodeID:         cloneID,
		ProjectID:      p.projectID,
		ComputeID:      source.ComputeID,
		NodeType:       source.NodeType,
		Name:           cloneName,
		Status:         StatusStopped,
		ConsoleType:    source.ConsoleType,
		Console:        console,
		ConsoleHost:    source.ConsoleHost,
		Symbol:         source.Symbol,
		X:              x,
		Y:              y,
		Z:              z,
		Label:          &Label{Text: cloneName, X: 0, Y: -25},
		PortNameFormat: source.PortNameFormat,
		Properties:     cloneProperties(source.Properties),
	}
	if source.NodeType.AlwaysOn() {
		clone.Status = StatusStarted
	}
	clone.Ports = computeNodePorts(clone)

	p.mu.Lock()
	p.nodes[cloneID] = clone
	p.mu.Unlock()

	p.emit("node.created", clone)
	return clone, nil
}

// adoptDuplicatedNode asks a source node's driver to duplicate its on-disk
// state into this project and registers the resulting adapter. The clone
// keeps the source's name since it lands in a different project.
func (p *Project) adoptDuplicatedNode(ctx context.Context, src *Node) (*Node, error) {
	proxy, err := p.c.proxyFor(src.ComputeID)
	if err != nil {
		return nil, err
	}

	cloneID := uuid.New().String()
	path := driverPath(src.ProjectID, src.NodeType, "/"+src.NodeID+"/duplicate")
	payload := map[string]any{
		"destination_node_id":    cloneID,
		"destination_project_id": p.projectID,
	}
	if err := proxy.Post(ctx, path, payload, nil); err != nil {
		return nil, err
	}

	console := 0
	if src.ConsoleType != "none" {
		if console, err = proxy.Pools().Console.Acquire(); err != nil {
			return nil, err
		}
	}

	clone := src.clone()
	clone.NodeID = cloneID
	clone.ProjectID = p.projectID
	clone.Status = StatusStopped
	clone.Console = console

	p.mu.Lock()
	p.nodes[cloneID] = clone
	p.mu.Unlock()

	p.emit("node.created", clone)
	return clone, nil
}

func intPtr(v int) *int { return &v }

func intValue(p *int) int {
	if p != nil {
		return *p
	}
	return 0
}

func cloneProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
