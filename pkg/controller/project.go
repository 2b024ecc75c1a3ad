package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/compute"
	"github.com/netloom/netloom/pkg/models"
	"github.com/netloom/netloom/pkg/notification"
)

// Project owns the entity graph of one project and enforces its invariants.
type Project struct {
	c         *Controller
	projectID string
	path      string

	// opMu serializes project-level operations that must not interleave:
	// open, close, snapshot create/restore, duplicate, delete.
	opMu sync.Mutex

	mu        sync.RWMutex
	settings  ProjectSettings
	status    string
	nodes     map[string]*Node
	links     map[string]*Link
	drawings  map[string]*Drawing
	snapshots map[string]*Snapshot
}

func newProject(c *Controller, projectID, path string, settings ProjectSettings) *Project {
	return &Project{
		c:         c,
		projectID: projectID,
		path:      path,
		settings:  settings,
		status:    ProjectClosed,
		nodes:     make(map[string]*Node),
		links:     make(map[string]*Link),
		drawings:  make(map[string]*Drawing),
		snapshots: make(map[string]*Snapshot),
	}
}

// ID returns the project id.
func (p *Project) ID() string {
	return p.projectID
}

// Name returns the project display name.
func (p *Project) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Name
}

// Path returns the project directory.
func (p *Project) Path() string {
	return p.path
}

// Status returns opened or closed.
func (p *Project) Status() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Summary is the wire representation of a project.
type ProjectSummary struct {
	ProjectID string `json:"project_id"`
	Path      string `json:"path"`
	Status    string `json:"status"`
	ProjectSettings
}

// Summary snapshots the project for API responses.
func (p *Project) Summary() ProjectSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ProjectSummary{
		ProjectID:       p.projectID,
		Path:            p.path,
		Status:          p.status,
		ProjectSettings: p.settings,
	}
}

// Update applies client-editable settings and persists.
func (p *Project) Update(ctx context.Context, settings ProjectSettings) error {
	if strings.TrimSpace(settings.Name) == "" {
		return fmt.Errorf("project name is required: %w", models.ErrValidation)
	}

	p.mu.Lock()
	p.settings = settings
	p.mu.Unlock()

	record := &models.ProjectRecord{
		ProjectID: p.projectID,
		Name:      settings.Name,
		Path:      p.path,
		AutoOpen:  settings.AutoOpen,
	}
	if err := p.c.store.UpdateProject(ctx, record); err != nil {
		return err
	}
	if err := p.Commit(); err != nil {
		return err
	}
	p.emit(notification.ActionProjectUpdated, p.Summary())
	return nil
}

// Open loads the project into memory and registers it on every involved
// compute. Nodes come up stopped; links stay declared until started.
func (p *Project) Open(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.openLocked(ctx)
}

func (p *Project) openLocked(ctx context.Context) error {
	if p.Status() == ProjectOpened {
		return nil
	}

	// Every node's compute must be registered; unreachable computes leave
	// nodes present but unusable.
	p.mu.RLock()
	computeIDs := make(map[string]struct{})
	for _, node := range p.nodes {
		computeIDs[node.ComputeID] = struct{}{}
	}
	p.mu.RUnlock()

	for computeID := range computeIDs {
		proxy, err := p.c.proxyFor(computeID)
		if err != nil {
			return fmt.Errorf("project references compute %s: %w", computeID, err)
		}
		if !proxy.Connected() {
			continue
		}
		err = proxy.Post(ctx, "/v2/compute/projects", map[string]any{
			"project_id": p.projectID,
			"name":       p.Name(),
		}, nil)
		if err != nil {
			logger.Warn("failed to register project on compute",
				logger.KeyProjectID, p.projectID,
				logger.KeyComputeID, computeID,
				logger.KeyError, err,
			)
		}
	}

	p.mu.Lock()
	p.status = ProjectOpened
	for _, node := range p.nodes {
		node.Status = StatusStopped
		if node.NodeType.AlwaysOn() {
			node.Status = StatusStarted
		}
		// Re-reserve recorded console ports; a clash means the port was
		// handed out elsewhere since the project last closed.
		if node.Console != 0 {
			if proxy, err := p.c.proxyFor(node.ComputeID); err == nil {
				if err := proxy.Pools().Console.AcquireSpecific(node.Console); err != nil {
					logger.Warn("console port no longer available",
						logger.KeyProjectID, p.projectID,
						logger.KeyNodeID, node.NodeID,
						logger.KeyConsolePort, node.Console,
					)
				}
			}
		}
	}
	for _, link := range p.links {
		if link.Status == "" {
			link.Status = LinkDeclared
		}
	}
	autoStart := p.settings.AutoStart
	p.mu.Unlock()

	if err := p.Commit(); err != nil {
		return err
	}

	if autoStart {
		p.StartAll(ctx)
	}
	return nil
}

// Close stops running nodes best-effort, releases all ports, notifies the
// computes, and flips the project closed. On-disk state remains.
func (p *Project) Close(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.closeLocked(ctx)
}

func (p *Project) closeLocked(ctx context.Context) error {
	if p.Status() == ProjectClosed {
		return nil
	}

	// Best-effort stop of everything still running.
	results := p.bulkOperation(ctx, "stop")
	for _, r := range results {
		if r.Status == "error" {
			logger.Warn("node stop failed during project close",
				logger.KeyProjectID, p.projectID,
				logger.KeyNodeID, r.NodeID,
				logger.KeyError, r.Error,
			)
		}
	}

	p.mu.Lock()
	links := make([]*Link, 0, len(p.links))
	for _, link := range p.links {
		links = append(links, link)
	}
	nodes := make([]*Node, 0, len(p.nodes))
	for _, node := range p.nodes {
		nodes = append(nodes, node)
	}
	computeIDs := make(map[string]struct{})
	for _, node := range p.nodes {
		computeIDs[node.ComputeID] = struct{}{}
	}
	p.mu.Unlock()

	for _, link := range links {
		p.teardownWiring(ctx, link)
		link.Status = LinkDeclared
	}
	for _, node := range nodes {
		p.releaseConsole(node)
	}

	for computeID := range computeIDs {
		proxy, err := p.c.proxyFor(computeID)
		if err != nil || !proxy.Connected() {
			continue
		}
		path := fmt.Sprintf("/v2/compute/projects/%s/close", p.projectID)
		if err := proxy.Post(ctx, path, nil, nil); err != nil {
			logger.Debug("compute project close failed",
				logger.KeyProjectID, p.projectID,
				logger.KeyComputeID, computeID,
				logger.KeyError, err,
			)
		}
	}

	p.mu.Lock()
	p.status = ProjectClosed
	p.mu.Unlock()

	if err := p.Commit(); err != nil {
		return err
	}

	// Terminal event, then the project streams close.
	p.c.bus.CloseProject(p.projectID)
	return nil
}

// requireOpened gates mutating operations.
func (p *Project) requireOpened() error {
	if p.Status() != ProjectOpened {
		return fmt.Errorf("project %s: %w", p.projectID, models.ErrProjectNotOpened)
	}
	return nil
}

// running reports whether any node is not stopped.
func (p *Project) running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, node := range p.nodes {
		if !node.NodeType.AlwaysOn() && node.Status != StatusStopped {
			return true
		}
	}
	return false
}

// usesCompute reports whether any node lives on the given compute.
func (p *Project) usesCompute(computeID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, node := range p.nodes {
		if node.ComputeID == computeID {
			return true
		}
	}
	return false
}

func (p *Project) counts() (nodes, links, drawings, snapshots int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nodes), len(p.links), len(p.drawings), len(p.snapshots)
}

// emit publishes a project-scoped event and persists the topology. Every
// mutating operation funnels through here so the on-disk file never lags.
func (p *Project) emit(action string, payload any) {
	if err := p.Commit(); err != nil {
		logger.Error("failed to persist topology",
			logger.KeyProjectID, p.projectID,
			logger.KeyError, err,
		)
	}
	p.c.bus.Publish(notification.Event{
		Action:    action,
		Event:     payload,
		ProjectID: p.projectID,
	})
}

// normalizeName is the collation used for node name uniqueness.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// nameInUse checks node name uniqueness, ignoring excludeID.
func (p *Project) nameInUse(name, excludeID string) bool {
	normalized := normalizeName(name)
	for _, node := range p.nodes {
		if node.NodeID != excludeID && normalizeName(node.Name) == normalized {
			return true
		}
	}
	return false
}

// copyName derives a free name for a duplicated entity: "x - copy",
// then "x - copy (2)" and so on.
func (p *Project) copyName(base string) string {
	candidate := base + " - copy"
	for n := 2; p.nameInUse(candidate, ""); n++ {
		candidate = fmt.Sprintf("%s - copy (%d)", base, n)
	}
	return candidate
}

// ============================================
// BULK NODE OPERATIONS
// ============================================

// NodeResult is one entry of a bulk operation's result vector.
type NodeResult struct {
	NodeID string `json:"node_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StartAll starts every node: always-on kinds first, then the rest, each
// phase bounded-parallel. Failures are reported per node, never aborting.
func (p *Project) StartAll(ctx context.Context) []NodeResult {
	return p.bulkOperation(ctx, "start")
}

// StopAll stops every node, always-on kinds last.
func (p *Project) StopAll(ctx context.Context) []NodeResult {
	return p.bulkOperation(ctx, "stop")
}

// SuspendAll suspends every node that supports it; the rest no-op.
func (p *Project) SuspendAll(ctx context.Context) []NodeResult {
	return p.bulkOperation(ctx, "suspend")
}

// ReloadAll restarts every running node.
func (p *Project) ReloadAll(ctx context.Context) []NodeResult {
	return p.bulkOperation(ctx, "reload")
}

func (p *Project) bulkOperation(ctx context.Context, verb string) []NodeResult {
	p.mu.RLock()
	var alwaysOn, regular []*Node
	for _, node := range p.nodes {
		if node.NodeType.AlwaysOn() {
			alwaysOn = append(alwaysOn, node)
		} else {
			regular = append(regular, node)
		}
	}
	p.mu.RUnlock()

	// Deterministic order within a phase keeps results stable.
	byName := func(nodes []*Node) {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	}
	byName(alwaysOn)
	byName(regular)

	// Always-on kinds go first on the way up and last on the way down.
	phases := [][]*Node{alwaysOn, regular}
	if verb == "stop" {
		phases = [][]*Node{regular, alwaysOn}
	}

	var results []NodeResult
	for _, phase := range phases {
		results = append(results, p.dispatchPhase(ctx, verb, phase)...)
	}
	return results
}

// dispatchPhase runs one verb over a node set with bounded parallelism.
func (p *Project) dispatchPhase(ctx context.Context, verb string, nodes []*Node) []NodeResult {
	results := make([]NodeResult, len(nodes))
	sem := make(chan struct{}, p.c.bulkCap)

	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node *Node) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var err error
			switch verb {
			case "start":
				err = p.StartNode(ctx, node.NodeID)
			case "stop":
				err = p.StopNode(ctx, node.NodeID)
			case "suspend":
				err = p.SuspendNode(ctx, node.NodeID)
			case "reload":
				err = p.ReloadNode(ctx, node.NodeID)
			}

			results[i] = NodeResult{NodeID: node.NodeID, Status: "ok"}
			if err != nil {
				results[i] = NodeResult{NodeID: node.NodeID, Status: "error", Error: err.Error()}
			}
		}(i, node)
	}
	wg.Wait()
	return results
}

// ============================================
// PROJECT DUPLICATION
// ============================================

// Duplicate deep-copies the project under a new id. The source must have no
// running nodes; the copy stays closed.
func (p *Project) Duplicate(ctx context.Context, name string) (*Project, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if p.running() {
		return nil, fmt.Errorf("cannot duplicate: %w", models.ErrProjectRunning)
	}

	if name == "" {
		// Pick the first free "x - copy", "x - copy (2)", ... name.
		name = p.Name() + " - copy"
		for n := 2; p.c.projectNameTaken(name); n++ {
			name = fmt.Sprintf("%s - copy (%d)", p.Name(), n)
		}
	} else if p.c.projectNameTaken(name) {
		return nil, fmt.Errorf("project name %q: %w", name, models.ErrDuplicateProject)
	}

	copyReq := ProjectRequest{Name: name}
	target, err := p.c.CreateProject(ctx, copyReq)
	if err != nil {
		return nil, err
	}

	if err := p.copyGraphInto(ctx, target); err != nil {
		_ = p.c.DeleteProject(ctx, target.ID())
		return nil, err
	}

	if err := target.Close(ctx); err != nil {
		return nil, err
	}
	return target, nil
}

// copyGraphInto clones nodes, links and drawings with fresh UUIDs, asking
// each node's driver to duplicate its on-disk state.
func (p *Project) copyGraphInto(ctx context.Context, target *Project) error {
	p.mu.RLock()
	sourceNodes := make([]*Node, 0, len(p.nodes))
	for _, node := range p.nodes {
		sourceNodes = append(sourceNodes, node)
	}
	sourceLinks := make([]*Link, 0, len(p.links))
	for _, link := range p.links {
		sourceLinks = append(sourceLinks, link)
	}
	sourceDrawings := make([]*Drawing, 0, len(p.drawings))
	for _, drawing := range p.drawings {
		sourceDrawings = append(sourceDrawings, drawing)
	}
	p.mu.RUnlock()

	nodeIDMap := make(map[string]string, len(sourceNodes))
	for _, src := range sourceNodes {
		var clone *Node
		var err error
		if src.NodeType.AlwaysOn() {
			// Builtin kinds have no on-disk state; a fresh create is the copy.
			clone, err = target.CreateNode(ctx, NodeRequest{
				Name:        src.Name,
				NodeType:    string(src.NodeType),
				ComputeID:   src.ComputeID,
				ConsoleType: src.ConsoleType,
				Symbol:      src.Symbol,
				X:           intPtr(src.X),
				Y:           intPtr(src.Y),
				Z:           intPtr(src.Z),
				Properties:  cloneProperties(src.Properties),
			})
		} else {
			clone, err = target.adoptDuplicatedNode(ctx, src)
		}
		if err != nil {
			return fmt.Errorf("failed to clone node %s: %w", src.Name, err)
		}
		nodeIDMap[src.NodeID] = clone.NodeID
	}

	for _, src := range sourceLinks {
		endpoints := make([]LinkEndpoint, len(src.Nodes))
		for i, ep := range src.Nodes {
			endpoints[i] = LinkEndpoint{
				NodeID:        nodeIDMap[ep.NodeID],
				AdapterNumber: ep.AdapterNumber,
				PortNumber:    ep.PortNumber,
				Label:         ep.Label,
			}
		}
		if _, err := target.CreateLink(ctx, LinkRequest{Nodes: endpoints, Filters: src.Filters, Suspend: src.Suspend}); err != nil {
			return fmt.Errorf("failed to clone link %s: %w", src.LinkID, err)
		}
	}

	for _, src := range sourceDrawings {
		req := DrawingRequest{SVG: src.SVG, X: src.X, Y: src.Y, Z: src.Z, Rotation: src.Rotation}
		if _, err := target.CreateDrawing(req); err != nil {
			return fmt.Errorf("failed to clone drawing %s: %w", src.DrawingID, err)
		}
	}
	return nil
}

// proxyForNode resolves the compute proxy owning a node.
func (p *Project) proxyForNode(node *Node) (*compute.Proxy, error) {
	return p.c.proxyFor(node.ComputeID)
}
