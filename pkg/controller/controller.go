// Package controller implements the orchestration core: the compute and
// project registries, node and link lifecycles, topology persistence,
// snapshots and the export/import pipeline.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/compute"
	"github.com/netloom/netloom/pkg/models"
	"github.com/netloom/netloom/pkg/notification"
	"github.com/netloom/netloom/pkg/ports"
)

// LocalComputeID is the reserved id of the compute running next to the
// controller.
const LocalComputeID = "local"

// settingsKey is the store key holding the opaque controller settings blob.
const settingsKey = "controller.settings"

// shutdownTimeout caps the parallel project close on shutdown.
const shutdownTimeout = 30 * time.Second

// Store is the persistence surface the controller needs. *store.GORMStore
// satisfies it.
type Store interface {
	CreateCompute(ctx context.Context, c *models.ComputeRecord) error
	GetCompute(ctx context.Context, computeID string) (*models.ComputeRecord, error)
	ListComputes(ctx context.Context) ([]*models.ComputeRecord, error)
	UpdateCompute(ctx context.Context, c *models.ComputeRecord) error
	DeleteCompute(ctx context.Context, computeID string) error

	CreateProject(ctx context.Context, p *models.ProjectRecord) error
	GetProject(ctx context.Context, projectID string) (*models.ProjectRecord, error)
	ListProjects(ctx context.Context) ([]*models.ProjectRecord, error)
	UpdateProject(ctx context.Context, p *models.ProjectRecord) error
	DeleteProject(ctx context.Context, projectID string) error

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// ImageIndex records checksums of images uploaded through the controller.
// pkg/images provides the badger-backed implementation.
type ImageIndex interface {
	Record(computeID, emulator, filename, checksum string, size int64) error
	List(computeID string) ([]ImageInfo, error)
}

// ImageInfo is one indexed image.
type ImageInfo struct {
	ComputeID string `json:"compute_id"`
	Emulator  string `json:"emulator"`
	Filename  string `json:"filename"`
	Checksum  string `json:"md5sum"`
	Size      int64  `json:"filesize"`
}

// SnapshotMirror uploads snapshot archives off-host. pkg/backup provides the
// S3 implementation.
type SnapshotMirror interface {
	Mirror(ctx context.Context, projectID, snapshotID, localPath string) error
}

// Options configure a Controller.
type Options struct {
	Version string
	DataDir string
	Store   Store
	Bus     *notification.Bus

	// Port ranges applied to every compute's allocator pool. Zero values
	// pick the defaults.
	ConsolePortStart int
	ConsolePortEnd   int
	UDPPortStart     int
	UDPPortEnd       int

	// BulkConcurrency caps parallel node dispatch in bulk operations.
	BulkConcurrency int

	// Optional integrations.
	Images ImageIndex
	Backup SnapshotMirror
}

// Controller is the top-level coordinator.
type Controller struct {
	version *semver.Version
	dataDir string
	store   Store
	bus     *notification.Bus
	images  ImageIndex
	backup  SnapshotMirror

	portRanges [4]int
	bulkCap    int

	mu       sync.RWMutex
	computes map[string]*compute.Proxy
	projects map[string]*Project

	runCtx context.Context
	cancel context.CancelFunc
}

// New builds a Controller. Start must be called before serving requests.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("controller requires a store")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("controller requires a notification bus")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("controller requires a data directory")
	}
	version, err := semver.NewVersion(opts.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid controller version %q: %w", opts.Version, err)
	}

	bulkCap := opts.BulkConcurrency
	if bulkCap <= 0 {
		bulkCap = 10
	}

	return &Controller{
		version:    version,
		dataDir:    opts.DataDir,
		store:      opts.Store,
		bus:        opts.Bus,
		images:     opts.Images,
		backup:     opts.Backup,
		portRanges: [4]int{opts.ConsolePortStart, opts.ConsolePortEnd, opts.UDPPortStart, opts.UDPPortEnd},
		bulkCap:    bulkCap,
		computes:   make(map[string]*compute.Proxy),
		projects:   make(map[string]*Project),
	}, nil
}

// Version returns the controller version string.
func (c *Controller) Version() string {
	return c.version.String()
}

// Bus exposes the notification bus to the API layer.
func (c *Controller) Bus() *notification.Bus {
	return c.bus
}

// Images exposes the image index, nil when not configured.
func (c *Controller) Images() ImageIndex {
	return c.images
}

// Start boots the controller: compute proxies come up in the background,
// the project index is loaded, and auto-open projects are opened.
func (c *Controller) Start(ctx context.Context) error {
	c.runCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := os.MkdirAll(c.projectsDir(), 0o700); err != nil {
		return fmt.Errorf("failed to create projects directory: %w", err)
	}

	records, err := c.store.ListComputes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load compute records: %w", err)
	}
	for _, record := range records {
		if err := c.spawnProxy(record); err != nil {
			return err
		}
	}

	projects, err := c.store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to load project index: %w", err)
	}
	for _, record := range projects {
		project, err := c.loadProject(record)
		if err != nil {
			logger.Warn("skipping unreadable project",
				logger.KeyProjectID, record.ProjectID,
				logger.KeyError, err,
			)
			continue
		}
		c.mu.Lock()
		c.projects[project.ID()] = project
		c.mu.Unlock()
	}

	for _, record := range projects {
		if !record.AutoOpen {
			continue
		}
		project, err := c.GetProject(record.ProjectID)
		if err != nil {
			continue
		}
		if err := project.Open(ctx); err != nil {
			logger.Warn("auto-open failed",
				logger.KeyProjectID, record.ProjectID,
				logger.KeyError, err,
			)
		}
	}

	logger.Info("controller started",
		"computes", len(records),
		"projects", len(projects),
	)
	return nil
}

// Shutdown closes every opened project in parallel, then stops the compute
// proxies and the bus.
func (c *Controller) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	c.mu.RLock()
	opened := make([]*Project, 0, len(c.projects))
	for _, p := range c.projects {
		if p.Status() == ProjectOpened {
			opened = append(opened, p)
		}
	}
	proxies := make([]*compute.Proxy, 0, len(c.computes))
	for _, p := range c.computes {
		proxies = append(proxies, p)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, project := range opened {
		wg.Add(1)
		go func(p *Project) {
			defer wg.Done()
			if err := p.Close(ctx); err != nil {
				logger.Warn("project close failed during shutdown",
					logger.KeyProjectID, p.ID(),
					logger.KeyError, err,
				)
			}
		}(project)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown timed out waiting for projects to close")
	}

	for _, proxy := range proxies {
		proxy.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.bus.Close()
	logger.Info("controller stopped")
}

func (c *Controller) projectsDir() string {
	return filepath.Join(c.dataDir, "projects")
}

// ============================================
// COMPUTE REGISTRY
// ============================================

// ComputeRequest is the caller-supplied compute registration.
type ComputeRequest struct {
	ComputeID string `json:"compute_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Protocol  string `json:"protocol"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	User      string `json:"user,omitempty"`
	Password  string `json:"password,omitempty"`
}

func (r *ComputeRequest) validate() error {
	if r.Host == "" {
		return fmt.Errorf("compute host is required: %w", models.ErrValidation)
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("compute port %d out of range: %w", r.Port, models.ErrValidation)
	}
	switch r.Protocol {
	case "http", "https":
	default:
		return fmt.Errorf("compute protocol must be http or https: %w", models.ErrValidation)
	}
	return nil
}

// AddCompute registers a compute and starts its proxy.
func (c *Controller) AddCompute(ctx context.Context, req ComputeRequest) (*compute.Proxy, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.ComputeID == "" {
		req.ComputeID = uuid.New().String()
	}
	if req.Name == "" {
		req.Name = fmt.Sprintf("%s://%s:%d", req.Protocol, req.Host, req.Port)
	}

	record := &models.ComputeRecord{
		ComputeID: req.ComputeID,
		Name:      req.Name,
		Protocol:  req.Protocol,
		Host:      req.Host,
		Port:      req.Port,
		User:      req.User,
		Password:  req.Password,
	}
	if err := c.store.CreateCompute(ctx, record); err != nil {
		return nil, err
	}

	if err := c.spawnProxy(record); err != nil {
		return nil, err
	}

	proxy, _ := c.proxyFor(record.ComputeID)
	c.bus.Publish(notification.Event{
		Action: notification.ActionComputeCreated,
		Event:  proxy.Summary(),
	})
	return proxy, nil
}

func (c *Controller) spawnProxy(record *models.ComputeRecord) error {
	pool, err := ports.NewPool(c.portRanges[0], c.portRanges[1], c.portRanges[2], c.portRanges[3])
	if err != nil {
		return fmt.Errorf("failed to build port pool for compute %s: %w", record.ComputeID, err)
	}

	proxy := compute.NewProxy(record, c.version, pool, c.bus)

	c.mu.Lock()
	if _, exists := c.computes[record.ComputeID]; exists {
		c.mu.Unlock()
		return models.ErrDuplicateCompute
	}
	c.computes[record.ComputeID] = proxy
	c.mu.Unlock()

	if c.runCtx != nil {
		proxy.Start(c.runCtx)
	}
	return nil
}

// proxyFor resolves a compute id to its proxy.
func (c *Controller) proxyFor(computeID string) (*compute.Proxy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	proxy, ok := c.computes[computeID]
	if !ok {
		return nil, models.ErrComputeNotFound
	}
	return proxy, nil
}

// GetCompute returns the proxy for a compute id.
func (c *Controller) GetCompute(computeID string) (*compute.Proxy, error) {
	return c.proxyFor(computeID)
}

// ListComputes returns all registered compute proxies.
func (c *Controller) ListComputes() []*compute.Proxy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*compute.Proxy, 0, len(c.computes))
	for _, proxy := range c.computes {
		out = append(out, proxy)
	}
	return out
}

// UpdateCompute changes a compute's endpoint or credentials and restarts its
// proxy connection.
func (c *Controller) UpdateCompute(ctx context.Context, computeID string, req ComputeRequest) (*compute.Proxy, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	record, err := c.store.GetCompute(ctx, computeID)
	if err != nil {
		return nil, err
	}

	record.Name = req.Name
	if record.Name == "" {
		record.Name = fmt.Sprintf("%s://%s:%d", req.Protocol, req.Host, req.Port)
	}
	record.Protocol = req.Protocol
	record.Host = req.Host
	record.Port = req.Port
	record.User = req.User
	if req.Password != "" {
		record.Password = req.Password
	}
	if err := c.store.UpdateCompute(ctx, record); err != nil {
		return nil, err
	}

	proxy, err := c.proxyFor(computeID)
	if err != nil {
		return nil, err
	}
	proxy.Stop()
	proxy.UpdateEndpoint(record)
	if c.runCtx != nil {
		proxy.Start(c.runCtx)
	}

	c.bus.Publish(notification.Event{
		Action: notification.ActionComputeUpdated,
		Event:  proxy.Summary(),
	})
	return proxy, nil
}

// DeleteCompute deregisters a compute. Computes still hosting nodes of any
// known project cannot be removed.
func (c *Controller) DeleteCompute(ctx context.Context, computeID string) error {
	proxy, err := c.proxyFor(computeID)
	if err != nil {
		return err
	}

	c.mu.RLock()
	for _, project := range c.projects {
		if project.usesCompute(computeID) {
			c.mu.RUnlock()
			return fmt.Errorf("compute %s hosts nodes of project %s: %w",
				computeID, project.ID(), models.ErrComputeInUse)
		}
	}
	c.mu.RUnlock()

	if err := c.store.DeleteCompute(ctx, computeID); err != nil {
		return err
	}

	proxy.Stop()
	c.mu.Lock()
	delete(c.computes, computeID)
	c.mu.Unlock()

	c.bus.Publish(notification.Event{
		Action: notification.ActionComputeDeleted,
		Event:  map[string]any{"compute_id": computeID},
	})
	return nil
}

// ============================================
// PROJECT REGISTRY
// ============================================

// ProjectRequest is the caller-supplied project creation payload.
type ProjectRequest struct {
	ProjectID string `json:"project_id,omitempty"`
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	AutoOpen  bool   `json:"auto_open"`
	AutoClose bool   `json:"auto_close"`
	AutoStart bool   `json:"auto_start"`
}

// projectNameTaken reports whether a registered project already uses the
// name, case-insensitively.
func (c *Controller) projectNameTaken(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, existing := range c.projects {
		if strings.EqualFold(existing.Name(), name) {
			return true
		}
	}
	return false
}

// CreateProject registers a new empty project and opens it.
func (c *Controller) CreateProject(ctx context.Context, req ProjectRequest) (*Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("project name is required: %w", models.ErrValidation)
	}
	if req.ProjectID == "" {
		req.ProjectID = uuid.New().String()
	} else if _, err := uuid.Parse(req.ProjectID); err != nil {
		return nil, fmt.Errorf("invalid project_id: %w", models.ErrValidation)
	}

	if c.projectNameTaken(req.Name) {
		return nil, fmt.Errorf("project name %q: %w", req.Name, models.ErrDuplicateProject)
	}

	path := req.Path
	if path == "" {
		path = filepath.Join(c.projectsDir(), req.ProjectID)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}

	settings := defaultProjectSettings(req.Name)
	settings.AutoOpen = req.AutoOpen
	settings.AutoClose = req.AutoClose
	settings.AutoStart = req.AutoStart

	project := newProject(c, req.ProjectID, path, settings)

	record := &models.ProjectRecord{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Path:      path,
		AutoOpen:  req.AutoOpen,
	}
	if err := c.store.CreateProject(ctx, record); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.projects[project.ID()] = project
	c.mu.Unlock()

	if err := project.Open(ctx); err != nil {
		return nil, err
	}
	return project, nil
}

// loadProject rebuilds a Project from its on-disk topology, closed.
func (c *Controller) loadProject(record *models.ProjectRecord) (*Project, error) {
	project := newProject(c, record.ProjectID, record.Path, defaultProjectSettings(record.Name))
	if err := project.loadTopology(); err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject resolves a project id.
func (c *Controller) GetProject(projectID string) (*Project, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	project, ok := c.projects[projectID]
	if !ok {
		return nil, models.ErrProjectNotFound
	}
	return project, nil
}

// ListProjects returns all known projects.
func (c *Controller) ListProjects() []*Project {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Project, 0, len(c.projects))
	for _, project := range c.projects {
		out = append(out, project)
	}
	return out
}

// DeleteProject closes a project, removes its directory and drops it from
// the registry.
func (c *Controller) DeleteProject(ctx context.Context, projectID string) error {
	project, err := c.GetProject(projectID)
	if err != nil {
		return err
	}

	if project.Status() == ProjectOpened {
		if err := project.Close(ctx); err != nil {
			return err
		}
	}

	if err := c.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if err := os.RemoveAll(project.Path()); err != nil {
		return fmt.Errorf("failed to remove project directory: %w", err)
	}

	c.mu.Lock()
	delete(c.projects, projectID)
	c.mu.Unlock()
	return nil
}

// registerProject adds an imported or duplicated project to the registry and
// the index.
func (c *Controller) registerProject(ctx context.Context, project *Project, autoOpen bool) error {
	record := &models.ProjectRecord{
		ProjectID: project.ID(),
		Name:      project.Name(),
		Path:      project.Path(),
		AutoOpen:  autoOpen,
	}
	if err := c.store.CreateProject(ctx, record); err != nil {
		return err
	}
	c.mu.Lock()
	c.projects[project.ID()] = project
	c.mu.Unlock()
	return nil
}

// ============================================
// SETTINGS / STATISTICS / VERSION
// ============================================

// GetSettings returns the opaque controller settings document.
func (c *Controller) GetSettings(ctx context.Context) (map[string]any, error) {
	raw, err := c.store.GetSetting(ctx, settingsKey)
	if err != nil {
		if errors.Is(err, models.ErrSettingNotFound) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	settings := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			return nil, fmt.Errorf("stored settings are corrupt: %w", err)
		}
	}
	return settings, nil
}

// UpdateSettings replaces the settings document and notifies subscribers.
func (c *Controller) UpdateSettings(ctx context.Context, settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := c.store.SetSetting(ctx, settingsKey, string(raw)); err != nil {
		return err
	}
	c.bus.Publish(notification.Event{
		Action: notification.ActionSettingsUpdated,
		Event:  settings,
	})
	return nil
}

// Statistics summarizes controller state for monitoring.
type Statistics struct {
	Computes          int `json:"computes"`
	ComputesConnected int `json:"computes_connected"`
	Projects          int `json:"projects"`
	ProjectsOpened    int `json:"projects_opened"`
	Nodes             int `json:"nodes"`
	Links             int `json:"links"`
	Drawings          int `json:"drawings"`
	Snapshots         int `json:"snapshots"`
}

// Stats counts entities across all projects.
func (c *Controller) Stats() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Statistics{Computes: len(c.computes), Projects: len(c.projects)}
	for _, proxy := range c.computes {
		if proxy.Connected() {
			stats.ComputesConnected++
		}
	}
	for _, project := range c.projects {
		if project.Status() == ProjectOpened {
			stats.ProjectsOpened++
		}
		n, l, d, s := project.counts()
		stats.Nodes += n
		stats.Links += l
		stats.Drawings += d
		stats.Snapshots += s
	}
	return stats
}
