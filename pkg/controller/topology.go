package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Topology file constants. The file name and revision are kept compatible
// with the GNS3 on-disk format so existing tooling can read exports.
const (
	topologyFileName = "project.gns3"
	topologyType     = "topology"
	topologyRevision = 9

	projectFilesDir = "project-files"
	snapshotsDir    = "snapshots"
	snapshotSuffix  = ".netsnap"
)

// topologyFile is the persisted project document.
type topologyFile struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Revision  int    `json:"revision"`
	Version   string `json:"version"`

	AutoOpen  bool `json:"auto_open"`
	AutoClose bool `json:"auto_close"`
	AutoStart bool `json:"auto_start"`

	SceneWidth          int        `json:"scene_width"`
	SceneHeight         int        `json:"scene_height"`
	Zoom                int        `json:"zoom"`
	ShowGrid            bool       `json:"show_grid"`
	SnapToGrid          bool       `json:"snap_to_grid"`
	ShowInterfaceLabels bool       `json:"show_interface_labels"`
	ShowLayers          bool       `json:"show_layers"`
	GridSize            int        `json:"grid_size"`
	DrawingGridSize     int        `json:"drawing_grid_size"`
	Variables           []Variable `json:"variables,omitempty"`
	Supplier            *Supplier  `json:"supplier,omitempty"`

	Topology topologyGraph `json:"topology"`
}

type topologyGraph struct {
	Computes []topologyCompute `json:"computes"`
	Nodes    []*Node           `json:"nodes"`
	Links    []*Link           `json:"links"`
	Drawings []*Drawing        `json:"drawings"`
}

type topologyCompute struct {
	ComputeID string `json:"compute_id"`
	Name      string `json:"name"`
	Protocol  string `json:"protocol"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
}

func (p *Project) topologyPath() string {
	return filepath.Join(p.path, topologyFileName)
}

func (p *Project) snapshotsPath() string {
	return filepath.Join(p.path, snapshotsDir)
}

// topologyDoc builds the normalized persisted document: entities sorted by
// id so repeated writes of identical state are byte-identical.
func (p *Project) topologyDoc() *topologyFile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	doc := &topologyFile{
		ProjectID:           p.projectID,
		Name:                p.settings.Name,
		Type:                topologyType,
		Revision:            topologyRevision,
		Version:             p.c.Version(),
		AutoOpen:            p.settings.AutoOpen,
		AutoClose:           p.settings.AutoClose,
		AutoStart:           p.settings.AutoStart,
		SceneWidth:          p.settings.SceneWidth,
		SceneHeight:         p.settings.SceneHeight,
		Zoom:                p.settings.Zoom,
		ShowGrid:            p.settings.ShowGrid,
		SnapToGrid:          p.settings.SnapToGrid,
		ShowInterfaceLabels: p.settings.ShowInterfaceLabels,
		ShowLayers:          p.settings.ShowLayers,
		GridSize:            p.settings.GridSize,
		DrawingGridSize:     p.settings.DrawingGridSize,
		Variables:           p.settings.Variables,
		Supplier:            p.settings.Supplier,
	}

	seen := make(map[string]bool)
	for _, node := range p.nodes {
		if seen[node.ComputeID] {
			continue
		}
		seen[node.ComputeID] = true
		entry := topologyCompute{ComputeID: node.ComputeID}
		if proxy, err := p.c.proxyFor(node.ComputeID); err == nil {
			summary := proxy.Summary()
			entry.Name = summary.Name
			entry.Protocol = summary.Protocol
			entry.Host = summary.Host
			entry.Port = summary.Port
		}
		doc.Topology.Computes = append(doc.Topology.Computes, entry)
	}
	sort.Slice(doc.Topology.Computes, func(i, j int) bool {
		return doc.Topology.Computes[i].ComputeID < doc.Topology.Computes[j].ComputeID
	})

	for _, node := range p.nodes {
		doc.Topology.Nodes = append(doc.Topology.Nodes, node)
	}
	sort.Slice(doc.Topology.Nodes, func(i, j int) bool {
		return doc.Topology.Nodes[i].NodeID < doc.Topology.Nodes[j].NodeID
	})

	for _, link := range p.links {
		doc.Topology.Links = append(doc.Topology.Links, link)
	}
	sort.Slice(doc.Topology.Links, func(i, j int) bool {
		return doc.Topology.Links[i].LinkID < doc.Topology.Links[j].LinkID
	})

	for _, drawing := range p.drawings {
		doc.Topology.Drawings = append(doc.Topology.Drawings, drawing)
	}
	sort.Slice(doc.Topology.Drawings, func(i, j int) bool {
		return doc.Topology.Drawings[i].DrawingID < doc.Topology.Drawings[j].DrawingID
	})

	if doc.Topology.Nodes == nil {
		doc.Topology.Nodes = []*Node{}
	}
	if doc.Topology.Links == nil {
		doc.Topology.Links = []*Link{}
	}
	if doc.Topology.Drawings == nil {
		doc.Topology.Drawings = []*Drawing{}
	}
	if doc.Topology.Computes == nil {
		doc.Topology.Computes = []topologyCompute{}
	}
	return doc
}

// Commit writes the topology file atomically: full marshal to a temp file
// in the same directory, fsync, rename.
func (p *Project) Commit() error {
	doc := p.topologyDoc()
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal topology: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(p.path, topologyFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp topology file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write topology: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync topology: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close topology: %w", err)
	}
	if err := os.Rename(tmpName, p.topologyPath()); err != nil {
		return fmt.Errorf("failed to replace topology: %w", err)
	}
	return nil
}

// loadTopology reads the persisted document into memory. A missing file is
// an empty project. Node statuses load as stopped; links load declared.
func (p *Project) loadTopology() error {
	data, err := os.ReadFile(p.topologyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return p.scanSnapshots()
		}
		return fmt.Errorf("failed to read topology: %w", err)
	}

	var doc topologyFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("corrupt topology file: %w", err)
	}
	return p.applyTopology(&doc)
}

func (p *Project) applyTopology(doc *topologyFile) error {
	p.mu.Lock()
	p.settings = ProjectSettings{
		Name:                doc.Name,
		AutoOpen:            doc.AutoOpen,
		AutoClose:           doc.AutoClose,
		AutoStart:           doc.AutoStart,
		SceneWidth:          doc.SceneWidth,
		SceneHeight:         doc.SceneHeight,
		Zoom:                doc.Zoom,
		ShowGrid:            doc.ShowGrid,
		SnapToGrid:          doc.SnapToGrid,
		ShowInterfaceLabels: doc.ShowInterfaceLabels,
		ShowLayers:          doc.ShowLayers,
		GridSize:            doc.GridSize,
		DrawingGridSize:     doc.DrawingGridSize,
		Variables:           doc.Variables,
		Supplier:            doc.Supplier,
	}

	p.nodes = make(map[string]*Node, len(doc.Topology.Nodes))
	for _, node := range doc.Topology.Nodes {
		node.ProjectID = p.projectID
		node.Status = StatusStopped
		if node.NodeType.AlwaysOn() {
			node.Status = StatusStarted
		}
		p.nodes[node.NodeID] = node
	}

	p.links = make(map[string]*Link, len(doc.Topology.Links))
	for _, link := range doc.Topology.Links {
		link.ProjectID = p.projectID
		link.Status = LinkDeclared
		link.Capturing = false
		link.CaptureFileName = ""
		link.CaptureFilePath = ""
		link.CaptureComputeID = ""
		p.links[link.LinkID] = link
	}

	p.drawings = make(map[string]*Drawing, len(doc.Topology.Drawings))
	for _, drawing := range doc.Topology.Drawings {
		drawing.ProjectID = p.projectID
		p.drawings[drawing.DrawingID] = drawing
	}
	p.mu.Unlock()

	return p.scanSnapshots()
}

// scanSnapshots rebuilds the snapshot list from the snapshots directory.
// Snapshot ids are derived from the file name so they survive restarts.
func (p *Project) scanSnapshots() error {
	entries, err := os.ReadDir(p.snapshotsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshots directory: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = make(map[string]*Snapshot)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		name, createdAt := parseSnapshotFileName(entry.Name())
		snapshot := &Snapshot{
			SnapshotID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.projectID+"/"+entry.Name())).String(),
			ProjectID:  p.projectID,
			Name:       name,
			CreatedAt:  createdAt,
			Path:       filepath.Join(p.snapshotsPath(), entry.Name()),
		}
		p.snapshots[snapshot.SnapshotID] = snapshot
	}
	return nil
}

// parseSnapshotFileName splits "<name>_<unix>.netsnap".
func parseSnapshotFileName(fileName string) (string, int64) {
	base := strings.TrimSuffix(fileName, snapshotSuffix)
	idx := strings.LastIndex(base, "_")
	if idx <= 0 {
		return base, 0
	}
	ts, err := strconv.ParseInt(base[idx+1:], 10, 64)
	if err != nil {
		return base, 0
	}
	return base[:idx], ts
}
