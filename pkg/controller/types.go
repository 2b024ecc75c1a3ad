package controller

import (
	"sync"
	"time"
)

// Node statuses.
const (
	StatusStopped   = "stopped"
	StatusStarted   = "started"
	StatusSuspended = "suspended"
)

// Label is a positioned text annotation on the canvas.
type Label struct {
	Text     string `json:"text"`
	Style    string `json:"style,omitempty"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Rotation int    `json:"rotation"`
}

// NodePort is one attachable port of a node, computed from its properties or
// reported by the driver.
type NodePort struct {
	Name          string            `json:"name"`
	ShortName     string            `json:"short_name"`
	AdapterNumber int               `json:"adapter_number"`
	PortNumber    int               `json:"port_number"`
	LinkType      string            `json:"link_type"`
	DataLinkTypes map[string]string `json:"data_link_types,omitempty"`
}

// Node is the controller-side shadow of an emulated device.
type Node struct {
	NodeID    string   `json:"node_id"`
	ProjectID string   `json:"project_id"`
	ComputeID string   `json:"compute_id"`
	NodeType  NodeType `json:"node_type"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`

	ConsoleType      string `json:"console_type"`
	Console          int    `json:"console,omitempty"`
	ConsoleHost      string `json:"console_host,omitempty"`
	ConsoleAutoStart bool   `json:"console_auto_start"`
	Aux              int    `json:"aux,omitempty"`
	AuxType          string `json:"aux_type,omitempty"`

	Symbol string `json:"symbol"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Z      int    `json:"z"`
	Locked bool   `json:"locked"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Label  *Label `json:"label,omitempty"`

	PortNameFormat  string `json:"port_name_format,omitempty"`
	FirstPortName   string `json:"first_port_name,omitempty"`
	PortSegmentSize int    `json:"port_segment_size,omitempty"`

	// Properties is the driver-specific blob, opaque to the controller.
	Properties map[string]any `json:"properties,omitempty"`

	Ports []NodePort `json:"ports"`

	// mu serializes driver operations on this node.
	mu sync.Mutex
}

// lock/unlock wrap the per-node operation mutex.
func (n *Node) lock()   { n.mu.Lock() }
func (n *Node) unlock() { n.mu.Unlock() }

// clone returns a detached copy of the node. The copy carries its own mutex
// and shares no mutable state with the live adapter.
func (n *Node) clone() *Node {
	out := &Node{
		NodeID:           n.NodeID,
		ProjectID:        n.ProjectID,
		ComputeID:        n.ComputeID,
		NodeType:         n.NodeType,
		Name:             n.Name,
		Status:           n.Status,
		ConsoleType:      n.ConsoleType,
		Console:          n.Console,
		ConsoleHost:      n.ConsoleHost,
		ConsoleAutoStart: n.ConsoleAutoStart,
		Aux:              n.Aux,
		AuxType:          n.AuxType,
		Symbol:           n.Symbol,
		X:                n.X,
		Y:                n.Y,
		Z:                n.Z,
		Locked:           n.Locked,
		Width:            n.Width,
		Height:           n.Height,
		PortNameFormat:   n.PortNameFormat,
		FirstPortName:    n.FirstPortName,
		PortSegmentSize:  n.PortSegmentSize,
		Properties:       cloneProperties(n.Properties),
		Ports:            append([]NodePort(nil), n.Ports...),
	}
	if n.Label != nil {
		label := *n.Label
		out.Label = &label
	}
	return out
}

// LinkEndpoint attaches a link to one node port.
type LinkEndpoint struct {
	NodeID        string `json:"node_id"`
	AdapterNumber int    `json:"adapter_number"`
	PortNumber    int    `json:"port_number"`
	Label         *Label `json:"label,omitempty"`
}

// Link statuses.
const (
	LinkDeclared       = "declared"
	LinkEstablished    = "established"
	LinkCreationFailed = "creation-failed"
)

// wiredEndpoint records the UDP tunnel allocation behind one side of an
// established link.
type wiredEndpoint struct {
	computeID string
	udpPort   int
	host      string
}

// Link is a point-to-point connection realized as a mirrored UDP NIO pair.
type Link struct {
	LinkID    string         `json:"link_id"`
	ProjectID string         `json:"project_id"`
	Nodes     []LinkEndpoint `json:"nodes"`
	LinkType  string         `json:"link_type"`
	Status    string         `json:"status"`
	Suspend   bool           `json:"suspend"`

	// Filters apply per direction: latency_ms, jitter_ms, loss_pct,
	// corrupt_pct, bpf, frequency_drop.
	Filters map[string][]any `json:"filters,omitempty"`

	Capturing        bool   `json:"capturing"`
	CaptureFileName  string `json:"capture_file_name,omitempty"`
	CaptureFilePath  string `json:"capture_file_path,omitempty"`
	CaptureComputeID string `json:"capture_compute_id,omitempty"`
	captureNodeID    string

	LinkStyle map[string]any `json:"link_style,omitempty"`

	wiring []wiredEndpoint
}

// Drawing is a free-form SVG annotation on the project canvas.
type Drawing struct {
	DrawingID string `json:"drawing_id"`
	ProjectID string `json:"project_id"`
	SVG       string `json:"svg"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
	Rotation  int    `json:"rotation"`
	Locked    bool   `json:"locked"`
}

// Snapshot is a point-in-time archive of the project directory.
type Snapshot struct {
	SnapshotID string `json:"snapshot_id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	CreatedAt  int64  `json:"created_at"`
	Path       string `json:"-"`
}

// Variable is a user-defined project variable.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Supplier is optional project branding metadata.
type Supplier struct {
	Logo string `json:"logo,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Project statuses.
const (
	ProjectOpened = "opened"
	ProjectClosed = "closed"
)

// ProjectSettings are the persisted, client-editable project fields.
type ProjectSettings struct {
	Name                string     `json:"name"`
	AutoOpen            bool       `json:"auto_open"`
	AutoClose           bool       `json:"auto_close"`
	AutoStart           bool       `json:"auto_start"`
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
}

// defaultProjectSettings mirror a fresh canvas.
func defaultProjectSettings(name string) ProjectSettings {
	return ProjectSettings{
		Name:            name,
		SceneWidth:      2000,
		SceneHeight:     1000,
		Zoom:            100,
		ShowLayers:      false,
		GridSize:        75,
		DrawingGridSize: 25,
	}
}

// nowUnix is stubbed in tests.
var nowUnix = func() int64 { return time.Now().UTC().Unix() }
