package controller

import (
	"fmt"

	"github.com/netloom/netloom/pkg/models"
)

// NodeType identifies the emulator kind backing a node. The set is closed;
// unknown values are rejected at create time.
type NodeType string

const (
	NodeTypeCloud            NodeType = "cloud"
	NodeTypeNAT              NodeType = "nat"
	NodeTypeEthernetHub      NodeType = "ethernet_hub"
	NodeTypeEthernetSwitch   NodeType = "ethernet_switch"
	NodeTypeFrameRelaySwitch NodeType = "frame_relay_switch"
	NodeTypeATMSwitch        NodeType = "atm_switch"
	NodeTypeDocker           NodeType = "docker"
	NodeTypeDynamips         NodeType = "dynamips"
	NodeTypeIOU              NodeType = "iou"
	NodeTypeQemu             NodeType = "qemu"
	NodeTypeVirtualBox       NodeType = "virtualbox"
	NodeTypeVMware           NodeType = "vmware"
	NodeTypeVPCS             NodeType = "vpcs"
	NodeTypeTraceNG          NodeType = "traceng"
)

// nodeTypeTraits are the static per-kind facts the controller needs: which
// compute API segment serves the driver, whether the kind is started
// implicitly with the project, and which verbs the driver understands.
type nodeTypeTraits struct {
	emulator        string // compute API path segment
	alwaysOn        bool   // started with the project, has no start/stop verbs
	supportsSuspend bool
	serialConsole   bool
	defaultSymbol   string
	portNameFormat  string
}

var nodeTypes = map[NodeType]nodeTypeTraits{
	NodeTypeCloud: {
		emulator:       "builtin",
		alwaysOn:       true,
		defaultSymbol:  ":/symbols/cloud.svg",
		portNameFormat: "eth{0}",
	},
	NodeTypeNAT: {
		emulator:       "builtin",
		alwaysOn:       true,
		defaultSymbol:  ":/symbols/cloud.svg",
		portNameFormat: "nat{0}",
	},
	NodeTypeEthernetHub: {
		emulator:       "builtin",
		alwaysOn:       true,
		defaultSymbol:  ":/symbols/hub.svg",
		portNameFormat: "Ethernet{0}",
	},
	NodeTypeEthernetSwitch: {
		emulator:       "builtin",
		alwaysOn:       true,
		defaultSymbol:  ":/symbols/ethernet_switch.svg",
		portNameFormat: "Ethernet{0}",
	},
	NodeTypeFrameRelaySwitch: {
		emulator:       "dynamips",
		alwaysOn:       true,
		serialConsole:  true,
		defaultSymbol:  ":/symbols/frame_relay_switch.svg",
		portNameFormat: "{0}",
	},
	NodeTypeATMSwitch: {
		emulator:       "dynamips",
		alwaysOn:       true,
		serialConsole:  true,
		defaultSymbol:  ":/symbols/atm_switch.svg",
		portNameFormat: "{0}",
	},
	NodeTypeDocker: {
		emulator:        "docker",
		supportsSuspend: true,
		defaultSymbol:   ":/symbols/docker_guest.svg",
		portNameFormat:  "eth{0}",
	},
	NodeTypeDynamips: {
		emulator:        "dynamips",
		supportsSuspend: true,
		serialConsole:   true,
		defaultSymbol:   ":/symbols/router.svg",
		portNameFormat:  "Ethernet{0}",
	},
	NodeTypeIOU: {
		emulator:       "iou",
		serialConsole:  true,
		defaultSymbol:  ":/symbols/multilayer_switch.svg",
		portNameFormat: "Ethernet{segment0}/{port0}",
	},
	NodeTypeQemu: {
		emulator:        "qemu",
		supportsSuspend: true,
		defaultSymbol:   ":/symbols/qemu_guest.svg",
		portNameFormat:  "Ethernet{0}",
	},
	NodeTypeVirtualBox: {
		emulator:        "virtualbox",
		supportsSuspend: true,
		defaultSymbol:   ":/symbols/vbox_guest.svg",
		portNameFormat:  "Ethernet{0}",
	},
	NodeTypeVMware: {
		emulator:        "vmware",
		supportsSuspend: true,
		defaultSymbol:   ":/symbols/vmware_guest.svg",
		portNameFormat:  "Ethernet{0}",
	},
	NodeTypeVPCS: {
		emulator:       "vpcs",
		defaultSymbol:  ":/symbols/vpcs_guest.svg",
		portNameFormat: "Ethernet{0}",
	},
	NodeTypeTraceNG: {
		emulator:       "traceng",
		defaultSymbol:  ":/symbols/traceng.svg",
		portNameFormat: "Ethernet{0}",
	},
}

// ParseNodeType validates a node_type string.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(s)
	if _, ok := nodeTypes[t]; !ok {
		return "", fmt.Errorf("unknown node_type %q: %w", s, models.ErrValidation)
	}
	return t, nil
}

// Emulator returns the compute API path segment serving this kind.
func (t NodeType) Emulator() string {
	return nodeTypes[t].emulator
}

// AlwaysOn reports whether the kind runs for the whole life of the project.
// Always-on kinds are started first by bulk operations and ignore stop.
func (t NodeType) AlwaysOn() bool {
	return nodeTypes[t].alwaysOn
}

// SupportsSuspend reports whether the driver implements suspend/resume.
// Suspend on other kinds succeeds as a no-op.
func (t NodeType) SupportsSuspend() bool {
	return nodeTypes[t].supportsSuspend
}

// SerialConsole reports whether the kind's console is serial.
func (t NodeType) SerialConsole() bool {
	return nodeTypes[t].serialConsole
}

// DefaultSymbol returns the canvas symbol used when the caller sets none.
func (t NodeType) DefaultSymbol() string {
	return nodeTypes[t].defaultSymbol
}

// DefaultPortNameFormat returns the kind's port naming template.
func (t NodeType) DefaultPortNameFormat() string {
	return nodeTypes[t].portNameFormat
}
