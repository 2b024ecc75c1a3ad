package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom/pkg/models"
)

func TestNodeLifecycle(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")

	node := h.addNode(p, "c1", "pc1", "vpcs")
	assert.Equal(t, StatusStopped, node.Status)
	assert.Equal(t, 5000, node.Console, "first console port comes from the bottom of the range")
	assert.Equal(t, "telnet", node.ConsoleType)
	assert.NotEmpty(t, node.Ports)

	require.NoError(t, p.StartNode(h.ctx, node.NodeID))
	assert.Equal(t, StatusStarted, node.Status)

	// Starting a started node is idempotent.
	require.NoError(t, p.StartNode(h.ctx, node.NodeID))

	require.NoError(t, p.StopNode(h.ctx, node.NodeID))
	assert.Equal(t, StatusStopped, node.Status)

	require.NoError(t, p.DeleteNode(h.ctx, node.NodeID))
	_, err := p.GetNode(node.NodeID)
	assert.ErrorIs(t, err, models.ErrNodeNotFound)

	// The console port is released and reused by the next node.
	next := h.addNode(p, "c1", "pc2", "vpcs")
	assert.Equal(t, 5000, next.Console)
}

func TestNodeStateMachineLegality(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	node := h.addNode(p, "c1", "vm1", "qemu")

	// stopped -> suspended is illegal.
	err := p.SuspendNode(h.ctx, node.NodeID)
	assert.ErrorIs(t, err, models.ErrInvalidStateMove)

	// stopped -> resume is illegal.
	err = p.ResumeNode(h.ctx, node.NodeID)
	assert.ErrorIs(t, err, models.ErrInvalidStateMove)

	require.NoError(t, p.StartNode(h.ctx, node.NodeID))
	require.NoError(t, p.SuspendNode(h.ctx, node.NodeID))
	assert.Equal(t, StatusSuspended, node.Status)

	// suspended -> start resumes.
	require.NoError(t, p.StartNode(h.ctx, node.NodeID))
	assert.Equal(t, StatusStarted, node.Status)

	require.NoError(t, p.SuspendNode(h.ctx, node.NodeID))
	require.NoError(t, p.StopNode(h.ctx, node.NodeID))
	assert.Equal(t, StatusStopped, node.Status)
}

func TestSuspendIsNoopForUnsupportingKinds(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	node := h.addNode(p, "c1", "pc1", "vpcs")

	require.NoError(t, p.StartNode(h.ctx, node.NodeID))
	require.NoError(t, p.SuspendNode(h.ctx, node.NodeID))
	assert.Equal(t, StatusStarted, node.Status, "kinds without suspend stay started")
}

func TestNodeNameUniqueness(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	h.addNode(p, "c1", "pc1", "vpcs")

	// Case-insensitive collision at create.
	_, err := p.CreateNode(h.ctx, NodeRequest{Name: "PC1", NodeType: "vpcs", ComputeID: "c1"})
	assert.ErrorIs(t, err, models.ErrDuplicateName)

	other := h.addNode(p, "c1", "pc2", "vpcs")

	// Collision at rename.
	_, err = p.UpdateNode(h.ctx, other.NodeID, NodeRequest{Name: " pc1 "})
	assert.ErrorIs(t, err, models.ErrDuplicateName)
}

func TestUpdateNodePartialKeepsPosition(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")

	node, err := p.CreateNode(h.ctx, NodeRequest{
		Name: "pc1", NodeType: "vpcs", ComputeID: "c1",
		X: intPtr(100), Y: intPtr(-50), Z: intPtr(2),
	})
	require.NoError(t, err)

	// A rename-only update must not drag the node to the origin.
	renamed, err := p.UpdateNode(h.ctx, node.NodeID, NodeRequest{Name: "pc1b"})
	require.NoError(t, err)
	assert.Equal(t, "pc1b", renamed.Name)
	assert.Equal(t, 100, renamed.X)
	assert.Equal(t, -50, renamed.Y)
	assert.Equal(t, 2, renamed.Z)

	// Moving one axis leaves the others alone.
	moved, err := p.UpdateNode(h.ctx, node.NodeID, NodeRequest{X: intPtr(7)})
	require.NoError(t, err)
	assert.Equal(t, 7, moved.X)
	assert.Equal(t, -50, moved.Y)
	assert.Equal(t, "pc1b", moved.Name)
}

func TestDeleteRunningNodeRejected(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	node := h.addNode(p, "c1", "pc1", "vpcs")

	require.NoError(t, p.StartNode(h.ctx, node.NodeID))
	err := p.DeleteNode(h.ctx, node.NodeID)
	assert.ErrorIs(t, err, models.ErrNodeRunning)
}

func TestReloadStopsThenStarts(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	agent := h.computes["c1"]
	node := h.addNode(p, "c1", "pc1", "vpcs")

	require.NoError(t, p.StartNode(h.ctx, node.NodeID))
	require.NoError(t, p.ReloadNode(h.ctx, node.NodeID))
	assert.Equal(t, StatusStarted, node.Status)

	order := agent.startOrder()
	require.Len(t, order, 3)
	assert.Equal(t, node.NodeID+":start", order[0])
	assert.Equal(t, node.NodeID+":stop", order[1])
	assert.Equal(t, node.NodeID+":start", order[2])
}

func TestAlwaysOnKindsIgnoreLifecycle(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	agent := h.computes["c1"]

	sw := h.addNode(p, "c1", "sw1", "ethernet_switch")
	assert.Equal(t, StatusStarted, sw.Status, "always-on kinds are born started")

	require.NoError(t, p.StopNode(h.ctx, sw.NodeID))
	assert.Equal(t, StatusStarted, sw.Status)
	assert.Empty(t, agent.startOrder(), "no driver verbs for always-on kinds")
}

func TestNodeDuplicateNaming(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	node := h.addNode(p, "c1", "pc1", "vpcs")

	clone, err := p.DuplicateNode(h.ctx, node.NodeID, 100, 200, 1)
	require.NoError(t, err)
	assert.Equal(t, "pc1 - copy", clone.Name)
	assert.Equal(t, 100, clone.X)
	assert.NotEqual(t, node.NodeID, clone.NodeID)
	assert.NotEqual(t, node.Console, clone.Console)

	second, err := p.DuplicateNode(h.ctx, node.NodeID, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "pc1 - copy (2)", second.Name)
}

func TestGeneratedNodeNames(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")

	first, err := p.CreateNode(h.ctx, NodeRequest{NodeType: "vpcs", ComputeID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "vpcs-1", first.Name)

	second, err := p.CreateNode(h.ctx, NodeRequest{NodeType: "vpcs", ComputeID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "vpcs-2", second.Name)
}

func TestUnknownNodeTypeRejected(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")

	_, err := p.CreateNode(h.ctx, NodeRequest{Name: "x", NodeType: "warpdrive", ComputeID: "c1"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestComputeNodePortsFromProperties(t *testing.T) {
	node := &Node{NodeType: NodeTypeQemu, Properties: map[string]any{"adapters": float64(3)}}
	ports := computeNodePorts(node)
	require.Len(t, ports, 3)
	assert.Equal(t, "Ethernet0", ports[0].Name)
	assert.Equal(t, 2, ports[2].AdapterNumber)
	assert.Equal(t, "ethernet", ports[0].LinkType)

	sw := &Node{NodeType: NodeTypeEthernetSwitch, Properties: map[string]any{
		"ports_mapping": []any{
			map[string]any{"port_number": float64(0)},
			map[string]any{"port_number": float64(1)},
		},
	}}
	swPorts := computeNodePorts(sw)
	require.Len(t, swPorts, 2)
	assert.Equal(t, "Ethernet1", swPorts[1].Name)
	assert.Equal(t, "e1", swPorts[1].ShortName)
}
