package controller

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom/pkg/models"
)

func TestProjectLifecycle(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	assert.Equal(t, ProjectOpened, p.Status())

	node := h.addNode(p, "c1", "pc1", "vpcs")
	require.NoError(t, p.StartNode(h.ctx, node.NodeID))

	require.NoError(t, p.Close(h.ctx))
	assert.Equal(t, ProjectClosed, p.Status())

	proxy, err := h.ctrl.GetCompute("c1")
	require.NoError(t, err)
	assert.Equal(t, 0, proxy.Pools().Console.Used(), "close releases console ports")
	assert.Equal(t, 0, proxy.Pools().UDP.Used())

	// Reopen rebuilds from disk; nodes come back stopped.
	require.NoError(t, p.Open(h.ctx))
	reloaded, err := p.GetNode(node.NodeID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, reloaded.Status)
}

func TestProjectDuplicateNameRejected(t *testing.T) {
	h := newHarness(t, "c1")
	h.newProject("t1")

	_, err := h.ctrl.CreateProject(h.ctx, ProjectRequest{Name: "T1"})
	assert.ErrorIs(t, err, models.ErrDuplicateProject)
}

func TestBulkStartOrdering(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	agent := h.computes["c1"]

	sw := h.addNode(p, "c1", "sw1", "ethernet_switch")
	v1 := h.addNode(p, "c1", "vm1", "qemu")
	v2 := h.addNode(p, "c1", "vm2", "qemu")
	_ = sw

	results := p.StartAll(h.ctx)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "ok", r.Status)
	}

	// Always-on kinds never reach the driver; VMs do, in some order after
	// the switch phase.
	order := agent.startOrder()
	require.Len(t, order, 2)
	started := map[string]bool{order[0]: true, order[1]: true}
	assert.True(t, started[v1.NodeID+":start"])
	assert.True(t, started[v2.NodeID+":start"])
}

func TestBulkStartCollectsFailures(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	agent := h.computes["c1"]

	v1 := h.addNode(p, "c1", "vm1", "qemu")
	v2 := h.addNode(p, "c1", "vm2", "qemu")
	agent.failVerb(v1.NodeID, "start")

	results := p.StartAll(h.ctx)
	require.Len(t, results, 2)

	byNode := map[string]NodeResult{}
	for _, r := range results {
		byNode[r.NodeID] = r
	}
	assert.Equal(t, "error", byNode[v1.NodeID].Status)
	assert.Contains(t, byNode[v1.NodeID].Error, "driver exploded")
	assert.Equal(t, "ok", byNode[v2.NodeID].Status)
	assert.Equal(t, StatusStarted, v2.Status)
	assert.Equal(t, StatusStopped, v1.Status)
}

func TestStopAllStopsVMsBeforeAlwaysOn(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")

	h.addNode(p, "c1", "sw1", "ethernet_switch")
	vm := h.addNode(p, "c1", "vm1", "qemu")
	require.NoError(t, p.StartNode(h.ctx, vm.NodeID))

	results := p.StopAll(h.ctx)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "ok", r.Status)
	}
	assert.Equal(t, StatusStopped, vm.Status)
}

func TestProjectDuplicate(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")

	n1 := h.addNode(p, "c1", "pc1", "vpcs")
	n2 := h.addNode(p, "c1", "pc2", "vpcs")
	_, err := p.CreateLink(h.ctx, LinkRequest{Nodes: []LinkEndpoint{
		{NodeID: n1.NodeID}, {NodeID: n2.NodeID},
	}})
	require.NoError(t, err)

	copy1, err := p.Duplicate(h.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "t1 - copy", copy1.Name())
	assert.Equal(t, ProjectClosed, copy1.Status())

	nodes, links, _, _ := copy1.counts()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, links)

	// Fresh UUIDs throughout.
	for _, node := range copy1.ListNodes() {
		assert.NotEqual(t, n1.NodeID, node.NodeID)
		assert.NotEqual(t, n2.NodeID, node.NodeID)
	}
}

func TestDuplicateRunningProjectRejected(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	node := h.addNode(p, "c1", "pc1", "vpcs")
	require.NoError(t, p.StartNode(h.ctx, node.NodeID))

	_, err := p.Duplicate(h.ctx, "")
	assert.ErrorIs(t, err, models.ErrProjectRunning)
}

func TestDuplicateResolvesNameCollisions(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")

	copy1, err := p.Duplicate(h.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "t1 - copy", copy1.Name())

	copy2, err := p.Duplicate(h.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "t1 - copy (2)", copy2.Name())

	copy3, err := p.Duplicate(h.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "t1 - copy (3)", copy3.Name())

	// An explicit name that collides is the caller's problem.
	_, err = p.Duplicate(h.ctx, "t1 - copy")
	assert.ErrorIs(t, err, models.ErrDuplicateProject)
}

func TestDuplicateClonesNodeDiskState(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	agent := h.computes["c1"]

	vm := h.addNode(p, "c1", "pc1", "vpcs")
	sw := h.addNode(p, "c1", "sw1", "ethernet_switch")

	dup, err := p.Duplicate(h.ctx, "")
	require.NoError(t, err)

	// Emulated kinds are copied by their driver, disk state included.
	payload := agent.duplicated(vm.NodeID)
	require.NotNil(t, payload, "driver never saw a duplicate for %s", vm.NodeID)
	assert.Equal(t, dup.ID(), payload["destination_project_id"])

	var cloneVM *Node
	for _, node := range dup.ListNodes() {
		if node.Name == vm.Name {
			cloneVM = node
		}
	}
	require.NotNil(t, cloneVM)
	assert.Equal(t, cloneVM.NodeID, payload["destination_node_id"])
	assert.False(t, agent.created(cloneVM.NodeID),
		"a fresh driver create would lose the source's disk")

	// Builtins carry no disk state and are recreated instead.
	assert.Nil(t, agent.duplicated(sw.NodeID))
}

// normalizedTopology strips the ids that legitimately change across an
// export/import cycle, so the rest can be compared byte for byte.
func normalizedTopology(t *testing.T, p *Project, idMap map[string]string) string {
	t.Helper()
	doc := p.topologyDoc()
	data, err := json.MarshalIndent(doc, "", "    ")
	require.NoError(t, err)
	text := string(data)
	for old, fresh := range idMap {
		text = strings.ReplaceAll(text, fresh, old)
	}
	return text
}

func TestExportImportRoundTrip(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")

	n1 := h.addNode(p, "c1", "pc1", "vpcs")
	n2 := h.addNode(p, "c1", "pc2", "vpcs")
	_, err := p.CreateLink(h.ctx, LinkRequest{Nodes: []LinkEndpoint{
		{NodeID: n1.NodeID}, {NodeID: n2.NodeID},
	}})
	require.NoError(t, err)
	_, err = p.CreateDrawing(DrawingRequest{SVG: "<svg/>", X: 10, Y: 20})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.Export(h.ctx, &buf, true))

	imported, err := h.ctrl.ImportProject(h.ctx, "", "t1-imported", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, ProjectClosed, imported.Status())

	nodes, links, drawings, _ := imported.counts()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, links)
	assert.Equal(t, 1, drawings)

	// Same controller: entity ids collide, so the import rewrites them.
	_, err = imported.GetNode(n1.NodeID)
	assert.ErrorIs(t, err, models.ErrNodeNotFound)

	// Graphs must match after mapping ids back and ignoring the renames.
	idMap := map[string]string{p.ID(): imported.ID(), p.Name(): imported.Name()}
	for _, src := range p.ListNodes() {
		for _, dst := range imported.ListNodes() {
			if dst.Name == src.Name {
				idMap[src.NodeID] = dst.NodeID
			}
		}
	}
	srcLinks := p.ListLinks()
	dstLinks := imported.ListLinks()
	require.Len(t, dstLinks, 1)
	idMap[srcLinks[0].LinkID] = dstLinks[0].LinkID
	srcDrawings := p.ListDrawings()
	dstDrawings := imported.ListDrawings()
	idMap[srcDrawings[0].DrawingID] = dstDrawings[0].DrawingID

	// The source still has an established link; normalize it to the
	// declared state an import always loads with.
	srcLinks[0].Status = LinkDeclared
	defer func() { srcLinks[0].Status = LinkEstablished }()

	assert.Equal(t,
		normalizedTopology(t, p, nil),
		normalizedTopology(t, imported, idMap),
	)
}

// archivedTopology pulls the topology document back out of an export stream.
func archivedTopology(t *testing.T, archive []byte) *topologyFile {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if hdr.Name != topologyFileName {
			continue
		}
		var doc topologyFile
		require.NoError(t, json.NewDecoder(tr).Decode(&doc))
		return &doc
	}
	t.Fatalf("archive carries no %s", topologyFileName)
	return nil
}

func TestExportLeavesRunningNodesRunning(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	node := h.addNode(p, "c1", "pc1", "vpcs")
	require.NoError(t, p.StartNode(h.ctx, node.NodeID))

	var buf bytes.Buffer
	require.NoError(t, p.Export(h.ctx, &buf, false))

	// The archive quiesces its copy; the live node keeps running.
	fresh, err := p.GetNode(node.NodeID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, fresh.Status)

	doc := archivedTopology(t, buf.Bytes())
	require.Len(t, doc.Topology.Nodes, 1)
	assert.Equal(t, StatusStopped, doc.Topology.Nodes[0].Status)
}

func TestImportRejectsTraversal(t *testing.T) {
	h := newHarness(t, "c1")

	var buf bytes.Buffer
	writeHostileArchive(t, &buf, "../evil.txt")

	_, err := h.ctrl.ImportProject(h.ctx, "", "evil", &buf)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")

	n1 := h.addNode(p, "c1", "pc1", "vpcs")
	n2 := h.addNode(p, "c1", "pc2", "vpcs")

	snapshot, err := p.CreateSnapshot(h.ctx, SnapshotRequest{Name: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", snapshot.Name)

	// Mutate: delete a node.
	require.NoError(t, p.DeleteNode(h.ctx, n1.NodeID))
	_, err = p.GetNode(n1.NodeID)
	require.ErrorIs(t, err, models.ErrNodeNotFound)

	// Restore brings it back with the same id.
	require.NoError(t, p.RestoreSnapshot(h.ctx, snapshot.SnapshotID))
	restored, err := p.GetNode(n1.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "pc1", restored.Name)
	_, err = p.GetNode(n2.NodeID)
	require.NoError(t, err)

	// Idempotence: restoring again yields identical state.
	before := normalizedTopology(t, p, nil)
	require.NoError(t, p.RestoreSnapshot(h.ctx, snapshot.SnapshotID))
	assert.Equal(t, before, normalizedTopology(t, p, nil))
}

func TestSnapshotRequiresQuiescedProject(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	node := h.addNode(p, "c1", "pc1", "vpcs")
	require.NoError(t, p.StartNode(h.ctx, node.NodeID))

	_, err := p.CreateSnapshot(h.ctx, SnapshotRequest{Name: "s1"})
	assert.ErrorIs(t, err, models.ErrProjectRunning)
}

func TestSettingsRoundTrip(t *testing.T) {
	h := newHarness(t)

	settings, err := h.ctrl.GetSettings(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, settings)

	require.NoError(t, h.ctrl.UpdateSettings(h.ctx, map[string]any{"theme": "dark"}))
	settings, err = h.ctrl.GetSettings(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", settings["theme"])
}

func TestDeleteComputeInUseRejected(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	h.addNode(p, "c1", "pc1", "vpcs")

	err := h.ctrl.DeleteCompute(h.ctx, "c1")
	assert.ErrorIs(t, err, models.ErrComputeInUse)
}
