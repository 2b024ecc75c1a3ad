package controller

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom/pkg/models"
)

func twoNodeLink(t *testing.T, h *harness, p *Project, computeA, computeB string) (*Node, *Node, *Link) {
	t.Helper()
	n1 := h.addNode(p, computeA, "pc1", "vpcs")
	n2 := h.addNode(p, computeB, "pc2", "vpcs")

	link, err := p.CreateLink(h.ctx, LinkRequest{Nodes: []LinkEndpoint{
		{NodeID: n1.NodeID, AdapterNumber: 0, PortNumber: 0},
		{NodeID: n2.NodeID, AdapterNumber: 0, PortNumber: 0},
	}})
	require.NoError(t, err)
	return n1, n2, link
}

func TestLinkSymmetry(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	agent := h.computes["c1"]

	n1, n2, link := twoNodeLink(t, h, p, "c1", "c1")
	assert.Equal(t, LinkEstablished, link.Status)

	nio1 := agent.nio(n1.NodeID, 0, 0)
	nio2 := agent.nio(n2.NodeID, 0, 0)
	require.NotNil(t, nio1)
	require.NotNil(t, nio2)

	// The UDP pairs must be mirror images.
	assert.Equal(t, nio1["lport"], nio2["rport"])
	assert.Equal(t, nio2["lport"], nio1["rport"])
	assert.NotEqual(t, nio1["lport"], nio2["lport"],
		"two distinct UDP ports even on the same compute")

	proxy, err := h.ctrl.GetCompute("c1")
	require.NoError(t, err)
	usedBefore := proxy.Pools().UDP.Used()
	assert.Equal(t, 2, usedBefore)

	require.NoError(t, p.DeleteLink(h.ctx, link.LinkID))
	assert.Equal(t, 0, agent.nioCount(), "no NIO survives link deletion")
	assert.Equal(t, 0, proxy.Pools().UDP.Used(), "both UDP ports released")
}

func TestLinkAcrossComputes(t *testing.T) {
	h := newHarness(t, "c1", "c2")
	p := h.newProject("t1")

	n1, n2, link := twoNodeLink(t, h, p, "c1", "c2")
	assert.Equal(t, LinkEstablished, link.Status)

	nio1 := h.computes["c1"].nio(n1.NodeID, 0, 0)
	nio2 := h.computes["c2"].nio(n2.NodeID, 0, 0)
	require.NotNil(t, nio1)
	require.NotNil(t, nio2)
	assert.Equal(t, nio1["lport"], nio2["rport"])
	assert.Equal(t, nio2["lport"], nio1["rport"])
}

func TestLinkValidation(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	n1 := h.addNode(p, "c1", "pc1", "vpcs")
	n2 := h.addNode(p, "c1", "pc2", "vpcs")

	// Loopback rejected.
	_, err := p.CreateLink(h.ctx, LinkRequest{Nodes: []LinkEndpoint{
		{NodeID: n1.NodeID}, {NodeID: n1.NodeID, PortNumber: 0},
	}})
	assert.ErrorIs(t, err, models.ErrSameNodeLoop)

	// Exactly two endpoints.
	_, err = p.CreateLink(h.ctx, LinkRequest{Nodes: []LinkEndpoint{{NodeID: n1.NodeID}}})
	assert.ErrorIs(t, err, models.ErrValidation)

	// Unknown port.
	_, err = p.CreateLink(h.ctx, LinkRequest{Nodes: []LinkEndpoint{
		{NodeID: n1.NodeID, AdapterNumber: 9, PortNumber: 9},
		{NodeID: n2.NodeID},
	}})
	assert.ErrorIs(t, err, models.ErrValidation)

	// Port exclusivity.
	_, err = p.CreateLink(h.ctx, LinkRequest{Nodes: []LinkEndpoint{
		{NodeID: n1.NodeID}, {NodeID: n2.NodeID},
	}})
	require.NoError(t, err)
	n3 := h.addNode(p, "c1", "pc3", "vpcs")
	_, err = p.CreateLink(h.ctx, LinkRequest{Nodes: []LinkEndpoint{
		{NodeID: n1.NodeID}, {NodeID: n3.NodeID},
	}})
	assert.ErrorIs(t, err, models.ErrPortInUse)
}

func TestLinkFilters(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	n1, _, link := twoNodeLink(t, h, p, "c1", "c1")

	// Unknown key rejected.
	_, err := p.UpdateLink(h.ctx, link.LinkID, LinkRequest{
		Filters: map[string][]any{"teleport": {1}},
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	// Out-of-range percentage rejected.
	_, err = p.UpdateLink(h.ctx, link.LinkID, LinkRequest{
		Filters: map[string][]any{"loss_pct": {float64(150)}},
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	// Valid filters are pushed to the NIOs.
	filters := map[string][]any{
		"latency_ms": {float64(20)},
		"loss_pct":   {float64(5)},
		"bpf":        {"udp port 53"},
	}
	updated, err := p.UpdateLink(h.ctx, link.LinkID, LinkRequest{Filters: filters})
	require.NoError(t, err)
	assert.Equal(t, filters, updated.Filters)

	nio := h.computes["c1"].nio(n1.NodeID, 0, 0)
	require.NotNil(t, nio)
	assert.NotNil(t, nio["filters"], "filters reach the driver NIO")
}

func TestLinkSuspendPushed(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	n1, _, link := twoNodeLink(t, h, p, "c1", "c1")

	updated, err := p.UpdateLink(h.ctx, link.LinkID, LinkRequest{Suspend: true})
	require.NoError(t, err)
	assert.True(t, updated.Suspend)

	nio := h.computes["c1"].nio(n1.NodeID, 0, 0)
	require.NotNil(t, nio)
	assert.Equal(t, true, nio["suspend"])
}

func TestCaptureLifecycle(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	_, _, link := twoNodeLink(t, h, p, "c1", "c1")

	captured, err := p.StartCapture(h.ctx, link.LinkID, CaptureRequest{CaptureFileName: "c.pcap"})
	require.NoError(t, err)
	assert.True(t, captured.Capturing)
	assert.Equal(t, "c.pcap", captured.CaptureFileName)
	assert.Equal(t, "c1", captured.CaptureComputeID)

	// Only one capture at a time.
	_, err = p.StartCapture(h.ctx, link.LinkID, CaptureRequest{})
	assert.ErrorIs(t, err, models.ErrAlreadyCaptured)

	// The pcap stream proxies bytes from the compute.
	resp, err := p.StreamPCAP(h.ctx, link.LinkID, "")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "pcap-bytes", string(data))

	require.NoError(t, p.StopCapture(h.ctx, link.LinkID))
	assert.False(t, link.Capturing)

	err = p.StopCapture(h.ctx, link.LinkID)
	assert.ErrorIs(t, err, models.ErrNotCapturing)

	_, err = p.StreamPCAP(h.ctx, link.LinkID, "")
	assert.ErrorIs(t, err, models.ErrNotCapturing)
}

func TestPCAPRangeForwarded(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	_, _, link := twoNodeLink(t, h, p, "c1", "c1")

	_, err := p.StartCapture(h.ctx, link.LinkID, CaptureRequest{})
	require.NoError(t, err)

	// A resuming client skips what it already has; the compute's partial
	// response passes through untouched.
	resp, err := p.StreamPCAP(h.ctx, link.LinkID, "bytes=5-")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 5-9/10", resp.Header.Get("Content-Range"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))
}

func TestCaptureSkipsDisconnectedEndpoint(t *testing.T) {
	h := newHarness(t, "c1", "c2")
	p := h.newProject("t1")
	_, n2, link := twoNodeLink(t, h, p, "c1", "c2")

	proxy, err := h.ctrl.GetCompute("c1")
	require.NoError(t, err)
	proxy.Stop()

	// The capture lands on the endpoint whose compute still answers.
	captured, err := p.StartCapture(h.ctx, link.LinkID, CaptureRequest{})
	require.NoError(t, err)
	assert.Equal(t, "c2", captured.CaptureComputeID)
	assert.Equal(t, n2.NodeID, captured.captureNodeID)

	require.NoError(t, p.StopCapture(h.ctx, link.LinkID))

	proxy2, err := h.ctrl.GetCompute("c2")
	require.NoError(t, err)
	proxy2.Stop()

	_, err = p.StartCapture(h.ctx, link.LinkID, CaptureRequest{})
	assert.ErrorIs(t, err, models.ErrComputeUnreachable)
}

func TestCaptureFileNameSanitized(t *testing.T) {
	h := newHarness(t, "c1")
	p := h.newProject("t1")
	_, _, link := twoNodeLink(t, h, p, "c1", "c1")

	_, err := p.StartCapture(h.ctx, link.LinkID, CaptureRequest{CaptureFileName: "../../etc/passwd"})
	assert.ErrorIs(t, err, models.ErrValidation)
}
