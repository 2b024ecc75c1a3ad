package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netloom/netloom/pkg/controller"
)

// NodeHandler handles per-project node endpoints.
type NodeHandler struct {
	ctrl *controller.Controller
}

// NewNodeHandler creates a NodeHandler.
func NewNodeHandler(ctrl *controller.Controller) *NodeHandler {
	return &NodeHandler{ctrl: ctrl}
}

// Create handles POST /v2/projects/{project_id}/nodes.
func (h *NodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req controller.NodeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	node, err := project.CreateNode(r.Context(), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, node)
}

// List handles GET /v2/projects/{project_id}/nodes.
func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	WriteJSONOK(w, project.ListNodes())
}

// Get handles GET /v2/projects/{project_id}/nodes/{node_id}.
func (h *NodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	node, err := project.GetNode(chi.URLParam(r, "node_id"))
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, node)
}

// Update handles PUT /v2/projects/{project_id}/nodes/{node_id}.
func (h *NodeHandler) Update(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req controller.NodeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	node, err := project.UpdateNode(r.Context(), chi.URLParam(r, "node_id"), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, node)
}

// Delete handles DELETE /v2/projects/{project_id}/nodes/{node_id}.
func (h *NodeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	if err := project.DeleteNode(r.Context(), chi.URLParam(r, "node_id")); err != nil {
		MapError(w, err)
		return
	}
	WriteNoContent(w)
}

// lifecycleFunc adapts the per-node verbs to a common handler.
type lifecycleFunc func(p *controller.Project, r *http.Request, nodeID string) error

func (h *NodeHandler) lifecycle(fn lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectOrError(w, r, h.ctrl)
		if !ok {
			return
		}
		if err := fn(project, r, chi.URLParam(r, "node_id")); err != nil {
			MapError(w, err)
			return
		}
		WriteNoContent(w)
	}
}

// Start handles POST .../nodes/{node_id}/start.
func (h *NodeHandler) Start() http.HandlerFunc {
	return h.lifecycle(func(p *controller.Project, r *http.Request, nodeID string) error {
		return p.StartNode(r.Context(), nodeID)
	})
}

// Stop handles POST .../nodes/{node_id}/stop.
func (h *NodeHandler) Stop() http.HandlerFunc {
	return h.lifecycle(func(p *controller.Project, r *http.Request, nodeID string) error {
		return p.StopNode(r.Context(), nodeID)
	})
}

// Suspend handles POST .../nodes/{node_id}/suspend.
func (h *NodeHandler) Suspend() http.HandlerFunc {
	return h.lifecycle(func(p *controller.Project, r *http.Request, nodeID string) error {
		return p.SuspendNode(r.Context(), nodeID)
	})
}

// Resume handles POST .../nodes/{node_id}/resume.
func (h *NodeHandler) Resume() http.HandlerFunc {
	return h.lifecycle(func(p *controller.Project, r *http.Request, nodeID string) error {
		return p.ResumeNode(r.Context(), nodeID)
	})
}

// Reload handles POST .../nodes/{node_id}/reload.
func (h *NodeHandler) Reload() http.HandlerFunc {
	return h.lifecycle(func(p *controller.Project, r *http.Request, nodeID string) error {
		return p.ReloadNode(r.Context(), nodeID)
	})
}

// Duplicate handles POST .../nodes/{node_id}/duplicate.
func (h *NodeHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req struct {
		X int `json:"x"`
		Y int `json:"y"`
		Z int `json:"z"`
	}
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}

	node, err := project.DuplicateNode(r.Context(), chi.URLParam(r, "node_id"), req.X, req.Y, req.Z)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, node)
}

// bulk adapts the project-wide verbs. The response is always 200 with the
// per-node result vector; partial failures live in the body.
func (h *NodeHandler) bulk(fn func(p *controller.Project, r *http.Request) []controller.NodeResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectOrError(w, r, h.ctrl)
		if !ok {
			return
		}
		WriteJSONOK(w, fn(project, r))
	}
}

// StartAll handles POST /v2/projects/{project_id}/nodes/start.
func (h *NodeHandler) StartAll() http.HandlerFunc {
	return h.bulk(func(p *controller.Project, r *http.Request) []controller.NodeResult {
		return p.StartAll(r.Context())
	})
}

// StopAll handles POST /v2/projects/{project_id}/nodes/stop.
func (h *NodeHandler) StopAll() http.HandlerFunc {
	return h.bulk(func(p *controller.Project, r *http.Request) []controller.NodeResult {
		return p.StopAll(r.Context())
	})
}

// SuspendAll handles POST /v2/projects/{project_id}/nodes/suspend.
func (h *NodeHandler) SuspendAll() http.HandlerFunc {
	return h.bulk(func(p *controller.Project, r *http.Request) []controller.NodeResult {
		return p.SuspendAll(r.Context())
	})
}

// ReloadAll handles POST /v2/projects/{project_id}/nodes/reload.
func (h *NodeHandler) ReloadAll() http.HandlerFunc {
	return h.bulk(func(p *controller.Project, r *http.Request) []controller.NodeResult {
		return p.ReloadAll(r.Context())
	})
}
