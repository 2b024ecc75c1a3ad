package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netloom/netloom/pkg/controller"
)

// DrawingHandler handles canvas annotation endpoints.
type DrawingHandler struct {
	ctrl *controller.Controller
}

// NewDrawingHandler creates a DrawingHandler.
func NewDrawingHandler(ctrl *controller.Controller) *DrawingHandler {
	return &DrawingHandler{ctrl: ctrl}
}

// Create handles POST /v2/projects/{project_id}/drawings.
func (h *DrawingHandler) Create(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req controller.DrawingRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	drawing, err := project.CreateDrawing(req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, drawing)
}

// List handles GET /v2/projects/{project_id}/drawings.
func (h *DrawingHandler) List(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	WriteJSONOK(w, project.ListDrawings())
}

// Get handles GET /v2/projects/{project_id}/drawings/{drawing_id}.
func (h *DrawingHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	drawing, err := project.GetDrawing(chi.URLParam(r, "drawing_id"))
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, drawing)
}

// Update handles PUT /v2/projects/{project_id}/drawings/{drawing_id}.
func (h *DrawingHandler) Update(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req controller.DrawingRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	drawing, err := project.UpdateDrawing(chi.URLParam(r, "drawing_id"), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, drawing)
}

// Delete handles DELETE /v2/projects/{project_id}/drawings/{drawing_id}.
func (h *DrawingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	if err := project.DeleteDrawing(chi.URLParam(r, "drawing_id")); err != nil {
		MapError(w, err)
		return
	}
	WriteNoContent(w)
}
