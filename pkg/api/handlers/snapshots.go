package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netloom/netloom/pkg/controller"
)

// SnapshotHandler handles project snapshot endpoints.
type SnapshotHandler struct {
	ctrl *controller.Controller
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(ctrl *controller.Controller) *SnapshotHandler {
	return &SnapshotHandler{ctrl: ctrl}
}

// Create handles POST /v2/projects/{project_id}/snapshots.
func (h *SnapshotHandler) Create(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req controller.SnapshotRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	snapshot, err := project.CreateSnapshot(r.Context(), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, snapshot)
}

// List handles GET /v2/projects/{project_id}/snapshots.
func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	WriteJSONOK(w, project.ListSnapshots())
}

// Delete handles DELETE /v2/projects/{project_id}/snapshots/{snapshot_id}.
func (h *SnapshotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	if err := project.DeleteSnapshot(chi.URLParam(r, "snapshot_id")); err != nil {
		MapError(w, err)
		return
	}
	WriteNoContent(w)
}

// Restore handles POST /v2/projects/{project_id}/snapshots/{snapshot_id}/restore.
func (h *SnapshotHandler) Restore(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	if err := project.RestoreSnapshot(r.Context(), chi.URLParam(r, "snapshot_id")); err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, project.Summary())
}
