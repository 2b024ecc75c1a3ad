package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/controller"
)

// ProjectHandler handles the project registry and per-project operations.
type ProjectHandler struct {
	ctrl *controller.Controller
}

// NewProjectHandler creates a ProjectHandler.
func NewProjectHandler(ctrl *controller.Controller) *ProjectHandler {
	return &ProjectHandler{ctrl: ctrl}
}

// Create handles POST /v2/projects.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req controller.ProjectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	project, err := h.ctrl.CreateProject(r.Context(), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, project.Summary())
}

// List handles GET /v2/projects.
func (h *ProjectHandler) List(w http.ResponseWriter, _ *http.Request) {
	projects := h.ctrl.ListProjects()
	out := make([]controller.ProjectSummary, 0, len(projects))
	for _, project := range projects {
		out = append(out, project.Summary())
	}
	WriteJSONOK(w, out)
}

// Get handles GET /v2/projects/{project_id}.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	WriteJSONOK(w, project.Summary())
}

// Update handles PUT /v2/projects/{project_id}. The body is decoded over
// the current settings so omitted fields keep their values.
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	settings := project.Summary().ProjectSettings
	if !decodeJSONBody(w, r, &settings) {
		return
	}
	if err := project.Update(r.Context(), settings); err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, project.Summary())
}

// Delete handles DELETE /v2/projects/{project_id}.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DeleteProject(r.Context(), chi.URLParam(r, "project_id")); err != nil {
		MapError(w, err)
		return
	}
	WriteNoContent(w)
}

// Open handles POST /v2/projects/{project_id}/open.
func (h *ProjectHandler) Open(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	if err := project.Open(r.Context()); err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, project.Summary())
}

// Close handles POST /v2/projects/{project_id}/close.
func (h *ProjectHandler) Close(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	if err := project.Close(r.Context()); err != nil {
		MapError(w, err)
		return
	}
	WriteNoContent(w)
}

// Commit handles POST /v2/projects/{project_id}/commit: persist the
// topology on demand.
func (h *ProjectHandler) Commit(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	if err := project.Commit(); err != nil {
		MapError(w, err)
		return
	}
	WriteNoContent(w)
}

// Duplicate handles POST /v2/projects/{project_id}/duplicate.
func (h *ProjectHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}

	clone, err := project.Duplicate(r.Context(), req.Name)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, clone.Summary())
}

// Export handles GET /v2/projects/{project_id}/export: a streamed tar.gz
// of the whole project.
func (h *ProjectHandler) Export(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	includeSnapshots := true
	if v := r.URL.Query().Get("include_snapshots"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "include_snapshots must be a boolean")
			return
		}
		includeSnapshots = parsed
	}

	filename := fmt.Sprintf("%s_%s.tar.gz", project.Name(), time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := project.Export(r.Context(), w, includeSnapshots); err != nil {
		// Headers are gone; all that is left is logging and cutting the
		// stream short.
		logger.Warn("project export aborted",
			logger.KeyProjectID, project.ID(),
			logger.KeyError, err,
		)
	}
}

// Import handles POST /v2/projects/import. The body is a tar.gz produced
// by Export; name and project_id come from query parameters.
func (h *ProjectHandler) Import(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	projectID := r.URL.Query().Get("project_id")

	project, err := h.ctrl.ImportProject(r.Context(), projectID, name, r.Body)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, project.Summary())
}

// Stats handles GET /v2/statistics.
func (h *ProjectHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	WriteJSONOK(w, h.ctrl.Stats())
}
