package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netloom/netloom/pkg/controller"
)

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is
// written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// projectOrError resolves the project_id URL parameter. Returns the project
// and true if it exists, writes 404 and returns false otherwise.
func projectOrError(w http.ResponseWriter, r *http.Request, ctrl *controller.Controller) (*controller.Project, bool) {
	project, err := ctrl.GetProject(chi.URLParam(r, "project_id"))
	if err != nil {
		MapError(w, err)
		return nil, false
	}
	return project, true
}
