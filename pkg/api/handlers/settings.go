package handlers

import (
	"net/http"

	"github.com/netloom/netloom/pkg/controller"
)

// SettingsHandler serves the controller version and the opaque settings
// document GUI clients persist.
type SettingsHandler struct {
	ctrl  *controller.Controller
	local bool
}

// NewSettingsHandler creates a SettingsHandler. local reports whether the
// controller was started with a bundled local compute.
func NewSettingsHandler(ctrl *controller.Controller, local bool) *SettingsHandler {
	return &SettingsHandler{ctrl: ctrl, local: local}
}

// Version handles GET /v2/version.
func (h *SettingsHandler) Version(w http.ResponseWriter, _ *http.Request) {
	WriteJSONOK(w, map[string]any{
		"version": h.ctrl.Version(),
		"local":   h.local,
	})
}

// Get handles GET /v2/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.ctrl.GetSettings(r.Context())
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, settings)
}

// Update handles PUT /v2/settings. The document is opaque to the
// controller; it is stored and broadcast verbatim.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var settings map[string]any
	if !decodeJSONBody(w, r, &settings) {
		return
	}
	if err := h.ctrl.UpdateSettings(r.Context(), settings); err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, settings)
}
