package handlers

import (
	"net/http"
	"time"

	"github.com/netloom/netloom/pkg/controller"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	ctrl *controller.Controller
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(ctrl *controller.Controller) *HealthHandler {
	return &HealthHandler{ctrl: ctrl}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// Liveness handles GET /health. Always 200 while the process serves.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.ctrl.Version(),
	})
}

// Readiness handles GET /health/ready. Ready once the controller is
// serving; compute connectivity is reported, not required.
func (h *HealthHandler) Readiness(w http.ResponseWriter, _ *http.Request) {
	stats := h.ctrl.Stats()
	WriteJSONOK(w, map[string]any{
		"status":             "ready",
		"timestamp":          time.Now().UTC(),
		"computes":           stats.Computes,
		"computes_connected": stats.ComputesConnected,
		"projects_opened":    stats.ProjectsOpened,
	})
}
