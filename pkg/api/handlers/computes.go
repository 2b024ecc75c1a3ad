package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netloom/netloom/pkg/compute"
	"github.com/netloom/netloom/pkg/controller"
)

// ComputeHandler handles the compute registry endpoints.
type ComputeHandler struct {
	ctrl *controller.Controller
}

// NewComputeHandler creates a ComputeHandler.
func NewComputeHandler(ctrl *controller.Controller) *ComputeHandler {
	return &ComputeHandler{ctrl: ctrl}
}

// Create handles POST /v2/computes.
func (h *ComputeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req controller.ComputeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	proxy, err := h.ctrl.AddCompute(r.Context(), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, proxy.Summary())
}

// List handles GET /v2/computes.
func (h *ComputeHandler) List(w http.ResponseWriter, _ *http.Request) {
	proxies := h.ctrl.ListComputes()
	out := make([]compute.Summary, 0, len(proxies))
	for _, proxy := range proxies {
		out = append(out, proxy.Summary())
	}
	WriteJSONOK(w, out)
}

// Get handles GET /v2/computes/{compute_id}.
func (h *ComputeHandler) Get(w http.ResponseWriter, r *http.Request) {
	proxy, err := h.ctrl.GetCompute(chi.URLParam(r, "compute_id"))
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, proxy.Summary())
}

// Update handles PUT /v2/computes/{compute_id}.
func (h *ComputeHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req controller.ComputeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	proxy, err := h.ctrl.UpdateCompute(r.Context(), chi.URLParam(r, "compute_id"), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, proxy.Summary())
}

// Delete handles DELETE /v2/computes/{compute_id}.
func (h *ComputeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DeleteCompute(r.Context(), chi.URLParam(r, "compute_id")); err != nil {
		MapError(w, err)
		return
	}
	WriteNoContent(w)
}

// Images handles GET /v2/computes/{compute_id}/images: the controller-side
// checksum index of images uploaded through the forwarding path.
func (h *ComputeHandler) Images(w http.ResponseWriter, r *http.Request) {
	computeID := chi.URLParam(r, "compute_id")
	if _, err := h.ctrl.GetCompute(computeID); err != nil {
		MapError(w, err)
		return
	}

	index := h.ctrl.Images()
	if index == nil {
		WriteJSONOK(w, []controller.ImageInfo{})
		return
	}
	images, err := index.List(computeID)
	if err != nil {
		MapError(w, err)
		return
	}
	if images == nil {
		images = []controller.ImageInfo{}
	}
	WriteJSONOK(w, images)
}
