package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/controller"
)

// LinkHandler handles per-project link endpoints, including capture.
type LinkHandler struct {
	ctrl *controller.Controller
}

// NewLinkHandler creates a LinkHandler.
func NewLinkHandler(ctrl *controller.Controller) *LinkHandler {
	return &LinkHandler{ctrl: ctrl}
}

// Create handles POST /v2/projects/{project_id}/links.
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req controller.LinkRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	link, err := project.CreateLink(r.Context(), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, link)
}

// List handles GET /v2/projects/{project_id}/links.
func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	WriteJSONOK(w, project.ListLinks())
}

// Get handles GET /v2/projects/{project_id}/links/{link_id}.
func (h *LinkHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	link, err := project.GetLink(chi.URLParam(r, "link_id"))
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, link)
}

// Update handles PUT /v2/projects/{project_id}/links/{link_id}.
func (h *LinkHandler) Update(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req controller.LinkRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	link, err := project.UpdateLink(r.Context(), chi.URLParam(r, "link_id"), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONOK(w, link)
}

// Delete handles DELETE /v2/projects/{project_id}/links/{link_id}.
func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	if err := project.DeleteLink(r.Context(), chi.URLParam(r, "link_id")); err != nil {
		MapError(w, err)
		return
	}
	WriteNoContent(w)
}

// StartCapture handles POST .../links/{link_id}/start_capture.
func (h *LinkHandler) StartCapture(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	var req controller.CaptureRequest
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}

	link, err := project.StartCapture(r.Context(), chi.URLParam(r, "link_id"), req)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, link)
}

// StopCapture handles POST .../links/{link_id}/stop_capture.
func (h *LinkHandler) StopCapture(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	linkID := chi.URLParam(r, "link_id")
	if err := project.StopCapture(r.Context(), linkID); err != nil {
		MapError(w, err)
		return
	}
	link, err := project.GetLink(linkID)
	if err != nil {
		MapError(w, err)
		return
	}
	WriteJSONCreated(w, link)
}

// StreamPCAP handles GET .../links/{link_id}/pcap: a live stream of the
// capture file proxied from the owning compute. A Range header is forwarded
// so clients can resume; Content-Range and the 206 status come back from the
// compute. Client cancellation tears the compute-side stream down through
// the request context.
func (h *LinkHandler) StreamPCAP(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	resp, err := project.StreamPCAP(r.Context(), chi.URLParam(r, "link_id"), r.Header.Get("Range"))
	if err != nil {
		MapError(w, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		w.Header().Set("Content-Range", cr)
	}
	if ar := resp.Header.Get("Accept-Ranges"); ar != "" {
		w.Header().Set("Accept-Ranges", ar)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Debug("pcap stream ended",
			logger.KeyProjectID, project.ID(),
			logger.KeyError, err,
		)
	}
}
