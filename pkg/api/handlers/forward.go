package handlers

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/controller"
)

// ForwardHandler relays arbitrary emulator RPCs to the owning compute:
// ANY /v2/computes/{compute_id}/{emulator}/* becomes
// /v2/compute/{emulator}/* on the compute, bodies streamed both ways.
type ForwardHandler struct {
	ctrl *controller.Controller
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(ctrl *controller.Controller) *ForwardHandler {
	return &ForwardHandler{ctrl: ctrl}
}

// hopHeaders are not forwarded between the client and the compute.
var hopHeaders = []string{"Connection", "Keep-Alive", "Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade", "Authorization", "Host"}

// Forward handles the RPC relay. Image uploads are teed through the
// controller's image index so checksums stay queryable without another
// round trip to the compute.
func (h *ForwardHandler) Forward(w http.ResponseWriter, r *http.Request) {
	computeID := chi.URLParam(r, "compute_id")
	emulator := chi.URLParam(r, "emulator")
	rest := chi.URLParam(r, "*")

	proxy, err := h.ctrl.GetCompute(computeID)
	if err != nil {
		MapError(w, err)
		return
	}

	header := r.Header.Clone()
	for _, name := range hopHeaders {
		header.Del(name)
	}

	var body io.Reader = r.Body
	var sum *imageChecksum
	if r.Method == http.MethodPost && strings.HasPrefix(rest, "images/") {
		sum = &imageChecksum{hash: md5.New()}
		body = io.TeeReader(r.Body, sum)
	}

	target := path.Join("/v2/compute", emulator, rest)
	stream := r.ContentLength < 0 || r.ContentLength > 1<<20
	resp, err := proxy.Forward(r.Context(), r.Method, target, body, header, stream)
	if err != nil {
		MapError(w, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if sum != nil && resp.StatusCode < 300 {
		h.recordImage(computeID, emulator, strings.TrimPrefix(rest, "images/"), sum)
	}

	for name, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Debug("forwarded response copy aborted",
			logger.KeyComputeID, computeID,
			logger.KeyError, err,
		)
	}
}

func (h *ForwardHandler) recordImage(computeID, emulator, filename string, sum *imageChecksum) {
	index := h.ctrl.Images()
	if index == nil || filename == "" {
		return
	}
	checksum := hex.EncodeToString(sum.hash.Sum(nil))
	if err := index.Record(computeID, emulator, filename, checksum, sum.size); err != nil {
		logger.Warn("failed to index uploaded image",
			logger.KeyComputeID, computeID,
			"filename", filename,
			logger.KeyError, err,
		)
	}
}

// imageChecksum accumulates the MD5 and size of a streamed upload.
type imageChecksum struct {
	hash hash.Hash
	size int64
}

func (c *imageChecksum) Write(p []byte) (int, error) {
	c.size += int64(len(p))
	return c.hash.Write(p)
}
