package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/controller"
	"github.com/netloom/netloom/pkg/metrics"
)

// NotificationHandler serves the event streams: one per project plus the
// controller-wide stream.
type NotificationHandler struct {
	ctrl    *controller.Controller
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
}

// NewNotificationHandler creates a NotificationHandler. metrics may be nil.
func NewNotificationHandler(ctrl *controller.Controller, m *metrics.Metrics) *NotificationHandler {
	return &NotificationHandler{
		ctrl:    ctrl,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The controller API carries no cookies or credentials, so
			// cross-origin GUI clients are allowed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ControllerStream handles GET /v2/notifications: compute.*, log.* and
// settings.updated events.
func (h *NotificationHandler) ControllerStream(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, nil)
}

// ProjectStream handles GET /v2/projects/{project_id}/notifications.
func (h *NotificationHandler) ProjectStream(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}
	h.stream(w, r, project)
}

// stream writes events as JSON lines, or as SSE frames when the client
// asks for text/event-stream. project == nil selects the controller scope.
func (h *NotificationHandler) stream(w http.ResponseWriter, r *http.Request, project *controller.Project) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalServerError(w, "streaming unsupported")
		return
	}

	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	projectID := ""
	if project != nil {
		projectID = project.ID()
	}
	sub := h.ctrl.Bus().Subscribe(projectID)
	h.metrics.SubscriberOpened()
	defer func() {
		h.ctrl.Bus().Unsubscribe(sub)
		h.metrics.SubscriberClosed()
		h.maybeAutoClose(project)
	}()

	encoder := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if sse {
				if _, err := fmt.Fprintf(w, "event: %s\ndata: ", ev.Action); err != nil {
					return
				}
			}
			if err := encoder.Encode(ev); err != nil {
				return
			}
			if sse {
				if _, err := fmt.Fprint(w, "\n"); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}
}

// WebSocket handles GET /v2/projects/{project_id}/notifications/ws.
func (h *NotificationHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	project, ok := projectOrError(w, r, h.ctrl)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.ctrl.Bus().Subscribe(project.ID())
	h.metrics.SubscriberOpened()
	defer func() {
		h.ctrl.Bus().Unsubscribe(sub)
		h.metrics.SubscriberClosed()
		h.maybeAutoClose(project)
	}()

	// The read loop only exists to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// maybeAutoClose closes an auto_close project when its last subscriber
// disconnects.
func (h *NotificationHandler) maybeAutoClose(project *controller.Project) {
	if project == nil || project.Status() != controller.ProjectOpened {
		return
	}
	if !project.Summary().AutoClose {
		return
	}
	if h.ctrl.Bus().SubscriberCount(project.ID()) > 0 {
		return
	}
	if err := project.Close(context.Background()); err != nil {
		logger.Warn("auto-close failed",
			logger.KeyProjectID, project.ID(),
			logger.KeyError, err,
		)
	}
}
