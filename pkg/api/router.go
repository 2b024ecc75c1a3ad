package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/api/handlers"
	"github.com/netloom/netloom/pkg/controller"
	"github.com/netloom/netloom/pkg/metrics"
)

// RouterOptions wire the API surface to the controller.
type RouterOptions struct {
	Controller *controller.Controller

	// Metrics instruments requests when set.
	Metrics *metrics.Metrics

	// Local reports whether the controller bundles a local compute.
	Local bool

	// RequestTimeout bounds non-streaming requests. Default 2 minutes.
	RequestTimeout time.Duration
}

// NewRouter creates the chi router with all middleware and routes.
//
// Streaming endpoints (notifications, pcap, export, RPC forwarding) are
// registered outside the timeout group: they legitimately run for hours.
func NewRouter(opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Metrics))
	r.Use(middleware.Recoverer)

	health := handlers.NewHealthHandler(opts.Controller)
	settings := handlers.NewSettingsHandler(opts.Controller, opts.Local)
	computes := handlers.NewComputeHandler(opts.Controller)
	forward := handlers.NewForwardHandler(opts.Controller)
	projects := handlers.NewProjectHandler(opts.Controller)
	nodes := handlers.NewNodeHandler(opts.Controller)
	links := handlers.NewLinkHandler(opts.Controller)
	drawings := handlers.NewDrawingHandler(opts.Controller)
	snapshots := handlers.NewSnapshotHandler(opts.Controller)
	notifications := handlers.NewNotificationHandler(opts.Controller, opts.Metrics)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	// Long-lived streams, no timeout.
	r.Get("/v2/notifications", notifications.ControllerStream)
	r.Get("/v2/projects/{project_id}/notifications", notifications.ProjectStream)
	r.Get("/v2/projects/{project_id}/notifications/ws", notifications.WebSocket)
	r.Get("/v2/projects/{project_id}/links/{link_id}/pcap", links.StreamPCAP)
	r.Get("/v2/projects/{project_id}/export", projects.Export)
	r.HandleFunc("/v2/computes/{compute_id}/{emulator}/*", forward.Forward)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Get("/v2/version", settings.Version)
		r.Get("/v2/statistics", projects.Stats)
		r.Get("/v2/settings", settings.Get)
		r.Put("/v2/settings", settings.Update)

		r.Route("/v2/computes", func(r chi.Router) {
			r.Post("/", computes.Create)
			r.Get("/", computes.List)
			r.Route("/{compute_id}", func(r chi.Router) {
				r.Get("/", computes.Get)
				r.Put("/", computes.Update)
				r.Delete("/", computes.Delete)
				r.Get("/images", computes.Images)
			})
		})

		r.Post("/v2/projects/import", projects.Import)
		r.Route("/v2/projects", func(r chi.Router) {
			r.Post("/", projects.Create)
			r.Get("/", projects.List)
			r.Route("/{project_id}", func(r chi.Router) {
				r.Get("/", projects.Get)
				r.Put("/", projects.Update)
				r.Delete("/", projects.Delete)
				r.Post("/open", projects.Open)
				r.Post("/close", projects.Close)
				r.Post("/commit", projects.Commit)
				r.Post("/duplicate", projects.Duplicate)

				r.Route("/nodes", func(r chi.Router) {
					r.Post("/", nodes.Create)
					r.Get("/", nodes.List)
					r.Post("/start", nodes.StartAll())
					r.Post("/stop", nodes.StopAll())
					r.Post("/suspend", nodes.SuspendAll())
					r.Post("/reload", nodes.ReloadAll())
					r.Route("/{node_id}", func(r chi.Router) {
						r.Get("/", nodes.Get)
						r.Put("/", nodes.Update)
						r.Delete("/", nodes.Delete)
						r.Post("/start", nodes.Start())
						r.Post("/stop", nodes.Stop())
						r.Post("/suspend", nodes.Suspend())
						r.Post("/resume", nodes.Resume())
						r.Post("/reload", nodes.Reload())
						r.Post("/duplicate", nodes.Duplicate)
					})
				})

				r.Route("/links", func(r chi.Router) {
					r.Post("/", links.Create)
					r.Get("/", links.List)
					r.Route("/{link_id}", func(r chi.Router) {
						r.Get("/", links.Get)
						r.Put("/", links.Update)
						r.Delete("/", links.Delete)
						r.Post("/start_capture", links.StartCapture)
						r.Post("/stop_capture", links.StopCapture)
					})
				})

				r.Route("/drawings", func(r chi.Router) {
					r.Post("/", drawings.Create)
					r.Get("/", drawings.List)
					r.Route("/{drawing_id}", func(r chi.Router) {
						r.Get("/", drawings.Get)
						r.Put("/", drawings.Update)
						r.Delete("/", drawings.Delete)
					})
				})

				r.Route("/snapshots", func(r chi.Router) {
					r.Post("/", snapshots.Create)
					r.Get("/", snapshots.List)
					r.Delete("/{snapshot_id}", snapshots.Delete)
					r.Post("/{snapshot_id}/restore", snapshots.Restore)
				})
			})
		})
	})

	return r
}

// requestLogger logs requests through the internal logger and feeds the
// request metrics when instrumentation is enabled.
func requestLogger(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			route := chi.RouteContext(r.Context()).RoutePattern()
			m.RecordRequest(r.Method, route, ww.Status(), duration.Seconds())

			logger.Info("API request completed",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", duration.String(),
			)
		})
	}
}
