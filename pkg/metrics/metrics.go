// Package metrics exposes Prometheus instrumentation for the controller.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks controller-level Prometheus metrics.
//
// All metrics use the netloom_ prefix. Every method is safe on a nil
// receiver, so callers never need to guard for disabled metrics.
type Metrics struct {
	// RequestsTotal counts API requests by method, route pattern and status.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration tracks API latency distribution per route pattern.
	RequestDuration *prometheus.HistogramVec

	// ProjectsOpened tracks the number of currently opened projects.
	ProjectsOpened prometheus.Gauge

	// Nodes tracks known nodes by status.
	Nodes *prometheus.GaugeVec

	// Links tracks the number of known links.
	Links prometheus.Gauge

	// ComputesConnected tracks connected computes.
	ComputesConnected prometheus.Gauge

	// PortsAllocated tracks allocated ports per compute and kind
	// (console or udp).
	PortsAllocated *prometheus.GaugeVec

	// NotificationDrops counts events dropped from lagging subscribers.
	NotificationDrops prometheus.Counter

	// ComputeReconnects counts compute reconnection attempts.
	ComputeReconnects prometheus.Counter

	// SubscribersActive tracks live notification subscriptions.
	SubscribersActive prometheus.Gauge
}

// NewMetrics creates controller metrics registered on reg.
//
// Panics if registration fails (expected during initialization only).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netloom_api_requests_total",
				Help: "Total API requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netloom_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ProjectsOpened: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netloom_projects_opened",
				Help: "Number of currently opened projects",
			},
		),
		Nodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netloom_nodes",
				Help: "Known nodes by status",
			},
			[]string{"status"},
		),
		Links: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netloom_links",
				Help: "Number of known links",
			},
		),
		ComputesConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netloom_computes_connected",
				Help: "Number of connected computes",
			},
		),
		PortsAllocated: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netloom_ports_allocated",
				Help: "Allocated ports per compute and kind",
			},
			[]string{"compute_id", "kind"},
		),
		NotificationDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netloom_notification_drops_total",
				Help: "Events dropped from lagging notification subscribers",
			},
		),
		ComputeReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netloom_compute_reconnects_total",
				Help: "Compute reconnection attempts",
			},
		),
		SubscribersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netloom_notification_subscribers",
				Help: "Live notification subscriptions",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ProjectsOpened,
		m.Nodes,
		m.Links,
		m.ComputesConnected,
		m.PortsAllocated,
		m.NotificationDrops,
		m.ComputeReconnects,
		m.SubscribersActive,
	)

	return m
}

// RecordRequest records one completed API request.
func (m *Metrics) RecordRequest(method, route string, status int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// NotificationDropped counts one dropped subscriber event.
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationDrops.Inc()
}

// ComputeReconnected counts one reconnection attempt.
func (m *Metrics) ComputeReconnected() {
	if m == nil {
		return
	}
	m.ComputeReconnects.Inc()
}

// SubscriberOpened tracks a new notification subscription.
func (m *Metrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.SubscribersActive.Inc()
}

// SubscriberClosed tracks the end of a notification subscription.
func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.SubscribersActive.Dec()
}

// SetPortsAllocated updates the port gauge for one compute.
func (m *Metrics) SetPortsAllocated(computeID, kind string, count int) {
	if m == nil {
		return
	}
	m.PortsAllocated.WithLabelValues(computeID, kind).Set(float64(count))
}

// SetTopologyCounts updates the entity gauges from a controller sweep.
func (m *Metrics) SetTopologyCounts(projectsOpened, computesConnected, links int, nodesByStatus map[string]int) {
	if m == nil {
		return
	}
	m.ProjectsOpened.Set(float64(projectsOpened))
	m.ComputesConnected.Set(float64(computesConnected))
	m.Links.Set(float64(links))
	for status, n := range nodesByStatus {
		m.Nodes.WithLabelValues(status).Set(float64(n))
	}
}
