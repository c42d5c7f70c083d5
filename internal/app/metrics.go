package app

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goalsync/api/internal/changefeed"
	"goalsync/api/internal/goals"
)

// Metrics exposes Prometheus collectors for subscriptions, transitions, store changes
// and HTTP traffic. It implements goals.Observer.
type Metrics struct {
	registry            *prometheus.Registry
	activeSubscriptions prometheus.Gauge
	snapshotsDelivered  prometheus.Counter
	snapshotsDropped    prometheus.Counter
	storeChanges        *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry so tests can create as many
// instances as they like.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goals",
			Name:      "active_subscriptions",
			Help:      "Number of open goal subscriptions.",
		}),
		snapshotsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goals",
			Name:      "snapshots_delivered_total",
			Help:      "Snapshots queued to subscribers.",
		}),
		snapshotsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goals",
			Name:      "snapshots_dropped_total",
			Help:      "Snapshots discarded because a subscriber fell behind.",
		}),
		storeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goals",
			Name:      "store_changes_total",
			Help:      "Goal change events seen on the change feed.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goals",
			Name:      "transitions_total",
			Help:      "Finished status transitions by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goals",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
	}
	m.registry.MustRegister(
		m.activeSubscriptions,
		m.snapshotsDelivered,
		m.snapshotsDropped,
		m.storeChanges,
		m.transitions,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) SubscriptionOpened() { m.activeSubscriptions.Inc() }
func (m *Metrics) SubscriptionClosed() { m.activeSubscriptions.Dec() }
func (m *Metrics) SnapshotDelivered()  { m.snapshotsDelivered.Inc() }
func (m *Metrics) SnapshotDropped()    { m.snapshotsDropped.Inc() }

func (m *Metrics) TransitionFinished(state goals.TransitionState) {
	m.transitions.WithLabelValues(string(state)).Inc()
}

// ObserveChange counts a change feed event. It has the changefeed.Handler signature.
func (m *Metrics) ObserveChange(change changefeed.Change) {
	m.storeChanges.WithLabelValues(string(change.Kind)).Inc()
}

func (m *Metrics) observeRequest(method string, status int) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
