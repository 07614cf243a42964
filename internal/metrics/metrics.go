// Package metrics exposes orchestrator and event-stream counters for
// Prometheus scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CosmoTheDev/zapmcp/models"
)

const namespace = "zapmcp"

// Metrics owns a private registry so tests and multiple instances never
// collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	submitted   *prometheus.CounterVec
	finished    *prometheus.CounterVec
	active      prometheus.Gauge
	duration    *prometheus.HistogramVec
	published   *prometheus.CounterVec
	evicted     prometheus.Counter
	subscribers prometheus.Gauge
	invariants  prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_submitted_total",
			Help:      "Scans accepted by the orchestrator.",
		}, []string{"kind"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_finished_total",
			Help:      "Scans that reached a terminal state.",
		}, []string{"state"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scans_active",
			Help:      "Scans currently pending or running.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Time from running to terminal state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"state"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events appended to the event stream.",
		}, []string{"type"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_evicted_total",
			Help:      "Event subscribers dropped for not keeping up.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Currently attached event subscribers.",
		}),
		invariants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Internal orchestrator invariant violations.",
		}),
	}
	m.registry.MustRegister(
		m.submitted, m.finished, m.active, m.duration,
		m.published, m.evicted, m.subscribers, m.invariants,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ScanSubmitted(kind models.ScanKind) {
	m.submitted.WithLabelValues(string(kind)).Inc()
	m.active.Inc()
}

// ScanFinished records a terminal transition. elapsed is zero for scans that
// never started running.
func (m *Metrics) ScanFinished(state models.ScanState, elapsed time.Duration) {
	m.finished.WithLabelValues(string(state)).Inc()
	m.active.Dec()
	if elapsed > 0 {
		m.duration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
	}
}

// ScanDropped records a scan removed without reaching a terminal state
// (cancel or shutdown).
func (m *Metrics) ScanDropped() {
	m.finished.WithLabelValues("cancelled").Inc()
	m.active.Dec()
}

func (m *Metrics) InvariantViolated() { m.invariants.Inc() }

func (m *Metrics) EventPublished(evt models.Event) {
	m.published.WithLabelValues(string(evt.Type)).Inc()
}

func (m *Metrics) SubscriberEvicted() { m.evicted.Inc() }

func (m *Metrics) Subscribers(n int) { m.subscribers.Set(float64(n)) }
