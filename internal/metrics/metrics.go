// Package metrics exposes the synchronization counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "cspdns"

	outcomeLabel = "outcome"
	kindLabel    = "kind"
)

// Error kinds.
const (
	KindTransient = "transient"
	KindApply     = "apply"
	KindFetch     = "fetch"
	KindCommit    = "commit"
)

type Metrics struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	errors         *prometheus.CounterVec
	recordsWritten prometheus.Counter
	recordsDeleted prometheus.Counter
	lastEvent      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events handled, by outcome.",
		}, []string{outcomeLabel}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failures while consuming events, by kind.",
		}, []string{kindLabel}),
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Zone records written.",
		}),
		recordsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_deleted_total",
			Help:      "Zone records deleted.",
		}),
		lastEvent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_event_timestamp_seconds",
			Help:      "Unix time of the last event fetched from the bus.",
		}),
	}
	m.registry.MustRegister(m.events, m.errors, m.recordsWritten, m.recordsDeleted, m.lastEvent)
	return m
}

func (m *Metrics) ObserveOutcome(outcome string) {
	m.events.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func (m *Metrics) ObserveError(kind string) {
	m.errors.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func (m *Metrics) AddRecords(written, deleted int) {
	m.recordsWritten.Add(float64(written))
	m.recordsDeleted.Add(float64(deleted))
}

func (m *Metrics) MarkEvent(t time.Time) {
	m.lastEvent.Set(float64(t.Unix()))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
