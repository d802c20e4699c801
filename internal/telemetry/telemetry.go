// Package telemetry aggregates the control plane's prometheus collectors
// behind a private registry so every App (and every test) gets an isolated
// metrics surface.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ClusterOps      *prometheus.CounterVec
	QueriesTotal    *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	FailuresTotal   *prometheus.CounterVec
	FailuresActive  *prometheus.GaugeVec
	BroadcastsTotal *prometheus.CounterVec
	Observers       prometheus.Gauge
	LogStreams      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ClusterOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "cluster",
			Name:      "operations_total",
			Help:      "Cluster lifecycle operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "query",
			Name:      "executed_total",
			Help:      "Executed data operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "faultline",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Data operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "chaos",
			Name:      "injected_total",
			Help:      "Injected failures by type.",
		}, []string{"type"}),
		FailuresActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "faultline",
			Subsystem: "chaos",
			Name:      "active_failures",
			Help:      "Currently active failures by type.",
		}, []string{"type"}),
		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "broadcast",
			Name:      "events_total",
			Help:      "Broadcast events by type.",
		}, []string{"type"}),
		Observers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "faultline",
			Subsystem: "broadcast",
			Name:      "observers",
			Help:      "Connected observers.",
		}),
		LogStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "faultline",
			Subsystem: "logs",
			Name:      "active_streams",
			Help:      "Active log streaming tasks.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The recording helpers tolerate a nil receiver so components can run
// without a metrics surface wired in.

func (m *Metrics) RecordClusterOp(operation string, err error) {
	if m == nil {
		return
	}
	m.ClusterOps.WithLabelValues(operation, outcome(err == nil)).Inc()
}

func (m *Metrics) RecordQuery(operation string, duration time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(operation, outcome(ok)).Inc()
	m.QueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordInjection(failureType string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(failureType).Inc()
}

func (m *Metrics) SetActiveFailures(failureType string, n int) {
	if m == nil {
		return
	}
	m.FailuresActive.WithLabelValues(failureType).Set(float64(n))
}

func (m *Metrics) RecordBroadcast(eventType string) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SetObservers(n int) {
	if m == nil {
		return
	}
	m.Observers.Set(float64(n))
}

func (m *Metrics) SetLogStreams(n int) {
	if m == nil {
		return
	}
	m.LogStreams.Set(float64(n))
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
