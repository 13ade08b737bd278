// Package metrics exports pipeline, queue, ingest and HTTP counters to
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"
)

type Metrics struct {
	registry *prometheus.Registry

	phaseUnits    *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	phaseFailures *prometheus.CounterVec
	consolidation *prometheus.CounterVec
	queueMessages *prometheus.CounterVec
	ingestEvents  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

var _ pipeline.Recorder = (*Metrics)(nil)

// New registers every collector on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		phaseUnits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batchgraph_phase_units_total",
			Help: "Units handled by pipeline phases by outcome",
		}, []string{"phase", "outcome"}),
		phaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchgraph_phase_duration_seconds",
			Help:    "Pipeline phase duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"phase"}),
		phaseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batchgraph_phase_runs_with_failures_total",
			Help: "Pipeline phase runs that reported at least one failed unit",
		}, []string{"phase"}),
		consolidation: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batchgraph_consolidation_total",
			Help: "High level consolidation steps by kind",
		}, []string{"kind"}),
		queueMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batchgraph_queue_messages_total",
			Help: "Queue messages by queue and result",
		}, []string{"queue", "result"}),
		ingestEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batchgraph_ingest_events_total",
			Help: "Ingested events by result",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "batchgraph_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		httpDurations: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchgraph_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordSummary(s pipeline.Summary) {
	phase := string(s.Phase)
	m.phaseUnits.WithLabelValues(phase, "processed").Add(float64(s.Processed))
	m.phaseUnits.WithLabelValues(phase, "skipped").Add(float64(s.Skipped))
	m.phaseUnits.WithLabelValues(phase, "failed").Add(float64(s.Failed))
	m.phaseDuration.WithLabelValues(phase).Observe(s.Duration.Seconds())
	if s.Failed > 0 || len(s.Errors) > 0 {
		m.phaseFailures.WithLabelValues(phase).Inc()
	}
	if s.Phase != pipeline.PhaseConsolidate {
		return
	}
	m.consolidation.WithLabelValues("created").Add(float64(s.Report.Created))
	m.consolidation.WithLabelValues("merged").Add(float64(s.Report.Merged))
	m.consolidation.WithLabelValues("deduplicated").Add(float64(s.Report.Deduplicated))
	m.consolidation.WithLabelValues("cycles_resolved").Add(float64(s.Report.CyclesResolved))
	m.consolidation.WithLabelValues("singletons").Add(float64(s.Report.Singletons))
	m.consolidation.WithLabelValues("skipped").Add(float64(s.Report.Skipped))
	m.consolidation.WithLabelValues("reused").Add(float64(s.Report.Reused))
}

// QueueMessage counts one handled message. result is "ack", "retry", "dlq" or "requeue".
func (m *Metrics) QueueMessage(queue, result string) {
	m.queueMessages.WithLabelValues(queue, result).Inc()
}

// IngestEvents counts decoded events. result is "saved", "invalid" or "failed".
func (m *Metrics) IngestEvents(result string, n int) {
	m.ingestEvents.WithLabelValues(result).Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records every request by its route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			method := c.Request().Method
			m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.httpDurations.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
