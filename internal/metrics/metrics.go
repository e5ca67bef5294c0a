// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	TriggerRunsTotal    *prometheus.CounterVec
	TriggerDuration     prometheus.Histogram
	InvoicesGenerated   prometheus.Counter
	GenerationFailures  *prometheus.CounterVec
	DueDefinitions      prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TriggerRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoiceshelf_recurring_trigger_runs_total",
			Help: "Recurring invoice trigger runs by source",
		}, []string{"source"}),
		TriggerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoiceshelf_recurring_trigger_duration_seconds",
			Help:    "Duration of recurring invoice trigger runs",
			Buckets: prometheus.DefBuckets,
		}),
		InvoicesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoiceshelf_recurring_invoices_generated_total",
			Help: "Invoices materialized from recurring definitions",
		}),
		GenerationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoiceshelf_recurring_generation_failures_total",
			Help: "Failed recurring generations by reason",
		}, []string{"reason"}),
		DueDefinitions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "invoiceshelf_recurring_due_definitions",
			Help: "Definitions found due in the most recent trigger run",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoiceshelf_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoiceshelf_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTrigger is safe to call on a nil receiver.
func (m *Metrics) ObserveTrigger(source string, started time.Time, due int, generated int, failures map[string]int) {
	if m == nil {
		return
	}
	m.TriggerRunsTotal.WithLabelValues(source).Inc()
	m.TriggerDuration.Observe(time.Since(started).Seconds())
	m.DueDefinitions.Set(float64(due))
	m.InvoicesGenerated.Add(float64(generated))
	for reason, n := range failures {
		m.GenerationFailures.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) ObserveHTTP(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusLabel(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return strconv.Itoa(status)
}
