// Package metrics exposes counters of the fiscal pipeline on a private registry.
// A nil *Metrics is valid and records nothing.
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

const namespace = "vfd"

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	attempts        prometheus.Counter
	zreports        *prometheus.CounterVec
	tokenFetches    *prometheus.CounterVec
	jobs            *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests sent to TRA by operation and HTTP status (0 = no response).",
		}, []string{"operation", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of requests sent to TRA.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_submissions_total",
			Help:      "Receipt submission attempts by outcome.",
		}, []string{"outcome"}),
		attempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_attempts_total",
			Help:      "Receipt processing attempts started.",
		}),
		zreports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zreport_submissions_total",
			Help:      "Z-report submissions by outcome.",
		}, []string{"outcome"}),
		tokenFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_fetches_total",
			Help:      "Access token requests by result.",
		}, []string{"result"}),
		jobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "receipt_jobs",
			Help:      "Receipt jobs by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(operation string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Submission outcome is one of acknowledged, retry, failed_terminal.
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Attempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

func (m *Metrics) ZReport(outcome string) {
	if m == nil {
		return
	}
	m.zreports.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenFetch(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.tokenFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) SetJobs(status string, n int64) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Set(float64(n))
}
