package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	invocationTotal    *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	eventsPersisted    *prometheus.CounterVec
	handoffTotal       prometheus.Counter

	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	cacheRefreshTotal *prometheus.CounterVec
	cacheActive       prometheus.Gauge

	compactionTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			invocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "invocation_total",
					Help: "Total invocations by agent and status.",
				},
				[]string{"agent", "status"},
			),
			invocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "invocation_duration_seconds",
					Help:    "Invocation duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			eventsPersisted: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "events_persisted_total",
					Help: "Total events persisted by author kind.",
				},
				[]string{"author"},
			),
			handoffTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "handoff_total",
					Help: "Total agent hand-offs followed.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session event save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			cacheRefreshTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prompt_cache_refresh_total",
					Help: "Total prompt cache refresh attempts by status.",
				},
				[]string{"status"},
			),
			cacheActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "prompt_cache_active",
					Help: "Whether a prompt cache handle is active (1 active, 0 inactive).",
				},
			),
			compactionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "compaction_total",
					Help: "Total compaction attempts by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.invocationTotal,
			m.invocationDuration,
			m.eventsPersisted,
			m.handoffTotal,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.cacheRefreshTotal,
			m.cacheActive,
			m.compactionTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordInvocation(agent string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.invocationTotal.WithLabelValues(agent, status).Inc()
	m.invocationDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

func RecordEventPersisted(author string) {
	m := getMetrics()
	m.eventsPersisted.WithLabelValues(author).Inc()
}

func RecordHandoff() {
	getMetrics().handoffTotal.Inc()
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordCacheRefresh(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().cacheRefreshTotal.WithLabelValues(status).Inc()
}

func SetCacheActive(active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().cacheActive.Set(value)
}

func RecordCompaction(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().compactionTotal.WithLabelValues(status).Inc()
}
