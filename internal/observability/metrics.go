package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type engineMetrics struct {
	storeTotal  *prometheus.CounterVec
	recallTotal *prometheus.CounterVec

	searchDuration prometheus.Histogram
	writeDuration  prometheus.Histogram
	embedDuration  prometheus.Histogram

	stmEntries      prometheus.Gauge
	ltmEntries      prometheus.Gauge
	ltmBytes        prometheus.Gauge
	breakerState    *prometheus.GaugeVec
	evictionsTotal  prometheus.Counter
	promotionsTotal prometheus.Counter
	degradedRecalls prometheus.Counter
	sweepDeleted    prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		m := &engineMetrics{
			storeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_store_total",
					Help: "Total store operations by status.",
				},
				[]string{"status"},
			),
			recallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_recall_total",
					Help: "Total recall operations by status.",
				},
				[]string{"status"},
			),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			writeDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_write_duration_seconds",
					Help:    "Memory write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			embedDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_embed_duration_seconds",
					Help:    "Embedding generation duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			stmEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_stm_entries",
					Help: "Current short-term memory entry count.",
				},
			),
			ltmEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_ltm_entries",
					Help: "Current long-term memory entry count.",
				},
			),
			ltmBytes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_ltm_bytes",
					Help: "Approximate long-term memory size in bytes.",
				},
			),
			breakerState: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "memory_breaker_state",
					Help: "Circuit breaker state by name (0 closed, 1 open, 2 half-open).",
				},
				[]string{"breaker"},
			),
			evictionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_stm_evictions_total",
					Help: "Total notes evicted from short-term memory.",
				},
			),
			promotionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_promotions_total",
					Help: "Total notes promoted from short-term to long-term memory.",
				},
			),
			degradedRecalls: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_degraded_recalls_total",
					Help: "Total recalls served by keyword search because embeddings were unavailable.",
				},
			),
			sweepDeleted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_sweep_deleted_total",
					Help: "Total notes removed by retention sweeps.",
				},
			),
		}

		prometheus.MustRegister(
			m.storeTotal,
			m.recallTotal,
			m.searchDuration,
			m.writeDuration,
			m.embedDuration,
			m.stmEntries,
			m.ltmEntries,
			m.ltmBytes,
			m.breakerState,
			m.evictionsTotal,
			m.promotionsTotal,
			m.degradedRecalls,
			m.sweepDeleted,
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

func RecordStore(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.storeTotal.WithLabelValues(status).Inc()
	m.writeDuration.Observe(duration.Seconds())
}

func RecordRecall(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.recallTotal.WithLabelValues(status).Inc()
	m.searchDuration.Observe(duration.Seconds())
}

func RecordEmbedding(duration time.Duration) {
	m := getMetrics()
	m.embedDuration.Observe(duration.Seconds())
}

func SetTierSizes(stmEntries, ltmEntries int, ltmBytes int64) {
	m := getMetrics()
	m.stmEntries.Set(float64(stmEntries))
	m.ltmEntries.Set(float64(ltmEntries))
	m.ltmBytes.Set(float64(ltmBytes))
}

func SetBreakerState(name string, state int) {
	m := getMetrics()
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func RecordEviction(promoted bool) {
	m := getMetrics()
	m.evictionsTotal.Inc()
	if promoted {
		m.promotionsTotal.Inc()
	}
}

func RecordDegradedRecall() {
	getMetrics().degradedRecalls.Inc()
}

func RecordSweep(deleted int) {
	getMetrics().sweepDeleted.Add(float64(deleted))
}
