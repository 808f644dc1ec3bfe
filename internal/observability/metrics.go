package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	lockContentionTotal prometheus.Counter
	malformedLinesTotal prometheus.Counter
	metadataSaveTotal   *prometheus.CounterVec
	metadataSaveLatency prometheus.Histogram
	serviceOpsTotal     *prometheus.CounterVec

	ioInFlight     prometheus.Gauge
	ioWaitDuration prometheus.Histogram
	ioOpDuration   *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current number of session descriptors in the metadata index.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session log read duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session log append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			lockContentionTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "session_lock_contention_total",
					Help: "Appends rejected because the session log was locked.",
				},
			),
			malformedLinesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "session_malformed_lines_total",
					Help: "Session log lines skipped because they failed to parse.",
				},
			),
			metadataSaveTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_metadata_save_total",
					Help: "Metadata index saves by status.",
				},
				[]string{"status"},
			),
			metadataSaveLatency: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_metadata_save_duration_seconds",
					Help:    "Metadata index save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			serviceOpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_service_operations_total",
					Help: "Session service operations by operation and status.",
				},
				[]string{"operation", "status"},
			),
			ioInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "io_pool_in_flight",
					Help: "Blocking file operations currently running in the I/O pool.",
				},
			),
			ioWaitDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "io_pool_wait_duration_seconds",
					Help:    "Time spent waiting for an I/O pool slot.",
					Buckets: prometheus.DefBuckets,
				},
			),
			ioOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "io_pool_operation_duration_seconds",
					Help:    "Blocking file operation duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.lockContentionTotal,
			m.malformedLinesTotal,
			m.metadataSaveTotal,
			m.metadataSaveLatency,
			m.serviceOpsTotal,
			m.ioInFlight,
			m.ioWaitDuration,
			m.ioOpDuration,
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

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
}

func RecordLockContention() {
	getMetrics().lockContentionTotal.Inc()
}

func RecordMalformedLine() {
	getMetrics().malformedLinesTotal.Inc()
}

func RecordMetadataSave(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.metadataSaveTotal.WithLabelValues(status).Inc()
	m.metadataSaveLatency.Observe(duration.Seconds())
}

func RecordServiceOperation(operation string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.serviceOpsTotal.WithLabelValues(operation, status).Inc()
}

func RecordIOWait(duration time.Duration) {
	getMetrics().ioWaitDuration.Observe(duration.Seconds())
}

func RecordIOStart() {
	getMetrics().ioInFlight.Inc()
}

func RecordIOFinish(operation string, duration time.Duration) {
	m := getMetrics()
	m.ioInFlight.Dec()
	m.ioOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
