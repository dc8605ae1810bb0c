package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the environment orchestrator.
// A nil or disabled Metrics is safe to use; all observations become no-ops.
type Metrics struct {
	config MetricsConfig

	// Batch metrics
	batchesRun    prometheus.Counter
	batchDuration prometheus.Histogram
	jobsExecuted  prometheus.Counter
	jobsFailed    prometheus.Counter

	// Convergence metrics
	convergenceWait     *prometheus.HistogramVec
	convergenceTimeouts *prometheus.CounterVec

	// Snapshot metrics
	snapshotsTaken   prometheus.Counter
	snapshotDuration prometheus.Histogram

	// Rollback metrics
	undoSteps    prometheus.Counter
	undoFailures prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. When disabled, the returned
// instance observes nothing and exposes no endpoint.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		batchesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_run_total",
			Help:      "Total number of job batches run",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of job batches",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		jobsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_executed_total",
			Help:      "Total number of jobs executed",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs that failed",
		}),
		convergenceWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "convergence_wait_seconds",
			Help:      "Time spent polling an entity for state convergence",
			Buckets:   prometheus.ExponentialBuckets(1, 3, 8),
		}, []string{"entity", "state"}),
		convergenceTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "convergence_timeouts_total",
			Help:      "Total number of convergence polls that timed out",
		}, []string{"entity", "state"}),
		snapshotsTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_taken_total",
			Help:      "Total number of snapshots captured",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Duration of snapshot transactions, quiesce included",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		undoSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undo_steps_total",
			Help:      "Total number of compensating actions executed",
		}),
		undoFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undo_failures_total",
			Help:      "Total number of compensating actions that failed",
		}),
	}

	collectors := []prometheus.Collector{
		m.batchesRun, m.batchDuration, m.jobsExecuted, m.jobsFailed,
		m.convergenceWait, m.convergenceTimeouts,
		m.snapshotsTaken, m.snapshotDuration,
		m.undoSteps, m.undoFailures,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// ObserveBatch records one resolved job batch.
func (m *Metrics) ObserveBatch(jobs, failed int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.batchesRun.Inc()
	m.batchDuration.Observe(duration.Seconds())
	m.jobsExecuted.Add(float64(jobs))
	m.jobsFailed.Add(float64(failed))
}

// ObserveConvergence records one completed convergence poll.
func (m *Metrics) ObserveConvergence(entity, state string, wait time.Duration, timedOut bool) {
	if !m.enabled() {
		return
	}
	m.convergenceWait.WithLabelValues(entity, state).Observe(wait.Seconds())
	if timedOut {
		m.convergenceTimeouts.WithLabelValues(entity, state).Inc()
	}
}

// ObserveSnapshot records one successfully captured snapshot.
func (m *Metrics) ObserveSnapshot(duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.snapshotsTaken.Inc()
	m.snapshotDuration.Observe(duration.Seconds())
}

// ObserveUnwind records the outcome of a rollback unwind.
func (m *Metrics) ObserveUnwind(steps, failed int) {
	if !m.enabled() {
		return
	}
	m.undoSteps.Add(float64(steps))
	m.undoFailures.Add(float64(failed))
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP endpoint. It blocks until the listener
// fails, so callers normally run it in a goroutine.
func (m *Metrics) Serve() error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
