package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonUnknown              = "unknown"
)

const (
	ItemOutcomeCompleted = "completed"
	ItemOutcomeRetried   = "retried"
	ItemOutcomeFailed    = "failed"
	ItemOutcomeSkipped   = "skipped"
)

// QueueMetrics captures work queue and scheduler health signals.
type QueueMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	runLoopLag     prometheus.Observer
	itemsProcessed *prometheus.CounterVec
	itemsEnqueued  *prometheus.CounterVec
	batchDuration  prometheus.Observer
	batchSize      prometheus.Observer
	retriggers     prometheus.Counter
	leaseSkipped   prometheus.Counter
}

var (
	queueMetricsOnce sync.Once
	queueMetrics     *QueueMetrics
)

// Queue returns the singleton queue metrics registry.
func Queue() *QueueMetrics {
	return QueueWithConfig(Config{})
}

// QueueWithConfig returns the singleton queue metrics registry using config labels.
func QueueWithConfig(cfg Config) *QueueMetrics {
	queueMetricsOnce.Do(func() {
		queueMetrics = newQueueMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return queueMetrics
}

// ResetQueueMetricsForTest resets the queue metrics singleton for tests.
func ResetQueueMetricsForTest() {
	queueMetricsOnce = sync.Once{}
	queueMetrics = nil
}

func newQueueMetrics(registerer prometheus.Registerer, cfg Config) *QueueMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "orderguard"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderguard_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "orderguard_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderguard_scheduler_job_timeouts_total",
		Help:        "Scheduler jobs that hit their timeout.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderguard_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "orderguard_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})
	itemsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderguard_queue_items_processed_total",
		Help:        "Queue items handled by type and outcome.",
		ConstLabels: constLabels,
	}, []string{"type", "outcome"})
	itemsEnqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderguard_queue_items_enqueued_total",
		Help:        "Queue items enqueued by type.",
		ConstLabels: constLabels,
	}, []string{"type"})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "orderguard_queue_batch_duration_seconds",
		Help:        "Time spent draining one merchant batch.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	})
	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "orderguard_queue_batch_size",
		Help:        "Eligible items picked per batch.",
		Buckets:     []float64{0, 1, 2, 3, 5, 8, 10},
		ConstLabels: constLabels,
	})
	retriggers := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "orderguard_queue_retriggers_total",
		Help:        "Self re-triggers issued because backlog remained after a batch.",
		ConstLabels: constLabels,
	})
	leaseSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "orderguard_queue_lease_skipped_total",
		Help:        "Drains skipped because another worker held the merchant lease.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		runLoopLag,
		itemsProcessed,
		itemsEnqueued,
		batchDuration,
		batchSize,
		retriggers,
		leaseSkipped,
	)

	return &QueueMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		runLoopLag:     runLoopLag,
		itemsProcessed: itemsProcessed,
		itemsEnqueued:  itemsEnqueued,
		batchDuration:  batchDuration,
		batchSize:      batchSize,
		retriggers:     retriggers,
		leaseSkipped:   leaseSkipped,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *QueueMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency.
func (m *QueueMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *QueueMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *QueueMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *QueueMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// IncItemProcessed counts a queue item outcome.
func (m *QueueMetrics) IncItemProcessed(itemType, outcome string) {
	if m == nil {
		return
	}
	m.itemsProcessed.WithLabelValues(itemType, outcome).Inc()
}

// IncItemEnqueued counts an enqueued item.
func (m *QueueMetrics) IncItemEnqueued(itemType string) {
	if m == nil {
		return
	}
	m.itemsEnqueued.WithLabelValues(itemType).Inc()
}

// ObserveBatch records one merchant batch drain.
func (m *QueueMetrics) ObserveBatch(size int, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *QueueMetrics) IncRetrigger() {
	if m == nil {
		return
	}
	m.retriggers.Inc()
}

func (m *QueueMetrics) IncLeaseSkipped() {
	if m == nil {
		return
	}
	m.leaseSkipped.Inc()
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}

// IsRetryable reports whether a store error is worth retrying in place.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return hasPGCode(err, "55P03") || hasPGCode(err, "40001")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
