package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/costwatch/pkg/db"
)

// Config supplies the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonUnknown              = "unknown"
)

const (
	LockOutcomeGranted = "granted"
	LockOutcomeDenied  = "denied"
	LockOutcomeError   = "error"
)

const (
	NotificationOutcomeSent    = "sent"
	NotificationOutcomeFailed  = "failed"
	NotificationOutcomeSkipped = "skipped"
)

const (
	RateLimitOutcomeAllowed = "allowed"
	RateLimitOutcomeDenied  = "denied"
)

// PipelineMetrics captures sync, detection, delivery and scheduling health.
type PipelineMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	syncOutcomes     *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	costPoints       prometheus.Counter
	anomalies        *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	lockAcquisitions *prometheus.CounterVec
	providerRequests *prometheus.HistogramVec
	manualSyncLimits *prometheus.CounterVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton registry, creating it with cfg labels on first use.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the singleton so tests can swap registries.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "costwatch"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &PipelineMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "costwatch_scheduler_job_runs_total",
			Help:        "Scheduled job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "costwatch_scheduler_job_duration_seconds",
			Help:        "Scheduled job latency.",
			Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "costwatch_scheduler_job_timeouts_total",
			Help:        "Scheduled job runs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "costwatch_scheduler_job_errors_total",
			Help:        "Scheduled job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "costwatch_sync_total",
			Help:        "Per-user cost syncs by outcome code.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "costwatch_sync_duration_seconds",
			Help:        "Per-user cost sync latency.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			ConstLabels: constLabels,
		}),
		costPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "costwatch_cost_points_upserted_total",
			Help:        "Cost points written by sync.",
			ConstLabels: constLabels,
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "costwatch_anomalies_detected_total",
			Help:        "Anomalies produced by detection, by severity.",
			ConstLabels: constLabels,
		}, []string{"severity"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "costwatch_notifications_total",
			Help:        "Notification delivery attempts by channel and outcome.",
			ConstLabels: constLabels,
		}, []string{"channel", "outcome"}),
		lockAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "costwatch_run_lock_acquisitions_total",
			Help:        "Run lock acquisition attempts by job and outcome.",
			ConstLabels: constLabels,
		}, []string{"job", "outcome"}),
		providerRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "costwatch_billing_provider_request_seconds",
			Help:        "Billing provider fetch latency by outcome code.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		manualSyncLimits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "costwatch_manual_sync_rate_limit_total",
			Help:        "Manual sync trigger rate limit decisions.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.syncOutcomes,
		m.syncDuration,
		m.costPoints,
		m.anomalies,
		m.notifications,
		m.lockAcquisitions,
		m.providerRequests,
		m.manualSyncLimits,
	)
	return m
}

func (m *PipelineMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *PipelineMetrics) ObserveSync(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(strings.ToLower(outcome)).Inc()
	m.syncDuration.Observe(d.Seconds())
}

func (m *PipelineMetrics) AddCostPoints(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.costPoints.Add(float64(n))
}

func (m *PipelineMetrics) IncAnomaly(severity string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(severity).Inc()
}

func (m *PipelineMetrics) IncNotification(channel, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

func (m *PipelineMetrics) IncLockAcquisition(job, outcome string) {
	if m == nil {
		return
	}
	m.lockAcquisitions.WithLabelValues(job, outcome).Inc()
}

func (m *PipelineMetrics) ObserveProviderRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(strings.ToLower(outcome)).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncManualSyncRateLimit(outcome string) {
	if m == nil {
		return
	}
	m.manualSyncLimits.WithLabelValues(outcome).Inc()
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
	if db.IsDuplicateKeyErr(err) {
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}

// IsRetryable reports whether a job error is expected to clear on the next run.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
