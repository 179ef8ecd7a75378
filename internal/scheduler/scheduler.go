package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/costwatch/internal/clock"
	costsyncdomain "github.com/smallbiznis/costwatch/internal/costsync/domain"
	"github.com/smallbiznis/costwatch/internal/metricspush"
	"github.com/smallbiznis/costwatch/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/costwatch/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Sync    costsyncdomain.Service
	Reports reportdomain.Service
	Metrics *metrics.PipelineMetrics `optional:"true"`
	Config  Config                   `optional:"true"`
	Pusher  metricspush.Pusher       `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	sync    costsyncdomain.Service
	reports reportdomain.Service
	metrics *metrics.PipelineMetrics

	pusher   metricspush.Pusher
	gatherer prometheus.Gatherer

	// lastWeeklyDay is the UTC day the weekly report last completed in this process.
	lastWeeklyDay string
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Sync == nil || p.Reports == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		sync:     p.Sync,
		reports:  p.Reports,
		metrics:  p.Metrics,
		pusher:   p.Pusher,
		gatherer: prometheus.DefaultGatherer,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the run lock TTL covers whatever was left
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobAutoSync, s.isJobEnabled(JobAutoSync), func(ctx context.Context) error {
			return s.runJob(ctx, JobAutoSync, s.cfg.AutoSync.MaxUsers, s.cfg.AutoSyncTimeout, s.AutoSyncJob)
		}},
		{JobWeeklyReport, s.isJobEnabled(JobWeeklyReport) && s.weeklyReportDue(s.clock.Now()), func(ctx context.Context) error {
			return s.runJob(ctx, JobWeeklyReport, s.cfg.WeeklyReport.MaxUsers, s.cfg.WeeklyReportTimeout, s.WeeklyReportJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		s.pushMetrics(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pushMetrics ships a snapshot after each tick when a pusher is configured.
// A failed push is logged and never fails the run.
func (s *Scheduler) pushMetrics(ctx context.Context) {
	if s.pusher == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.pusher.Push(pushCtx, s.gatherer); err != nil {
		s.log.Warn("scheduler.metrics.push_failed", zap.Error(err))
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// weeklyReportDue is true on the configured weekday from the configured hour
// on, once per day per process. Cross-replica dedupe is the run lock's job.
func (s *Scheduler) weeklyReportDue(now time.Time) bool {
	now = now.UTC()
	if now.Weekday() != s.cfg.WeeklyReportWeekday || now.Hour() < s.cfg.WeeklyReportHourUTC {
		return false
	}
	return s.lastWeeklyDay != now.Format("2006-01-02")
}

func (s *Scheduler) AutoSyncJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	res, err := s.sync.SyncDue(ctx, s.cfg.AutoSync)
	if err != nil {
		return err
	}
	if res.Skipped {
		s.logger(ctx).Info("scheduler.job.skipped", zap.String("job", JobAutoSync), zap.String("reason", "locked"))
		return nil
	}
	run.AddProcessed(res.Selected)
	for _, u := range res.Users {
		if u.Status != costsyncdomain.UserStatusFailed {
			continue
		}
		run.IncError()
		s.logger(ctx).Warn("scheduler.user.sync_failed",
			zap.String("job", JobAutoSync),
			zap.String("user_id", u.UserID),
			zap.String("code", string(u.Code)),
			zap.String("reason", u.Message),
		)
	}
	return nil
}

func (s *Scheduler) WeeklyReportJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now().UTC()
	res, err := s.reports.SendWeekly(ctx, s.cfg.WeeklyReport)
	if err != nil {
		return err
	}
	if res.Skipped {
		s.logger(ctx).Info("scheduler.job.skipped", zap.String("job", JobWeeklyReport), zap.String("reason", "locked"))
		return nil
	}
	run.AddProcessed(res.OptedIn)
	for _, msg := range res.Errors {
		s.logSchedulerError(ctx, run, "scheduler.weekly_report.error", JobWeeklyReport, "", errors.New(msg))
	}
	s.lastWeeklyDay = now.Format("2006-01-02")
	return nil
}
