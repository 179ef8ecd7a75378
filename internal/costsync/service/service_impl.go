package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/internal/config"
	connectiondomain "github.com/smallbiznis/costwatch/internal/connection/domain"
	connectionservice "github.com/smallbiznis/costwatch/internal/connection/service"
	costdomain "github.com/smallbiznis/costwatch/internal/cost/domain"
	"github.com/smallbiznis/costwatch/internal/costsync/domain"
	"github.com/smallbiznis/costwatch/internal/credential"
	"github.com/smallbiznis/costwatch/internal/detection"
	notificationdomain "github.com/smallbiznis/costwatch/internal/notification/domain"
	"github.com/smallbiznis/costwatch/internal/observability/metrics"
	"github.com/smallbiznis/costwatch/internal/observability/tracing"
	"github.com/smallbiznis/costwatch/internal/providers/billing"
	"github.com/smallbiznis/costwatch/internal/runlock"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultCooldown      = 2 * time.Minute
	defaultWindowDays    = 30
	defaultTopDimensions = 12

	msgDecryptFailed = "stored credentials could not be decrypted; reconnect the account"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Connections connectiondomain.Repository
	Costs       costdomain.Repository
	Anomalies   anomalydomain.Repository
	Dispatcher  notificationdomain.Dispatcher
	Provider    billing.Provider
	Store       *credential.Store
	Runner      *runlock.Runner
	Metrics     *metrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	connections connectiondomain.Repository
	costs       costdomain.Repository
	anomalies   anomalydomain.Repository
	dispatcher  notificationdomain.Dispatcher
	provider    billing.Provider
	store       *credential.Store
	runner      *runlock.Runner
	metrics     *metrics.PipelineMetrics

	cooldown      time.Duration
	windowDays    int
	topDimensions int
	lockTTL       time.Duration
	batch         config.SchedulerConfig
}

func New(p Params) domain.Service {
	cooldown := p.Config.Sync.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	windowDays := p.Config.Sync.DefaultWindowDays
	if windowDays < domain.MinWindowDays || windowDays > domain.MaxWindowDays {
		windowDays = defaultWindowDays
	}
	topDimensions := p.Config.Sync.TopDimensions
	if topDimensions <= 0 {
		topDimensions = defaultTopDimensions
	}
	lockTTL := p.Config.Lock.AutoSyncTTL
	if lockTTL <= 0 {
		lockTTL = 20 * time.Minute
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("costsync.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		connections:   p.Connections,
		costs:         p.Costs,
		anomalies:     p.Anomalies,
		dispatcher:    p.Dispatcher,
		provider:      p.Provider,
		store:         p.Store,
		runner:        p.Runner,
		metrics:       p.Metrics,
		cooldown:      cooldown,
		windowDays:    windowDays,
		topDimensions: topDimensions,
		lockTTL:       lockTTL,
		batch:         p.Config.Scheduler,
	}
}

func (s *Service) Sync(ctx context.Context, req domain.SyncRequest) (result domain.SyncResult, err error) {
	userID := strings.TrimSpace(req.UserID)
	windowDays := req.WindowDays
	if windowDays == 0 {
		windowDays = s.windowDays
	}

	ctx, span := tracing.StartSpan(ctx, "costsync.sync",
		attribute.String("user_id", userID),
		attribute.Int("window_days", windowDays),
	)
	started := time.Now()
	defer func() {
		outcome := "ok"
		if serr, ok := domain.AsSyncError(err); ok {
			outcome = string(serr.Code)
		} else if err != nil {
			outcome = "error"
		} else if len(result.Warnings) > 0 {
			outcome = "partial"
		}
		s.metrics.ObserveSync(outcome, time.Since(started))
		tracing.EndSpan(span, err)
	}()

	if windowDays < domain.MinWindowDays || windowDays > domain.MaxWindowDays {
		return result, &domain.SyncError{
			Code:    domain.CodeInvalidWindow,
			Message: fmt.Sprintf("days must be between %d and %d", domain.MinWindowDays, domain.MaxWindowDays),
		}
	}
	if userID == "" {
		return result, &domain.SyncError{Code: domain.CodeNotConnected, Message: "user id is required"}
	}

	// 1. connection
	conn, err := s.connections.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return result, &domain.SyncError{Code: domain.CodeStorageError, Message: "load connection failed"}
	}
	if conn == nil || !conn.Connected() {
		return result, &domain.SyncError{Code: domain.CodeNotConnected, Message: "no connected billing account"}
	}

	now := s.clock.Now()
	if conn.LastSyncAt != nil {
		if elapsed := now.Sub(*conn.LastSyncAt); elapsed < s.cooldown {
			return result, &domain.SyncError{
				Code:       domain.CodeTooSoon,
				Message:    "a sync completed moments ago; try again shortly",
				RetryAfter: s.cooldown - elapsed,
			}
		}
	}

	log := s.log.With(zap.String("user_id", userID), zap.Int("window_days", windowDays))
	log.Info("costsync.sync.start")

	// 2. credentials
	creds, err := connectionservice.DecodeCredentials(s.store, conn.CredentialToken)
	if err != nil {
		if markErr := s.connections.MarkFailed(ctx, s.db, userID, msgDecryptFailed, now); markErr != nil {
			log.Warn("costsync.connection.mark_failed_error", zap.Error(markErr))
		}
		log.Warn("costsync.sync.credentials_invalid", zap.Error(err))
		return result, &domain.SyncError{Code: domain.CodeInvalidCredentials, Message: msgDecryptFailed}
	}

	// 3. provider
	w := newWindow(now, windowDays)
	result.UserID = userID
	result.WindowDays = windowDays
	result.FromDay = w.fromDay()
	result.ToDay = w.toDay()

	rows, err := s.provider.FetchDailyCosts(ctx, creds, result.FromDay, result.ToDay)
	if err != nil {
		return result, s.providerFailure(ctx, log, userID, err, now)
	}

	// 4. date axis
	set := buildSeries(w, rows)
	if set.dropped > 0 {
		log.Debug("costsync.rows.dropped", zap.Int("count", set.dropped))
	}
	result.Dimensions = set.dimensions

	// 5. cost points
	points := s.costPoints(userID, set, now)
	written, err := s.costs.BulkUpsert(ctx, s.db, points)
	result.PointsWritten = written.Written
	s.metrics.AddCostPoints(written.Written)
	if err != nil {
		log.Error("costsync.cost_points.upsert_failed",
			zap.Int("written", written.Written),
			zap.Int("failed", written.Failed),
			zap.Error(err),
		)
		s.recordError(ctx, log, userID, "storing cost data failed", now)
		return result, &domain.SyncError{Code: domain.CodeStorageError, Message: "storing cost data failed"}
	}

	// 6. detection
	detected := s.detect(userID, set, now)
	result.Anomalies = len(detected)

	// 7-8. anomalies and notifications
	if len(detected) > 0 {
		stored, err := s.anomalies.Upsert(ctx, s.db, userID, detected)
		if err != nil {
			log.Error("costsync.anomalies.upsert_failed", zap.Error(err))
			result.Warnings = append(result.Warnings, "anomaly storage failed; notifications deferred")
		} else {
			result.Notifications = s.dispatcher.Dispatch(ctx, userID, stored)
			for _, msg := range result.Notifications.Errors {
				result.Warnings = append(result.Warnings, "notification: "+msg)
			}
		}
	}

	// 9. connection state
	if len(result.Warnings) > 0 {
		s.recordError(ctx, log, userID, strings.Join(result.Warnings, "; "), now)
	} else if err := s.connections.MarkSynced(ctx, s.db, userID, now); err != nil {
		log.Warn("costsync.connection.mark_synced_failed", zap.Error(err))
		result.Warnings = append(result.Warnings, "connection state not updated")
	} else {
		result.SyncedAt = now
	}

	log.Info("costsync.sync.finish",
		zap.Int("dimensions", len(result.Dimensions)),
		zap.Int("points", result.PointsWritten),
		zap.Int("anomalies", result.Anomalies),
		zap.Int("notifications_sent", result.Notifications.Sent),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

func (s *Service) providerFailure(ctx context.Context, log *zap.Logger, userID string, err error, now time.Time) error {
	perr := billing.AsError(err)
	message := perr.Message
	if message == "" {
		message = billing.MessageFor(perr.Code)
	}
	if perr.Code.Terminal() {
		if markErr := s.connections.MarkFailed(ctx, s.db, userID, message, now); markErr != nil {
			log.Warn("costsync.connection.mark_failed_error", zap.Error(markErr))
		}
	} else {
		s.recordError(ctx, log, userID, message, now)
	}
	log.Warn("costsync.provider.failed",
		zap.String("code", string(perr.Code)),
		zap.Duration("retry_after", perr.RetryAfter),
		zap.Error(err),
	)
	return &domain.SyncError{
		Code:       domain.ErrorCode(perr.Code),
		Message:    message,
		RetryAfter: perr.RetryAfter,
	}
}

func (s *Service) recordError(ctx context.Context, log *zap.Logger, userID, message string, now time.Time) {
	if err := s.connections.RecordError(ctx, s.db, userID, message, now); err != nil {
		log.Warn("costsync.connection.record_error_failed", zap.Error(err))
	}
}

func (s *Service) costPoints(userID string, set seriesSet, now time.Time) []costdomain.CostPoint {
	points := make([]costdomain.CostPoint, 0, len(set.dimensions)*len(set.series[detection.Total]))
	for _, dimension := range set.dimensions {
		for _, p := range set.series[dimension] {
			points = append(points, costdomain.CostPoint{
				ID:        s.genID.Generate(),
				UserID:    userID,
				Day:       p.Date,
				Dimension: dimension,
				Amount:    p.Amount,
				Currency:  set.currency,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	}
	return points
}

func (s *Service) detect(userID string, set seriesSet, now time.Time) []anomalydomain.Anomaly {
	dimensions := append([]string{detection.Total}, detection.TopDimensions(set.series, s.topDimensions)...)
	var out []anomalydomain.Anomaly
	for _, dimension := range dimensions {
		for _, r := range detection.Detect(dimension, set.series[dimension]) {
			out = append(out, s.toAnomaly(userID, r, now))
			s.metrics.IncAnomaly(string(r.Severity))
		}
	}
	return out
}

func (s *Service) toAnomaly(userID string, r detection.Result, now time.Time) anomalydomain.Anomaly {
	a := anomalydomain.Anomaly{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Day:        r.Date,
		Dimension:  r.Dimension,
		Observed:   r.Observed,
		Baseline:   r.Baseline,
		ZScore:     r.ZScore,
		Severity:   string(r.Severity),
		Currency:   r.Currency,
		Message:    r.Message,
		Status:     anomalydomain.StatusOpen,
		DetectedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if r.Unbounded() {
		a.Unbounded = true
	} else {
		pct := r.PctChange
		a.PctChange = &pct
	}
	return a
}
