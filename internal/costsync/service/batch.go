package service

import (
	"context"
	"time"

	"github.com/smallbiznis/costwatch/internal/costsync/domain"
	"github.com/smallbiznis/costwatch/internal/runlock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchUsers       = 200
	maxBatchUsers           = 1000
	defaultBatchMinHours    = 12
	defaultBatchConcurrency = 3
	maxBatchConcurrency     = 8
)

// normalize fills zero fields from the scheduler config and clamps the rest.
func (s *Service) normalize(req domain.BatchRequest) domain.BatchRequest {
	if req.MaxUsers <= 0 {
		req.MaxUsers = s.batch.AutoSyncMaxUsers
	}
	if req.MaxUsers <= 0 {
		req.MaxUsers = defaultBatchUsers
	}
	if req.MaxUsers > maxBatchUsers {
		req.MaxUsers = maxBatchUsers
	}
	if req.MinHoursSinceLastSync <= 0 {
		req.MinHoursSinceLastSync = s.batch.AutoSyncMinHours
	}
	if req.MinHoursSinceLastSync <= 0 {
		req.MinHoursSinceLastSync = defaultBatchMinHours
	}
	if req.Concurrency <= 0 {
		req.Concurrency = s.batch.AutoSyncConcurrency
	}
	if req.Concurrency <= 0 {
		req.Concurrency = defaultBatchConcurrency
	}
	if req.Concurrency > maxBatchConcurrency {
		req.Concurrency = maxBatchConcurrency
	}
	return req
}

func (s *Service) SyncDue(ctx context.Context, req domain.BatchRequest) (domain.BatchResult, error) {
	req = s.normalize(req)
	var result domain.BatchResult

	acquired, err := s.runner.WithLock(ctx, runlock.KeyAutoSync, s.lockTTL, func(ctx context.Context) error {
		cutoff := s.clock.Now().Add(-time.Duration(req.MinHoursSinceLastSync) * time.Hour)
		conns, err := s.connections.ListDueForSync(ctx, s.db, cutoff, req.MaxUsers)
		if err != nil {
			return err
		}
		result.Selected = len(conns)
		s.log.Info("costsync.batch.start",
			zap.Int("selected", len(conns)),
			zap.Int("concurrency", req.Concurrency),
			zap.Int("min_hours", req.MinHoursSinceLastSync),
		)

		outcomes := make([]domain.UserOutcome, len(conns))
		var g errgroup.Group
		g.SetLimit(req.Concurrency)
		for i, conn := range conns {
			i, userID := i, conn.UserID
			g.Go(func() error {
				outcomes[i] = s.syncOne(ctx, userID)
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range outcomes {
			if o.Status == domain.UserStatusFailed {
				result.Failed++
			} else {
				result.Succeeded++
			}
		}
		result.Users = outcomes
		s.log.Info("costsync.batch.finish",
			zap.Int("selected", result.Selected),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
		return nil
	})
	if err != nil {
		return result, err
	}
	result.Skipped = !acquired
	return result, nil
}

// syncOne never fails the batch; the outcome carries the error.
func (s *Service) syncOne(ctx context.Context, userID string) (outcome domain.UserOutcome) {
	outcome.UserID = userID
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("costsync.batch.user_panic", zap.String("user_id", userID), zap.Any("panic", r))
			outcome.Status = domain.UserStatusFailed
			outcome.Code = domain.CodeProviderError
			outcome.Message = "internal error"
		}
	}()

	res, err := s.Sync(ctx, domain.SyncRequest{UserID: userID})
	if err != nil {
		outcome.Status = domain.UserStatusFailed
		if serr, ok := domain.AsSyncError(err); ok {
			outcome.Code = serr.Code
			outcome.Message = serr.Message
		} else {
			outcome.Message = err.Error()
		}
		return outcome
	}
	outcome.Anomalies = res.Anomalies
	outcome.Warnings = res.Warnings
	outcome.Status = domain.UserStatusSynced
	if len(res.Warnings) > 0 {
		outcome.Status = domain.UserStatusPartial
	}
	return outcome
}
