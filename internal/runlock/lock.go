// Package runlock provides time-bounded mutual exclusion for scheduled batch jobs.
//
// A lock moves absent -> held(owner, expiry) -> absent, either by release from
// its owner or by expiry. A held, unexpired lock rejects every other acquire.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/costwatch/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	KeyAutoSync     = "auto_sync"
	KeyWeeklyReport = "weekly_report"
)

var (
	ErrEmptyKey   = errors.New("lock key is empty")
	ErrEmptyOwner = errors.New("lock owner is empty")
	ErrInvalidTTL = errors.New("lock ttl must be positive")
)

type Locker interface {
	// Acquire grants the lock when it is absent or expired.
	Acquire(ctx context.Context, key string, ttl time.Duration, owner string) (bool, error)
	// Release expires the lock immediately if owner still holds it.
	Release(ctx context.Context, key, owner string) (bool, error)
}

// NewOwnerID returns a unique holder id for one job invocation.
func NewOwnerID() string {
	return uuid.NewString()
}

func validate(key string, ttl time.Duration, owner string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if strings.TrimSpace(owner) == "" {
		return ErrEmptyOwner
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

// Runner wraps a batch in acquire/release.
type Runner struct {
	locker  Locker
	log     *zap.Logger
	metrics *metrics.PipelineMetrics
}

func NewRunner(locker Locker, log *zap.Logger, m *metrics.PipelineMetrics) *Runner {
	return &Runner{locker: locker, log: log.Named("runlock"), metrics: m}
}

// WithLock runs fn only if key was acquired. It returns acquired=false when
// another holder owns the lock; that is not an error. Release happens on every
// exit path, including panics, and survives cancellation of ctx.
func (r *Runner) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (acquired bool, err error) {
	owner := NewOwnerID()
	ok, err := r.locker.Acquire(ctx, key, ttl, owner)
	if err != nil {
		r.metrics.IncLockAcquisition(key, metrics.LockOutcomeError)
		return false, fmt.Errorf("acquire %s lock: %w", key, err)
	}
	if !ok {
		r.metrics.IncLockAcquisition(key, metrics.LockOutcomeDenied)
		r.log.Info("runlock.skipped", zap.String("lock_key", key))
		return false, nil
	}
	r.metrics.IncLockAcquisition(key, metrics.LockOutcomeGranted)
	r.log.Info("runlock.acquired",
		zap.String("lock_key", key),
		zap.String("owner", owner),
		zap.Duration("ttl", ttl),
	)

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		released, releaseErr := r.locker.Release(releaseCtx, key, owner)
		if releaseErr != nil {
			r.log.Warn("runlock.release_failed", zap.String("lock_key", key), zap.Error(releaseErr))
			return
		}
		if !released {
			r.log.Warn("runlock.release_lost", zap.String("lock_key", key), zap.String("owner", owner))
		}
	}()

	return true, fn(ctx)
}
