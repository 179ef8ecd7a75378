package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/costwatch/internal/config"
)

const keyManualSyncUser = "costwatch:sync:manual:%s"

// ManualSyncLimiter throttles per-user sync triggers on top of the sync cooldown.
// A nil limiter allows everything.
type ManualSyncLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewManualSyncLimiter(cfg config.Config, client *redis.Client) *ManualSyncLimiter {
	if client == nil {
		return nil
	}
	if cfg.RateLimit.ManualSyncRate <= 0 || cfg.RateLimit.ManualSyncBurst <= 0 {
		return nil
	}
	return &ManualSyncLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.ManualSyncRate,
		burst:  cfg.RateLimit.ManualSyncBurst,
	}
}

func (l *ManualSyncLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *ManualSyncLimiter) Allow(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyManualSyncUser, strings.TrimSpace(userID)), l.rate, l.burst)
}
