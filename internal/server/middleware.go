package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/costwatch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/costwatch/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	headerAuthorization = "Authorization"
	bearerPrefix        = "bearer "
)

// CronAuthRequired accepts only requests carrying the shared cron secret.
// Without a configured secret every request is rejected.
func (s *Server) CronAuthRequired() gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(s.cfg.CronSecret))
	return func(c *gin.Context) {
		if len(secret) == 0 {
			logger.FromContext(c.Request.Context()).Warn("http.auth.cron_secret_missing")
			AbortWithError(c, ErrUnauthorized)
			return
		}
		token, ok := bearerToken(c.GetHeader(headerAuthorization))
		if !ok || subtle.ConstantTimeCompare([]byte(token), secret) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// ManualSyncRateLimit applies the per-user token bucket to manual sync triggers.
func (s *Server) ManualSyncRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.syncLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID := strings.TrimSpace(c.Param("user_id"))
		result, err := s.syncLimiter.Allow(ctx, userID)
		if err != nil {
			// Redis being down must not block syncs; the cooldown still applies.
			logger.FromContext(ctx).Warn("http.sync.rate_limit_failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			s.metrics.IncManualSyncRateLimit(obsmetrics.RateLimitOutcomeDenied)
			logger.FromContext(ctx).Info("http.sync.rate_limited",
				zap.Duration("retry_after", result.RetryAfter),
			)
			AbortWithError(c, &rateLimitedError{retryAfter: result.RetryAfter})
			return
		}
		s.metrics.IncManualSyncRateLimit(obsmetrics.RateLimitOutcomeAllowed)
		c.Next()
	}
}
