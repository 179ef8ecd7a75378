package runlock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("runlock",
	fx.Provide(NewFromConfig),
	fx.Provide(NewRunner),
)

type Params struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Clock  clock.Clock
	Redis  *redis.Client `optional:"true"`
	Log    *zap.Logger
}

// NewFromConfig picks the Redis backend when configured and reachable by
// config, otherwise run_locks in the primary database.
func NewFromConfig(p Params) Locker {
	if p.Config.Lock.Backend == config.LockBackendRedis {
		if p.Redis != nil {
			return NewRedisLocker(p.Redis)
		}
		p.Log.Warn("runlock.redis_unconfigured, falling back to database locks")
	}
	return NewDBLocker(p.DB, p.Clock)
}
