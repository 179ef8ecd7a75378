package runlock

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "costwatch:runlock:"

// Deletes the key only while it still holds the caller's owner id.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker uses SET NX PX; expiry is enforced by Redis.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	if client == nil {
		return nil
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration, owner string) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("lock client not configured")
	}
	if err := validate(key, ttl, owner); err != nil {
		return false, err
	}
	return l.client.SetNX(ctx, keyPrefix+key, owner, ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key, owner string) (bool, error) {
	if l == nil || l.client == nil {
		return false, nil
	}
	if key == "" || owner == "" {
		return false, nil
	}
	deleted, err := l.script.Run(ctx, l.client, []string{keyPrefix + key}, owner).Int64()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}
