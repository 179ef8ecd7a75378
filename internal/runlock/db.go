package runlock

import (
	"context"
	"time"

	"github.com/smallbiznis/costwatch/internal/clock"
	"gorm.io/gorm"
)

// RunLock is the row backing one lock key. Rows are reused across windows.
type RunLock struct {
	LockKey    string    `gorm:"type:varchar(64);primaryKey" json:"lock_key"`
	Owner      string    `gorm:"type:varchar(64);not null" json:"owner"`
	ExpiresAt  time.Time `gorm:"not null" json:"expires_at"`
	AcquiredAt time.Time `gorm:"not null" json:"acquired_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (RunLock) TableName() string { return "run_locks" }

// DBLocker stores locks in run_locks using a conditional upsert.
type DBLocker struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewDBLocker(db *gorm.DB, c clock.Clock) *DBLocker {
	return &DBLocker{db: db, clock: c}
}

func (l *DBLocker) Acquire(ctx context.Context, key string, ttl time.Duration, owner string) (bool, error) {
	if err := validate(key, ttl, owner); err != nil {
		return false, err
	}
	now := l.clock.Now()
	res := l.db.WithContext(ctx).Exec(
		`INSERT INTO run_locks (lock_key, owner, expires_at, acquired_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (lock_key) DO UPDATE SET
		   owner = excluded.owner,
		   expires_at = excluded.expires_at,
		   acquired_at = excluded.acquired_at,
		   updated_at = excluded.updated_at
		 WHERE run_locks.expires_at <= ?`,
		key,
		owner,
		now.Add(ttl),
		now,
		now,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (l *DBLocker) Release(ctx context.Context, key, owner string) (bool, error) {
	now := l.clock.Now()
	res := l.db.WithContext(ctx).Exec(
		`UPDATE run_locks
		 SET expires_at = ?, updated_at = ?
		 WHERE lock_key = ? AND owner = ? AND expires_at > ?`,
		now,
		now,
		key,
		owner,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
