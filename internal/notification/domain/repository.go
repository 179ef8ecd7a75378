package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/costwatch/pkg/repository"
	"gorm.io/gorm"
)

// ReserveRequest describes one reservation attempt. A slot is granted when it
// does not exist, is failed with fewer than MaxAttempts, or has been reserved
// since before StaleBefore.
type ReserveRequest struct {
	ID          snowflake.ID
	UserID      string
	Kind        Kind
	Channel     string
	Day         string
	Dimension   string
	Destination string
	Now         time.Time
	StaleBefore time.Time
	MaxAttempts int
}

type Repository interface {
	Reserve(ctx context.Context, db *gorm.DB, req ReserveRequest) (repository.ConditionalResult[Reservation], error)
	// MarkSent and MarkFailed only apply to the reservation attempt that is
	// still current; they report whether the row was changed.
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, message string, now time.Time) (bool, error)
	ListRecent(ctx context.Context, db *gorm.DB, userID string, limit int) ([]Reservation, error)
}

type PreferenceRepository interface {
	Find(ctx context.Context, db *gorm.DB, userID string) (*Preference, error)
	Upsert(ctx context.Context, db *gorm.DB, pref *Preference) error
}
