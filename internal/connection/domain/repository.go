package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Connection, error)
	Upsert(ctx context.Context, db *gorm.DB, conn *Connection) error
	MarkFailed(ctx context.Context, db *gorm.DB, userID, message string, now time.Time) error
	RecordError(ctx context.Context, db *gorm.DB, userID, message string, now time.Time) error
	MarkSynced(ctx context.Context, db *gorm.DB, userID string, now time.Time) error
	// ListDueForSync returns connected users never synced or last synced before cutoff,
	// oldest first.
	ListDueForSync(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Connection, error)
	ListConnected(ctx context.Context, db *gorm.DB, limit int) ([]Connection, error)
}
