package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/costwatch/internal/connection/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.Connection, error) {
	var conn domain.Connection
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&conn).Error
	if err != nil {
		return nil, err
	}
	if conn.ID == 0 {
		return nil, nil
	}
	return &conn, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, conn *domain.Connection) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"provider",
				"credential_token",
				"status",
				"last_validated_at",
				"last_error",
				"updated_at",
			}),
		}).
		Create(conn).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, userID, message string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cost_connections
		 SET status = ?, last_error = ?, updated_at = ?
		 WHERE user_id = ?`,
		domain.StatusFailed,
		message,
		now,
		userID,
	).Error
}

func (r *repo) RecordError(ctx context.Context, db *gorm.DB, userID, message string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cost_connections
		 SET last_error = ?, updated_at = ?
		 WHERE user_id = ?`,
		message,
		now,
		userID,
	).Error
}

func (r *repo) MarkSynced(ctx context.Context, db *gorm.DB, userID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cost_connections
		 SET status = ?, last_sync_at = ?, last_error = NULL, updated_at = ?
		 WHERE user_id = ?`,
		domain.StatusConnected,
		now,
		now,
		userID,
	).Error
}

func (r *repo) ListDueForSync(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Connection, error) {
	var conns []domain.Connection
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusConnected).
		Where("(last_sync_at IS NULL OR last_sync_at < ?)", cutoff).
		Order("last_sync_at IS NOT NULL").
		Order("last_sync_at ASC").
		Order("user_id ASC").
		Limit(limit).
		Find(&conns).Error
	return conns, err
}

func (r *repo) ListConnected(ctx context.Context, db *gorm.DB, limit int) ([]domain.Connection, error) {
	var conns []domain.Connection
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusConnected).
		Order("user_id ASC").
		Limit(limit).
		Find(&conns).Error
	return conns, err
}
