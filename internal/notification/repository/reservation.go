package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/costwatch/internal/notification/domain"
	"github.com/smallbiznis/costwatch/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Reserve is a single conditional upsert. The conflict branch only fires for
// failed slots under the attempt cap or reserved slots older than StaleBefore,
// so concurrent callers on the same key see exactly one match.
func (r *repo) Reserve(ctx context.Context, db *gorm.DB, req domain.ReserveRequest) (repository.ConditionalResult[domain.Reservation], error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO notification_reservations
		   (id, user_id, kind, channel, day, dimension, destination, state, attempts, reserved_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT (user_id, kind, channel, day, dimension) DO UPDATE SET
		   destination = excluded.destination,
		   state = excluded.state,
		   attempts = notification_reservations.attempts + 1,
		   reserved_at = excluded.reserved_at,
		   updated_at = excluded.updated_at
		 WHERE (notification_reservations.state = ? AND notification_reservations.attempts < ?)
		    OR (notification_reservations.state = ? AND notification_reservations.reserved_at < ?)`,
		req.ID,
		req.UserID,
		req.Kind,
		req.Channel,
		req.Day,
		req.Dimension,
		req.Destination,
		domain.StateReserved,
		req.Now,
		req.Now,
		req.Now,
		domain.StateFailed,
		req.MaxAttempts,
		domain.StateReserved,
		req.StaleBefore,
	)
	if res.Error != nil {
		return repository.ConditionalResult[domain.Reservation]{}, res.Error
	}

	current, err := r.find(ctx, db, req)
	if err != nil {
		return repository.ConditionalResult[domain.Reservation]{}, err
	}
	if res.RowsAffected > 0 {
		return repository.Matched(current), nil
	}
	return repository.NotMatched(current), nil
}

func (r *repo) find(ctx context.Context, db *gorm.DB, req domain.ReserveRequest) (*domain.Reservation, error) {
	var reservation domain.Reservation
	err := db.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND channel = ? AND day = ? AND dimension = ?",
			req.UserID, req.Kind, req.Channel, req.Day, req.Dimension).
		Limit(1).
		Find(&reservation).Error
	if err != nil {
		return nil, err
	}
	if reservation.ID == 0 {
		return nil, nil
	}
	return &reservation, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notification_reservations
		 SET state = ?, sent_at = ?, last_error = NULL, updated_at = ?
		 WHERE id = ? AND state = ? AND attempts = ?`,
		domain.StateSent,
		now,
		now,
		id,
		domain.StateReserved,
		attempt,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, message string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notification_reservations
		 SET state = ?, failed_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND state = ? AND attempts = ?`,
		domain.StateFailed,
		now,
		message,
		now,
		id,
		domain.StateReserved,
		attempt,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) ListRecent(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.Reservation, error) {
	var reservations []domain.Reservation
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&reservations).Error
	return reservations, err
}
