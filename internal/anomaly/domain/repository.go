package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("anomaly_not_found")

type Repository interface {
	// Upsert writes detection fields keyed on (user_id, day, dimension) and
	// returns the stored rows, including lifecycle fields.
	Upsert(ctx context.Context, db *gorm.DB, userID string, anomalies []Anomaly) ([]Anomaly, error)
	ListSince(ctx context.Context, db *gorm.DB, userID, fromDay string, statuses ...Status) ([]Anomaly, error)
	// UpdateStatus returns ErrNotFound when no anomaly matches key.
	UpdateStatus(ctx context.Context, db *gorm.DB, userID string, key Key, status Status, now time.Time) error
}
