package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/costwatch/internal/anomaly/domain"
	"github.com/smallbiznis/costwatch/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 200

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var detectionColumns = []string{
	"observed",
	"baseline",
	"pct_change",
	"unbounded",
	"z_score",
	"severity",
	"currency",
	"message",
	"detected_at",
	"updated_at",
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, userID string, anomalies []domain.Anomaly) ([]domain.Anomaly, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}
	for _, batch := range repository.Chunk(anomalies, upsertBatchSize) {
		err := db.WithContext(ctx).
			Omit("status", "enrichment").
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}, {Name: "dimension"}},
				DoUpdates: clause.AssignmentColumns(detectionColumns),
			}).
			Create(&batch).Error
		if err != nil {
			return nil, err
		}
	}

	days := make([]string, 0, len(anomalies))
	wanted := make(map[domain.Key]struct{}, len(anomalies))
	for _, a := range anomalies {
		if _, ok := wanted[a.Key()]; !ok {
			days = append(days, a.Day)
		}
		wanted[a.Key()] = struct{}{}
	}

	var stored []domain.Anomaly
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("day IN ?", days).
		Order("day ASC").
		Order("dimension ASC").
		Find(&stored).Error
	if err != nil {
		return nil, err
	}

	out := stored[:0]
	for _, a := range stored {
		if _, ok := wanted[a.Key()]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *repo) ListSince(ctx context.Context, db *gorm.DB, userID, fromDay string, statuses ...domain.Status) ([]domain.Anomaly, error) {
	var anomalies []domain.Anomaly
	stmt := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("day >= ?", fromDay)
	if len(statuses) > 0 {
		stmt = stmt.Where("status IN ?", statuses)
	}
	err := stmt.Order("day DESC").Order("dimension ASC").Find(&anomalies).Error
	return anomalies, err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, userID string, key domain.Key, status domain.Status, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE anomalies SET status = ?, updated_at = ?
		 WHERE user_id = ? AND day = ? AND dimension = ?`,
		status,
		now,
		userID,
		key.Day,
		key.Dimension,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
