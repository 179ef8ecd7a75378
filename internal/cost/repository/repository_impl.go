package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/costwatch/internal/cost/domain"
	"github.com/smallbiznis/costwatch/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 500

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// BulkUpsert writes points in independent batches keyed on (user_id, day, dimension).
// A failing batch does not stop later batches.
func (r *repo) BulkUpsert(ctx context.Context, db *gorm.DB, points []domain.CostPoint) (domain.UpsertResult, error) {
	var (
		result domain.UpsertResult
		errs   []error
	)
	for i, batch := range repository.Chunk(points, upsertBatchSize) {
		err := db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}, {Name: "dimension"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"amount",
					"currency",
					"updated_at",
				}),
			}).
			Create(&batch).Error
		if err != nil {
			result.Failed += len(batch)
			errs = append(errs, fmt.Errorf("cost batch %d: %w", i, err))
			continue
		}
		result.Written += len(batch)
	}
	return result, errors.Join(errs...)
}

func (r *repo) ListRange(ctx context.Context, db *gorm.DB, userID, dimension, fromDay, toDay string) ([]domain.CostPoint, error) {
	var points []domain.CostPoint
	stmt := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("day >= ? AND day < ?", fromDay, toDay)
	if dimension != "" {
		stmt = stmt.Where("dimension = ?", dimension)
	}
	err := stmt.Order("day ASC").Order("dimension ASC").Find(&points).Error
	return points, err
}
