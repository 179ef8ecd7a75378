package domain

import (
	"context"

	"gorm.io/gorm"
)

// UpsertResult counts rows written by a bulk upsert. Failed rows belong to
// batches that errored; other batches are still applied.
type UpsertResult struct {
	Written int
	Failed  int
}

type Repository interface {
	BulkUpsert(ctx context.Context, db *gorm.DB, points []CostPoint) (UpsertResult, error)
	// ListRange returns points for [fromDay, toDay) ordered by day then dimension.
	// An empty dimension matches every dimension.
	ListRange(ctx context.Context, db *gorm.DB, userID, dimension, fromDay, toDay string) ([]CostPoint, error)
}
