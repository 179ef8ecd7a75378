package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/costwatch/internal/connection/domain"
	"github.com/smallbiznis/costwatch/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, node *snowflake.Node, userID string, status domain.Status, lastSync *time.Time) domain.Connection {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return domain.Connection{
		ID:              node.Generate(),
		UserID:          userID,
		Provider:        domain.ProviderAWS,
		CredentialToken: "v1.token",
		Status:          status,
		LastSyncAt:      lastSync,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestListDueForSync(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, &domain.Connection{})
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-20 * time.Hour)
	recent := now.Add(-2 * time.Hour)

	for _, conn := range []domain.Connection{
		seed(t, node, "never", domain.StatusConnected, nil),
		seed(t, node, "stale", domain.StatusConnected, &old),
		seed(t, node, "fresh", domain.StatusConnected, &recent),
		seed(t, node, "broken", domain.StatusFailed, &old),
	} {
		conn := conn
		require.NoError(t, repo.Upsert(ctx, db, &conn))
	}

	due, err := repo.ListDueForSync(ctx, db, now.Add(-12*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "never", due[0].UserID)
	assert.Equal(t, "stale", due[1].UserID)

	limited, err := repo.ListDueForSync(ctx, db, now.Add(-12*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStatusTransitions(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, &domain.Connection{})
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	conn := seed(t, node, "user-1", domain.StatusConnected, nil)
	require.NoError(t, repo.Upsert(ctx, db, &conn))

	require.NoError(t, repo.RecordError(ctx, db, "user-1", "THROTTLED: slow down", now))
	got, err := repo.FindByUserID(ctx, db, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, got.Status, "transient errors keep the connection")
	require.NotNil(t, got.LastError)
	assert.Equal(t, "THROTTLED: slow down", *got.LastError)

	require.NoError(t, repo.MarkFailed(ctx, db, "user-1", "AWS denied access to Cost Explorer", now))
	got, err = repo.FindByUserID(ctx, db, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)

	require.NoError(t, repo.MarkSynced(ctx, db, "user-1", now))
	got, err = repo.FindByUserID(ctx, db, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, got.Status)
	assert.Nil(t, got.LastError)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, now.Equal(*got.LastSyncAt))

	missing, err := repo.FindByUserID(ctx, db, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertKeepsOneRowPerUser(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, &domain.Connection{})
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	first := seed(t, node, "user-1", domain.StatusFailed, nil)
	require.NoError(t, repo.Upsert(ctx, db, &first))
	second := seed(t, node, "user-1", domain.StatusConnected, nil)
	second.CredentialToken = "v1.rotated"
	require.NoError(t, repo.Upsert(ctx, db, &second))

	var count int64
	require.NoError(t, db.Model(&domain.Connection{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := repo.FindByUserID(ctx, db, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "v1.rotated", got.CredentialToken)
	assert.Equal(t, domain.StatusConnected, got.Status)
}
