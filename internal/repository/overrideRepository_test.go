package repository

import (
	"context"
	"testing"
	"time"

	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolOverrideRepositoryUpsert(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewToolOverrideRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.ToolOverride{
		UserID:    "u1",
		Tool:      "code_execution",
		Effect:    models.OverrideAllow,
		PerHour:   100,
		CreatedBy: "admin@example.com",
	}))

	// second upsert for the same pair replaces, no duplicate row
	require.NoError(t, repo.Upsert(ctx, &models.ToolOverride{
		UserID:    "u1",
		Tool:      "code_execution",
		Effect:    models.OverrideDeny,
		CreatedBy: "admin@example.com",
	}))

	overrides, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, models.OverrideDeny, overrides[0].Effect)
	assert.Equal(t, 0, overrides[0].PerHour)
}

func TestToolOverrideRepositoryExpiry(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewToolOverrideRepository(db)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, repo.Upsert(ctx, &models.ToolOverride{
		UserID: "u1", Tool: "expired_tool", Effect: models.OverrideAllow, ExpiresAt: &past,
	}))
	require.NoError(t, repo.Upsert(ctx, &models.ToolOverride{
		UserID: "u1", Tool: "current_tool", Effect: models.OverrideAllow, ExpiresAt: &future,
	}))
	require.NoError(t, repo.Upsert(ctx, &models.ToolOverride{
		UserID: "u1", Tool: "permanent_tool", Effect: models.OverrideDeny,
	}))

	t.Run("active excludes expired", func(t *testing.T) {
		active, err := repo.FindActiveByUser(ctx, "u1")
		require.NoError(t, err)

		tools := make([]string, 0, len(active))
		for _, o := range active {
			tools = append(tools, o.Tool)
		}
		assert.ElementsMatch(t, []string{"current_tool", "permanent_tool"}, tools)
	})

	t.Run("list includes expired", func(t *testing.T) {
		all, err := repo.ListByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("delete expired", func(t *testing.T) {
		n, err := repo.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		all, err := repo.ListByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestToolOverrideRepositoryDelete(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewToolOverrideRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.ToolOverride{
		UserID: "u1", Tool: "web_search", Effect: models.OverrideDeny,
	}))

	n, err := repo.Delete(ctx, "u1", "web_search")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Delete(ctx, "u1", "web_search")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	found, err := repo.FindByUserAndTool(ctx, "u1", "web_search")
	require.NoError(t, err)
	assert.Nil(t, found)
}
