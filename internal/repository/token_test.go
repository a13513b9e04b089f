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

func TestServiceTokenRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewServiceTokenRepository(db)
	ctx := context.Background()

	token := &models.ServiceToken{
		TokenHash: "hash-1",
		Name:      "orchestrator prod",
		Service:   "orchestrator",
		CreatedBy: "admin@example.com",
		IsActive:  true,
	}
	require.NoError(t, repo.Create(ctx, token))

	t.Run("find by hash", func(t *testing.T) {
		found, err := repo.FindByHash(ctx, "hash-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, token.ID, found.ID)
		assert.Equal(t, "orchestrator", found.Service)
	})

	t.Run("unknown hash returns nil", func(t *testing.T) {
		found, err := repo.FindByHash(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("update last used", func(t *testing.T) {
		require.NoError(t, repo.UpdateLastUsed(ctx, token.ID))

		found, err := repo.FindByID(ctx, token.ID.String())
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.NotNil(t, found.LastUsedAt)
	})

	t.Run("deactivated token no longer resolves by hash", func(t *testing.T) {
		require.NoError(t, repo.Update(ctx, token.ID.String(), map[string]interface{}{"is_active": false}))

		found, err := repo.FindByHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.Nil(t, found)

		// still visible by id for the admin console
		byID, err := repo.FindByID(ctx, token.ID.String())
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.False(t, byID.IsActive)
	})

	t.Run("count active", func(t *testing.T) {
		count, err := repo.CountActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		require.NoError(t, repo.Create(ctx, &models.ServiceToken{
			TokenHash: "hash-2", Name: "eval", Service: "eval-runner", IsActive: true,
		}))

		count, err = repo.CountActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, token.ID.String()))

		found, err := repo.FindByID(ctx, token.ID.String())
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestServiceTokenRepositoryListOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewServiceTokenRepository(db)
	ctx := context.Background()

	f := testutil.NewFaker()
	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	var newest *models.ServiceToken
	for i := 0; i < 3; i++ {
		token := testutil.FakeServiceToken(f)
		token.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, token))
		newest = token
	}

	tokens, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, newest.ID, tokens[0].ID)
	assert.True(t, tokens[0].CreatedAt.After(tokens[2].CreatedAt))
}
