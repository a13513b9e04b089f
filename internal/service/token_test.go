package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/averix/toolgate/internal/metrics"
	"github.com/averix/toolgate/internal/repository"
	"github.com/averix/toolgate/internal/storage"
	"github.com/averix/toolgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenService(t *testing.T) (*ServiceTokenService, *repository.ServiceTokenRepository, *storage.RedisClient) {
	t.Helper()

	db := testutil.NewTestDB(t)
	_, redis := testutil.NewTestRedis(t)
	repo := repository.NewServiceTokenRepository(db)

	return NewServiceTokenService(repo, redis, metrics.New()), repo, redis
}

func TestServiceTokenCreateAndValidate(t *testing.T) {
	svc, _, _ := newTokenService(t)
	ctx := context.Background()

	plain, token, err := svc.Create(ctx, "orchestrator token", "orchestrator", "admin@example.com", 120)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plain, "tg_"))
	assert.Greater(t, len(plain), 40)

	assert.NotEqual(t, plain, token.TokenHash)
	assert.Len(t, token.TokenHash, 64) // sha256 hex
	assert.Equal(t, "orchestrator", token.Service)
	assert.Equal(t, 120, token.PerMinute)
	assert.True(t, token.IsActive)
	assert.NotEmpty(t, token.ID)

	resolved, err := svc.Validate(ctx, plain)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, token.ID, resolved.ID)
	assert.Equal(t, "orchestrator", resolved.Service)

	unknown, err := svc.Validate(ctx, "tg_definitely-not-issued")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestServiceTokenValidateCaches(t *testing.T) {
	svc, repo, _ := newTokenService(t)
	ctx := context.Background()

	plain, token, err := svc.Create(ctx, "cached", "billing", "admin@example.com", 0)
	require.NoError(t, err)

	// prime the cache
	resolved, err := svc.Validate(ctx, plain)
	require.NoError(t, err)
	require.NotNil(t, resolved)

	// deactivating straight through the repo leaves the cache warm
	require.NoError(t, repo.Update(ctx, token.ID.String(), map[string]interface{}{"is_active": false}))

	resolved, err = svc.Validate(ctx, plain)
	require.NoError(t, err)
	assert.NotNil(t, resolved, "cached entry should still resolve")

	// the service path invalidates, the next lookup sees the row
	require.NoError(t, svc.Update(ctx, token.ID.String(), map[string]interface{}{"is_active": false}))

	resolved, err = svc.Validate(ctx, plain)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestServiceTokenDelete(t *testing.T) {
	svc, _, _ := newTokenService(t)
	ctx := context.Background()

	plain, token, err := svc.Create(ctx, "doomed", "search", "admin@example.com", 0)
	require.NoError(t, err)

	resolved, err := svc.Validate(ctx, plain)
	require.NoError(t, err)
	require.NotNil(t, resolved)

	require.NoError(t, svc.Delete(ctx, token.ID.String()))

	resolved, err = svc.Validate(ctx, plain)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestServiceTokenUpdateLastUsed(t *testing.T) {
	svc, repo, _ := newTokenService(t)
	ctx := context.Background()

	_, token, err := svc.Create(ctx, "stamped", "orchestrator", "admin@example.com", 0)
	require.NoError(t, err)
	assert.Nil(t, token.LastUsedAt)

	svc.UpdateLastUsed(ctx, token.ID)

	testutil.RequireEventually(t, func() bool {
		found, err := repo.FindByID(ctx, token.ID.String())
		return err == nil && found != nil && found.LastUsedAt != nil
	}, 2*time.Second, 10*time.Millisecond, "last_used_at was never stamped")
}

func TestServiceTokenList(t *testing.T) {
	svc, _, _ := newTokenService(t)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, "one", "orchestrator", "admin@example.com", 0)
	require.NoError(t, err)
	_, _, err = svc.Create(ctx, "two", "billing", "admin@example.com", 60)
	require.NoError(t, err)

	tokens, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 2)
}
