package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/averix/toolgate/internal/metrics"
	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/repository"
	"github.com/averix/toolgate/internal/storage"
	"github.com/google/uuid"
)

const tokenCacheTTL = 5 * time.Minute

type ServiceTokenService struct {
	repository *repository.ServiceTokenRepository
	redis      *storage.RedisClient
	metrics    *metrics.Metrics
}

func NewServiceTokenService(repo *repository.ServiceTokenRepository, redis *storage.RedisClient, m *metrics.Metrics) *ServiceTokenService {
	return &ServiceTokenService{
		repository: repo,
		redis:      redis,
		metrics:    m,
	}
}

// Create mints a new token for a calling service. The plain token is
// returned exactly once.
func (s *ServiceTokenService) Create(ctx context.Context, name, service, createdBy string, perMinute int) (string, *models.ServiceToken, error) {
	// Generate random token
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	// Token with prefix
	plain := "tg_" + base64.URLEncoding.EncodeToString(tokenBytes)

	// Hash the token for storage
	hash := sha256.Sum256([]byte(plain))
	tokenHash := hex.EncodeToString(hash[:])

	token := models.ServiceToken{
		TokenHash: tokenHash,
		Name:      name,
		Service:   service,
		CreatedBy: createdBy,
		PerMinute: perMinute,
		IsActive:  true,
	}

	if err := s.repository.Create(ctx, &token); err != nil {
		return "", nil, fmt.Errorf("failed to create service token: %w", err)
	}

	return plain, &token, nil
}

// Validate resolves a plain token to its row. Results are cached for a
// few minutes to keep the hot path off the database.
func (s *ServiceTokenService) Validate(ctx context.Context, plain string) (*models.ServiceToken, error) {
	hash := sha256.Sum256([]byte(plain))
	tokenHash := hex.EncodeToString(hash[:])

	// Check cache first
	cacheKey := fmt.Sprintf("token:cache:%s", tokenHash)
	cached, err := s.redis.Get(ctx, cacheKey)

	if err == nil && cached != "" {
		// Cache hit
		var token models.ServiceToken
		if err := json.Unmarshal([]byte(cached), &token); err == nil {
			s.metrics.RecordCache("token", "hit")
			return &token, nil
		}
	}

	s.metrics.RecordCache("token", "miss")

	// Cache miss - query database
	token, err := s.repository.FindByHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}

	if token == nil {
		return nil, nil
	}

	// Cache the result
	tokenJSON, _ := json.Marshal(token)
	s.redis.Set(ctx, cacheKey, tokenJSON, tokenCacheTTL)

	return token, nil
}

func (s *ServiceTokenService) Get(ctx context.Context, id string) (*models.ServiceToken, error) {
	return s.repository.FindByID(ctx, id)
}

func (s *ServiceTokenService) List(ctx context.Context) ([]models.ServiceToken, error) {
	return s.repository.List(ctx)
}

func (s *ServiceTokenService) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	// Invalidate cache when limits or active state change
	if _, hasPerMinute := updates["per_minute"]; hasPerMinute {
		s.invalidateCache(ctx, id)
	}
	if _, hasActive := updates["is_active"]; hasActive {
		s.invalidateCache(ctx, id)
	}

	return s.repository.Update(ctx, id, updates)
}

func (s *ServiceTokenService) Delete(ctx context.Context, id string) error {
	// Invalidate cache
	s.invalidateCache(ctx, id)

	return s.repository.Delete(ctx, id)
}

// UpdateLastUsed stamps the token off the request path. The detached
// context keeps the write alive after the response is sent.
func (s *ServiceTokenService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	go s.repository.UpdateLastUsed(context.WithoutCancel(ctx), id)
}

func (s *ServiceTokenService) invalidateCache(ctx context.Context, id string) {
	// Get the token to find its hash
	token, err := s.repository.FindByID(ctx, id)
	if err != nil || token == nil {
		return
	}

	cacheKey := fmt.Sprintf("token:cache:%s", token.TokenHash)
	s.redis.Del(ctx, cacheKey)
}
