package testutil

import (
	"time"

	"github.com/averix/toolgate/internal/models"
	"github.com/brianvoe/gofakeit/v7"
)

// NewFaker returns a seeded faker so fixture data is stable across runs
func NewFaker() *gofakeit.Faker {
	return gofakeit.New(42)
}

// FakeUser builds an admin console user with fake but plausible fields
func FakeUser(f *gofakeit.Faker) *models.User {
	return &models.User{
		Email:        f.Email(),
		PasswordHash: f.UUID(),
		Name:         f.Name(),
		Role:         "admin",
	}
}

// FakeServiceToken builds an active service token row. The hash is
// random, pair it with a real token through the token service when the
// test needs to authenticate.
func FakeServiceToken(f *gofakeit.Faker) *models.ServiceToken {
	return &models.ServiceToken{
		TokenHash: f.UUID(),
		Name:      f.AppName(),
		Service:   f.Word(),
		CreatedBy: f.Email(),
		IsActive:  true,
	}
}

// FakeUsageRecord builds one usage record at the given time
func FakeUsageRecord(f *gofakeit.Faker, userID, tool string, allowed bool, at time.Time) *models.UsageRecord {
	reason := "ok"
	if !allowed {
		reason = f.RandomString([]string{"plan_too_low", "rate_limited", "missing_role"})
	}
	return &models.UsageRecord{
		UserID:    userID,
		Tool:      tool,
		Plan:      f.RandomString([]string{"free", "pro", "enterprise"}),
		Service:   "orchestrator",
		Allowed:   allowed,
		Reason:    reason,
		LatencyUs: int64(f.Number(100, 5000)),
		CreatedAt: at,
	}
}
