package usage

import (
	"context"
	"testing"
	"time"

	"github.com/averix/toolgate/internal/config"
	"github.com/averix/toolgate/internal/metrics"
	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/repository"
	"github.com/averix/toolgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var faker = testutil.NewFaker()

func newTestRecorder(t *testing.T, cfg config.UsageConfig) (*Recorder, *repository.UsageRecordRepository) {
	t.Helper()

	db := testutil.NewTestDB(t)
	repo := repository.NewUsageRecordRepository(db)
	rec := NewRecorder(repo, zap.NewNop(), metrics.New(), cfg)
	return rec, repo
}

func countRecords(t *testing.T, repo *repository.UsageRecordRepository) int64 {
	t.Helper()

	count, err := repo.CountByTimeRange(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	return count
}

func record(tool string) *models.UsageRecord {
	return testutil.FakeUsageRecord(faker, "u1", tool, true, time.Now())
}

func TestRecorderFlushesFullBatch(t *testing.T) {
	rec, repo := newTestRecorder(t, config.UsageConfig{
		BufferSize: 10, BatchSize: 3, FlushInterval: time.Minute,
	})
	rec.Start()
	defer rec.Stop(context.Background())

	for i := 0; i < 3; i++ {
		rec.Record(record("web_search"))
	}

	testutil.RequireEventually(t, func() bool {
		return countRecords(t, repo) == 3
	}, 2*time.Second, 10*time.Millisecond, "batch was not flushed")
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	rec, repo := newTestRecorder(t, config.UsageConfig{
		BufferSize: 10, BatchSize: 100, FlushInterval: 50 * time.Millisecond,
	})
	rec.Start()
	defer rec.Stop(context.Background())

	rec.Record(record("chat"))
	rec.Record(record("chat"))

	testutil.RequireEventually(t, func() bool {
		return countRecords(t, repo) == 2
	}, 2*time.Second, 10*time.Millisecond, "partial batch was not flushed")
}

func TestRecorderStopDrains(t *testing.T) {
	rec, repo := newTestRecorder(t, config.UsageConfig{
		BufferSize: 10, BatchSize: 100, FlushInterval: time.Minute,
	})

	for i := 0; i < 5; i++ {
		rec.Record(record("chat"))
	}

	rec.Start()
	require.NoError(t, rec.Stop(context.Background()))

	assert.Equal(t, int64(5), countRecords(t, repo))
}

func TestRecorderDropsWhenFull(t *testing.T) {
	rec, repo := newTestRecorder(t, config.UsageConfig{
		BufferSize: 1, BatchSize: 100, FlushInterval: time.Minute,
	})

	// worker not started yet, second record cannot fit
	rec.Record(record("chat"))
	rec.Record(record("web_search"))

	rec.Start()
	require.NoError(t, rec.Stop(context.Background()))

	assert.Equal(t, int64(1), countRecords(t, repo))
}

func TestRecorderStopTwice(t *testing.T) {
	rec, _ := newTestRecorder(t, config.UsageConfig{
		BufferSize: 1, BatchSize: 10, FlushInterval: time.Minute,
	})
	rec.Start()

	require.NoError(t, rec.Stop(context.Background()))
	require.NoError(t, rec.Stop(context.Background()))
}
