package usage

import (
	"context"
	"sync"
	"time"

	"github.com/averix/toolgate/internal/config"
	"github.com/averix/toolgate/internal/metrics"
	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/repository"
	"go.uber.org/zap"
)

// Recorder buffers usage records and batch inserts them so the check
// path never waits on the database.
type Recorder struct {
	repo    *repository.UsageRecordRepository
	logger  *zap.Logger
	metrics *metrics.Metrics

	ch            chan *models.UsageRecord
	batchSize     int
	flushInterval time.Duration

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewRecorder(repo *repository.UsageRecordRepository, logger *zap.Logger, m *metrics.Metrics, cfg config.UsageConfig) *Recorder {
	return &Recorder{
		repo:          repo,
		logger:        logger,
		metrics:       m,
		ch:            make(chan *models.UsageRecord, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the background batch worker
func (r *Recorder) Start() {
	go r.loop()
}

// Record queues one usage record. Never blocks: when the buffer is
// full the record is dropped and counted.
func (r *Recorder) Record(record *models.UsageRecord) {
	select {
	case r.ch <- record:
	default:
		r.metrics.RecordUsageDropped()
		r.logger.Warn("usage buffer full, dropping record",
			zap.String("user_id", record.UserID),
			zap.String("tool", record.Tool),
		)
	}
}

// Stop flushes buffered records and stops the worker. Records queued
// after Stop are lost.
func (r *Recorder) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.quit) })

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) loop() {
	defer close(r.done)

	batch := make([]*models.UsageRecord, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case record := <-r.ch:
			batch = append(batch, record)

			// Insert when batch is full
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = make([]*models.UsageRecord, 0, r.batchSize)
			}
		case <-ticker.C:
			// Periodically insert remaining records
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]*models.UsageRecord, 0, r.batchSize)
			}
		case <-r.quit:
			// Drain whatever is still buffered, then flush and exit
			for {
				select {
				case record := <-r.ch:
					batch = append(batch, record)
					if len(batch) >= r.batchSize {
						r.flush(batch)
						batch = make([]*models.UsageRecord, 0, r.batchSize)
					}
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(batch []*models.UsageRecord) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.repo.CreateBatch(ctx, batch); err != nil {
		// Log and move on, a failed flush never blocks the service
		r.logger.Error("failed to insert usage records",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
		return
	}

	r.metrics.RecordUsageWritten(len(batch))
}
