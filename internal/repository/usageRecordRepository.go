package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/averix/toolgate/internal/models"
	"github.com/averix/toolgate/internal/storage"
)

type UsageRecordRepository struct {
	db *storage.Database
}

func NewUsageRecordRepository(db *storage.Database) *UsageRecordRepository {
	return &UsageRecordRepository{db: db}
}

// HourlyPoint is one bucket of the usage time series
type HourlyPoint struct {
	Hour    time.Time `json:"hour"`
	Count   int64     `json:"count"`
	Allowed int64     `json:"allowed"`
}

// ToolCount pairs a tool with its check count
type ToolCount struct {
	Tool  string `json:"tool"`
	Count int64  `json:"count"`
}

// ReasonCount pairs a denial reason with its count
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// Inserts a single usage record
func (r *UsageRecordRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	return r.db.DB.WithContext(ctx).Create(record).Error
}

// Inserts multiple usage records (for batch insertion)
func (r *UsageRecordRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&records).Error
}

// Retrieves a user's records within a time range
func (r *UsageRecordRepository) FindByUser(ctx context.Context, userID string, from, to time.Time, limit, offset int) ([]models.UsageRecord, error) {
	var records []models.UsageRecord

	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND created_at BETWEEN ? AND ?", userID, from, to).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error

	return records, err
}

// Counts records in a time range
func (r *UsageRecordRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("created_at BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Counts allowed records in a time range
func (r *UsageRecordRepository) CountAllowed(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("allowed = ? AND created_at BETWEEN ? AND ?", true, from, to).
		Count(&count).Error

	return count, err
}

// Returns denial counts grouped by reason
func (r *UsageRecordRepository) CountByReason(ctx context.Context, from, to time.Time) ([]ReasonCount, error) {
	var results []ReasonCount

	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("reason, COUNT(*) as count").
		Where("allowed = ? AND created_at BETWEEN ? AND ?", false, from, to).
		Group("reason").
		Order("count DESC").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, err
		}
		results = append(results, rc)
	}

	return results, rows.Err()
}

// Returns most checked tools
func (r *UsageRecordRepository) TopTools(ctx context.Context, from, to time.Time, limit int) ([]ToolCount, error) {
	var results []ToolCount

	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("tool, COUNT(*) as count").
		Where("created_at BETWEEN ? AND ?", from, to).
		Group("tool").
		Order("count DESC").
		Limit(limit).
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var tc ToolCount
		if err := rows.Scan(&tc.Tool, &tc.Count); err != nil {
			return nil, err
		}
		results = append(results, tc)
	}

	return results, rows.Err()
}

// hourBucket returns the SQL expression grouping created_at into epoch
// hour buckets, portable across both drivers
func (r *UsageRecordRepository) hourBucket() string {
	if r.db.Driver() == "sqlite" {
		return "CAST(strftime('%s', created_at) AS INTEGER) / 3600"
	}
	return "CAST(FLOOR(EXTRACT(EPOCH FROM created_at) / 3600) AS BIGINT)"
}

// Returns the check count grouped by hour
func (r *UsageRecordRepository) HourlySeries(ctx context.Context, from, to time.Time) ([]HourlyPoint, error) {
	var results []HourlyPoint

	selectExpr := fmt.Sprintf(
		"%s AS bucket, COUNT(*) as count, SUM(CASE WHEN allowed THEN 1 ELSE 0 END) as allowed_count",
		r.hourBucket(),
	)

	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select(selectExpr).
		Where("created_at BETWEEN ? AND ?", from, to).
		Group("bucket").
		Order("bucket ASC").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var bucket, count, allowed int64
		if err := rows.Scan(&bucket, &count, &allowed); err != nil {
			return nil, err
		}
		results = append(results, HourlyPoint{
			Hour:    time.Unix(bucket*3600, 0).UTC(),
			Count:   count,
			Allowed: allowed,
		})
	}

	return results, rows.Err()
}

// Calculates average check latency in microseconds
func (r *UsageRecordRepository) AverageLatency(ctx context.Context, from, to time.Time) (float64, error) {
	var avg float64

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("created_at BETWEEN ? AND ?", from, to).
		Select("COALESCE(AVG(latency_us), 0)").
		Scan(&avg).Error

	return avg, err
}

// Deletes records older than the specified time
func (r *UsageRecordRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.UsageRecord{})

	return result.RowsAffected, result.Error
}
