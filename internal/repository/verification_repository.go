package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-gate/internal/logging"
)

// VerificationLog is one persisted verification run.
type VerificationLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Verdict    string    `gorm:"column:verdict;size:16"`
	Summary    string    `gorm:"column:summary;type:text"`
	SelfieSHA1 string    `gorm:"column:selfie_sha1;index;size:40"`
	LatencyMS  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsAggregation holds the raw aggregates computed over all logs.
type MetricsAggregation struct {
	TotalCount       int64
	VerifiedCount    int64
	AverageLatencyMS float64
}

// VerificationRepository provides persistence APIs for verification logs.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("verification_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationLog{})
}

// SaveLog persists a verification log entry.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves a verification log for a request.
func (r *VerificationRepository) FindByRequestID(ctx context.Context, requestID string) (*VerificationLog, error) {
	var log VerificationLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, logging.NewOperationError("repository.find_by_request_id", requestID, err)
	}
	return &log, nil
}

// FindDuplicatesByHash lists other runs that submitted an identical selfie.
func (r *VerificationRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*VerificationLog, error) {
	var logs []*VerificationLog
	err := r.db.WithContext(ctx).
		Where("selfie_sha1 = ? AND request_id <> ?", hash, excludeRequestID).
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.find_duplicates", excludeRequestID, err)
	}
	return logs, nil
}

// AggregateMetrics computes totals over all persisted runs.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		Total      int64
		Verified   int64
		AvgLatency float64
	}
	err := r.db.WithContext(ctx).
		Model(&VerificationLog{}).
		Select("COUNT(*) AS total, " +
			"COALESCE(SUM(CASE WHEN verdict = 'verified' THEN 1 ELSE 0 END), 0) AS verified, " +
			"COALESCE(AVG(latency_ms), 0) AS avg_latency").
		Scan(&row).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.aggregate_metrics", "", err)
	}
	return &MetricsAggregation{
		TotalCount:       row.Total,
		VerifiedCount:    row.Verified,
		AverageLatencyMS: row.AvgLatency,
	}, nil
}

// executeWithRetry runs a database operation, retrying transient failures
// with exponential backoff.
func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransient(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
