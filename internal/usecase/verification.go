package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-gate/internal/facemodel"
	"github.com/example/face-gate/internal/imagedata"
	"github.com/example/face-gate/internal/logging"
	"github.com/example/face-gate/internal/repository"
)

// Status tags the three possible outcomes of a verification run.
type Status string

const (
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusError    Status = "error"
)

const (
	verifiedMessage = "Identity verified successfully."
	failedMessage   = "Identity verification failed. The captured frame was enhanced for review."
)

// Outcome is the result of exactly one verification run. Summary and
// EnhancedImageURI are set only when Status is failed.
type Outcome struct {
	Status           Status `json:"status"`
	Message          string `json:"message"`
	Summary          string `json:"summary,omitempty"`
	EnhancedImageURI string `json:"enhancedImageUri,omitempty"`
}

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// VerificationUseCase orchestrates one verification run: validate both
// payloads, ask the model for a judgment, enhance the frame on mismatch, and
// record the outcome.
type VerificationUseCase struct {
	repo           VerificationRepository
	cache          Cache
	model          facemodel.Client
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// DuplicateReport lists other runs that submitted an identical selfie.
type DuplicateReport struct {
	Request    *repository.VerificationLog
	Duplicates []*repository.VerificationLog
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, model facemodel.Client, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		model:          model,
		logger:         logger.Named("verification_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// VerifyFaces produces exactly one Outcome for a selfie and a captured camera
// frame, both given as image data URIs. External-model failures surface as an
// error outcome; they are never retried. Bookkeeping failures (persistence,
// cache) are logged but do not change the outcome.
func (uc *VerificationUseCase) VerifyFaces(ctx context.Context, selfieURI, frameURI string) (string, *Outcome) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_faces", requestID)
	start := time.Now()

	selfie, err := imagedata.Parse(selfieURI)
	if err != nil {
		return requestID, &Outcome{
			Status:  StatusError,
			Message: fmt.Sprintf("selfie is not a valid image data URI: %v", err),
		}
	}
	frame, err := imagedata.Parse(frameURI)
	if err != nil {
		return requestID, &Outcome{
			Status:  StatusError,
			Message: fmt.Sprintf("captured frame is not a valid image data URI: %v", err),
		}
	}

	judgment, err := uc.model.SummarizeMatch(ctx, selfie, frame)
	if err != nil {
		opLogger.Error("match call failed", zap.Error(err))
		outcome := &Outcome{
			Status:  StatusError,
			Message: "Failed to get AI insights: " + err.Error(),
		}
		uc.record(ctx, requestID, selfie, outcome, time.Since(start))
		return requestID, outcome
	}

	var outcome *Outcome
	if judgment.Verdict == facemodel.VerdictMatch {
		outcome = &Outcome{Status: StatusVerified, Message: verifiedMessage}
	} else {
		enhanced, err := uc.model.Enhance(ctx, frame)
		if err != nil {
			opLogger.Error("enhance call failed", zap.Error(err))
			outcome = &Outcome{
				Status:  StatusError,
				Message: "Failed to get AI insights: " + err.Error(),
			}
		} else {
			outcome = &Outcome{
				Status:           StatusFailed,
				Message:          failedMessage,
				Summary:          judgment.Rationale,
				EnhancedImageURI: enhanced.URI(),
			}
		}
	}

	uc.record(ctx, requestID, selfie, outcome, time.Since(start))
	return requestID, outcome
}

// record persists the run and caches the outcome. The outcome was already
// decided by the model, so failures here are logged and swallowed.
func (uc *VerificationUseCase) record(ctx context.Context, requestID string, selfie imagedata.Payload, outcome *Outcome, latency time.Duration) {
	opLogger := logging.WithOperation(uc.logger, "usecase.record", requestID)

	hash := sha1.Sum(selfie.Data)
	log := &repository.VerificationLog{
		RequestID:  requestID,
		Verdict:    string(outcome.Status),
		Summary:    outcome.Summary,
		SelfieSHA1: hex.EncodeToString(hash[:]),
		LatencyMS:  latency.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Warn("failed to persist verification log", zap.Error(err))
	}

	serialized, err := json.Marshal(outcome)
	if err != nil {
		opLogger.Warn("failed to serialize outcome", zap.Error(err))
		return
	}
	cacheKey := outcomeCacheKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.outcome", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Warn("failed to cache outcome", zap.Error(err))
	}
}

// GetOutcome retrieves a cached outcome, falling back to the persisted log.
func (uc *VerificationUseCase) GetOutcome(ctx context.Context, requestID string) (*Outcome, error) {
	cacheKey := outcomeCacheKey(requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.outcome", cacheKey); err == nil {
		var outcome Outcome
		if err := json.Unmarshal([]byte(cached), &outcome); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_outcome", requestID).Warn("failed to decode cached outcome", zap.Error(err))
		} else {
			return &outcome, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_outcome", requestID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return outcomeFromLog(log), nil
}

// outcomeFromLog rebuilds an outcome from a persisted log. The enhanced image
// is not stored, only the cache carries it.
func outcomeFromLog(log *repository.VerificationLog) *Outcome {
	switch Status(log.Verdict) {
	case StatusVerified:
		return &Outcome{Status: StatusVerified, Message: verifiedMessage}
	case StatusFailed:
		return &Outcome{Status: StatusFailed, Message: failedMessage, Summary: log.Summary}
	default:
		return &Outcome{Status: StatusError, Message: log.Summary}
	}
}

// GetDuplicateReport builds a duplicate selfie report for a verification run.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, log.SelfieSHA1, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{Request: log, Duplicates: duplicates}, nil
}

func outcomeCacheKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) || !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
