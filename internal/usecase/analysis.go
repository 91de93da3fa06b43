package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/saddle-fit/internal/imaging"
	"github.com/example/saddle-fit/internal/logging"
	"github.com/example/saddle-fit/internal/pose"
	"github.com/example/saddle-fit/internal/repository"
	"github.com/example/saddle-fit/internal/seat"
)

// AnalysisRepository defines the persistence operations used for history.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AnalysisLog, error)
	AggregateMetrics(ctx context.Context, userID string) (*repository.MetricsAggregation, error)
}

// AnalysisInput is one upload as received from the client. A nil Image means
// the field was absent; an empty one is an undecodable upload.
type AnalysisInput struct {
	RequestID   string
	UserID      string
	Image       []byte
	RiderHeight string
}

// AnalysisResult carries the rounded recommendation for the response.
type AnalysisResult struct {
	RequestID      string
	Recommendation seat.Recommendation
	CacheHit       bool
}

// AnalysisUseCase runs the decode, detect and compute pipeline.
type AnalysisUseCase struct {
	detector       pose.Detector
	cache          Cache
	repo           AnalysisRepository
	logger         *zap.Logger
	cacheTTL       time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures optional collaborators.
type Option func(*AnalysisUseCase)

// WithLandmarkCache stores detector output keyed by image hash for ttl.
func WithLandmarkCache(cache Cache, ttl time.Duration) Option {
	return func(uc *AnalysisUseCase) {
		uc.cache = cache
		uc.cacheTTL = ttl
	}
}

// WithHistory records analyses made by authenticated callers.
func WithHistory(repo AnalysisRepository) Option {
	return func(uc *AnalysisUseCase) {
		uc.repo = repo
	}
}

// NewAnalysisUseCase constructs a use case around detector.
func NewAnalysisUseCase(detector pose.Detector, logger *zap.Logger, opts ...Option) *AnalysisUseCase {
	uc := &AnalysisUseCase{
		detector:       detector,
		logger:         logger.Named("analysis_usecase"),
		cacheTTL:       time.Hour,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// HistoryEnabled reports whether analyses are persisted.
func (uc *AnalysisUseCase) HistoryEnabled() bool {
	return uc.repo != nil
}

// ParseRiderHeight validates the raw form value.
func ParseRiderHeight(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrMissingHeight
	}
	height, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrHeightNotNumeric, raw)
	}
	if !(height > 0) || math.IsInf(height, 1) {
		return 0, fmt.Errorf("%w: %q", ErrHeightNotPositive, raw)
	}
	return height, nil
}

// Analyze produces a saddle recommendation for one upload.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, in AnalysisInput) (*AnalysisResult, error) {
	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze", requestID)

	if in.Image == nil {
		return nil, ErrMissingImage
	}
	height, err := ParseRiderHeight(in.RiderHeight)
	if err != nil {
		return nil, err
	}

	sum := sha1.Sum(in.Image)
	hashHex := hex.EncodeToString(sum[:])

	started := time.Now()
	marks, cacheHit, err := uc.landmarks(ctx, requestID, hashHex, in.Image)
	if err != nil {
		return nil, err
	}
	latency := time.Since(started)

	measurement, err := measure(marks)
	if err != nil {
		opLogger.Info("landmarks unusable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNoLandmarks, err)
	}

	rec, err := seat.Recommend(height, measurement)
	switch {
	case errors.Is(err, seat.ErrInvalidHeight):
		return nil, fmt.Errorf("%w: %v", ErrHeightNotPositive, err)
	case errors.Is(err, seat.ErrDegenerateSpan):
		return nil, fmt.Errorf("%w: %v", ErrNoLandmarks, err)
	case err != nil:
		return nil, logging.NewOperationError("usecase.recommend", requestID, err)
	}
	rounded := rec.Rounded()

	opLogger.Info("analysis completed",
		zap.Float64("rider_height_cm", rounded.RiderHeightCM),
		zap.Float64("difference_cm", rounded.DifferenceCM),
		zap.String("directive", string(rounded.Directive)),
		zap.Bool("cache_hit", cacheHit),
		zap.Duration("detection_latency", latency),
	)

	if uc.repo != nil && in.UserID != "" {
		entry := &repository.AnalysisLog{
			RequestID:               requestID,
			UserID:                  in.UserID,
			ImageSHA1:               hashHex,
			RiderHeightCM:           rounded.RiderHeightCM,
			CurrentSeatHeightCM:     rounded.CurrentSeatHeightCM,
			RecommendedSeatHeightCM: rounded.RecommendedSeatHeightCM,
			DifferenceCM:            rounded.DifferenceCM,
			Directive:               string(rounded.Directive),
			Recommendation:          rounded.Text,
			DetectionLatencyMs:      latency.Milliseconds(),
			CreatedAt:               time.Now().UTC(),
		}
		if err := uc.repo.SaveLog(ctx, entry); err != nil {
			opLogger.Error("failed to persist analysis", zap.Error(err))
		}
	}

	return &AnalysisResult{RequestID: requestID, Recommendation: rounded, CacheHit: cacheHit}, nil
}

// landmarks returns cached detector output for the image or runs the detector.
func (uc *AnalysisUseCase) landmarks(ctx context.Context, requestID, hashHex string, data []byte) (pose.Landmarks, bool, error) {
	cacheKey := fmt.Sprintf("landmarks:%s", hashHex)
	opLogger := logging.WithOperation(uc.logger, "usecase.landmarks", requestID)

	if uc.cache != nil {
		cached, err := uc.withRedisGet(ctx, requestID, "cache.get.landmarks", cacheKey)
		switch {
		case err == nil:
			var marks pose.Landmarks
			if err := json.Unmarshal([]byte(cached), &marks); err != nil {
				opLogger.Warn("failed to decode cached landmarks", zap.Error(err))
			} else {
				return marks, true, nil
			}
		case !errors.Is(err, redis.Nil):
			opLogger.Warn("failed to read landmark cache", zap.Error(err))
		}
	}

	frame, err := imaging.Prepare(data)
	if err != nil {
		if errors.Is(err, imaging.ErrUndecodable) {
			return nil, false, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
		}
		return nil, false, logging.NewOperationError("usecase.prepare_image", requestID, err)
	}

	marks, err := uc.detector.Detect(ctx, frame)
	if errors.Is(err, pose.ErrNoLandmarks) {
		return nil, false, ErrNoLandmarks
	}
	if err != nil {
		wrapped := logging.NewOperationError("usecase.detect_landmarks", requestID, err)
		opLogger.Error("pose detection failed", zap.Error(wrapped))
		return nil, false, wrapped
	}
	if len(marks) == 0 {
		return nil, false, ErrNoLandmarks
	}

	if uc.cache != nil {
		serialized, err := json.Marshal(marks)
		if err == nil {
			err = uc.withRedisRetry(ctx, requestID, "cache.set.landmarks", func() error {
				return uc.cache.Set(ctx, cacheKey, string(serialized), uc.cacheTTL)
			})
		}
		if err != nil {
			opLogger.Warn("failed to cache landmarks", zap.Error(err))
		}
	}
	return marks, false, nil
}

func measure(marks pose.Landmarks) (seat.Measurement, error) {
	nose, err := marks.Y(pose.Nose)
	if err != nil {
		return seat.Measurement{}, err
	}
	hip, err := marks.Y(pose.LeftHip)
	if err != nil {
		return seat.Measurement{}, err
	}
	heel, err := marks.Y(pose.LeftHeel)
	if err != nil {
		return seat.Measurement{}, err
	}
	return seat.Measurement{NoseY: nose, HipY: hip, HeelY: heel}, nil
}

// GetResult loads a recorded analysis owned by userID.
func (uc *AnalysisUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.AnalysisLog, error) {
	if uc.repo == nil {
		return nil, ErrHistoryDisabled
	}
	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
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
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
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
