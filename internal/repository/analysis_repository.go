package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/saddle-fit/internal/logging"
)

// ErrNotFound is returned when no analysis matches the lookup.
var ErrNotFound = errors.New("analysis not found")

// AnalysisLog is one recorded saddle analysis.
type AnalysisLog struct {
	ID                      uint      `gorm:"primaryKey"`
	RequestID               string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID                  string    `gorm:"column:user_id;index;size:64"`
	ImageSHA1               string    `gorm:"column:image_sha1;index;size:40"`
	RiderHeightCM           float64   `gorm:"column:rider_height_cm"`
	CurrentSeatHeightCM     float64   `gorm:"column:current_seat_height_cm"`
	RecommendedSeatHeightCM float64   `gorm:"column:recommended_seat_height_cm"`
	DifferenceCM            float64   `gorm:"column:difference_cm"`
	Directive               string    `gorm:"column:directive;size:16"`
	Recommendation          string    `gorm:"column:recommendation;size:64"`
	DetectionLatencyMs      int64     `gorm:"column:detection_latency_ms"`
	CreatedAt               time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "saddle_analyses"
}

// MetricsAggregation is the raw aggregate behind the metrics summary.
type MetricsAggregation struct {
	TotalCount                int64
	KeepCount                 int64
	RaiseCount                int64
	LowerCount                int64
	AverageDifferenceCM       float64
	AverageDetectionLatencyMs float64
}

// AnalysisRepository persists analyses through gorm.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
}

// SaveLog persists an analysis.
func (r *AnalysisRepository) SaveLog(ctx context.Context, log *AnalysisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves an analysis owned by userID.
func (r *AnalysisRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*AnalysisLog, error) {
	var log AnalysisLog
	err := r.executeWithRetry(ctx, "repository.find_log", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises the analyses recorded for userID.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context, userID string) (*MetricsAggregation, error) {
	var row struct {
		TotalCount                int64
		KeepCount                 int64
		RaiseCount                int64
		LowerCount                int64
		AverageDifferenceCM       float64
		AverageDetectionLatencyMs float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisLog{}).
			Select(`COUNT(*) AS total_count,
				COUNT(*) FILTER (WHERE directive = 'keep') AS keep_count,
				COUNT(*) FILTER (WHERE directive = 'raise') AS raise_count,
				COUNT(*) FILTER (WHERE directive = 'lower') AS lower_count,
				COALESCE(AVG(difference_cm), 0) AS average_difference_cm,
				COALESCE(AVG(detection_latency_ms), 0) AS average_detection_latency_ms`).
			Where("user_id = ?", userID).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	agg := MetricsAggregation(row)
	return &agg, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	backoff := r.initialBackoff
	attempts := max(r.retryAttempts, 1)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
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
		if errors.Is(err, ErrNotFound) {
			return err
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
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
	return errors.As(err, &temporary) && temporary.Temporary()
}
