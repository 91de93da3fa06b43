package usecase

import "context"

// MetricsSummary represents aggregated analysis insights for one user.
type MetricsSummary struct {
	TotalAnalyses             int64            `json:"total_analyses"`
	DirectiveCounts           map[string]int64 `json:"directive_counts"`
	WellAdjustedRate          float64          `json:"well_adjusted_rate"`
	AverageDifferenceCM       float64          `json:"average_difference_cm"`
	AverageDetectionLatencyMs float64          `json:"average_detection_latency_ms"`
}

// GetMetricsSummary aggregates the caller's recorded analyses.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context, userID string) (*MetricsSummary, error) {
	if uc.repo == nil {
		return nil, ErrHistoryDisabled
	}
	aggregation, err := uc.repo.AggregateMetrics(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAnalyses: aggregation.TotalCount,
		DirectiveCounts: map[string]int64{
			"keep":  aggregation.KeepCount,
			"raise": aggregation.RaiseCount,
			"lower": aggregation.LowerCount,
		},
		AverageDifferenceCM:       aggregation.AverageDifferenceCM,
		AverageDetectionLatencyMs: aggregation.AverageDetectionLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.WellAdjustedRate = float64(aggregation.KeepCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
