// Package tracker records model performance metrics and analyzes them
// against operator-defined thresholds and historical trends.
package tracker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/internal/stats"
	"github.com/enterprisehub/mlmonitor/internal/storage"
	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// Trend directions reported by AnalyzePerformanceTrend
const (
	TrendImproving        = "improving"
	TrendDeclining        = "declining"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// slope dead-zone for the heuristic trend classification
const heuristicDeadZone = 0.01

// Tracker persists metrics through a storage backend and evaluates
// thresholds and trends over them.
type Tracker struct {
	backend  storage.Backend
	analyzer stats.Analyzer
	logger   *zap.Logger

	mu         sync.RWMutex
	thresholds map[string]map[string]models.MetricThresholds

	now func() time.Time
}

// New creates a performance tracker
func New(backend storage.Backend, analyzer stats.Analyzer, logger *zap.Logger) *Tracker {
	return &Tracker{
		backend:    backend,
		analyzer:   analyzer,
		logger:     logger,
		thresholds: make(map[string]map[string]models.MetricThresholds),
		now:        time.Now,
	}
}

// RecordMetric persists a metric. Storage failures propagate: the
// caller must know when a metric was lost.
func (t *Tracker) RecordMetric(ctx context.Context, metric *models.PerformanceMetric) error {
	if err := t.backend.StoreMetric(ctx, metric); err != nil {
		t.logger.Error("Failed to record metric",
			zap.String("model", metric.ModelName),
			zap.Error(err))
		return err
	}
	t.logger.Debug("Recorded metric",
		zap.String("model", metric.ModelName),
		zap.Time("timestamp", metric.Timestamp))
	return nil
}

// GetMetrics returns metrics for a model within [start, end]. Ordering
// is backend-defined; callers sort when they need to.
func (t *Tracker) GetMetrics(ctx context.Context, modelName string, start, end time.Time) ([]models.PerformanceMetric, error) {
	return t.backend.GetMetrics(ctx, modelName, start, end)
}

// AnalyzePerformanceTrend fits a linear trend to the named metric over
// the last `days` days and classifies its direction.
func (t *Tracker) AnalyzePerformanceTrend(ctx context.Context, modelName, metricName string, days int) (*models.TrendAnalysis, error) {
	start := t.now().AddDate(0, 0, -days)
	metrics, err := t.backend.GetMetrics(ctx, modelName, start, t.now())
	if err != nil {
		return nil, err
	}

	var xs, ys []float64
	for i := range metrics {
		if v, ok := metrics[i].Value(metricName); ok {
			xs = append(xs, float64(metrics[i].Timestamp.Unix()))
			ys = append(ys, v)
		}
	}

	if len(ys) < 2 {
		return &models.TrendAnalysis{
			Direction:    TrendInsufficientData,
			Significance: 1,
			SampleSize:   len(ys),
			Method:       t.analyzer.Name(),
		}, nil
	}

	res, err := t.analyzer.Trend(xs, ys)
	if err != nil {
		return nil, fmt.Errorf("trend analysis for %s.%s: %w", modelName, metricName, err)
	}

	analysis := &models.TrendAnalysis{
		Direction:    TrendStable,
		ChangeRate:   res.Slope,
		Significance: res.PValue,
		SampleSize:   len(ys),
		StartValue:   ys[0],
		EndValue:     ys[len(ys)-1],
		Method:       res.Method,
	}

	if res.Method == stats.MethodLinReg {
		r2 := res.RSquared
		analysis.RSquared = &r2
		// Slope must be both statistically significant and larger than
		// its own standard error to count as a real direction.
		if res.PValue < 0.05 && math.Abs(res.Slope) > res.StdErr {
			if res.Slope > 0 {
				analysis.Direction = TrendImproving
			} else {
				analysis.Direction = TrendDeclining
			}
		}
	} else {
		// Heuristic path: averaged per-step change with a dead-zone.
		switch {
		case res.Slope > heuristicDeadZone:
			analysis.Direction = TrendImproving
		case res.Slope < -heuristicDeadZone:
			analysis.Direction = TrendDeclining
		}
	}

	return analysis, nil
}

// SetPerformanceThresholds stores operator-defined bounds for a model.
// The whole per-model map is swapped atomically.
func (t *Tracker) SetPerformanceThresholds(modelName string, thresholds map[string]models.MetricThresholds) {
	copied := make(map[string]models.MetricThresholds, len(thresholds))
	for k, v := range thresholds {
		copied[k] = v
	}

	t.mu.Lock()
	t.thresholds[modelName] = copied
	t.mu.Unlock()

	t.logger.Info("Performance thresholds set",
		zap.String("model", modelName),
		zap.Int("metrics", len(copied)))
}

// GetPerformanceThresholds returns a snapshot of a model's bounds
func (t *Tracker) GetPerformanceThresholds(modelName string) map[string]models.MetricThresholds {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]models.MetricThresholds, len(t.thresholds[modelName]))
	for k, v := range t.thresholds[modelName] {
		out[k] = v
	}
	return out
}

// CheckThresholdViolations flags every configured bound the metric
// breaks. Severity is high when the value is more than 10% beyond the
// bound, medium otherwise. It does not alert by itself; the
// orchestrator forwards violations.
func (t *Tracker) CheckThresholdViolations(metric *models.PerformanceMetric) []models.ThresholdViolation {
	t.mu.RLock()
	thresholds := t.thresholds[metric.ModelName]
	t.mu.RUnlock()

	var violations []models.ThresholdViolation
	for metricName, bounds := range thresholds {
		value, ok := metric.Value(metricName)
		if !ok {
			continue
		}

		if bounds.Min != nil && value < *bounds.Min {
			severity := models.SeverityMedium
			if value < *bounds.Min*0.9 {
				severity = models.SeverityHigh
			}
			violations = append(violations, models.ThresholdViolation{
				Metric:        metricName,
				Value:         value,
				Threshold:     *bounds.Min,
				ViolationType: "below_minimum",
				Severity:      severity,
			})
		}

		if bounds.Max != nil && value > *bounds.Max {
			severity := models.SeverityMedium
			if value > *bounds.Max*1.1 {
				severity = models.SeverityHigh
			}
			violations = append(violations, models.ThresholdViolation{
				Metric:        metricName,
				Value:         value,
				Threshold:     *bounds.Max,
				ViolationType: "above_maximum",
				Severity:      severity,
			})
		}
	}
	return violations
}
