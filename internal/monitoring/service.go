// Package monitoring wires the tracker, drift detector, A/B framework,
// alerting system and dashboard feed into the single ingestion entry
// point collaborating ML pipelines call.
package monitoring

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/internal/abtest"
	"github.com/enterprisehub/mlmonitor/internal/alerting"
	"github.com/enterprisehub/mlmonitor/internal/dashboard"
	"github.com/enterprisehub/mlmonitor/internal/drift"
	"github.com/enterprisehub/mlmonitor/internal/storage"
	"github.com/enterprisehub/mlmonitor/internal/tracker"
	"github.com/enterprisehub/mlmonitor/pkg/metrics"
	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// Service is the orchestrator. It is constructed once with its
// collaborators and threaded through call sites; there is no global
// instance.
type Service struct {
	logger   *zap.Logger
	backend  storage.Backend
	tracker  *tracker.Tracker
	detector *drift.Detector
	abtests  *abtest.Framework
	alerts   *alerting.System
	feed     *dashboard.Feed

	mu         sync.RWMutex
	registered map[string]bool

	analysisTimeout time.Duration
	now             func() time.Time
}

// NewService wires the orchestrator with its five collaborators
func NewService(
	logger *zap.Logger,
	backend storage.Backend,
	perfTracker *tracker.Tracker,
	detector *drift.Detector,
	abtests *abtest.Framework,
	alerts *alerting.System,
	feed *dashboard.Feed,
) *Service {
	return &Service{
		logger:          logger,
		backend:         backend,
		tracker:         perfTracker,
		detector:        detector,
		abtests:         abtests,
		alerts:          alerts,
		feed:            feed,
		registered:      make(map[string]bool),
		analysisTimeout: 30 * time.Second,
		now:             time.Now,
	}
}

// SetAnalysisTimeout overrides the per-analysis deadline
func (s *Service) SetAnalysisTimeout(d time.Duration) {
	if d > 0 {
		s.analysisTimeout = d
	}
}

// RegisterModel makes a model known to the service, installing its
// thresholds and alert rules when provided.
func (s *Service) RegisterModel(name string, thresholds map[string]models.MetricThresholds, alertRules map[string]models.AlertConfiguration) error {
	if name == "" {
		return fmt.Errorf("model name is required")
	}

	if len(thresholds) > 0 {
		s.tracker.SetPerformanceThresholds(name, thresholds)
	}
	for alertName, cfg := range alertRules {
		if err := s.alerts.ConfigureAlert(alertName, cfg); err != nil {
			return fmt.Errorf("registering model %s: %w", name, err)
		}
	}

	s.mu.Lock()
	s.registered[name] = true
	s.mu.Unlock()

	s.logger.Info("Registered model for monitoring", zap.String("model", name))
	return nil
}

// InstallDefaultMonitoring registers each model with the stock
// threshold set and a degradation alert, for deployments that want
// monitoring live before any operator tuning.
func (s *Service) InstallDefaultMonitoring(modelNames []string) error {
	minAccuracy := 0.90
	minPrecision := 0.88
	minRecall := 0.85
	maxInference := 200.0

	for _, name := range modelNames {
		thresholds := map[string]models.MetricThresholds{
			models.MetricAccuracy:        {Min: &minAccuracy},
			models.MetricPrecision:       {Min: &minPrecision},
			models.MetricRecall:          {Min: &minRecall},
			models.MetricInferenceTimeMS: {Max: &maxInference},
		}
		alerts := map[string]models.AlertConfiguration{
			fmt.Sprintf("%s_accuracy_threshold", name): {
				ModelName:             name,
				Metric:                models.MetricAccuracy,
				Threshold:             minAccuracy,
				Comparison:            alerting.CompareLessThan,
				Severity:              models.SeverityHigh,
				Cooldown:              30 * time.Minute,
				EscalationAfterAlerts: 3,
				EscalationSeverity:    models.SeverityCritical,
			},
		}
		if err := s.RegisterModel(name, thresholds, alerts); err != nil {
			return err
		}
	}
	return nil
}

// GetRegisteredModels lists known model names, sorted
func (s *Service) GetRegisteredModels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.registered))
	for name := range s.registered {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RecordModelPerformance is the single ingestion entry point. It
// builds the metric, persists it, checks thresholds, forwards every
// violation to the alerting system and pushes the raw sample to the
// dashboard feed. A storage failure fails loudly; an alerting failure
// is logged and the metric is kept.
func (s *Service) RecordModelPerformance(ctx context.Context, modelName string, data map[string]float64) error {
	metric := models.MetricFromValues(modelName, s.now(), data)

	if err := s.tracker.RecordMetric(ctx, metric); err != nil {
		metrics.IngestFailures.WithLabelValues(modelName).Inc()
		return fmt.Errorf("record performance for %s: %w", modelName, err)
	}
	metrics.MetricsIngested.WithLabelValues(modelName).Inc()

	s.mu.Lock()
	s.registered[modelName] = true
	s.mu.Unlock()

	for _, violation := range s.tracker.CheckThresholdViolations(metric) {
		alertName := fmt.Sprintf("%s_%s_threshold", modelName, violation.Metric)
		fired, err := s.alerts.CheckAndTriggerAlert(ctx, alertName, alerting.MetricSample{
			ModelName: modelName,
			Metric:    violation.Metric,
			Value:     violation.Value,
			Timestamp: metric.Timestamp,
		})
		if err != nil {
			// The metric is already persisted; alerting problems must
			// not lose it.
			s.logger.Error("Alert check failed",
				zap.String("alert", alertName),
				zap.Error(err))
			continue
		}
		if fired {
			metrics.AlertsFired.WithLabelValues(string(violation.Severity)).Inc()
		}
	}

	s.feed.Push(models.MetricSnapshot{
		ModelName: modelName,
		Timestamp: metric.Timestamp,
		Values:    metric.Values(),
	})

	return nil
}

// GetModelPerformance returns a model's metrics over the last `hours`
func (s *Service) GetModelPerformance(ctx context.Context, modelName string, hours int) ([]models.PerformanceMetric, error) {
	end := s.now()
	return s.tracker.GetMetrics(ctx, modelName, end.Add(-time.Duration(hours)*time.Hour), end)
}

// AnalyzePerformanceTrend exposes trend analysis for a model's metric
func (s *Service) AnalyzePerformanceTrend(ctx context.Context, modelName, metricName string, days int) (*models.TrendAnalysis, error) {
	start := time.Now()
	defer func() {
		metrics.AnalysisDuration.WithLabelValues("trend").Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.analysisTimeout)
	defer cancel()
	return s.tracker.AnalyzePerformanceTrend(ctx, modelName, metricName, days)
}

// SetBaselineDistribution forwards per-feature baselines to the detector
func (s *Service) SetBaselineDistribution(modelName string, features map[string][]float64) {
	s.detector.SetBaselineDistribution(modelName, features)
}

// SetBaselinePredictions forwards the prediction baseline to the detector
func (s *Service) SetBaselinePredictions(modelName string, predictions []float64) {
	s.detector.SetBaselinePredictions(modelName, predictions)
}

// SetBaselineConfidence forwards the confidence baseline to the detector
func (s *Service) SetBaselineConfidence(modelName string, confidence []float64) {
	s.detector.SetBaselineConfidence(modelName, confidence)
}

// DetectFeatureDrift runs feature drift analysis and persists the
// result. Analysis never fails loudly: errors come back inside the
// result so one model's bad data cannot crash monitoring for others.
func (s *Service) DetectFeatureDrift(ctx context.Context, modelName string, currentFeatures map[string][]float64) *models.DriftAnalysisResult {
	return s.runDriftCheck(ctx, "feature", func(ctx context.Context) *models.DriftAnalysisResult {
		return s.detector.DetectFeatureDrift(ctx, modelName, currentFeatures)
	})
}

// DetectPredictionDrift runs prediction drift analysis and persists
// the result.
func (s *Service) DetectPredictionDrift(ctx context.Context, modelName string, currentPredictions []float64) *models.DriftAnalysisResult {
	return s.runDriftCheck(ctx, "prediction", func(ctx context.Context) *models.DriftAnalysisResult {
		return s.detector.DetectPredictionDrift(ctx, modelName, currentPredictions)
	})
}

// DetectConfidenceDrift runs confidence drift analysis and persists
// the result.
func (s *Service) DetectConfidenceDrift(ctx context.Context, modelName string, currentConfidence []float64) *models.DriftAnalysisResult {
	return s.runDriftCheck(ctx, "confidence", func(ctx context.Context) *models.DriftAnalysisResult {
		return s.detector.DetectConfidenceDrift(ctx, modelName, currentConfidence)
	})
}

func (s *Service) runDriftCheck(ctx context.Context, kind string, run func(context.Context) *models.DriftAnalysisResult) *models.DriftAnalysisResult {
	start := time.Now()
	defer func() {
		metrics.AnalysisDuration.WithLabelValues("drift_" + kind).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.analysisTimeout)
	defer cancel()

	result := run(ctx)
	metrics.DriftChecks.WithLabelValues(result.ModelName, string(result.DriftType), strconv.FormatBool(result.DriftDetected)).Inc()

	if err := s.backend.StoreDriftResult(ctx, result); err != nil {
		s.logger.Error("Failed to store drift result",
			zap.String("model", result.ModelName),
			zap.String("drift_type", string(result.DriftType)),
			zap.Error(err))
	}
	return result
}

// GetDriftResults returns recent drift results for a model
func (s *Service) GetDriftResults(ctx context.Context, modelName string, hours int) ([]models.DriftAnalysisResult, error) {
	return s.backend.GetDriftResults(ctx, modelName, hours)
}

// ABTests exposes the experimentation framework
func (s *Service) ABTests() *abtest.Framework { return s.abtests }

// Alerts exposes the alerting system
func (s *Service) Alerts() *alerting.System { return s.alerts }

// Feed exposes the dashboard feed
func (s *Service) Feed() *dashboard.Feed { return s.feed }

// GetRecentAlerts returns recent alert firings
func (s *Service) GetRecentAlerts(hours int) []models.AlertEvent {
	return s.alerts.GetRecentAlerts(hours)
}

// GetLatestMetrics returns the freshest dashboard snapshots
func (s *Service) GetLatestMetrics(limit int) []models.MetricSnapshot {
	return s.feed.GetLatestMetrics(limit)
}

// ProcessLivePrediction pushes a single live prediction to the
// dashboard feed without persisting it: the fast path for per-request
// instrumentation.
func (s *Service) ProcessLivePrediction(modelName string, prediction, confidence, inferenceTimeMS float64) {
	s.feed.Push(models.MetricSnapshot{
		ModelName: modelName,
		Timestamp: s.now(),
		Values: map[string]float64{
			"prediction":        prediction,
			"confidence":        confidence,
			"inference_time_ms": inferenceTimeMS,
		},
	})
}

// StartBackgroundJobs runs periodic maintenance until ctx is
// cancelled: storage retention pruning and trend logging for
// registered models. Each cycle is bounded by the analysis timeout so
// a slow job cannot starve the alerting path.
func (s *Service) StartBackgroundJobs(ctx context.Context, interval time.Duration, retentionDays int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runMaintenance(ctx, retentionDays)
		}
	}
}

func (s *Service) runMaintenance(ctx context.Context, retentionDays int) {
	ctx, cancel := context.WithTimeout(ctx, s.analysisTimeout)
	defer cancel()

	if pruner, ok := s.backend.(interface {
		PruneMetrics(context.Context, int) error
	}); ok && retentionDays > 0 {
		if err := pruner.PruneMetrics(ctx, retentionDays); err != nil {
			s.logger.Error("Retention pruning failed", zap.Error(err))
		}
	}

	for _, modelName := range s.GetRegisteredModels() {
		if ctx.Err() != nil {
			return
		}
		trend, err := s.tracker.AnalyzePerformanceTrend(ctx, modelName, models.MetricAccuracy, 7)
		if err != nil {
			s.logger.Warn("Trend analysis failed",
				zap.String("model", modelName),
				zap.Error(err))
			continue
		}
		if trend.Direction == tracker.TrendDeclining {
			s.logger.Warn("Model performance declining",
				zap.String("model", modelName),
				zap.Float64("change_rate", trend.ChangeRate),
				zap.Float64("significance", trend.Significance))
		}
	}

	s.sweepLiveDrift(ctx)
}

// sweepLiveDrift runs prediction and confidence drift checks over the
// live samples accumulated in the dashboard feed, for models with a
// baseline set. Results are persisted through the usual drift path.
func (s *Service) sweepLiveDrift(ctx context.Context) {
	predictions := make(map[string][]float64)
	confidence := make(map[string][]float64)
	for _, snap := range s.feed.GetLatestMetrics(0) {
		if v, ok := snap.Values["prediction"]; ok {
			predictions[snap.ModelName] = append(predictions[snap.ModelName], v)
		}
		if v, ok := snap.Values["confidence"]; ok {
			confidence[snap.ModelName] = append(confidence[snap.ModelName], v)
		}
	}

	for modelName, values := range predictions {
		if ctx.Err() != nil {
			return
		}
		if s.detector.HasPredictionBaseline(modelName) {
			s.DetectPredictionDrift(ctx, modelName, values)
		}
	}
	for modelName, values := range confidence {
		if ctx.Err() != nil {
			return
		}
		if s.detector.HasConfidenceBaseline(modelName) {
			s.DetectConfidenceDrift(ctx, modelName, values)
		}
	}
}
