package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/internal/abtest"
	"github.com/enterprisehub/mlmonitor/internal/alerting"
	"github.com/enterprisehub/mlmonitor/internal/dashboard"
	"github.com/enterprisehub/mlmonitor/internal/drift"
	"github.com/enterprisehub/mlmonitor/internal/stats"
	"github.com/enterprisehub/mlmonitor/internal/storage"
	"github.com/enterprisehub/mlmonitor/internal/tracker"
	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// failingBackend rejects every write
type failingBackend struct{ storage.Backend }

func (failingBackend) StoreMetric(context.Context, *models.PerformanceMetric) error {
	return errors.New("disk full")
}

func floatPtr(v float64) *float64 { return &v }

func newTestService(backend storage.Backend) *Service {
	logger := zap.NewNop()
	analyzer := stats.NewFull()
	return NewService(
		logger,
		backend,
		tracker.New(backend, analyzer, logger),
		drift.NewDetector(analyzer, logger, drift.WithMinSamples(4)),
		abtest.New(analyzer, logger),
		alerting.NewSystem(logger, alerting.WithNotifier("log", alerting.NewLogNotifier(logger))),
		dashboard.NewFeed(100),
	)
}

func thresholdAlertRule() models.AlertConfiguration {
	return models.AlertConfiguration{
		ModelName:  "pricing",
		Metric:     "accuracy",
		Threshold:  0.90,
		Comparison: alerting.CompareLessThan,
		Severity:   models.SeverityHigh,
		Cooldown:   time.Hour,
	}
}

func TestRegisterModel(t *testing.T) {
	svc := newTestService(storage.NewMemoryBackend(100))

	err := svc.RegisterModel("pricing",
		map[string]models.MetricThresholds{"accuracy": {Min: floatPtr(0.90)}},
		map[string]models.AlertConfiguration{"pricing_accuracy_threshold": thresholdAlertRule()})
	require.NoError(t, err)

	assert.Equal(t, []string{"pricing"}, svc.GetRegisteredModels())
	assert.Error(t, svc.RegisterModel("", nil, nil))
}

func TestRegisterModelRejectsBadAlertRule(t *testing.T) {
	svc := newTestService(storage.NewMemoryBackend(100))

	bad := thresholdAlertRule()
	bad.Comparison = "sideways"
	err := svc.RegisterModel("pricing", nil, map[string]models.AlertConfiguration{"r": bad})
	assert.Error(t, err)
}

func TestRecordPerformanceEndToEnd(t *testing.T) {
	svc := newTestService(storage.NewMemoryBackend(100))
	ctx := context.Background()

	require.NoError(t, svc.RegisterModel("pricing",
		map[string]models.MetricThresholds{"accuracy": {Min: floatPtr(0.90)}},
		map[string]models.AlertConfiguration{"pricing_accuracy_threshold": thresholdAlertRule()}))

	require.NoError(t, svc.RecordModelPerformance(ctx, "pricing", map[string]float64{
		"accuracy":          0.80,
		"inference_time_ms": 12,
	}))

	// Metric persisted.
	got, err := svc.GetModelPerformance(ctx, "pricing", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.80, *got[0].Accuracy)

	// Threshold violation fired exactly one alert.
	alerts := svc.GetRecentAlerts(1)
	require.Len(t, alerts, 1)
	assert.Equal(t, "pricing_accuracy_threshold", alerts[0].AlertName)
	assert.Equal(t, 0.80, alerts[0].Value)

	// Dashboard feed saw the sample.
	feed := svc.GetLatestMetrics(10)
	require.Len(t, feed, 1)
	assert.Equal(t, 0.80, feed[0].Values["accuracy"])
	assert.Equal(t, 12.0, feed[0].Values["inference_time_ms"])
}

func TestRecordPerformanceWithinBoundsNoAlert(t *testing.T) {
	svc := newTestService(storage.NewMemoryBackend(100))
	ctx := context.Background()

	require.NoError(t, svc.RegisterModel("pricing",
		map[string]models.MetricThresholds{"accuracy": {Min: floatPtr(0.90)}},
		map[string]models.AlertConfiguration{"pricing_accuracy_threshold": thresholdAlertRule()}))

	require.NoError(t, svc.RecordModelPerformance(ctx, "pricing", map[string]float64{"accuracy": 0.95}))

	assert.Empty(t, svc.GetRecentAlerts(1))
	assert.Len(t, svc.GetLatestMetrics(10), 1)
}

func TestRecordPerformanceStorageFailureIsLoud(t *testing.T) {
	svc := newTestService(failingBackend{})

	err := svc.RecordModelPerformance(context.Background(), "pricing", map[string]float64{"accuracy": 0.9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// Nothing downstream ran.
	assert.Empty(t, svc.GetLatestMetrics(10))
	assert.Empty(t, svc.GetRegisteredModels())
}

func TestRecordPerformanceAutoRegisters(t *testing.T) {
	svc := newTestService(storage.NewMemoryBackend(100))

	require.NoError(t, svc.RecordModelPerformance(context.Background(), "fresh_model", map[string]float64{"accuracy": 0.9}))
	assert.Equal(t, []string{"fresh_model"}, svc.GetRegisteredModels())
}

func TestDriftCheckPersistsResult(t *testing.T) {
	backend := storage.NewMemoryBackend(100)
	svc := newTestService(backend)
	ctx := context.Background()

	svc.SetBaselinePredictions("pricing", []float64{0.5, 0.52, 0.48, 0.51})
	result := svc.DetectPredictionDrift(ctx, "pricing", []float64{0.9, 0.91, 0.89, 0.92})

	assert.Equal(t, models.PredictionDrift, result.DriftType)

	stored, err := svc.GetDriftResults(ctx, "pricing", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, result.DriftDetected, stored[0].DriftDetected)
}

func TestAnalyzeTrend(t *testing.T) {
	svc := newTestService(storage.NewMemoryBackend(100))
	ctx := context.Background()

	analysis, err := svc.AnalyzePerformanceTrend(ctx, "pricing", "accuracy", 7)
	require.NoError(t, err)
	assert.Equal(t, tracker.TrendInsufficientData, analysis.Direction)
}

func TestProcessLivePrediction(t *testing.T) {
	svc := newTestService(storage.NewMemoryBackend(100))

	svc.ProcessLivePrediction("pricing", 0.73, 0.91, 8.5)

	feed := svc.GetLatestMetrics(1)
	require.Len(t, feed, 1)
	assert.Equal(t, 0.73, feed[0].Values["prediction"])
	assert.Equal(t, 0.91, feed[0].Values["confidence"])
	assert.Equal(t, 8.5, feed[0].Values["inference_time_ms"])

	// Live predictions are not persisted.
	got, err := svc.GetModelPerformance(context.Background(), "pricing", 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInstallDefaultMonitoring(t *testing.T) {
	svc := newTestService(storage.NewMemoryBackend(100))
	ctx := context.Background()

	require.NoError(t, svc.InstallDefaultMonitoring([]string{"lead_scoring", "churn_prediction"}))
	assert.Equal(t, []string{"churn_prediction", "lead_scoring"}, svc.GetRegisteredModels())

	// The stock accuracy alert fires on a degraded sample.
	require.NoError(t, svc.RecordModelPerformance(ctx, "lead_scoring", map[string]float64{"accuracy": 0.70}))
	alerts := svc.GetRecentAlerts(1)
	require.Len(t, alerts, 1)
	assert.Equal(t, "lead_scoring_accuracy_threshold", alerts[0].AlertName)
}

func TestLiveDriftSweep(t *testing.T) {
	svc := newTestService(storage.NewMemoryBackend(100))
	ctx := context.Background()

	svc.SetBaselinePredictions("pricing", []float64{0.5, 0.52, 0.48, 0.51})
	for _, p := range []float64{0.9, 0.91, 0.89, 0.92} {
		svc.ProcessLivePrediction("pricing", p, 0.95, 5)
	}

	svc.runMaintenance(ctx, 0)

	stored, err := svc.GetDriftResults(ctx, "pricing", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.PredictionDrift, stored[0].DriftType)
	assert.True(t, stored[0].DriftDetected)
}

func TestMaintenanceTolerantOfEmptyModels(t *testing.T) {
	backend := storage.NewMemoryBackend(100)
	svc := newTestService(backend)
	ctx := context.Background()

	require.NoError(t, svc.RegisterModel("pricing", nil, nil))

	// runMaintenance must tolerate models with no data.
	svc.runMaintenance(ctx, 30)
	assert.Equal(t, []string{"pricing"}, svc.GetRegisteredModels())
}
