package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// recordingNotifier captures dispatched events for assertions
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.AlertEvent
	fail   bool
}

func (n *recordingNotifier) Send(_ context.Context, event *models.AlertEvent, _ []string) error {
	if n.fail {
		return errors.New("channel down")
	}
	n.mu.Lock()
	n.events = append(n.events, *event)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func accuracyAlert() models.AlertConfiguration {
	return models.AlertConfiguration{
		ModelName:            "pricing",
		Metric:               "accuracy",
		Threshold:            0.85,
		Comparison:           CompareLessThan,
		Severity:             models.SeverityHigh,
		Cooldown:             30 * time.Minute,
		NotificationChannels: []string{"test"},
	}
}

func newTestSystem(n Notifier) *System {
	return NewSystem(zap.NewNop(), WithNotifier("test", n))
}

func sampleAt(value float64, ts time.Time) MetricSample {
	return MetricSample{ModelName: "pricing", Metric: "accuracy", Value: value, Timestamp: ts}
}

func TestConfigureAlertValidation(t *testing.T) {
	s := newTestSystem(&recordingNotifier{})

	cfg := accuracyAlert()
	cfg.Comparison = "approximately"
	assert.Error(t, s.ConfigureAlert("bad_comparison", cfg))

	cfg = accuracyAlert()
	cfg.Severity = "urgent"
	assert.Error(t, s.ConfigureAlert("bad_severity", cfg))

	cfg = accuracyAlert()
	cfg.EscalationAfterAlerts = 3
	assert.Error(t, s.ConfigureAlert("escalation_without_severity", cfg))

	assert.Error(t, s.ConfigureAlert("", accuracyAlert()))

	require.NoError(t, s.ConfigureAlert("ok", accuracyAlert()))
	assert.Len(t, s.GetAlertConfigurations(), 1)
}

func TestAlertFiresOnViolation(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestSystem(n)
	require.NoError(t, s.ConfigureAlert("pricing_accuracy", accuracyAlert()))

	fired, err := s.CheckAndTriggerAlert(context.Background(), "pricing_accuracy", sampleAt(0.80, time.Now()))
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, 1, n.count())

	events := s.GetRecentAlerts(1)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
	assert.True(t, events[0].Sent)
	assert.Equal(t, 0.80, events[0].Value)
}

func TestAlertNoViolationNoFire(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestSystem(n)
	require.NoError(t, s.ConfigureAlert("pricing_accuracy", accuracyAlert()))

	fired, err := s.CheckAndTriggerAlert(context.Background(), "pricing_accuracy", sampleAt(0.95, time.Now()))
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Zero(t, n.count())
}

func TestAlertUnknownNameIsNoop(t *testing.T) {
	s := newTestSystem(&recordingNotifier{})

	fired, err := s.CheckAndTriggerAlert(context.Background(), "nothing_configured", sampleAt(0.1, time.Now()))
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestAlertModelMismatchIsNoop(t *testing.T) {
	s := newTestSystem(&recordingNotifier{})
	require.NoError(t, s.ConfigureAlert("pricing_accuracy", accuracyAlert()))

	fired, err := s.CheckAndTriggerAlert(context.Background(), "pricing_accuracy", MetricSample{
		ModelName: "churn", Metric: "accuracy", Value: 0.1,
	})
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestCooldownSuppressesRefire(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestSystem(n)
	require.NoError(t, s.ConfigureAlert("pricing_accuracy", accuracyAlert()))

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	fired, _ := s.CheckAndTriggerAlert(ctx, "pricing_accuracy", sampleAt(0.80, clock))
	assert.True(t, fired)

	// Within cooldown: suppressed.
	clock = clock.Add(10 * time.Minute)
	fired, _ = s.CheckAndTriggerAlert(ctx, "pricing_accuracy", sampleAt(0.78, clock))
	assert.False(t, fired)

	// Past cooldown: fires again.
	clock = clock.Add(25 * time.Minute)
	fired, _ = s.CheckAndTriggerAlert(ctx, "pricing_accuracy", sampleAt(0.78, clock))
	assert.True(t, fired)

	assert.Equal(t, 2, n.count())
}

func TestEscalationAfterRepeatedFirings(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestSystem(n)

	cfg := accuracyAlert()
	cfg.EscalationAfterAlerts = 3
	cfg.EscalationSeverity = models.SeverityCritical
	require.NoError(t, s.ConfigureAlert("pricing_accuracy", cfg))

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fired, err := s.CheckAndTriggerAlert(ctx, "pricing_accuracy", sampleAt(0.80, clock))
		require.NoError(t, err)
		require.True(t, fired)
		clock = clock.Add(31 * time.Minute)
	}

	require.Equal(t, 3, n.count())
	assert.Equal(t, models.SeverityHigh, n.events[0].Severity)
	assert.Equal(t, models.SeverityHigh, n.events[1].Severity)
	assert.Equal(t, models.SeverityCritical, n.events[2].Severity)
	assert.True(t, n.events[2].Escalated)
}

func TestEscalationCounterResetsAfterQuietPeriod(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestSystem(n)

	cfg := accuracyAlert()
	cfg.EscalationAfterAlerts = 2
	cfg.EscalationSeverity = models.SeverityCritical
	require.NoError(t, s.ConfigureAlert("pricing_accuracy", cfg))

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	fired, _ := s.CheckAndTriggerAlert(ctx, "pricing_accuracy", sampleAt(0.80, clock))
	require.True(t, fired)

	// Two full cooldowns with no firing counts as recovery; the next
	// firing starts a fresh escalation count.
	clock = clock.Add(2 * cfg.Cooldown)
	fired, _ = s.CheckAndTriggerAlert(ctx, "pricing_accuracy", sampleAt(0.80, clock))
	require.True(t, fired)

	require.Equal(t, 2, n.count())
	assert.False(t, n.events[1].Escalated)
	assert.Equal(t, models.SeverityHigh, n.events[1].Severity)
}

func TestDispatchFailureStillRecordsHistory(t *testing.T) {
	n := &recordingNotifier{fail: true}
	s := newTestSystem(n)
	require.NoError(t, s.ConfigureAlert("pricing_accuracy", accuracyAlert()))

	fired, err := s.CheckAndTriggerAlert(context.Background(), "pricing_accuracy", sampleAt(0.80, time.Now()))
	require.NoError(t, err)
	assert.True(t, fired)

	events := s.GetRecentAlerts(1)
	require.Len(t, events, 1)
	assert.False(t, events[0].Sent)
}

func TestGreaterThanComparison(t *testing.T) {
	s := newTestSystem(&recordingNotifier{})
	require.NoError(t, s.ConfigureAlert("pricing_latency", models.AlertConfiguration{
		ModelName:            "pricing",
		Metric:               "inference_time_ms",
		Threshold:            100,
		Comparison:           CompareGreaterThan,
		Severity:             models.SeverityMedium,
		NotificationChannels: []string{"test"},
	}))

	fired, err := s.CheckAndTriggerAlert(context.Background(), "pricing_latency", MetricSample{
		ModelName: "pricing", Metric: "inference_time_ms", Value: 140,
	})
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestHistoryBounded(t *testing.T) {
	s := NewSystem(zap.NewNop(),
		WithNotifier("test", &recordingNotifier{}),
		WithHistorySize(5))

	cfg := accuracyAlert()
	cfg.Cooldown = 0
	require.NoError(t, s.ConfigureAlert("pricing_accuracy", cfg))

	for i := 0; i < 10; i++ {
		_, err := s.CheckAndTriggerAlert(context.Background(), "pricing_accuracy", sampleAt(0.5, time.Now()))
		require.NoError(t, err)
	}

	assert.Len(t, s.GetRecentAlerts(1), 5)
}
