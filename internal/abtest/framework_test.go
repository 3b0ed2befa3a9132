package abtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/internal/stats"
	"github.com/enterprisehub/mlmonitor/pkg/models"
)

func newTestFramework(opts ...Option) *Framework {
	return New(stats.NewFull(), zap.NewNop(), opts...)
}

func validConfig() ExperimentConfig {
	return ExperimentConfig{
		Name:          "pricing v2 rollout",
		ModelA:        "pricing_v1",
		ModelB:        "pricing_v2",
		TrafficSplit:  0.5,
		SuccessMetric: "conversion",
	}
}

func TestCreateABTestValidation(t *testing.T) {
	f := newTestFramework()

	cfg := validConfig()
	cfg.ModelB = cfg.ModelA
	_, err := f.CreateABTest(cfg)
	assert.Error(t, err)

	cfg = validConfig()
	cfg.TrafficSplit = 1.5
	_, err = f.CreateABTest(cfg)
	assert.Error(t, err)

	cfg = validConfig()
	cfg.ModelB = ""
	_, err = f.CreateABTest(cfg)
	assert.Error(t, err)
}

func TestCreateABTestActivates(t *testing.T) {
	f := newTestFramework()

	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	exp := f.GetTestInfo(testID)
	require.NotNil(t, exp)
	assert.Equal(t, models.ExperimentActive, exp.Status)
	assert.Equal(t, DefaultMinimumSampleSize, exp.MinimumSampleSize)
	assert.NotNil(t, exp.StartedAt)

	assert.Nil(t, f.GetTestInfo("no-such-test"))
}

func TestAssignmentIsDeterministic(t *testing.T) {
	f := newTestFramework()
	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	first := f.GetModelAssignment(testID, "contact-123")
	require.NotEmpty(t, first)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, f.GetModelAssignment(testID, "contact-123"))
	}
}

func TestAssignmentCoversBothVariants(t *testing.T) {
	f := newTestFramework()
	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[f.GetModelAssignment(testID, fmt.Sprintf("subject-%d", i))]++
	}

	// With a 50/50 split both variants must see substantial traffic.
	assert.Greater(t, counts["pricing_v1"], 300)
	assert.Greater(t, counts["pricing_v2"], 300)
}

func TestAssignmentInactiveTest(t *testing.T) {
	f := newTestFramework()
	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	require.NoError(t, f.Pause(testID))
	assert.Empty(t, f.GetModelAssignment(testID, "contact-123"))

	require.NoError(t, f.Resume(testID))
	assert.NotEmpty(t, f.GetModelAssignment(testID, "contact-123"))

	assert.Empty(t, f.GetModelAssignment("unknown", "contact-123"))
}

func TestTrafficSplitImmutableOnceActive(t *testing.T) {
	f := newTestFramework()
	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	err = f.UpdateTrafficSplit(testID, 0.8)
	assert.Error(t, err)
	assert.Equal(t, 0.5, f.GetTestInfo(testID).TrafficSplit)
}

func TestRecordResultRejections(t *testing.T) {
	f := newTestFramework()
	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	assert.Error(t, f.RecordResult(testID, "not_a_variant", 1))
	assert.Error(t, f.RecordResult("unknown", "pricing_v1", 1))

	require.NoError(t, f.Complete(testID))
	assert.Error(t, f.RecordResult(testID, "pricing_v1", 1))
}

func TestSignificanceInsufficientData(t *testing.T) {
	f := newTestFramework()
	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, f.RecordResult(testID, "pricing_v1", 0))
		require.NoError(t, f.RecordResult(testID, "pricing_v2", 1))
	}

	result, err := f.CalculateTestSignificance(context.Background(), testID)
	require.NoError(t, err)

	assert.False(t, result.IsSignificant)
	assert.Equal(t, 1.0, result.PValue)
	assert.Equal(t, RecommendContinueTest, result.Recommendation)
	assert.Equal(t, "insufficient data for significance testing", result.Notes)
	assert.Equal(t, 10, result.SampleSizeA)
}

func TestSignificanceWinnerDetection(t *testing.T) {
	f := newTestFramework()
	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	// Binary conversion outcomes: 10% for A, 20% for B, 150 each.
	record := func(model string, successes, total int) {
		for i := 0; i < total; i++ {
			v := 0.0
			if i < successes {
				v = 1.0
			}
			require.NoError(t, f.RecordResult(testID, model, v))
		}
	}
	record("pricing_v1", 15, 150)
	record("pricing_v2", 30, 150)

	result, err := f.CalculateTestSignificance(context.Background(), testID)
	require.NoError(t, err)

	assert.True(t, result.IsSignificant)
	assert.Less(t, result.PValue, 0.05)
	assert.Equal(t, "pricing_v2", result.WinningModel)
	assert.Equal(t, RecommendDeployWinner, result.Recommendation)
	assert.InDelta(t, 100.0, result.ImprovementPercentage, 1e-9)
	assert.Greater(t, result.EffectSize, 0.0)
	assert.Equal(t, stats.MethodWelchTTest, result.Method)
	assert.Less(t, result.ConfidenceInterval[0], result.ConfidenceInterval[1])
}

func TestSignificanceModestLift(t *testing.T) {
	f := newTestFramework()
	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	// 10% conversion for A versus 18% for B over 150 outcomes each.
	record := func(model string, successes, total int) {
		for i := 0; i < total; i++ {
			v := 0.0
			if i < successes {
				v = 1.0
			}
			require.NoError(t, f.RecordResult(testID, model, v))
		}
	}
	record("pricing_v1", 15, 150)
	record("pricing_v2", 27, 150)

	result, err := f.CalculateTestSignificance(context.Background(), testID)
	require.NoError(t, err)

	assert.True(t, result.IsSignificant)
	assert.Equal(t, "pricing_v2", result.WinningModel)
	assert.InDelta(t, 80.0, result.ImprovementPercentage, 1e-9)
}

func TestSignificanceUnknownTest(t *testing.T) {
	f := newTestFramework()
	_, err := f.CalculateTestSignificance(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestLifecycleTransitions(t *testing.T) {
	f := newTestFramework()
	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)

	// Resume is only valid from paused.
	assert.Error(t, f.Resume(testID))
	require.NoError(t, f.Pause(testID))
	assert.Error(t, f.Pause(testID))
	require.NoError(t, f.Resume(testID))
	require.NoError(t, f.Complete(testID))
	assert.Equal(t, models.ExperimentCompleted, f.GetTestInfo(testID).Status)
}

func TestOutcomeTimestamps(t *testing.T) {
	f := newTestFramework()
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	testID, err := f.CreateABTest(validConfig())
	require.NoError(t, err)
	require.NoError(t, f.RecordResult(testID, "pricing_v1", 0.5))

	f.mu.RLock()
	defer f.mu.RUnlock()
	require.Len(t, f.outcomes[testID], 1)
	assert.Equal(t, fixed, f.outcomes[testID][0].Timestamp)
}
