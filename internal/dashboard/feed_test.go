package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprisehub/mlmonitor/pkg/models"
)

func snapshot(model string, ts time.Time, accuracy float64) models.MetricSnapshot {
	return models.MetricSnapshot{
		ModelName: model,
		Timestamp: ts,
		Values:    map[string]float64{"accuracy": accuracy},
	}
}

func TestFeedCapacityEviction(t *testing.T) {
	f := NewFeed(3)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		f.Push(snapshot("pricing", base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	got := f.GetLatestMetrics(10)
	require.Len(t, got, 3)
	// Oldest first, only the newest three survive.
	assert.Equal(t, 2.0, got[0].Values["accuracy"])
	assert.Equal(t, 4.0, got[2].Values["accuracy"])
}

func TestGetLatestMetricsLimit(t *testing.T) {
	f := NewFeed(100)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		f.Push(snapshot("pricing", base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	got := f.GetLatestMetrics(4)
	require.Len(t, got, 4)
	assert.Equal(t, 6.0, got[0].Values["accuracy"])
	assert.Equal(t, 9.0, got[3].Values["accuracy"])
}

func TestPushFillsZeroTimestamp(t *testing.T) {
	f := NewFeed(10)
	f.Push(models.MetricSnapshot{ModelName: "pricing", Values: map[string]float64{"accuracy": 0.9}})

	got := f.GetLatestMetrics(1)
	require.Len(t, got, 1)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	f := NewFeed(10)

	ch, cancel := f.Subscribe()
	defer cancel()

	want := snapshot("pricing", time.Now(), 0.9)
	f.Push(want)

	select {
	case got := <-ch:
		assert.Equal(t, "pricing", got.ModelName)
		assert.Equal(t, 0.9, got.Values["accuracy"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestSubscribeModelFilter(t *testing.T) {
	f := NewFeed(10)

	ch, cancel := f.Subscribe("churn")
	defer cancel()

	f.Push(snapshot("pricing", time.Now(), 0.9))
	f.Push(snapshot("churn", time.Now(), 0.7))

	select {
	case got := <-ch:
		assert.Equal(t, "churn", got.ModelName)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	select {
	case extra := <-ch:
		t.Fatalf("unexpected snapshot for %s", extra.ModelName)
	default:
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	f := NewFeed(10)

	ch, cancel := f.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
}

func TestCreateRealTimeFeed(t *testing.T) {
	f := NewFeed(10)

	feedID := f.CreateRealTimeFeed([]string{"pricing", "churn"})
	require.NotEmpty(t, feedID)
	assert.Equal(t, []string{"pricing", "churn"}, f.FeedModels(feedID))
	assert.Empty(t, f.FeedModels("unknown"))
}

func TestAggregatePerformanceData(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	samples := []models.MetricSnapshot{
		snapshot("pricing", base.Add(5*time.Minute), 0.90),
		snapshot("pricing", base.Add(20*time.Minute), 0.80),
		snapshot("pricing", base.Add(70*time.Minute), 0.60),
	}

	points := AggregatePerformanceData(samples, "hour")
	require.Len(t, points, 2)

	assert.Equal(t, base, points[0].BucketStart)
	assert.Equal(t, 2, points[0].Count)
	assert.InDelta(t, 0.85, points[0].Values["accuracy"], 1e-9)

	assert.Equal(t, base.Add(time.Hour), points[1].BucketStart)
	assert.InDelta(t, 0.60, points[1].Values["accuracy"], 1e-9)
}

func TestAggregatePerformanceDataEmpty(t *testing.T) {
	assert.Nil(t, AggregatePerformanceData(nil, "hour"))
}

func TestAggregateMixedFields(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	samples := []models.MetricSnapshot{
		{ModelName: "pricing", Timestamp: base, Values: map[string]float64{"accuracy": 0.9}},
		{ModelName: "pricing", Timestamp: base.Add(time.Minute), Values: map[string]float64{"latency": 40}},
	}

	points := AggregatePerformanceData(samples, "hour")
	require.Len(t, points, 1)
	// Each field averages over the samples that carry it.
	assert.Equal(t, 0.9, points[0].Values["accuracy"])
	assert.Equal(t, 40.0, points[0].Values["latency"])
	assert.Equal(t, 2, points[0].Count)
}
