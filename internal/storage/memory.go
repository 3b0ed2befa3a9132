package storage

import (
	"context"
	"sync"
	"time"

	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// MemoryBackend keeps the newest maxEntries records of each kind in a
// fixed-capacity ring: O(1) append under the lock, oldest evicted
// first, linear scan filtered by model and time on read.
type MemoryBackend struct {
	mu         sync.RWMutex
	maxEntries int

	metrics     []models.PerformanceMetric
	metricsHead int
	metricsLen  int

	drift     []models.DriftAnalysisResult
	driftHead int
	driftLen  int
}

// NewMemoryBackend creates an in-memory backend bounded to maxEntries
// records per record kind.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryBackend{
		maxEntries: maxEntries,
		metrics:    make([]models.PerformanceMetric, maxEntries),
		drift:      make([]models.DriftAnalysisResult, maxEntries),
	}
}

// StoreMetric implements Backend
func (b *MemoryBackend) StoreMetric(_ context.Context, metric *models.PerformanceMetric) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.metricsHead + b.metricsLen) % b.maxEntries
	b.metrics[idx] = *metric
	if b.metricsLen < b.maxEntries {
		b.metricsLen++
	} else {
		b.metricsHead = (b.metricsHead + 1) % b.maxEntries
	}
	return nil
}

// GetMetrics implements Backend. Results are returned oldest first.
func (b *MemoryBackend) GetMetrics(_ context.Context, modelName string, start, end time.Time) ([]models.PerformanceMetric, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []models.PerformanceMetric
	for i := 0; i < b.metricsLen; i++ {
		m := b.metrics[(b.metricsHead+i)%b.maxEntries]
		if m.ModelName != modelName {
			continue
		}
		if m.Timestamp.Before(start) || m.Timestamp.After(end) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// StoreDriftResult implements Backend
func (b *MemoryBackend) StoreDriftResult(_ context.Context, result *models.DriftAnalysisResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.driftHead + b.driftLen) % b.maxEntries
	b.drift[idx] = *result
	if b.driftLen < b.maxEntries {
		b.driftLen++
	} else {
		b.driftHead = (b.driftHead + 1) % b.maxEntries
	}
	return nil
}

// GetDriftResults implements Backend
func (b *MemoryBackend) GetDriftResults(_ context.Context, modelName string, hours int) ([]models.DriftAnalysisResult, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []models.DriftAnalysisResult
	for i := 0; i < b.driftLen; i++ {
		r := b.drift[(b.driftHead+i)%b.maxEntries]
		if r.ModelName != modelName || r.AnalysisTimestamp.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Close implements Backend
func (b *MemoryBackend) Close() error { return nil }
