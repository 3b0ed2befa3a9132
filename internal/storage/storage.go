// Package storage persists performance metrics and drift results,
// queried by model name and time range. Two backends share the
// contract: a bounded in-memory ring and a GORM-backed SQL store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// Backend is the persistence contract for metrics and drift results.
// Writes are append-only; reads never observe partially written records.
type Backend interface {
	StoreMetric(ctx context.Context, metric *models.PerformanceMetric) error
	GetMetrics(ctx context.Context, modelName string, start, end time.Time) ([]models.PerformanceMetric, error)
	StoreDriftResult(ctx context.Context, result *models.DriftAnalysisResult) error
	GetDriftResults(ctx context.Context, modelName string, hours int) ([]models.DriftAnalysisResult, error)
	Close() error
}

// StorageError wraps persistence failures. Callers must surface these,
// never swallow them: a silently dropped metric can mask model
// degradation.
type StorageError struct {
	Op  string
	Err error
}

// Error implements error
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying driver error
func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is (or wraps) a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
