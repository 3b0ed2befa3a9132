package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// SQLBackend is the durable storage backend. Both tables carry a
// composite (model_name, timestamp) index matching the service's only
// query pattern.
type SQLBackend struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLBackend wraps an open GORM connection and migrates the schema
func NewSQLBackend(db *gorm.DB, logger *zap.Logger) (*SQLBackend, error) {
	if err := db.AutoMigrate(&models.PerformanceMetric{}, &models.DriftAnalysisResult{}); err != nil {
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	return &SQLBackend{db: db, logger: logger}, nil
}

// OpenSQLite opens a SQLite database for single-node deployments
func OpenSQLite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

// OpenPostgres opens a PostgreSQL connection with pool tuning sized for
// many concurrent metric producers.
func OpenPostgres(dsn string, maxOpen, maxIdle, connMaxLifeSeconds int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if maxOpen == 0 {
		maxOpen = 50
	}
	if maxIdle == 0 {
		maxIdle = 10
	}
	if connMaxLifeSeconds == 0 {
		connMaxLifeSeconds = 3600
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(connMaxLifeSeconds) * time.Second)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	return db, nil
}

// StoreMetric implements Backend
func (b *SQLBackend) StoreMetric(ctx context.Context, metric *models.PerformanceMetric) error {
	if err := b.db.WithContext(ctx).Create(metric).Error; err != nil {
		return &StorageError{Op: "store_metric", Err: err}
	}
	return nil
}

// GetMetrics implements Backend. Results come back newest first.
func (b *SQLBackend) GetMetrics(ctx context.Context, modelName string, start, end time.Time) ([]models.PerformanceMetric, error) {
	var out []models.PerformanceMetric
	err := b.db.WithContext(ctx).
		Where("model_name = ? AND timestamp BETWEEN ? AND ?", modelName, start, end).
		Order("timestamp DESC").
		Find(&out).Error
	if err != nil {
		return nil, &StorageError{Op: "get_metrics", Err: err}
	}
	return out, nil
}

// StoreDriftResult implements Backend
func (b *SQLBackend) StoreDriftResult(ctx context.Context, result *models.DriftAnalysisResult) error {
	if err := b.db.WithContext(ctx).Create(result).Error; err != nil {
		return &StorageError{Op: "store_drift_result", Err: err}
	}
	return nil
}

// GetDriftResults implements Backend
func (b *SQLBackend) GetDriftResults(ctx context.Context, modelName string, hours int) ([]models.DriftAnalysisResult, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	var out []models.DriftAnalysisResult
	err := b.db.WithContext(ctx).
		Where("model_name = ? AND analysis_timestamp >= ?", modelName, cutoff).
		Order("analysis_timestamp DESC").
		Find(&out).Error
	if err != nil {
		return nil, &StorageError{Op: "get_drift_results", Err: err}
	}
	return out, nil
}

// PruneMetrics deletes metrics older than the retention window
func (b *SQLBackend) PruneMetrics(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res := b.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.PerformanceMetric{})
	if res.Error != nil {
		return &StorageError{Op: "prune_metrics", Err: res.Error}
	}
	if res.RowsAffected > 0 {
		b.logger.Info("Pruned expired metrics",
			zap.Int64("rows", res.RowsAffected),
			zap.Int("retention_days", retentionDays))
	}
	return nil
}

// Close implements Backend
func (b *SQLBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
