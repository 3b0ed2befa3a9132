// Package abtest runs controlled A/B comparisons between two model
// variants: deterministic hash-based assignment, outcome recording and
// significance analysis.
package abtest

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/internal/stats"
	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// Recommendations returned by CalculateTestSignificance
const (
	RecommendDeployWinner = "deploy_winner"
	RecommendContinueTest = "continue_test"
)

// DefaultMinimumSampleSize is the per-variant floor below which no
// significance is computed.
const DefaultMinimumSampleSize = 100

// ErrTestNotFound marks operations against an unknown experiment id
var ErrTestNotFound = errors.New("test not found")

// ExperimentConfig is the operator-facing experiment definition
type ExperimentConfig struct {
	Name              string  `json:"name" validate:"required"`
	ModelA            string  `json:"model_a" validate:"required"`
	ModelB            string  `json:"model_b" validate:"required"`
	TrafficSplit      float64 `json:"traffic_split"`
	SuccessMetric     string  `json:"success_metric" validate:"required"`
	MinimumSampleSize int     `json:"minimum_sample_size"`
	MaxDurationDays   int     `json:"max_duration_days"`
}

// Framework registers experiments, assigns subjects to variants and
// computes significance over recorded outcomes.
type Framework struct {
	analyzer          stats.Analyzer
	logger            *zap.Logger
	significanceLevel float64
	minimumSampleSize int

	mu       sync.RWMutex
	tests    map[string]*models.Experiment
	outcomes map[string][]models.Outcome

	now func() time.Time
}

// Option customizes a Framework
type Option func(*Framework)

// WithSignificanceLevel overrides the default 0.05 significance level
func WithSignificanceLevel(alpha float64) Option {
	return func(f *Framework) { f.significanceLevel = alpha }
}

// WithMinimumSampleSize overrides the default per-variant sample floor
func WithMinimumSampleSize(n int) Option {
	return func(f *Framework) { f.minimumSampleSize = n }
}

// New creates an A/B test framework
func New(analyzer stats.Analyzer, logger *zap.Logger, opts ...Option) *Framework {
	f := &Framework{
		analyzer:          analyzer,
		logger:            logger,
		significanceLevel: 0.05,
		minimumSampleSize: DefaultMinimumSampleSize,
		tests:             make(map[string]*models.Experiment),
		outcomes:          make(map[string][]models.Outcome),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateABTest registers a new experiment and activates it. The two
// variants must be distinct and the traffic split in [0, 1].
func (f *Framework) CreateABTest(cfg ExperimentConfig) (string, error) {
	if cfg.ModelA == "" || cfg.ModelB == "" {
		return "", fmt.Errorf("experiment %q: both variants are required", cfg.Name)
	}
	if cfg.ModelA == cfg.ModelB {
		return "", fmt.Errorf("experiment %q: variants must be distinct", cfg.Name)
	}
	if cfg.TrafficSplit < 0 || cfg.TrafficSplit > 1 {
		return "", fmt.Errorf("experiment %q: traffic split %v outside [0,1]", cfg.Name, cfg.TrafficSplit)
	}

	minSamples := cfg.MinimumSampleSize
	if minSamples <= 0 {
		minSamples = f.minimumSampleSize
	}

	testID := uuid.New().String()
	started := f.now()
	exp := &models.Experiment{
		ID:                testID,
		Name:              cfg.Name,
		ModelA:            cfg.ModelA,
		ModelB:            cfg.ModelB,
		TrafficSplit:      cfg.TrafficSplit,
		SuccessMetric:     cfg.SuccessMetric,
		MinimumSampleSize: minSamples,
		MaxDurationDays:   cfg.MaxDurationDays,
		Status:            models.ExperimentActive,
		CreatedAt:         started,
		StartedAt:         &started,
	}

	f.mu.Lock()
	f.tests[testID] = exp
	f.outcomes[testID] = nil
	f.mu.Unlock()

	f.logger.Info("Created A/B test",
		zap.String("test_id", testID),
		zap.String("name", cfg.Name),
		zap.String("model_a", cfg.ModelA),
		zap.String("model_b", cfg.ModelB),
		zap.Float64("traffic_split", cfg.TrafficSplit))

	return testID, nil
}

// GetTestInfo returns a copy of the experiment, or nil when unknown
func (f *Framework) GetTestInfo(testID string) *models.Experiment {
	f.mu.RLock()
	defer f.mu.RUnlock()

	exp, ok := f.tests[testID]
	if !ok {
		return nil
	}
	copied := *exp
	return &copied
}

// GetModelAssignment deterministically maps a subject to a variant.
// The same subject always resolves to the same variant for the
// lifetime of the experiment; no assignment table is kept. Returns ""
// when the test is unknown or not active.
func (f *Framework) GetModelAssignment(testID, subjectID string) string {
	f.mu.RLock()
	exp, ok := f.tests[testID]
	if !ok || exp.Status != models.ExperimentActive {
		f.mu.RUnlock()
		return ""
	}
	split := exp.TrafficSplit
	modelA, modelB := exp.ModelA, exp.ModelB
	f.mu.RUnlock()

	if assignmentRatio(testID, subjectID) < split {
		return modelB
	}
	return modelA
}

// assignmentRatio hashes (testID, subjectID) to a stable value in [0, 1)
func assignmentRatio(testID, subjectID string) float64 {
	sum := md5.Sum([]byte(testID + ":" + subjectID))
	bucket := binary.BigEndian.Uint64(sum[:8]) % 1000
	return float64(bucket) / 1000.0
}

// UpdateTrafficSplit is rejected once an experiment is active: changing
// the split would silently reassign subjects.
func (f *Framework) UpdateTrafficSplit(testID string, split float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	exp, ok := f.tests[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}
	if exp.Status != models.ExperimentDraft {
		return fmt.Errorf("test %s: traffic split is immutable after activation", testID)
	}
	if split < 0 || split > 1 {
		return fmt.Errorf("test %s: traffic split %v outside [0,1]", testID, split)
	}
	exp.TrafficSplit = split
	return nil
}

// Pause suspends assignment for an active experiment
func (f *Framework) Pause(testID string) error {
	return f.transition(testID, models.ExperimentActive, models.ExperimentPaused)
}

// Resume reactivates a paused experiment
func (f *Framework) Resume(testID string) error {
	return f.transition(testID, models.ExperimentPaused, models.ExperimentActive)
}

// Complete finishes an experiment; no further outcomes are accepted
func (f *Framework) Complete(testID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	exp, ok := f.tests[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}
	exp.Status = models.ExperimentCompleted
	return nil
}

func (f *Framework) transition(testID string, from, to models.ExperimentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	exp, ok := f.tests[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}
	if exp.Status != from {
		return fmt.Errorf("test %s: cannot move from %s to %s", testID, exp.Status, to)
	}
	exp.Status = to
	return nil
}

// RecordResult appends an outcome tagged with the variant that
// produced it.
func (f *Framework) RecordResult(testID, modelName string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	exp, ok := f.tests[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}
	if exp.Status == models.ExperimentCompleted {
		return fmt.Errorf("test %s is completed", testID)
	}
	if modelName != exp.ModelA && modelName != exp.ModelB {
		return fmt.Errorf("test %s: %q is not a variant", testID, modelName)
	}

	f.outcomes[testID] = append(f.outcomes[testID], models.Outcome{
		Model:     modelName,
		Value:     value,
		Timestamp: f.now(),
	})
	return nil
}

// CalculateTestSignificance splits outcomes by variant and computes a
// two-sample significance test, confidence interval and effect size.
// When either group is below the experiment's minimum sample size the
// result is non-significant and annotated as insufficient data.
func (f *Framework) CalculateTestSignificance(ctx context.Context, testID string) (*models.ABTestResult, error) {
	f.mu.RLock()
	exp, ok := f.tests[testID]
	if !ok {
		f.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}
	// Snapshot under the read lock so a mid-computation RecordResult
	// never skews the split.
	outcomes := append([]models.Outcome(nil), f.outcomes[testID]...)
	test := *exp
	f.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var groupA, groupB []float64
	for _, o := range outcomes {
		switch o.Model {
		case test.ModelA:
			groupA = append(groupA, o.Value)
		case test.ModelB:
			groupB = append(groupB, o.Value)
		}
	}

	result := &models.ABTestResult{
		TestID:         testID,
		TestName:       test.Name,
		ModelA:         test.ModelA,
		ModelB:         test.ModelB,
		PValue:         1,
		SampleSizeA:    len(groupA),
		SampleSizeB:    len(groupB),
		MetricAMean:    stats.Mean(groupA),
		MetricBMean:    stats.Mean(groupB),
		Recommendation: RecommendContinueTest,
		Method:         f.analyzer.Name(),
	}

	if len(groupA) < test.MinimumSampleSize || len(groupB) < test.MinimumSampleSize {
		result.Notes = "insufficient data for significance testing"
		return result, nil
	}

	if result.MetricAMean != 0 {
		result.ImprovementPercentage = (result.MetricBMean - result.MetricAMean) / result.MetricAMean * 100
	}

	tt, err := f.analyzer.CompareMeans(groupA, groupB, f.significanceLevel)
	if err != nil {
		result.Notes = fmt.Sprintf("could not analyze: %v", err)
		return result, nil
	}

	result.Method = tt.Method
	result.PValue = tt.PValue
	result.ConfidenceInterval = [2]float64{tt.CILow, tt.CIHigh}
	result.EffectSize = stats.CohenD(groupA, groupB)
	result.IsSignificant = tt.PValue < f.significanceLevel

	if result.IsSignificant {
		if result.MetricBMean > result.MetricAMean {
			result.WinningModel = test.ModelB
		} else {
			result.WinningModel = test.ModelA
		}
		result.Recommendation = RecommendDeployWinner
	}

	f.logger.Info("A/B test significance computed",
		zap.String("test_id", testID),
		zap.Bool("is_significant", result.IsSignificant),
		zap.Float64("p_value", result.PValue),
		zap.String("winning_model", result.WinningModel))

	return result, nil
}
