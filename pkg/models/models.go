package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity indicates how urgent an alert is
type AlertSeverity string

const (
	SeverityLow       AlertSeverity = "low"
	SeverityMedium    AlertSeverity = "medium"
	SeverityHigh      AlertSeverity = "high"
	SeverityCritical  AlertSeverity = "critical"
	SeverityEmergency AlertSeverity = "emergency"
)

// DriftType identifies which distribution a drift check compared
type DriftType string

const (
	FeatureDrift    DriftType = "feature_drift"
	PredictionDrift DriftType = "prediction_drift"
	ConfidenceDrift DriftType = "confidence_drift"
)

// PerformanceMetric is one observation for one model at one instant.
// The well-known metric columns get first-class storage; anything else
// a pipeline reports lands in Extra.
type PerformanceMetric struct {
	ID        uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	ModelName string    `json:"model_name" gorm:"index:idx_metrics_model_time,priority:1" validate:"required"`
	Timestamp time.Time `json:"timestamp" gorm:"index:idx_metrics_model_time,priority:2" validate:"required"`

	Accuracy          *float64 `json:"accuracy,omitempty"`
	Precision         *float64 `json:"precision,omitempty" gorm:"column:precision_score"`
	Recall            *float64 `json:"recall,omitempty"`
	F1Score           *float64 `json:"f1_score,omitempty"`
	AUCROC            *float64 `json:"auc_roc,omitempty" gorm:"column:auc_roc"`
	SatisfactionScore *float64 `json:"satisfaction_score,omitempty"`
	MatchQuality      *float64 `json:"match_quality,omitempty"`
	RelevanceScore    *float64 `json:"relevance_score,omitempty"`

	InferenceTimeMS float64  `json:"inference_time_ms"`
	ResponseTimeMS  *float64 `json:"response_time_ms,omitempty"`
	PredictionCount int      `json:"prediction_count"`

	ErrorRate    *float64 `json:"error_rate,omitempty"`
	FailureCount int      `json:"failure_count"`

	ModelVersion string `json:"model_version,omitempty"`
	DataVersion  string `json:"data_version,omitempty"`

	// Extra holds domain-specific scores outside the fixed column set.
	Extra map[string]float64 `json:"extra,omitempty" gorm:"serializer:json"`
}

// TableName sets the metrics table name for GORM
func (PerformanceMetric) TableName() string { return "model_metrics" }

// well-known metric field names accepted by MetricFromValues and Value
const (
	MetricAccuracy          = "accuracy"
	MetricPrecision         = "precision"
	MetricRecall            = "recall"
	MetricF1Score           = "f1_score"
	MetricAUCROC            = "auc_roc"
	MetricSatisfactionScore = "satisfaction_score"
	MetricMatchQuality      = "match_quality"
	MetricRelevanceScore    = "relevance_score"
	MetricInferenceTimeMS   = "inference_time_ms"
	MetricResponseTimeMS    = "response_time_ms"
	MetricPredictionCount   = "prediction_count"
	MetricErrorRate         = "error_rate"
	MetricFailureCount      = "failure_count"
)

// MetricFromValues builds a PerformanceMetric from a free-form sample map.
// Known keys are promoted to first-class fields, the rest go to Extra.
func MetricFromValues(modelName string, ts time.Time, values map[string]float64) *PerformanceMetric {
	m := &PerformanceMetric{
		ModelName: modelName,
		Timestamp: ts,
	}
	for name, v := range values {
		v := v
		switch name {
		case MetricAccuracy:
			m.Accuracy = &v
		case MetricPrecision:
			m.Precision = &v
		case MetricRecall:
			m.Recall = &v
		case MetricF1Score:
			m.F1Score = &v
		case MetricAUCROC:
			m.AUCROC = &v
		case MetricSatisfactionScore:
			m.SatisfactionScore = &v
		case MetricMatchQuality:
			m.MatchQuality = &v
		case MetricRelevanceScore:
			m.RelevanceScore = &v
		case MetricInferenceTimeMS:
			m.InferenceTimeMS = v
		case MetricResponseTimeMS:
			m.ResponseTimeMS = &v
		case MetricPredictionCount:
			m.PredictionCount = int(v)
		case MetricErrorRate:
			m.ErrorRate = &v
		case MetricFailureCount:
			m.FailureCount = int(v)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]float64)
			}
			m.Extra[name] = v
		}
	}
	return m
}

// Value returns the named numeric field, or false when the metric does
// not carry it.
func (m *PerformanceMetric) Value(name string) (float64, bool) {
	deref := func(p *float64) (float64, bool) {
		if p == nil {
			return 0, false
		}
		return *p, true
	}
	switch name {
	case MetricAccuracy:
		return deref(m.Accuracy)
	case MetricPrecision:
		return deref(m.Precision)
	case MetricRecall:
		return deref(m.Recall)
	case MetricF1Score:
		return deref(m.F1Score)
	case MetricAUCROC:
		return deref(m.AUCROC)
	case MetricSatisfactionScore:
		return deref(m.SatisfactionScore)
	case MetricMatchQuality:
		return deref(m.MatchQuality)
	case MetricRelevanceScore:
		return deref(m.RelevanceScore)
	case MetricInferenceTimeMS:
		return m.InferenceTimeMS, true
	case MetricResponseTimeMS:
		return deref(m.ResponseTimeMS)
	case MetricPredictionCount:
		return float64(m.PredictionCount), true
	case MetricErrorRate:
		return deref(m.ErrorRate)
	case MetricFailureCount:
		return float64(m.FailureCount), true
	default:
		v, ok := m.Extra[name]
		return v, ok
	}
}

// Values flattens all present numeric fields into a map, Extra included.
func (m *PerformanceMetric) Values() map[string]float64 {
	out := make(map[string]float64, 8+len(m.Extra))
	for _, name := range []string{
		MetricAccuracy, MetricPrecision, MetricRecall, MetricF1Score, MetricAUCROC,
		MetricSatisfactionScore, MetricMatchQuality, MetricRelevanceScore,
		MetricInferenceTimeMS, MetricResponseTimeMS, MetricPredictionCount,
		MetricErrorRate, MetricFailureCount,
	} {
		if v, ok := m.Value(name); ok {
			out[name] = v
		}
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}

// DriftAnalysisResult is the output of one drift check for one model.
type DriftAnalysisResult struct {
	ID                uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	ModelName         string    `json:"model_name" gorm:"index:idx_drift_model_time,priority:1"`
	AnalysisTimestamp time.Time `json:"analysis_timestamp" gorm:"index:idx_drift_model_time,priority:2"`
	DriftType         DriftType `json:"drift_type"`

	DriftDetected  bool    `json:"drift_detected"`
	DriftMagnitude float64 `json:"drift_magnitude"` // 0-1 normalized distance
	DriftScore     float64 `json:"drift_score"`     // smallest observed p-value

	FeatureDriftScores map[string]float64 `json:"feature_drift_scores,omitempty" gorm:"serializer:json"`
	DriftedFeatures    []string           `json:"drifted_features,omitempty" gorm:"serializer:json"`

	BaselineMean *float64 `json:"baseline_mean,omitempty"`
	CurrentMean  *float64 `json:"current_mean,omitempty"`

	RecommendedActions []string `json:"recommended_actions,omitempty" gorm:"serializer:json"`
	UrgencyLevel       string   `json:"urgency_level"`

	SampleSize     int    `json:"sample_size"`
	BaselinePeriod string `json:"baseline_period,omitempty"`

	// Method records whether the verdict came from a statistical test or
	// the mean-shift heuristic, so consumers can badge degraded results.
	Method       string `json:"method"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// TableName sets the drift results table name for GORM
func (DriftAnalysisResult) TableName() string { return "drift_results" }

// MetricThresholds bounds a single metric for one model
type MetricThresholds struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// ThresholdViolation flags a metric value outside its configured bounds
type ThresholdViolation struct {
	Metric        string        `json:"metric"`
	Value         float64       `json:"value"`
	Threshold     float64       `json:"threshold"`
	ViolationType string        `json:"violation_type"` // below_minimum, above_maximum
	Severity      AlertSeverity `json:"severity"`
}

// TrendAnalysis summarizes the direction of a metric over a window
type TrendAnalysis struct {
	Direction    string   `json:"trend_direction"` // improving, declining, stable, insufficient_data
	ChangeRate   float64  `json:"change_rate"`
	Significance float64  `json:"significance_level"`
	RSquared     *float64 `json:"r_squared,omitempty"`
	SampleSize   int      `json:"sample_size"`
	StartValue   float64  `json:"start_value"`
	EndValue     float64  `json:"end_value"`
	Method       string   `json:"method"`
}

// AlertConfiguration is a named alerting rule
type AlertConfiguration struct {
	ModelName  string        `json:"model_name" validate:"required"`
	Metric     string        `json:"metric" validate:"required"`
	Threshold  float64       `json:"threshold"`
	Comparison string        `json:"comparison" validate:"required,oneof=greater_than less_than equal_to"`
	Severity   AlertSeverity `json:"severity" validate:"required,oneof=low medium high critical emergency"`
	Cooldown   time.Duration `json:"cooldown" validate:"min=0"`

	// Escalation: after EscalationAfterAlerts firings the emitted severity
	// is upgraded to EscalationSeverity.
	EscalationAfterAlerts int           `json:"escalation_after_alerts,omitempty" validate:"min=0"`
	EscalationSeverity    AlertSeverity `json:"escalation_severity,omitempty" validate:"omitempty,oneof=low medium high critical emergency"`

	NotificationChannels []string `json:"notification_channels,omitempty"`
	Recipients           []string `json:"recipients,omitempty"`
}

// AlertEvent is one firing of an alert configuration
type AlertEvent struct {
	ID         uuid.UUID     `json:"id"`
	AlertName  string        `json:"alert_name"`
	ModelName  string        `json:"model_name"`
	Metric     string        `json:"metric"`
	Value      float64       `json:"value"`
	Threshold  float64       `json:"threshold"`
	Comparison string        `json:"comparison"`
	Severity   AlertSeverity `json:"severity"`
	Escalated  bool          `json:"escalated,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Sent       bool          `json:"sent"`
}

// ExperimentStatus is the lifecycle state of an A/B test
type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "draft"
	ExperimentActive    ExperimentStatus = "active"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCompleted ExperimentStatus = "completed"
)

// Experiment is an A/B test between two model variants
type Experiment struct {
	ID                string           `json:"id"`
	Name              string           `json:"name" validate:"required"`
	ModelA            string           `json:"model_a" validate:"required"`
	ModelB            string           `json:"model_b" validate:"required"`
	TrafficSplit      float64          `json:"traffic_split" validate:"min=0,max=1"`
	SuccessMetric     string           `json:"success_metric" validate:"required"`
	MinimumSampleSize int              `json:"minimum_sample_size" validate:"min=0"`
	MaxDurationDays   int              `json:"max_duration_days,omitempty"`
	Status            ExperimentStatus `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
}

// Outcome is one recorded result for an experiment variant
type Outcome struct {
	Model     string    `json:"model"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ABTestResult is the statistical comparison of an experiment's variants
type ABTestResult struct {
	TestID   string `json:"test_id"`
	TestName string `json:"test_name"`
	ModelA   string `json:"model_a"`
	ModelB   string `json:"model_b"`

	IsSignificant      bool       `json:"is_significant"`
	PValue             float64    `json:"p_value"`
	ConfidenceInterval [2]float64 `json:"confidence_interval"`
	EffectSize         float64    `json:"effect_size"`

	SampleSizeA int `json:"sample_size_a"`
	SampleSizeB int `json:"sample_size_b"`

	MetricAMean           float64 `json:"metric_a_mean"`
	MetricBMean           float64 `json:"metric_b_mean"`
	ImprovementPercentage float64 `json:"improvement_percentage"`

	WinningModel   string `json:"winning_model,omitempty"`
	Recommendation string `json:"recommendation"` // deploy_winner, continue_test
	Method         string `json:"method"`
	Notes          string `json:"notes,omitempty"`
}

// MetricSnapshot is a dashboard feed entry: the raw sample as ingested
type MetricSnapshot struct {
	ModelName string             `json:"model"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}
