// Package alerting evaluates named alert rules against incoming metric
// samples, enforces cooldown and escalation bookkeeping, and dispatches
// notifications to configured channels.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// Comparison operators accepted in alert configurations
const (
	CompareGreaterThan = "greater_than"
	CompareLessThan    = "less_than"
	CompareEqualTo     = "equal_to"
)

// DefaultHistorySize bounds the retained alert event log
const DefaultHistorySize = 10000

// ErrInvalidConfig marks a rejected alert configuration
var ErrInvalidConfig = errors.New("invalid alert configuration")

// MetricSample is the alert-evaluation view of one metric observation
type MetricSample struct {
	ModelName string    `json:"model_name"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// cooldownKey scopes cooldown and escalation state per (alert, model)
type cooldownKey struct {
	alertName string
	modelName string
}

// System is the alerting engine. Cooldown and escalation counters are
// shared mutable state updated under one mutex so concurrent checks
// can never double-fire within a cooldown window.
type System struct {
	logger    *zap.Logger
	validate  *validator.Validate
	notifiers map[string]Notifier

	mu          sync.Mutex
	configs     map[string]models.AlertConfiguration
	history     []models.AlertEvent
	historySize int
	lastFired   map[cooldownKey]time.Time
	fireCounts  map[cooldownKey]int

	now func() time.Time
}

// Option customizes a System
type Option func(*System)

// WithHistorySize bounds the retained alert history
func WithHistorySize(n int) Option {
	return func(s *System) { s.historySize = n }
}

// WithNotifier registers a notification channel under a name
// referenced by AlertConfiguration.NotificationChannels.
func WithNotifier(name string, n Notifier) Option {
	return func(s *System) { s.notifiers[name] = n }
}

// NewSystem creates an alerting system
func NewSystem(logger *zap.Logger, opts ...Option) *System {
	s := &System{
		logger:      logger,
		validate:    validator.New(),
		notifiers:   make(map[string]Notifier),
		configs:     make(map[string]models.AlertConfiguration),
		historySize: DefaultHistorySize,
		lastFired:   make(map[cooldownKey]time.Time),
		fireCounts:  make(map[cooldownKey]int),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConfigureAlert registers or overwrites a named rule. Invalid
// configurations are rejected here, never silently ignored.
func (s *System) ConfigureAlert(name string, cfg models.AlertConfiguration) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidConfig, name, err)
	}
	if cfg.EscalationAfterAlerts > 0 && cfg.EscalationSeverity == "" {
		return fmt.Errorf("%w: %q: escalation count set without escalation severity", ErrInvalidConfig, name)
	}

	s.mu.Lock()
	s.configs[name] = cfg
	s.mu.Unlock()

	s.logger.Info("Configured alert",
		zap.String("alert", name),
		zap.String("model", cfg.ModelName),
		zap.String("metric", cfg.Metric))
	return nil
}

// GetAlertConfigurations returns a snapshot of all configured rules
func (s *System) GetAlertConfigurations() map[string]models.AlertConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.AlertConfiguration, len(s.configs))
	for k, v := range s.configs {
		out[k] = v
	}
	return out
}

// CheckAndTriggerAlert evaluates one sample against the named rule.
// A firing within the rule's cooldown window is suppressed. On
// violation the event is appended to the bounded history and
// dispatched to the configured channels; dispatch failures are logged
// and never fail the check.
func (s *System) CheckAndTriggerAlert(ctx context.Context, name string, sample MetricSample) (bool, error) {
	s.mu.Lock()

	cfg, ok := s.configs[name]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	if sample.ModelName != cfg.ModelName || sample.Metric != cfg.Metric {
		s.mu.Unlock()
		return false, nil
	}

	now := s.now()
	key := cooldownKey{alertName: name, modelName: cfg.ModelName}

	if last, fired := s.lastFired[key]; fired {
		if now.Sub(last) < cfg.Cooldown {
			s.mu.Unlock()
			return false, nil
		}
		// A full extra cooldown with no firing counts as recovery:
		// the escalation counter restarts rather than growing forever.
		if cfg.Cooldown > 0 && now.Sub(last) >= 2*cfg.Cooldown {
			s.fireCounts[key] = 0
		}
	}

	violated := false
	switch cfg.Comparison {
	case CompareGreaterThan:
		violated = sample.Value > cfg.Threshold
	case CompareLessThan:
		violated = sample.Value < cfg.Threshold
	case CompareEqualTo:
		violated = sample.Value == cfg.Threshold
	}
	if !violated {
		s.mu.Unlock()
		return false, nil
	}

	ts := sample.Timestamp
	if ts.IsZero() {
		ts = now
	}

	event := models.AlertEvent{
		ID:         uuid.New(),
		AlertName:  name,
		ModelName:  cfg.ModelName,
		Metric:     cfg.Metric,
		Value:      sample.Value,
		Threshold:  cfg.Threshold,
		Comparison: cfg.Comparison,
		Severity:   cfg.Severity,
		Timestamp:  ts,
	}

	s.fireCounts[key]++
	if cfg.EscalationAfterAlerts > 0 && s.fireCounts[key] >= cfg.EscalationAfterAlerts {
		event.Severity = cfg.EscalationSeverity
		event.Escalated = true
		s.logger.Warn("Alert escalated",
			zap.String("alert", name),
			zap.String("severity", string(event.Severity)),
			zap.Int("firings", s.fireCounts[key]))
	}

	s.lastFired[key] = now
	s.mu.Unlock()

	// Dispatch outside the lock: a slow channel must not stall
	// concurrent cooldown checks.
	event.Sent = s.dispatch(ctx, &event, cfg)

	s.mu.Lock()
	s.appendHistory(event)
	s.mu.Unlock()

	s.logger.Warn("Alert triggered",
		zap.String("alert", name),
		zap.String("model", cfg.ModelName),
		zap.String("metric", cfg.Metric),
		zap.Float64("value", sample.Value),
		zap.Float64("threshold", cfg.Threshold),
		zap.String("severity", string(event.Severity)))

	return true, nil
}

// appendHistory keeps the newest historySize events. Caller holds s.mu.
func (s *System) appendHistory(event models.AlertEvent) {
	s.history = append(s.history, event)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
}

// dispatch attempts every configured channel. The system guarantees
// the attempt, not delivery.
func (s *System) dispatch(ctx context.Context, event *models.AlertEvent, cfg models.AlertConfiguration) bool {
	channels := cfg.NotificationChannels
	if len(channels) == 0 {
		channels = []string{"log"}
	}

	attempted := false
	for _, channel := range channels {
		notifier, ok := s.notifiers[channel]
		if !ok {
			s.logger.Warn("Unknown notification channel",
				zap.String("alert", event.AlertName),
				zap.String("channel", channel))
			continue
		}
		if err := notifier.Send(ctx, event, cfg.Recipients); err != nil {
			s.logger.Error("Notification dispatch failed",
				zap.String("alert", event.AlertName),
				zap.String("channel", channel),
				zap.Error(err))
			continue
		}
		attempted = true
	}
	return attempted
}

// GetRecentAlerts returns the bounded history of firings within the
// last `hours` hours, for dashboard and audit use.
func (s *System) GetRecentAlerts(hours int) []models.AlertEvent {
	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.AlertEvent
	for _, event := range s.history {
		if !event.Timestamp.Before(cutoff) {
			out = append(out, event)
		}
	}
	return out
}
