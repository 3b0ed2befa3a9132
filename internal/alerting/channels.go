package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// Notifier is the outbound notification sink boundary. Concrete
// transports live behind it; the alerting core only records that a
// send was attempted.
type Notifier interface {
	Send(ctx context.Context, event *models.AlertEvent, recipients []string) error
}

// LogNotifier writes alert events to the structured log. It is the
// default channel and the one used in tests.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notification channel
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send implements Notifier
func (n *LogNotifier) Send(_ context.Context, event *models.AlertEvent, recipients []string) error {
	n.logger.Warn("ALERT NOTIFICATION",
		zap.String("alert", event.AlertName),
		zap.String("model", event.ModelName),
		zap.String("metric", event.Metric),
		zap.Float64("value", event.Value),
		zap.String("severity", string(event.Severity)),
		zap.Strings("recipients", recipients))
	return nil
}

// WebhookNotifier POSTs alert events as JSON to a webhook endpoint
// (Slack-style incoming webhooks and pager bridges).
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook channel for the given URL
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements Notifier
func (n *WebhookNotifier) Send(ctx context.Context, event *models.AlertEvent, recipients []string) error {
	payload, err := json.Marshal(map[string]any{
		"alert":      event.AlertName,
		"model":      event.ModelName,
		"metric":     event.Metric,
		"value":      event.Value,
		"threshold":  event.Threshold,
		"severity":   event.Severity,
		"escalated":  event.Escalated,
		"timestamp":  event.Timestamp.Format(time.RFC3339),
		"recipients": recipients,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// KafkaNotifier publishes alert events to a Kafka topic so downstream
// consumers (pager bridges, audit sinks) can fan out delivery.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a Kafka channel writing to the given topic
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &KafkaNotifier{writer: w}
}

// Send implements Notifier. Events are keyed by model name so one
// model's alerts stay ordered within a partition.
func (n *KafkaNotifier) Send(ctx context.Context, event *models.AlertEvent, recipients []string) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ModelName),
		Value: value,
	})
}

// Close shuts down the Kafka writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
