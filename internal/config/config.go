// Package config loads service configuration from environment
// variables and an optional YAML file.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig selects and tunes the storage backend
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxEntries      int    `mapstructure:"max_entries"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
	RetentionDays   int    `mapstructure:"retention_days"`
}

// MonitoringConfig tunes the analysis components
type MonitoringConfig struct {
	DriftThreshold       float64       `mapstructure:"drift_threshold"`
	MinSamples           int           `mapstructure:"min_samples"`
	SignificanceLevel    float64       `mapstructure:"significance_level"`
	MinimumSampleSize    int           `mapstructure:"minimum_sample_size"`
	DashboardCapacity    int           `mapstructure:"dashboard_capacity"`
	AlertHistorySize     int           `mapstructure:"alert_history_size"`
	BackgroundInterval   time.Duration `mapstructure:"background_interval"`
	AnalysisTimeout      time.Duration `mapstructure:"analysis_timeout"`
	UseHeuristicAnalyzer bool          `mapstructure:"use_heuristic_analyzer"`

	// DefaultModels get the stock threshold and alert set installed at
	// startup.
	DefaultModels []string `mapstructure:"default_models"`
}

// KafkaConfig configures the Kafka alert notification channel
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// WebhookConfig configures the webhook alert notification channel
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// Config is the full service configuration
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
}

// LoadConfig reads configuration from MLMONITOR_* environment
// variables and, when present, a mlmonitor.yaml file in the working
// directory or /etc/mlmonitor.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8085")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "mlmonitor.db")
	v.SetDefault("storage.max_entries", 10000)
	v.SetDefault("storage.retention_days", 90)
	v.SetDefault("monitoring.drift_threshold", 0.05)
	v.SetDefault("monitoring.min_samples", 100)
	v.SetDefault("monitoring.significance_level", 0.05)
	v.SetDefault("monitoring.minimum_sample_size", 100)
	v.SetDefault("monitoring.dashboard_capacity", 1000)
	v.SetDefault("monitoring.alert_history_size", 10000)
	v.SetDefault("monitoring.background_interval", time.Hour)
	v.SetDefault("monitoring.analysis_timeout", 30*time.Second)
	v.SetDefault("kafka.topic", "model.alerts")

	v.SetConfigName("mlmonitor")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mlmonitor")

	v.SetEnvPrefix("MLMONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
