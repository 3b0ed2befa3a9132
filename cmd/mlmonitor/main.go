package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/internal/abtest"
	"github.com/enterprisehub/mlmonitor/internal/alerting"
	"github.com/enterprisehub/mlmonitor/internal/config"
	"github.com/enterprisehub/mlmonitor/internal/dashboard"
	"github.com/enterprisehub/mlmonitor/internal/drift"
	"github.com/enterprisehub/mlmonitor/internal/monitoring"
	"github.com/enterprisehub/mlmonitor/internal/server"
	"github.com/enterprisehub/mlmonitor/internal/stats"
	"github.com/enterprisehub/mlmonitor/internal/storage"
	"github.com/enterprisehub/mlmonitor/internal/tracker"
	"github.com/enterprisehub/mlmonitor/pkg/logger"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	backend, err := openBackend(cfg, log)
	if err != nil {
		log.Fatal("Failed to open storage backend",
			zap.String("driver", cfg.Storage.Driver),
			zap.Error(err))
	}
	defer backend.Close()

	var analyzer stats.Analyzer
	if cfg.Monitoring.UseHeuristicAnalyzer {
		analyzer = stats.NewHeuristic()
		log.Warn("Running with the heuristic analyzer; drift and significance results are degraded")
	} else {
		analyzer = stats.NewFull()
	}

	perfTracker := tracker.New(backend, analyzer, log)
	detector := drift.NewDetector(analyzer, log,
		drift.WithDriftThreshold(cfg.Monitoring.DriftThreshold),
		drift.WithMinSamples(cfg.Monitoring.MinSamples))
	abtests := abtest.New(analyzer, log,
		abtest.WithSignificanceLevel(cfg.Monitoring.SignificanceLevel),
		abtest.WithMinimumSampleSize(cfg.Monitoring.MinimumSampleSize))
	feed := dashboard.NewFeed(cfg.Monitoring.DashboardCapacity)

	alertOpts := []alerting.Option{
		alerting.WithHistorySize(cfg.Monitoring.AlertHistorySize),
		alerting.WithNotifier("log", alerting.NewLogNotifier(log)),
	}
	if cfg.Webhook.Enabled {
		alertOpts = append(alertOpts, alerting.WithNotifier("webhook", alerting.NewWebhookNotifier(cfg.Webhook.URL)))
	}
	var kafkaNotifier *alerting.KafkaNotifier
	if cfg.Kafka.Enabled {
		kafkaNotifier = alerting.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		alertOpts = append(alertOpts, alerting.WithNotifier("kafka", kafkaNotifier))
	}
	alerts := alerting.NewSystem(log, alertOpts...)

	svc := monitoring.NewService(log, backend, perfTracker, detector, abtests, alerts, feed)
	svc.SetAnalysisTimeout(cfg.Monitoring.AnalysisTimeout)
	if err := svc.InstallDefaultMonitoring(cfg.Monitoring.DefaultModels); err != nil {
		log.Fatal("Failed to install default monitoring", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.StartBackgroundJobs(ctx, cfg.Monitoring.BackgroundInterval, cfg.Storage.RetentionDays)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.NewServer(log, svc).Router(),
	}

	go func() {
		log.Info("Model monitoring service listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			log.Error("Kafka writer close failed", zap.Error(err))
		}
	}
}

func openBackend(cfg *config.Config, log *zap.Logger) (storage.Backend, error) {
	switch cfg.Storage.Driver {
	case "memory", "":
		return storage.NewMemoryBackend(cfg.Storage.MaxEntries), nil
	case "sqlite":
		db, err := storage.OpenSQLite(cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		return storage.NewSQLBackend(db, log)
	case "postgres":
		db, err := storage.OpenPostgres(cfg.Storage.DSN, cfg.Storage.MaxOpenConns, cfg.Storage.MaxIdleConns, cfg.Storage.ConnMaxLifetime)
		if err != nil {
			return nil, err
		}
		return storage.NewSQLBackend(db, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
