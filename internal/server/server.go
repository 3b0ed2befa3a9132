// Package server exposes the monitoring service over HTTP: ingestion
// and baseline-setting for collaborator pipelines, query endpoints for
// dashboards and CLIs, and a websocket live metric feed.
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/enterprisehub/mlmonitor/internal/abtest"
	"github.com/enterprisehub/mlmonitor/internal/dashboard"
	"github.com/enterprisehub/mlmonitor/internal/monitoring"
	"github.com/enterprisehub/mlmonitor/pkg/models"
)

// Server is the HTTP front of the monitoring service
type Server struct {
	logger   *zap.Logger
	svc      *monitoring.Service
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP server around an orchestrator instance
func NewServer(logger *zap.Logger, svc *monitoring.Service) *Server {
	return &Server{
		logger: logger,
		svc:    svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with all routes and middleware
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/feed", s.handleFeedSocket)

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			mdl := v1.Group("/models")
			{
				mdl.GET("", s.handleListModels)
				mdl.POST("/:model/performance", s.handleRecordPerformance)
				mdl.GET("/:model/performance", s.handleGetPerformance)
				mdl.GET("/:model/trend", s.handleGetTrend)
				mdl.GET("/:model/drift", s.handleGetDriftResults)
				mdl.POST("/:model/drift/features", s.handleDetectFeatureDrift)
				mdl.POST("/:model/drift/predictions", s.handleDetectPredictionDrift)
				mdl.POST("/:model/drift/confidence", s.handleDetectConfidenceDrift)
				mdl.POST("/:model/baseline/features", s.handleSetFeatureBaseline)
				mdl.POST("/:model/baseline/predictions", s.handleSetPredictionBaseline)
				mdl.POST("/:model/baseline/confidence", s.handleSetConfidenceBaseline)
			}

			exp := v1.Group("/experiments")
			{
				exp.POST("", s.handleCreateExperiment)
				exp.GET("/:id", s.handleGetExperiment)
				exp.GET("/:id/assignment", s.handleGetAssignment)
				exp.POST("/:id/results", s.handleRecordResult)
				exp.GET("/:id/significance", s.handleGetSignificance)
			}

			alerts := v1.Group("/alerts")
			{
				alerts.PUT("/:name", s.handleConfigureAlert)
				alerts.GET("", s.handleGetRecentAlerts)
			}

			dash := v1.Group("/dashboard")
			{
				dash.GET("/latest", s.handleGetLatestMetrics)
				dash.GET("/aggregate", s.handleAggregate)
			}
		}
	}

	return router
}

func (s *Server) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.svc.GetRegisteredModels()})
}

func (s *Server) handleRecordPerformance(c *gin.Context) {
	var body map[string]float64
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.svc.RecordModelPerformance(c.Request.Context(), c.Param("model"), body); err != nil {
		// A failed store means the metric is lost; the producer must know.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

func (s *Server) handleGetPerformance(c *gin.Context) {
	hours := intQuery(c, "hours", 24)
	out, err := s.svc.GetModelPerformance(c.Request.Context(), c.Param("model"), hours)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": out})
}

func (s *Server) handleGetTrend(c *gin.Context) {
	metricName := c.DefaultQuery("metric", models.MetricAccuracy)
	days := intQuery(c, "days", 7)

	trend, err := s.svc.AnalyzePerformanceTrend(c.Request.Context(), c.Param("model"), metricName, days)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trend)
}

func (s *Server) handleGetDriftResults(c *gin.Context) {
	hours := intQuery(c, "hours", 24)
	out, err := s.svc.GetDriftResults(c.Request.Context(), c.Param("model"), hours)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (s *Server) handleDetectFeatureDrift(c *gin.Context) {
	var body map[string][]float64
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.svc.DetectFeatureDrift(c.Request.Context(), c.Param("model"), body))
}

func (s *Server) handleDetectPredictionDrift(c *gin.Context) {
	var body []float64
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.svc.DetectPredictionDrift(c.Request.Context(), c.Param("model"), body))
}

func (s *Server) handleDetectConfidenceDrift(c *gin.Context) {
	var body []float64
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.svc.DetectConfidenceDrift(c.Request.Context(), c.Param("model"), body))
}

func (s *Server) handleSetFeatureBaseline(c *gin.Context) {
	var body map[string][]float64
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.svc.SetBaselineDistribution(c.Param("model"), body)
	c.JSON(http.StatusOK, gin.H{"status": "baseline_set"})
}

func (s *Server) handleSetPredictionBaseline(c *gin.Context) {
	var body []float64
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.svc.SetBaselinePredictions(c.Param("model"), body)
	c.JSON(http.StatusOK, gin.H{"status": "baseline_set"})
}

func (s *Server) handleSetConfidenceBaseline(c *gin.Context) {
	var body []float64
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.svc.SetBaselineConfidence(c.Param("model"), body)
	c.JSON(http.StatusOK, gin.H{"status": "baseline_set"})
}

func (s *Server) handleCreateExperiment(c *gin.Context) {
	var cfg abtest.ExperimentConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	testID, err := s.svc.ABTests().CreateABTest(cfg)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"test_id": testID})
}

func (s *Server) handleGetExperiment(c *gin.Context) {
	exp := s.svc.ABTests().GetTestInfo(c.Param("id"))
	if exp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "test not found"})
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (s *Server) handleGetAssignment(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
		return
	}

	model := s.svc.ABTests().GetModelAssignment(c.Param("id"), subject)
	if model == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "test not found or not active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": model})
}

func (s *Server) handleRecordResult(c *gin.Context) {
	var body struct {
		Model string  `json:"model" binding:"required"`
		Value float64 `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.svc.ABTests().RecordResult(c.Param("id"), body.Model, body.Value); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, abtest.ErrTestNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

func (s *Server) handleGetSignificance(c *gin.Context) {
	result, err := s.svc.ABTests().CalculateTestSignificance(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, abtest.ErrTestNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleConfigureAlert(c *gin.Context) {
	var cfg models.AlertConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.svc.Alerts().ConfigureAlert(c.Param("name"), cfg); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

func (s *Server) handleGetRecentAlerts(c *gin.Context) {
	hours := intQuery(c, "hours", 24)
	c.JSON(http.StatusOK, gin.H{"alerts": s.svc.GetRecentAlerts(hours)})
}

func (s *Server) handleGetLatestMetrics(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	c.JSON(http.StatusOK, gin.H{"metrics": s.svc.GetLatestMetrics(limit)})
}

func (s *Server) handleAggregate(c *gin.Context) {
	limit := intQuery(c, "limit", 1000)
	interval := c.DefaultQuery("interval", "hour")

	samples := s.svc.GetLatestMetrics(limit)
	c.JSON(http.StatusOK, gin.H{
		"interval": interval,
		"points":   dashboard.AggregatePerformanceData(samples, interval),
	})
}

// handleFeedSocket streams live metric snapshots to a dashboard
// client. Slow clients drop snapshots rather than backing up writers.
func (s *Server) handleFeedSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var filter []string
	if model := c.Query("model"); model != "" {
		filter = []string{model}
	}

	snapshots, cancel := s.svc.Feed().Subscribe(filter...)
	defer cancel()

	// Drain client messages so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
