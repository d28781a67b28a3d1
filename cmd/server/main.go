package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/pflag"

	"github.com/aquasentinel/complaint-engine/internal/assignment"
	"github.com/aquasentinel/complaint-engine/internal/classifier"
	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
	"github.com/aquasentinel/complaint-engine/internal/escalation"
	"github.com/aquasentinel/complaint-engine/internal/geo"
	"github.com/aquasentinel/complaint-engine/internal/handlers"
	"github.com/aquasentinel/complaint-engine/internal/kafka"
	"github.com/aquasentinel/complaint-engine/internal/lifecycle"
	"github.com/aquasentinel/complaint-engine/internal/metrics"
	"github.com/aquasentinel/complaint-engine/internal/middleware"
	"github.com/aquasentinel/complaint-engine/internal/notification"
	"github.com/aquasentinel/complaint-engine/internal/realtime"
	"github.com/aquasentinel/complaint-engine/internal/registry"
	"github.com/aquasentinel/complaint-engine/internal/scheduler"
	"github.com/aquasentinel/complaint-engine/internal/scoring"
)

const (
	serviceName = "complaint-engine"
	version     = "1.0.0"
)

func main() {
	var (
		configPath = pflag.String("config", "", "path to config file (default: search standard locations)")
		httpPort   = pflag.Int("port", 0, "HTTP port (overrides config)")
		logLevel   = pflag.String("log-level", "", "log level (overrides config)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *httpPort > 0 {
		cfg.Server.HTTPPort = *httpPort
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := setupLogging(&cfg)
	logger.Info("Starting complaint engine",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", "error", err)
		}
	}()

	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Repositories
	complaintRepo := database.NewComplaintRepository(db, logger)
	escalationRepo := database.NewEscalationRepository(db, logger)
	officerRepo := database.NewOfficerRepository(db, logger)
	waterBodyRepo := database.NewWaterBodyRepository(db, logger)
	notificationRepo := database.NewNotificationRepository(db, logger)

	collector := metrics.NewCollector()

	// Geo-fence registry over the water body mirror
	validator := geo.NewValidator(cfg.Geo.NearRadiusMeters)
	waterBodyRegistry := registry.New(waterBodyRepo, validator, cfg.Geo, cfg.Registry, logger)

	scorer := scoring.NewScorer(cfg.Scoring, cfg.SLA)

	var cls classifier.Classifier = classifier.Noop{}
	if cfg.Classifier.Enabled {
		cls = classifier.NewHTTPClient(cfg.Classifier, logger)
	}

	notificationManager, err := notification.NewManager(cfg.Notifications, notificationRepo, officerRepo, collector, logger)
	if err != nil {
		logger.Error("Failed to create notification manager", "error", err)
		os.Exit(1)
	}

	hub := realtime.NewHub(realtime.NewRedisClientOrNil(cfg.Redis), logger)

	var producer *kafka.Producer
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, logger)
		consumer = kafka.NewConsumer(cfg.Kafka, waterBodyRepo, waterBodyRegistry, logger)
	}

	emitters := []lifecycle.Emitter{collector, notificationManager, hub}
	sinks := []escalation.Sink{collector, notificationManager, hub}
	if producer != nil {
		emitters = append(emitters, producer)
		sinks = append(sinks, producer)
	}

	assigner := assignment.New(complaintRepo, scorer, logger)

	pipeline := lifecycle.NewService(
		complaintRepo,
		waterBodyRegistry,
		cls,
		scorer,
		assigner,
		cfg.Scoring,
		logger,
		emitters...,
	)

	escalationRunner := escalation.NewRunner(
		escalation.PolicyFromConfig(cfg.Escalation),
		complaintRepo,
		escalationRepo,
		cfg.Scheduler.EscalationBatchSize,
		logger,
		sinks...,
	)

	taskScheduler := scheduler.New(logger)
	if cfg.Scheduler.Enabled {
		mustRegister := func(spec string, handler scheduler.TaskHandler) {
			if err := taskScheduler.Register(spec, handler); err != nil {
				logger.Error("Failed to register scheduled task", "task", handler.Name(), "error", err)
				os.Exit(1)
			}
		}
		mustRegister(cfg.Scheduler.EscalationPassSpec,
			scheduler.NewEscalationPassHandler(escalationRunner, collector, logger))
		mustRegister(cfg.Scheduler.DispatchRetrySpec,
			scheduler.NewDispatchRetryHandler(complaintRepo, pipeline, cfg.Assignment.DispatchRetryGrace, cfg.Scheduler.DispatchRetryBatch, logger))
		mustRegister(cfg.Scheduler.StatsRefreshSpec,
			scheduler.NewStatsRefreshHandler(complaintRepo, collector, cfg.Registry.RiskThreshold, logger))
	}

	httpHandler := handlers.NewHTTPHandler(
		&cfg,
		logger,
		pipeline,
		complaintRepo,
		escalationRepo,
		waterBodyRepo,
		notificationRepo,
		taskScheduler,
		db,
		hub.HandleWS,
	)

	router := mux.NewRouter()
	router.Use(middleware.Logging(logger), middleware.Metrics())

	httpHandler.RegisterPublic(router)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(cfg.Auth, logger))
	httpHandler.RegisterProtected(api)

	ws := router.PathPrefix("/ws").Subrouter()
	ws.Use(middleware.Auth(cfg.Auth, logger))
	httpHandler.RegisterRealtime(ws)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notificationManager.Start(ctx)
	hub.Start(ctx)
	if producer != nil {
		producer.Start(ctx)
	}
	if consumer != nil {
		consumer.Start(ctx)
	}
	if cfg.Scheduler.Enabled {
		taskScheduler.Start()
	}

	go func() {
		logger.Info("Starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
	}

	if cfg.Scheduler.Enabled {
		taskScheduler.Stop()
	}
	if consumer != nil {
		consumer.Stop()
	}
	if producer != nil {
		producer.Stop()
	}
	cancel()
	notificationManager.Stop()
	hub.Stop()

	logger.Info("Service shutdown complete")
}

// setupLogging configures structured logging
func setupLogging(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Debug,
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" || cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOptions)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOptions)
	}

	logger := slog.New(handler)
	logger = logger.With(
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment,
	)

	slog.SetDefault(logger)
	return logger
}
