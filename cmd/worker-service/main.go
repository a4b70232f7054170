package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/fanout-publisher/internal/api/handler"
	"github.com/cuongbtq/fanout-publisher/internal/api/router"
	"github.com/cuongbtq/fanout-publisher/internal/config"
	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform/setup"
	"github.com/cuongbtq/fanout-publisher/internal/queue"
	"github.com/cuongbtq/fanout-publisher/internal/storage"
	"github.com/cuongbtq/fanout-publisher/internal/worker"
	"github.com/cuongbtq/fanout-publisher/shared/logger"
	"github.com/cuongbtq/fanout-publisher/shared/minio"
	"github.com/cuongbtq/fanout-publisher/shared/postgresql"
	"github.com/cuongbtq/fanout-publisher/shared/rabbitmq"
)

// drainGrace bounds the wait for attempts to settle after their context is canceled
const drainGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	if err := os.MkdirAll(cfg.Worker.TempDir, 0o750); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	workerID := "worker-" + uuid.New().String()
	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	if err := dbClient.RegisterMetrics(prometheus.DefaultRegisterer, cfg.Database.Database); err != nil {
		appLogger.Warn("Database pool metrics disabled", slog.Any("error", err))
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Initialize MinIO client
	blobClient, err := minio.NewClient(ctx, &minio.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize MinIO: %w", err)
	}

	registry, err := setup.Registry(ctx, &cfg.Platforms,
		storage.NewCredentialStore(dbClient.GetDB(), domain.PlatformTikTok, appLogger.Logger), nil, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to configure platforms: %w", err)
	}

	orchestrator := worker.NewOrchestrator(&worker.OrchestratorConfig{
		Logger:   appLogger.Logger,
		Jobs:     storage.NewJobStore(dbClient.GetDB(), appLogger.Logger),
		Blobs:    blobClient,
		Adapters: registry,
		Policy: worker.RetryPolicy{
			MaxRetries: cfg.Worker.MaxRetries,
			BaseDelay:  cfg.Worker.RetryBaseDelay,
		},
		TempDir: cfg.Worker.TempDir,
	})

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Consumer:      rabbitClient,
		Scheduler:     queue.NewPublisher(rabbitClient, appLogger.Logger),
		Attempter:     orchestrator,
		WorkerID:      workerID,
		QueueName:     cfg.RabbitMQ.Queue.Name,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:    cfg.Worker.JobTimeout,
	})

	metricsSrv := startMetricsServer(cfg.Worker.MetricsPort, &handler.Dependencies{
		Logger:      appLogger.Logger,
		ServiceName: cfg.App.Name,
		HealthChecks: map[string]handler.HealthChecker{
			"postgres": dbClient,
			"rabbitmq": rabbitClient,
			"minio":    blobClient,
		},
	})

	// Start worker in a goroutine
	done := make(chan error, 1)
	go func() {
		done <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
		}
		shutdownMetrics(metricsSrv, appLogger.Logger)
		return err
	}

	// Stop consuming and let in-flight attempts finish
	workerInstance.Stop()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker error during shutdown", slog.Any("error", err))
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, canceling in-flight attempts")
		cancel()
		select {
		case <-done:
		case <-time.After(drainGrace):
			appLogger.Warn("In-flight attempts did not settle, forcing exit")
		}
	}

	shutdownMetrics(metricsSrv, appLogger.Logger)

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// startMetricsServer exposes /metrics and /health on port. A zero port disables it.
func startMetricsServer(port int, deps *handler.Dependencies) *http.Server {
	if port == 0 {
		return nil
	}
	logger := deps.Logger
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router.SetupOpsRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	logger.Info("Metrics server started", slog.String("address", srv.Addr))
	return srv
}

func shutdownMetrics(srv *http.Server, logger *slog.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Metrics server shutdown failed", slog.Any("error", err))
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
