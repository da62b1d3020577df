package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/api"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/config"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/events"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/health"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/messaging"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/providerapi"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/repository"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/service"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/strategy"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry(telemetry.Options{
		ServiceName:    "terminal-orchestrator",
		ServiceVersion: service.Version,
		Endpoint:       cfg.JaegerEndpoint,
	}); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	logger := telemetry.Logger
	logger.Info("Starting Terminal Orchestrator", zap.String("provider", cfg.Provider))

	checker := health.NewChecker(cfg.HealthTimeout, logger)
	opts := service.Options{
		Timeout: cfg.TransactionTimeout,
		Logger:  logger,
		Verify: service.VerifyPolicy{
			Attempts:       cfg.VerifyAttempts,
			AttemptTimeout: cfg.VerifyAttemptTimeout,
			RetryDelay:     cfg.VerifyRetryDelay,
		},
		HealthCheck: checker,
		Metrics:     service.NewMetrics(prometheus.DefaultRegisterer),
	}
	if cfg.AutoResetEnabled {
		opts.AutoReset = &service.AutoResetPolicy{
			SuccessDelay: cfg.AutoResetSuccess,
			FailureDelay: cfg.AutoResetFailure,
		}
	}

	// Connect to PostgreSQL
	var repo *repository.TransactionRepository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		repo = repository.NewTransactionRepository(db)
		if err := repo.InitDB(); err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		opts.Persistence = repo
		checker.Add("postgres", health.PostgresProbe(db))
	}

	// Connect to Redis only when a component uses it, so an unused
	// Redis cannot fail the health gate.
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		defer redisClient.Close()
		checker.Add("redis", health.RedisProbe(redisClient))
	}
	if cfg.IdempotencyKeys {
		opts.Idempotency = repository.NewRedisIdempotencyStore(redisClient)
	}

	// Connect to Kafka
	if cfg.KafkaBrokers != "" {
		kafkaWriter := events.NewKafkaWriter(cfg.KafkaBrokers)
		defer kafkaWriter.Close()
		opts.Events = events.NewKafkaPublisher(kafkaWriter)
	}

	// Payment API and notifications
	apiClient := providerapi.NewClient(providerapi.Config{
		BaseURL:          cfg.PaymentAPIURL,
		APIKey:           cfg.PaymentAPIKey,
		Timeout:          cfg.APITimeout,
		FailureThreshold: cfg.BreakerThreshold,
		Retries:          cfg.APIRetries,
	}, logger)
	if cfg.Provider != models.ProviderMock {
		checker.Add("payment_api", health.APIProbe(apiClient))
	}

	subscriber, closeSubscriber, err := newSubscriber(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to set up notifications", zap.Error(err))
	}
	defer closeSubscriber()

	orchestrator, err := service.NewFromConfig(
		models.TerminalConfig{Provider: cfg.Provider, KioskID: cfg.KioskID, StoreID: cfg.StoreID},
		apiClient,
		subscriber,
		strategy.Timings{
			NotificationWait: cfg.NotificationWait,
			PollInterval:     cfg.PollInterval,
			PollTimeout:      cfg.PollTimeout,
		},
		opts,
	)
	if err != nil {
		logger.Fatal("Failed to create orchestrator", zap.Error(err))
	}

	// Re-verify transactions interrupted by the previous process
	if repo != nil && cfg.RecoverOnStart {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := service.NewRecoverer(repo, orchestrator, logger).RecoverAll(ctx); err != nil {
				logger.Error("Startup recovery failed", zap.Error(err))
			}
		}()
	}

	deps := api.Deps{
		Terminal: orchestrator,
		Health:   checker,
		Gatherer: prometheus.DefaultGatherer,
	}
	if repo != nil {
		deps.Repo = repo
	}
	r := api.NewRouter(deps)

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Terminal Orchestrator starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	if orchestrator.Cancel(context.Background()) {
		logger.Warn("Cancelled in-flight transaction on shutdown")
	}

	// Long enough for a blocked POST /transactions to settle after the cancel.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newSubscriber(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (interfaces.NotificationSubscriber, func(), error) {
	switch cfg.Notifier {
	case config.NotifierRedis:
		return messaging.NewRedisSubscriber(redisClient, logger), func() {}, nil
	case config.NotifierWebSocket:
		if cfg.PaymentAPIWSURL == "" {
			return nil, nil, fmt.Errorf("PAYMENT_API_WS_URL is required for the websocket notifier")
		}
		return messaging.NewWebSocketSubscriber(cfg.PaymentAPIWSURL, cfg.PaymentAPIKey, logger), func() {}, nil
	case config.NotifierNATS:
		// Connect to NATS
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("terminal-orchestrator"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		return messaging.NewNATSSubscriber(nc, logger), nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}
