/**
 * @description
 * This is the main entry point for the score-service. It is responsible for
 * initializing all components of the service, including configuration, logging, the
 * database connection and schema, external API clients, message brokers, the ledger
 * repository, the core application service, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Optional .env loading for local runs.
 * - github.com/redis/go-redis/v9: Transfer throttling.
 * - go.uber.org/zap: Structured logging.
 * - internal/api, internal/app, internal/config, internal/logger, internal/store: Internal packages.
 * - pkg/corebanking, pkg/rabbitmq: External service clients.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/score-service/internal/api"
	"github.com/transfa/score-service/internal/app"
	"github.com/transfa/score-service/internal/config"
	"github.com/transfa/score-service/internal/domain"
	"github.com/transfa/score-service/internal/logger"
	"github.com/transfa/score-service/internal/store"
	"github.com/transfa/score-service/pkg/corebanking"
	rmrabbit "github.com/transfa/score-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer log.Sync()
	bootLog := logger.Component(log, "bootstrap")

	for _, warning := range cfg.Warnings() {
		bootLog.Warn("config warning", zap.String("detail", warning))
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		bootLog.Fatal("database url must be configured", zap.String("env", "DATABASE_URL"))
	}
	if cfg.OperatorJWTSecret == "" {
		bootLog.Warn("operator jwt secret missing; score routes will reject every request", zap.String("env", "OPERATOR_JWT_SECRET"))
	}

	bootLog.Info("starting score-service", zap.String("port", cfg.ServerPort))

	// Apply the ledger schema before serving traffic.
	if cfg.MigrationsEnabled {
		migrator, err := store.NewMigrator(cfg.DatabaseURL, log)
		if err != nil {
			bootLog.Fatal("migrator init failed", zap.Error(err))
		}
		if err := migrator.Up(); err != nil {
			bootLog.Fatal("migrations failed", zap.Error(err))
		}
		if err := migrator.Close(); err != nil {
			bootLog.Warn("migrator close failed", zap.Error(err))
		}
	}

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		bootLog.Fatal("database url parse failed", zap.Error(err))
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		bootLog.Fatal("database connection failed", zap.Error(err))
	}
	defer dbpool.Close()
	bootLog.Info("database connected")

	// Initialize the RabbitMQ producer to publish ledger events.
	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{Logger: logger.Component(log, "rabbitmq_producer")}
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, log)
	if err != nil {
		bootLog.Warn("rabbitmq producer unavailable; using fallback", zap.Error(err))
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		bootLog.Info("rabbitmq producer connected")
	}

	// Initialize the core-banking client. Without it the deposit checks of transfers are skipped.
	var bank app.CoreBanking
	if strings.TrimSpace(cfg.CoreBankingURL) == "" {
		bootLog.Warn("core banking not configured; deposit, province and activity checks disabled", zap.String("env", "CORE_BANKING_URL"))
	} else {
		bank = corebanking.NewClient(cfg.CoreBankingURL, cfg.CoreBankingAPIKey, time.Duration(cfg.CoreBankingTimeoutSeconds)*time.Second)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	scoreService := app.NewService(repository, bank, publisher, app.Options{
		MaxTransferScore: cfg.MaxTransferScore,
		EventsExchange:   cfg.ScoreEventsExchange,
		Logger:           log,
	})

	if cfg.TransferRateLimitPerMinute > 0 {
		if redisClient := connectRedis(cfg.RedisURL, bootLog); redisClient != nil {
			defer redisClient.Close()
			scoreService.SetTransferRateLimiter(
				app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
				cfg.TransferRateLimitPerMinute,
			)
		}
	}

	// Bulk provisioning of account score origins arrives over RabbitMQ.
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, log)
	if err != nil {
		bootLog.Warn("rabbitmq consumer unavailable; account provisioning disabled", zap.Error(err))
	} else {
		defer rabbitConsumer.Close()
		provisioning := app.NewAccountProvisioningConsumer(scoreService, log)
		bindings := map[string]rmrabbit.Handler{
			domain.EventAccountProvisioned: provisioning.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.ScoreEventsExchange, cfg.AccountProvisionQueue, bindings); err != nil {
			bootLog.Fatal("account provisioning consumer start failed", zap.Error(err))
		}
	}

	// Initialize the API handlers and routes.
	scoreHandlers := api.NewScoreHandlers(scoreService, log)
	router := chi.NewRouter()
	router.Mount("/", api.ScoreRoutes(scoreHandlers, api.RouterConfig{
		OperatorJWTSecret: cfg.OperatorJWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins(),
		Logger:            log,
	}))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpLog := logger.Component(log, "http")
	go func() {
		httpLog.Info("server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpLog.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	httpLog.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		httpLog.Error("shutdown failed", zap.Error(err))
	}

	httpLog.Info("shutdown complete")
}

// connectRedis returns a connected client, or nil when Redis is not configured or unreachable.
func connectRedis(redisURL string, log *zap.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Warn("redis url missing; transfer rate limiting disabled", zap.String("env", "REDIS_URL"))
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn("redis url parse failed; transfer rate limiting disabled", zap.Error(err))
		return nil
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis ping failed; transfer rate limiting disabled", zap.Error(err))
		client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}
