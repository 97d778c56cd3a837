package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"design-server/internal/clients"
	"design-server/internal/config"
	"design-server/internal/handler"
	"design-server/internal/messaging"
	"design-server/internal/middleware"
	"design-server/internal/repository"
	"design-server/internal/service"
	"design-server/migrations"
	"design-server/pkg/logger"
	"design-server/pkg/migration"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	log.Println("Starting Design Server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	// PostgreSQL
	dbPool, err := setupDatabase(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()
	zapLogger.Info("Connected to PostgreSQL")

	// Schema migrations
	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, dbPool)
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := migrator.Up(migrateCtx); err != nil {
		migrateCancel()
		zapLogger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	migrateCancel()

	// Redis (balance cache)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		zapLogger.Warn("Redis unavailable, balance reads will always hit the ledger", zap.Error(err))
		redisClient = nil
	}
	pingCancel()
	if redisClient != nil {
		defer redisClient.Close()
		zapLogger.Info("Connected to Redis")
	}

	// RabbitMQ (client update fan-out)
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Connected to RabbitMQ")

	updatePublisher, err := messaging.NewRabbitMQClientUpdatePublisher(rabbitConn, cfg.ClientUpdatesQueueName, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create ClientUpdatePublisher", zap.Error(err))
	}

	// Dependencies
	sessionRepo := repository.NewPgDesignSessionRepository(dbPool, zapLogger)
	generationClient := clients.NewHTTPGenerationClient(cfg.GenerationServiceURL, cfg.HTTPClientTimeout, zapLogger)
	ledgerClient := clients.NewHTTPLedgerClient(cfg.LedgerServiceURL, cfg.HTTPClientTimeout, redisClient, zapLogger)
	voiceClient := clients.NewHTTPVoiceClient(cfg.VoiceServiceURL, cfg.VoiceName, cfg.HTTPClientTimeout, zapLogger)
	jobRunner := clients.NewJobRunner(generationClient, cfg.PollInterval, cfg.PollMaxAttempts, nil, zapLogger)
	autosaver := service.NewAutosaver(sessionRepo, cfg.AutosaveDebounce, zapLogger)

	workflowService := service.NewWorkflowService(
		sessionRepo, ledgerClient, generationClient, jobRunner,
		updatePublisher, voiceClient, autosaver, cfg, zapLogger,
	)

	// Repair sessions stranded by a previous process before taking traffic.
	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := workflowService.RecoverStuckSessions(recoverCtx); err != nil {
		zapLogger.Error("Failed to recover stuck sessions", zap.Error(err))
	}
	recoverCancel()

	designHandler := handler.NewDesignHandler(workflowService, zapLogger, cfg.JWTSecret)

	// Echo setup
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.EchoZapLogger(zapLogger))
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	designHandler.RegisterRoutes(e)

	log.Printf("Design server listening on port %s", cfg.Port)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("HTTP server error: ", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutdown signal received, starting graceful shutdown...")

	// Flush debounced autosaves before the pool closes.
	workflowService.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal("Echo graceful shutdown error: ", err)
	}

	log.Println("Design Server stopped")
}

// setupDatabase initializes the pgx connection pool.
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err = dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return dbPool, nil
}

// connectRabbitMQ dials RabbitMQ with a few retries.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}
