package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fekuna/omnipos-reservation-service/config"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/broker"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/cache"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/postgres"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/listener"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/reaper"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/repository"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/usecase"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// 1. Load Configuration
	_ = godotenv.Load() // Load .env file if it exists
	cfg := config.LoadEnv()

	// 2. Initialize Logger
	appLogger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer appLogger.Sync()

	// 3. Connect to Database
	db, err := postgres.NewPostgres(&postgres.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		DBName:          cfg.Postgres.DBName,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Postgres.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Postgres.ConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		appLogger.Fatal("Could not connect to database", zap.Error(err))
	}
	defer db.Close()
	appLogger.Info("Connected to PostgreSQL database", zap.String("db_name", cfg.Postgres.DBName))

	// 4. Initialize Repository
	repo := repository.NewPGRepository(db)

	// 5. Initialize Redis and the distributed per-key lock
	redisClient, err := cache.NewRedisClient(&cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		appLogger.Fatal("Could not connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))

	locker := cache.NewRedisLocker(redisClient, cfg.Reservation.LockTTL)

	// 6. Initialize Kafka Consumer
	kafkaConsumer := broker.NewConsumer(&broker.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	})
	defer kafkaConsumer.Close()
	appLogger.Info("Connected to Kafka Consumer",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)

	// 7. Initialize Reservation Engine
	reservationUC := usecase.NewReservationUseCase(repo, locker, appLogger, cfg.Reservation.HoldTTL)

	// 8. Start Reaper and Order Listener
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expiryReaper := reaper.NewExpiryReaper(reservationUC, appLogger, cfg.Reservation.ReaperInterval, cfg.Reservation.ReaperBatch)
	go expiryReaper.Start(ctx)

	orderListener := listener.NewOrderListener(kafkaConsumer, reservationUC, appLogger)
	go orderListener.Start(ctx)

	appLogger.Info("Reservation worker started",
		zap.Duration("hold_ttl", cfg.Reservation.HoldTTL),
		zap.Duration("reaper_interval", cfg.Reservation.ReaperInterval),
	)

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down worker...")
	cancel()
	appLogger.Info("Worker stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = "json"
	if cfg.Server.AppEnv == "dev" || cfg.Server.AppEnv == "development" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.Encoding = "console"
	}

	if level, err := zapcore.ParseLevel(cfg.Logger.Level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	zapCfg.DisableCaller = cfg.Logger.DisableCaller
	zapCfg.DisableStacktrace = cfg.Logger.DisableStacktrace

	return zapCfg.Build()
}
