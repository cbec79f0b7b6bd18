package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"imageOptimizer/worker/cache"
	"imageOptimizer/worker/config"
	"imageOptimizer/worker/converter"
	"imageOptimizer/worker/kafka"
	"imageOptimizer/worker/pool"
	"imageOptimizer/worker/repository"
	"imageOptimizer/worker/service"
	"imageOptimizer/worker/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("Worker service starting",
		zap.String("topic", cfg.KafkaTopic),
		zap.Int("workers", cfg.WorkerCount),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	cancel()
	defer redisClient.Close()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	store, err := storage.NewStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal("Storage setup failed", zap.Error(err))
	}

	converter.Startup(logger)
	defer converter.Shutdown()

	consumer, err := kafka.NewConsumer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaGroupID, logger)
	if err != nil {
		logger.Fatal("Kafka connection failed", zap.Error(err))
	}
	defer consumer.Close()

	processor := service.NewProcessor(
		store,
		converter.NewConverter(logger, cfg.AvifEffort),
		cache.NewStatusWriter(redisClient, cfg.StatusTTL),
		repository.NewPostgresRepo(db),
		logger,
		cfg.BaseURL,
		cfg.DefaultSizes,
		cfg.TaskTimeout,
	)

	workers := pool.NewWorkerPool(cfg.WorkerCount)
	handler := func(ctx context.Context, msg *kafka.TaskMessage) error {
		return workers.Run(ctx, msg, processor.Process)
	}

	if err := consumer.Consume(ctx, cfg.KafkaTopic, handler); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped", zap.Error(err))
	}

	logger.Info("Draining in-flight tasks")
	workers.Wait()
	logger.Info("Worker stopped")
}
