package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"imageOptimizer/api/cache"
	"imageOptimizer/api/config"
	"imageOptimizer/api/database"
	"imageOptimizer/api/handlers"
	"imageOptimizer/api/kafka"
	"imageOptimizer/api/middleware"
	"imageOptimizer/api/repository"
	"imageOptimizer/api/service"
	"imageOptimizer/api/storage"
	"imageOptimizer/worker/dedup"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("API service starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisCache, err := database.ConnectCache(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisCache.Close()

	db, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic, cfg.KafkaGroupID)
	if err != nil {
		logger.Fatal("Kafka connection failed", zap.Error(err))
	}
	defer producer.Close()

	artifacts, err := storage.NewManager(cfg.StoragePath, cfg.BaseURL)
	if err != nil {
		logger.Fatal("Storage setup failed", zap.Error(err))
	}

	statusStore := cache.NewStatusStore(redisCache, cfg.StatusTTL, cfg.LockTTL)
	repo := repository.NewPostgresRepo(db)
	deduper := dedup.NewURLFilter(cfg.CombinedThreshold, logger)

	dispatcher := service.NewDispatcher(statusStore, producer, artifacts, repo, deduper, logger)
	health := service.NewHealth(producer, statusStore)
	handler := handlers.NewImageHandler(dispatcher, health, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/url", handler.ProcessURL)
	mux.HandleFunc("POST /api/batch", handler.ProcessBatch)
	mux.HandleFunc("POST /api/html", handler.ProcessHTML)
	mux.HandleFunc("GET /health", handler.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /storage/", http.StripPrefix("/storage/", http.FileServer(http.Dir(cfg.StoragePath))))

	chain := middleware.Recovery(logger)(
		middleware.TraceID(
			middleware.CORS(cfg.CORSOrigins)(
				middleware.Auth(cfg.SecretKey)(
					middleware.Logging(logger)(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      chain,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Server started", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}
