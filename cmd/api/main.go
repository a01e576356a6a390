package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"asset-pipeline/internal/api"
	"asset-pipeline/internal/config"
	"asset-pipeline/internal/models"
	"asset-pipeline/internal/objstore"
	"asset-pipeline/internal/queue"
	"asset-pipeline/internal/ratelimit"
	"asset-pipeline/internal/store"
	"asset-pipeline/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	assets, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer assets.Close()
	if err := assets.RunMigrations(ctx); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	storage, err := buildStorage(ctx, cfg)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}

	q := queue.New(rdb, queue.Config{
		LeaseTimeout:       cfg.LeaseTimeout,
		ScheduledBatchSize: cfg.ScheduledBatchSize,
	})
	limiter := ratelimit.New(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill)

	srv := api.NewServer(q, assets, limiter, map[string]api.HealthCheck{
		"postgres": assets.Ping,
		"storage":  storage.Ping,
	}, logger)

	go serveMetrics(cfg.MetricsAddr, logger)
	go sampleQueueDepth(ctx, q)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("api listening", "addr", httpSrv.Addr, "env", cfg.Env)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func buildStorage(ctx context.Context, cfg config.Config) (objstore.Store, error) {
	switch cfg.StorageBackend {
	case "minio":
		return objstore.NewMinio(objstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
	case "s3":
		return objstore.NewS3(ctx, objstore.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case "memory":
		return objstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}

// sampleQueueDepth keeps the ready-depth gauge current.
func sampleQueueDepth(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, kind := range models.Kinds {
				if depth, err := q.Depth(ctx, kind); err == nil {
					telemetry.QueueDepth.WithLabelValues(string(kind)).Set(float64(depth))
				}
			}
		}
	}
}
