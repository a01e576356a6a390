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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"asset-pipeline/internal/config"
	"asset-pipeline/internal/media"
	"asset-pipeline/internal/models"
	"asset-pipeline/internal/objstore"
	"asset-pipeline/internal/queue"
	"asset-pipeline/internal/reconciler"
	"asset-pipeline/internal/store"
	"asset-pipeline/internal/telemetry"
	"asset-pipeline/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	assets, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer assets.Close()
	if err := assets.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	storage, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if err := storage.EnsureBucket(ctx, cfg.Bucket); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}

	q := queue.New(rdb, queue.Config{
		LeaseTimeout:       cfg.LeaseTimeout,
		ScheduledBatchSize: cfg.ScheduledBatchSize,
	})
	ffm := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)

	pools := []*worker.Pool{
		worker.NewPool(models.KindImage, cfg.ImageConcurrency, cfg.WorkerPollInterval, q, assets,
			worker.NewImagePipeline(storage, logger), logger),
		worker.NewPool(models.KindVideo, cfg.VideoConcurrency, cfg.WorkerPollInterval, q, assets,
			worker.NewVideoPipeline(storage, ffm, cfg.TempDir, logger), logger),
		worker.NewPool(models.KindDocument, cfg.DocumentConcurrency, cfg.WorkerPollInterval, q, assets,
			worker.NewDocumentPipeline(storage, logger), logger),
	}

	rec := reconciler.New(assets, cfg.ReconcileSpec, cfg.StuckAfter, logger)
	if err := rec.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("worker started",
		"image_concurrency", cfg.ImageConcurrency,
		"video_concurrency", cfg.VideoConcurrency,
		"document_concurrency", cfg.DocumentConcurrency,
		"storage", cfg.StorageBackend,
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range pools {
		p := p
		g.Go(func() error { return p.Run(ctx) })
	}
	return g.Wait()
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
