package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/spendscan/spendscan/internal/app"
	"github.com/spendscan/spendscan/internal/catalog"
	"github.com/spendscan/spendscan/internal/ingest"
	jobmetrics "github.com/spendscan/spendscan/internal/jobs"
	"github.com/spendscan/spendscan/internal/matching"
	"github.com/spendscan/spendscan/internal/platform/cache"
	"github.com/spendscan/spendscan/internal/platform/db"
	"github.com/spendscan/spendscan/internal/platform/storage"
	"github.com/spendscan/spendscan/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	objectStore, err := storage.New(ctx, storage.Options{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
	})
	if err != nil {
		logger.Error("connect object storage", slog.Any("error", err))
		os.Exit(1)
	}

	brands, err := matching.LoadBrandTable(cfg.BrandTablePath)
	if err != nil {
		logger.Error("load brand table", slog.Any("error", err))
		os.Exit(1)
	}

	repo := catalog.NewRepository(pool)
	catalogCache := catalog.NewCache(repo, cfg.CatalogCacheTTL)
	storeResolver := catalog.NewStoreResolver(catalogCache, brands, catalog.DefaultStoreResolverOptions(), logger)
	productMatcher := catalog.NewProductMatcher(repo, catalog.DefaultProductMatcherOptions(), logger)
	storeService := catalog.NewStoreService(repo, logger)

	processor := ingest.NewProcessor(
		objectStore,
		ingest.NewOCRClient(cfg.OCRBaseURL, nil),
		ingest.NewKIEClient(cfg.KIEBaseURL, nil),
		ingest.NewClassifierClient(cfg.MLBaseURL, nil),
		storeResolver,
		productMatcher,
		ingest.NewWriter(pool, logger),
		logger,
	)

	queue := ingest.NewQueue(redisClient, cfg.QueueKey)
	ingestWorker := ingest.NewWorker(queue, processor, cfg.WorkerPollInterval, logger)

	backfillJob := jobs.NewStoreBackfillJob(repo, storeService, logger, jobmetrics.NewMetrics(nil))
	backfillTask, err := jobs.NewStoreBackfillTask(jobs.StoreBackfillPayload{})
	if err != nil {
		logger.Error("build backfill task", slog.Any("error", err))
		os.Exit(1)
	}

	jobWorker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStoreBackfill, Handler: backfillJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.StoreBackfillCron, Task: backfillTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init job worker", slog.Any("error", err))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingestWorker.Run(gctx)
	})
	g.Go(func() error {
		return jobWorker.Run(gctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
