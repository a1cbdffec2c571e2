package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/spendscan/spendscan/internal/catalog"
	jobmetrics "github.com/spendscan/spendscan/internal/jobs"
	"github.com/spendscan/spendscan/internal/matching"
)

// StoreBackfillJob fills missing normalized store names and collapses stores
// that ended up sharing one normalized name, oldest row surviving.
type StoreBackfillJob struct {
	Repo    catalog.Repository
	Stores  *catalog.StoreService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStoreBackfillJob wires dependencies for the backfill handler.
func NewStoreBackfillJob(repo catalog.Repository, stores *catalog.StoreService, logger *slog.Logger, metrics *jobmetrics.Metrics) *StoreBackfillJob {
	return &StoreBackfillJob{Repo: repo, Stores: stores, Logger: logger, Metrics: metrics}
}

// Handle processes TaskStoreBackfill tasks.
func (j *StoreBackfillJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("store backfill: handler not configured")
	}
	var payload StoreBackfillPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStoreBackfill)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Bool("dry_run", payload.DryRun))
	logger.Info("starting store backfill")

	filled, err := j.fillNormalizedNames(ctx, payload.DryRun, logger)
	if err != nil {
		resultErr = err
		logger.Error("fill normalized names", slog.Any("error", err))
		return resultErr
	}

	merged, err := j.mergeDuplicates(ctx, payload.DryRun, logger)
	if err != nil {
		resultErr = err
		logger.Error("merge duplicates", slog.Any("error", err))
		return resultErr
	}

	j.metrics().AddMergedStores(merged)
	logger.Info("store backfill finished",
		slog.Int("normalized_filled", filled),
		slog.Int("stores_merged", merged))
	return resultErr
}

func (j *StoreBackfillJob) fillNormalizedNames(ctx context.Context, dryRun bool, logger *slog.Logger) (int, error) {
	missing, err := j.Repo.ListStoresMissingNormalized(ctx)
	if err != nil {
		return 0, err
	}
	filled := 0
	for _, store := range missing {
		norm := matching.Normalize(store.Name)
		if norm == "" {
			continue
		}
		if dryRun {
			logger.Info("would normalize store",
				slog.String("store_id", store.ID.String()), slog.String("normalized", norm))
			continue
		}
		if err := j.Repo.SetStoreNormalized(ctx, store.ID, norm); err != nil {
			return filled, err
		}
		filled++
	}
	return filled, nil
}

func (j *StoreBackfillJob) mergeDuplicates(ctx context.Context, dryRun bool, logger *slog.Logger) (int, error) {
	groups, err := j.Repo.ListNormalizedDuplicates(ctx)
	if err != nil {
		return 0, err
	}
	merged := 0
	for norm, group := range groups {
		// Groups come back ordered by creation; the oldest row survives.
		survivor := group[0]
		for _, losing := range group[1:] {
			if dryRun {
				logger.Info("would merge store",
					slog.String("normalized", norm),
					slog.String("losing", losing.ID.String()),
					slog.String("surviving", survivor.ID.String()))
				continue
			}
			_, err := j.Stores.MergeInto(ctx, losing.ID, survivor.ID)
			if errors.Is(err, catalog.ErrMergeConflict) {
				// A concurrent merge got there first; the next run cleans up
				// whatever remains.
				logger.Warn("merge conflict, skipping",
					slog.String("losing", losing.ID.String()), slog.Any("error", err))
				continue
			}
			if err != nil {
				return merged, err
			}
			merged++
		}
	}
	return merged, nil
}

func (j *StoreBackfillJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *StoreBackfillJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return nil
}
