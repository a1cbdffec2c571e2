package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultPollInterval is the sleep between polls on an empty queue.
const DefaultPollInterval = 500 * time.Millisecond

// errorBackoff is the pause after a failed item, to avoid hammering a
// downstream service that just errored.
const errorBackoff = time.Second

// ReceiptProcessor is the work done per dequeued key.
type ReceiptProcessor interface {
	ProcessObject(ctx context.Context, objectKey string) error
}

// Worker polls the queue and processes one receipt at a time. Several workers
// may run against the same queue as competing consumers. A failed item is
// requeued best-effort; with the unacknowledged queue a crash mid-item still
// loses it.
type Worker struct {
	queue     *Queue
	processor ReceiptProcessor
	logger    *slog.Logger
	interval  time.Duration
}

// NewWorker builds the polling worker. A non-positive interval selects
// DefaultPollInterval.
func NewWorker(queue *Queue, processor ReceiptProcessor, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{queue: queue, processor: processor, logger: logger, interval: interval}
}

// Run loops until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("ingest worker started")
	defer w.logger.Info("ingest worker stopping")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		objectKey, ok, err := w.queue.TryDequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Error("dequeue failed", slog.Any("error", err))
			if err := w.sleep(ctx, errorBackoff); err != nil {
				return err
			}
			continue
		}
		if !ok {
			if err := w.sleep(ctx, w.interval); err != nil {
				return err
			}
			continue
		}

		w.logger.Info("processing receipt", slog.String("object_key", objectKey))
		if err := w.processor.ProcessObject(ctx, objectKey); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Error("receipt processing failed",
				slog.String("object_key", objectKey), slog.Any("error", err))
			w.requeue(objectKey)
			if err := w.sleep(ctx, errorBackoff); err != nil {
				return err
			}
		}
	}
}

// requeue pushes a failed key back, detached from the worker's context so a
// shutdown mid-failure still tries to keep the item.
func (w *Worker) requeue(objectKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Enqueue(ctx, objectKey); err != nil {
		w.logger.Error("requeue failed", slog.String("object_key", objectKey), slog.Any("error", err))
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
