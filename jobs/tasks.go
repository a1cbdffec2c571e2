package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStoreBackfill is the task type for the store normalization and
	// dedup backfill.
	TaskStoreBackfill = "catalog:store_backfill"
)

// StoreBackfillPayload configures one backfill run.
type StoreBackfillPayload struct {
	// DryRun reports what would change without writing.
	DryRun bool `json:"dry_run"`
}

// NewStoreBackfillTask constructs an Asynq task.
func NewStoreBackfillTask(payload StoreBackfillPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStoreBackfill, data), nil
}
