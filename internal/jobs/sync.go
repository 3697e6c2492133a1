package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/garnizeh/techsync/pkg/models"
)

// TypeSyncBatch runs a batch sync of local assignments.
const TypeSyncBatch = "sync.batch"

// SyncPayload is the payload of a sync.batch job. With no pairs the job syncs
// every local assignment, or claims and syncs only the tickets still needing a
// sync when PendingOnly is set.
type SyncPayload struct {
	Pairs       []models.Pair `json:"pairs,omitempty"`
	PendingOnly bool          `json:"pending_only,omitempty"`
}

type BatchSyncer interface {
	SyncBatch(ctx context.Context, pairs []models.Pair) []models.SyncOutcome
}

type AssignmentSource interface {
	ListAssignments(ctx context.Context) ([]models.Pair, error)
	ClaimPendingSync(ctx context.Context, limit int) ([]models.Pair, error)
}

// SyncBatchHandler returns the handler for sync.batch jobs. Per-ticket remote
// failures are part of the outcomes and never fail the job; a rerun would
// post duplicate comments.
func SyncBatchHandler(syncer BatchSyncer, tickets AssignmentSource, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, j *models.BackgroundJob) error {
		var payload SyncPayload
		if len(j.Payload) > 0 && string(j.Payload) != "null" {
			if err := json.Unmarshal(j.Payload, &payload); err != nil {
				return fmt.Errorf("decode sync payload: %w", err)
			}
		}

		pairs := payload.Pairs
		if len(pairs) == 0 {
			var err error
			if payload.PendingOnly {
				pairs, err = tickets.ClaimPendingSync(ctx, 0)
			} else {
				pairs, err = tickets.ListAssignments(ctx)
			}
			if err != nil {
				return fmt.Errorf("list assignments: %w", err)
			}
		}
		if len(pairs) == 0 {
			logger.Debug("sync job has nothing to do", "job_id", j.ID)
			return nil
		}

		outcomes := syncer.SyncBatch(ctx, pairs)
		var synced int
		for _, o := range outcomes {
			if o.Complete() {
				synced++
			}
		}
		logger.Info("sync job finished", "job_id", j.ID, "tickets", len(outcomes), "synced", synced)
		return nil
	}
}
