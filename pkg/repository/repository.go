package repository

import (
	"context"
	"errors"

	"github.com/garnizeh/techsync/pkg/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.

// ErrNotFound is returned by getters when no row matches.
var ErrNotFound = errors.New("not found")

// TicketRepo is the local ticket store. It holds the canonical local
// assignment and the reconciled sync state, never a remote identity.
type TicketRepo interface {
	AssignTicket(ctx context.Context, ticketID, technician string) (*models.LocalTicket, error)
	GetTicket(ctx context.Context, ticketID string) (*models.LocalTicket, error)
	ListAssignments(ctx context.Context) ([]models.Pair, error)
	// ClaimPendingSync marks the returned tickets as syncing; the caller must
	// sync each one and record the outcome.
	ClaimPendingSync(ctx context.Context, limit int) ([]models.Pair, error)
	UpdateSyncState(ctx context.Context, o models.SyncOutcome) error
}

// OutcomeRepo is the append-only audit log of sync attempts.
type OutcomeRepo interface {
	CreateOutcome(ctx context.Context, o models.SyncOutcome) error
	ListOutcomesByTicket(ctx context.Context, ticketID string) ([]models.SyncOutcome, error)
	ListFailedOutcomes(ctx context.Context, limit int) ([]models.SyncOutcome, error)
}

type OperatorRepo interface {
	CreateOperator(ctx context.Context, o *models.Operator) (int64, error)
	GetOperatorByID(ctx context.Context, id int64) (*models.Operator, error)
	GetOperatorByEmail(ctx context.Context, email string) (*models.Operator, error)
}

type JobRepo interface {
	Enqueue(ctx context.Context, j *models.BackgroundJob) (int64, error)
	FetchNext(ctx context.Context) (*models.BackgroundJob, error)
	UpdateJob(ctx context.Context, j *models.BackgroundJob) error
	MoveToDeadLetter(ctx context.Context, j *models.BackgroundJob) error
}
