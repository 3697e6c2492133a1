// Package orchestrator drives the per-ticket sync: resolve the technician,
// assign the remote ticket, post the audit comment and report one outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/garnizeh/techsync/internal/identity"
	"github.com/garnizeh/techsync/internal/mapping"
	"github.com/garnizeh/techsync/pkg/models"
	"github.com/garnizeh/techsync/pkg/remote"
)

// MappingLookup finds the mapping row for a technician. *mapping.Store and
// *mapping.Table satisfy it.
type MappingLookup interface {
	Lookup(name string) (models.TechnicianMapping, error)
}

// RemoteTicketer is the part of *remote.Client the orchestrator needs.
type RemoteTicketer interface {
	IsStrictPrivacyMode(ctx context.Context) (bool, error)
	AssignTicket(ctx context.Context, ticketID string, id identity.Identity) (remote.Ack, error)
	AppendComment(ctx context.Context, ticketID, text string) (remote.Ack, error)
}

// OutcomeRecorder persists an outcome and reconciles the local ticket's sync state.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o models.SyncOutcome) error
}

type state string

const (
	stateStart            state = "START"
	stateIdentityResolved state = "IDENTITY_RESOLVED"
	stateIdentityGap      state = "IDENTITY_GAP"
	stateAssignAttempted  state = "ASSIGN_ATTEMPTED"
	stateCommentAttempted state = "COMMENT_ATTEMPTED"
	stateDone             state = "DONE"
)

// package-level logger; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by the orchestrator package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

type Orchestrator struct {
	store    MappingLookup
	client   RemoteTicketer
	recorder OutcomeRecorder
	policy   *CommentPolicy
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
	workers  int
}

type Option func(*Orchestrator)

func WithRecorder(r OutcomeRecorder) Option     { return func(o *Orchestrator) { o.recorder = r } }
func WithCommentPolicy(p *CommentPolicy) Option { return func(o *Orchestrator) { o.policy = p } }
func WithMetrics(m *Metrics) Option             { return func(o *Orchestrator) { o.metrics = m } }
func WithLogger(l *slog.Logger) Option          { return func(o *Orchestrator) { o.log = l } }
func WithClock(now func() time.Time) Option     { return func(o *Orchestrator) { o.now = now } }

// WithWorkers bounds the number of tickets a batch syncs concurrently.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func New(store MappingLookup, client RemoteTicketer, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("mapping store is required")
	}
	if client == nil {
		return nil, errors.New("remote client is required")
	}
	o := &Orchestrator{
		store:   store,
		client:  client,
		policy:  DefaultCommentPolicy(),
		now:     time.Now,
		workers: 4,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy == nil {
		o.policy = DefaultCommentPolicy()
	}
	if o.log == nil {
		o.log = logger
	}
	return o, nil
}

// SyncOne syncs a single ticket. It always returns an outcome; remote
// failures are reported in it, never as an error.
func (o *Orchestrator) SyncOne(ctx context.Context, ticketID, technician string) models.SyncOutcome {
	strict := o.strictMode(ctx)
	return o.sync(ctx, "", models.Pair{TicketID: ticketID, TechnicianName: technician}, strict)
}

// SyncBatch syncs every pair with the privacy mode probed once for the whole
// batch. Outcomes are returned in input order and one ticket's failure never
// stops the others.
func (o *Orchestrator) SyncBatch(ctx context.Context, pairs []models.Pair) []models.SyncOutcome {
	out := make([]models.SyncOutcome, len(pairs))
	if len(pairs) == 0 {
		return out
	}

	batchID := uuid.NewString()
	strict := o.strictMode(ctx)
	o.log.Info("sync batch started",
		slog.String("batch_id", batchID),
		slog.Int("tickets", len(pairs)),
		slog.Bool("strict", strict))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, p := range pairs {
		g.Go(func() error {
			out[i] = o.sync(ctx, batchID, p, strict)
			return nil
		})
	}
	_ = g.Wait()

	var failed, gaps int
	for _, r := range out {
		switch {
		case r.Failed():
			failed++
		case r.AssignmentResult == models.AssignmentSkippedNoIdentity:
			gaps++
		}
	}
	o.log.Info("sync batch finished",
		slog.String("batch_id", batchID),
		slog.Int("tickets", len(out)),
		slog.Int("failed", failed),
		slog.Int("gaps", gaps))
	return out
}

// strictMode asks the remote for its privacy mode. If it cannot be
// determined the sync assumes strict, so no email-based call is made.
func (o *Orchestrator) strictMode(ctx context.Context) bool {
	strict, err := o.client.IsStrictPrivacyMode(ctx)
	if err != nil {
		o.log.Warn("privacy mode probe failed, assuming strict", slog.Any("err", err))
		return true
	}
	return strict
}

func (o *Orchestrator) sync(ctx context.Context, batchID string, p models.Pair, strict bool) models.SyncOutcome {
	start := o.now()
	res := models.SyncOutcome{
		ID:             uuid.NewString(),
		BatchID:        batchID,
		TicketID:       p.TicketID,
		TechnicianName: p.TechnicianName,
	}
	log := o.log.With(slog.String("ticket_id", p.TicketID), slog.String("technician", p.TechnicianName))
	if batchID != "" {
		log = log.With(slog.String("batch_id", batchID))
	}
	log.Debug("sync state", slog.String("state", string(stateStart)))

	o.run(ctx, log, &res, p, strict)

	res.Timestamp = o.now().UTC()
	log.Debug("sync state", slog.String("state", string(stateDone)),
		slog.String("assignment", string(res.AssignmentResult)),
		slog.String("comment", string(res.CommentResult)))
	if res.Failed() {
		log.Warn("ticket sync failed", slog.String("error_detail", res.ErrorDetail))
	}

	o.metrics.observe(res, o.now().Sub(start))
	if o.recorder != nil {
		if err := o.recorder.RecordOutcome(context.WithoutCancel(ctx), res); err != nil {
			log.Error("failed to record sync outcome", slog.String("outcome_id", res.ID), slog.Any("err", err))
		}
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, res *models.SyncOutcome, p models.Pair, strict bool) {
	if strings.TrimSpace(p.TicketID) == "" {
		res.AssignmentResult = models.AssignmentFailed
		res.CommentResult = models.CommentSkipped
		res.ErrorDetail = "empty ticket id"
		return
	}

	id, err := o.resolve(p.TechnicianName, strict)
	if err != nil {
		gap, ok := identity.AsGap(err)
		if !ok {
			res.AssignmentResult = models.AssignmentFailed
			res.CommentResult = models.CommentSkipped
			res.ErrorDetail = err.Error()
			return
		}
		res.AssignmentResult = models.AssignmentSkippedNoIdentity
		res.CommentResult = models.CommentSkipped
		res.GapReason = string(gap.Reason)
		log.Debug("sync state", slog.String("state", string(stateIdentityGap)))
		log.Info("technician has no usable remote identity", slog.String("reason", res.GapReason))
		return
	}
	res.Strategy = string(id.Strategy())
	log.Debug("sync state", slog.String("state", string(stateIdentityResolved)), slog.String("strategy", res.Strategy))

	var details []string
	if _, err := o.client.AssignTicket(ctx, p.TicketID, id); err != nil {
		res.AssignmentResult = models.AssignmentFailed
		details = append(details, "assign: "+err.Error())
	} else {
		res.AssignmentResult = models.AssignmentAssigned
	}
	log.Debug("sync state", slog.String("state", string(stateAssignAttempted)), slog.String("result", string(res.AssignmentResult)))

	text, err := o.policy.Render(CommentData{
		Technician: p.TechnicianName,
		TicketID:   p.TicketID,
		Strategy:   id.Strategy(),
		Assigned:   res.AssignmentResult == models.AssignmentAssigned,
	})
	if err != nil {
		res.CommentResult = models.CommentFailed
		details = append(details, "comment: render: "+err.Error())
	} else if _, err := o.client.AppendComment(ctx, p.TicketID, text); err != nil {
		res.CommentResult = models.CommentFailed
		details = append(details, "comment: "+err.Error())
	} else {
		res.CommentResult = models.CommentPosted
	}
	log.Debug("sync state", slog.String("state", string(stateCommentAttempted)), slog.String("result", string(res.CommentResult)))

	res.ErrorDetail = strings.Join(details, "; ")
}

// resolve looks the technician up and picks the remote identity. A missing
// mapping row is a NOT_MAPPED gap.
func (o *Orchestrator) resolve(technician string, strict bool) (identity.Identity, error) {
	m, err := o.store.Lookup(technician)
	if err != nil {
		if errors.Is(err, mapping.ErrNotFound) {
			return identity.Identity{}, &identity.Gap{Technician: technician, Reason: identity.GapNotMapped}
		}
		return identity.Identity{}, fmt.Errorf("lookup %q: %w", technician, err)
	}
	return identity.Resolve(m, strict)
}
