package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/garnizeh/techsync/internal/jobs"
	"github.com/garnizeh/techsync/pkg/models"
	"github.com/garnizeh/techsync/pkg/repository"
	"github.com/gorilla/mux"
)

const maxSyncBatch = 1000

// writeMargin is the time left to write the response once a sync has ended.
const writeMargin = 5 * time.Second

// Syncer runs the remote sync. *orchestrator.Orchestrator implements it.
type Syncer interface {
	SyncOne(ctx context.Context, ticketID, technician string) models.SyncOutcome
	SyncBatch(ctx context.Context, pairs []models.Pair) []models.SyncOutcome
}

// JobEnqueuer persists background jobs. *jobs.WorkerPool implements it.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error)
}

type TicketsHandler struct {
	tickets  repository.TicketRepo
	outcomes repository.OutcomeRepo
	syncer   Syncer
	jobs     JobEnqueuer

	// SyncTimeout bounds the remote sync of a single assignment. Zero means no
	// bound beyond the request context.
	SyncTimeout time.Duration
}

func NewTicketsHandler(tr repository.TicketRepo, or repository.OutcomeRepo, s Syncer, j JobEnqueuer) *TicketsHandler {
	return &TicketsHandler{tickets: tr, outcomes: or, syncer: s, jobs: j}
}

type assignRequest struct {
	TechnicianName string `json:"technician_name"`
}

type assignResponse struct {
	Ticket  *models.LocalTicket `json:"ticket"`
	Outcome models.SyncOutcome  `json:"outcome"`
	Warning string              `json:"warning,omitempty"`
}

// AssignTicket records the local assignment and then syncs it to the remote
// system. The local write is authoritative: remote problems come back as a
// warning on a 200 response. A sync that runs past SyncTimeout is reported as
// failed, and the write deadline is pushed past it so the response still
// reaches the operator.
func (h *TicketsHandler) AssignTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := strings.TrimSpace(mux.Vars(r)["ticket_id"])
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	req.TechnicianName = strings.TrimSpace(req.TechnicianName)
	if ticketID == "" || req.TechnicianName == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}

	ctx := r.Context()
	if _, err := h.tickets.AssignTicket(ctx, ticketID, req.TechnicianName); err != nil {
		internalError(w, r, err)
		return
	}
	operatorID, _ := OperatorID(ctx)
	logger.Info("ticket assigned locally",
		slog.String("ticket_id", ticketID),
		slog.String("technician", req.TechnicianName),
		slog.Int64("operator_id", operatorID))

	syncCtx := ctx
	if h.SyncTimeout > 0 {
		var cancel context.CancelFunc
		syncCtx, cancel = context.WithTimeout(ctx, h.SyncTimeout)
		defer cancel()
		if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(h.SyncTimeout + writeMargin)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logger.Warn("extend write deadline", slog.Any("err", err))
		}
	}
	outcome := h.syncer.SyncOne(syncCtx, ticketID, req.TechnicianName)

	ticket, err := h.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignResponse{Ticket: ticket, Outcome: outcome, Warning: outcome.Warning()})
}

func (h *TicketsHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.tickets.GetTicket(r.Context(), mux.Vars(r)["ticket_id"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ticket not found")
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *TicketsHandler) ListTicketOutcomes(w http.ResponseWriter, r *http.Request) {
	out, err := h.outcomes.ListOutcomesByTicket(r.Context(), mux.Vars(r)["ticket_id"])
	if err != nil {
		internalError(w, r, err)
		return
	}
	if out == nil {
		out = []models.SyncOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": out})
}

func (h *TicketsHandler) ListFailedOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	out, err := h.outcomes.ListFailedOutcomes(r.Context(), limit)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if out == nil {
		out = []models.SyncOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": out})
}

type batchRequest struct {
	Pairs       []models.Pair `json:"pairs,omitempty"`
	PendingOnly bool          `json:"pending_only,omitempty"`
	Async       bool          `json:"async,omitempty"`
}

type batchSummary struct {
	Total  int `json:"total"`
	Synced int `json:"synced"`
	Gaps   int `json:"gaps"`
	Failed int `json:"failed"`
}

type batchResponse struct {
	BatchID  string               `json:"batch_id,omitempty"`
	Outcomes []models.SyncOutcome `json:"outcomes"`
	Summary  batchSummary         `json:"summary"`
}

// SyncBatch syncs the given pairs, or the stored assignments when none are
// given. With async set it only enqueues a sync.batch job.
func (h *TicketsHandler) SyncBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if r.ContentLength != 0 {
		if !decode(w, r, &req) {
			return
		}
	}
	for _, p := range req.Pairs {
		if strings.TrimSpace(p.TicketID) == "" || strings.TrimSpace(p.TechnicianName) == "" {
			writeError(w, http.StatusBadRequest, "every pair needs ticket_id and technician_name")
			return
		}
	}
	ctx := r.Context()

	if req.Async {
		if h.jobs == nil {
			writeError(w, http.StatusServiceUnavailable, "job queue not configured")
			return
		}
		id, err := h.jobs.Enqueue(ctx, jobs.TypeSyncBatch, jobs.SyncPayload{Pairs: req.Pairs, PendingOnly: req.PendingOnly}, 10, 1)
		if err != nil {
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id})
		return
	}

	pairs := req.Pairs
	if len(pairs) == 0 {
		var err error
		if req.PendingOnly {
			pairs, err = h.tickets.ClaimPendingSync(ctx, maxSyncBatch)
		} else {
			pairs, err = h.tickets.ListAssignments(ctx)
		}
		if err != nil {
			internalError(w, r, err)
			return
		}
	}
	if len(pairs) > maxSyncBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "batch too large, use async")
		return
	}

	// a synchronous batch holds the connection until every pair is done
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("clear write deadline", slog.Any("err", err))
	}
	outcomes := h.syncer.SyncBatch(ctx, pairs)
	resp := batchResponse{Outcomes: outcomes, Summary: batchSummary{Total: len(outcomes)}}
	if resp.Outcomes == nil {
		resp.Outcomes = []models.SyncOutcome{}
	}
	for _, o := range outcomes {
		resp.BatchID = o.BatchID
		switch {
		case o.Complete():
			resp.Summary.Synced++
		case o.Failed():
			resp.Summary.Failed++
		case o.AssignmentResult == models.AssignmentSkippedNoIdentity:
			resp.Summary.Gaps++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
