package mock

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/garnizeh/techsync/pkg/models"
	"github.com/garnizeh/techsync/pkg/repository"
)

// Test helpers and mocks
type Mocks struct {
	OperatorRepo *OperatorRepo
	TicketRepo   *TicketRepo
	OutcomeRepo  *OutcomeRepo
}

func NewMocks() *Mocks {
	return &Mocks{
		OperatorRepo: &OperatorRepo{},
		TicketRepo:   &TicketRepo{Tickets: map[string]*models.LocalTicket{}},
		OutcomeRepo:  &OutcomeRepo{},
	}
}

type OperatorRepo struct {
	Stored    *models.Operator
	CreateErr error
}

var _ repository.OperatorRepo = (*OperatorRepo)(nil)

func (m *OperatorRepo) CreateOperator(ctx context.Context, o *models.Operator) (int64, error) {
	if m.CreateErr != nil {
		return 0, m.CreateErr
	}
	m.Stored = &models.Operator{ID: 1, Name: o.Name, Email: o.Email, PasswordHash: o.PasswordHash}
	return 1, nil
}

func (m *OperatorRepo) GetOperatorByID(ctx context.Context, id int64) (*models.Operator, error) {
	if m.Stored != nil && m.Stored.ID == id {
		return m.Stored, nil
	}
	return nil, nil
}

func (m *OperatorRepo) GetOperatorByEmail(ctx context.Context, email string) (*models.Operator, error) {
	if m.Stored != nil && strings.EqualFold(m.Stored.Email, email) {
		return m.Stored, nil
	}
	return nil, nil
}

// TicketRepo is an in-memory local ticket store with the same claim rules as
// the sqlite one, minus stale claims.
type TicketRepo struct {
	mu        sync.Mutex
	Tickets   map[string]*models.LocalTicket
	AssignErr error
	ListErr   error
	posted    map[string]bool
}

var _ repository.TicketRepo = (*TicketRepo)(nil)

func (m *TicketRepo) AssignTicket(ctx context.Context, ticketID, technician string) (*models.LocalTicket, error) {
	if m.AssignErr != nil {
		return nil, m.AssignErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &models.LocalTicket{TicketID: ticketID, TechnicianName: technician, AssignedAt: 1, SyncStatus: models.SyncStatusSyncing}
	m.Tickets[ticketID] = t
	delete(m.posted, ticketID)
	cp := *t
	return &cp, nil
}

func (m *TicketRepo) GetTicket(ctx context.Context, ticketID string) (*models.LocalTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tickets[ticketID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *TicketRepo) ListAssignments(ctx context.Context) ([]models.Pair, error) {
	return m.list(func(*models.LocalTicket) bool { return true })
}

func (m *TicketRepo) ClaimPendingSync(ctx context.Context, limit int) ([]models.Pair, error) {
	return m.list(func(t *models.LocalTicket) bool {
		if t.SyncStatus == models.SyncStatusSynced || t.SyncStatus == models.SyncStatusSyncing || m.posted[t.TicketID] {
			return false
		}
		t.SyncStatus = models.SyncStatusSyncing
		return true
	})
}

func (m *TicketRepo) list(keep func(*models.LocalTicket) bool) ([]models.Pair, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Pair
	for _, t := range m.Tickets {
		if keep(t) {
			out = append(out, models.Pair{TicketID: t.TicketID, TechnicianName: t.TechnicianName})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out, nil
}

func (m *TicketRepo) UpdateSyncState(ctx context.Context, o models.SyncOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Tickets[o.TicketID]; ok && t.TechnicianName == o.TechnicianName {
		t.SyncStatus = o.SyncStatus()
		t.LastOutcomeID = o.ID
		if m.posted == nil {
			m.posted = map[string]bool{}
		}
		m.posted[o.TicketID] = o.CommentResult == models.CommentPosted
	}
	return nil
}

// OutcomeRepo is an in-memory audit log.
type OutcomeRepo struct {
	mu       sync.Mutex
	Outcomes []models.SyncOutcome
}

var _ repository.OutcomeRepo = (*OutcomeRepo)(nil)

func (m *OutcomeRepo) CreateOutcome(ctx context.Context, o models.SyncOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes = append(m.Outcomes, o)
	return nil
}

func (m *OutcomeRepo) ListOutcomesByTicket(ctx context.Context, ticketID string) ([]models.SyncOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncOutcome
	for i := len(m.Outcomes) - 1; i >= 0; i-- {
		if m.Outcomes[i].TicketID == ticketID {
			out = append(out, m.Outcomes[i])
		}
	}
	return out, nil
}

func (m *OutcomeRepo) ListFailedOutcomes(ctx context.Context, limit int) ([]models.SyncOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncOutcome
	for i := len(m.Outcomes) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.Outcomes[i].Failed() {
			out = append(out, m.Outcomes[i])
		}
	}
	return out, nil
}

// Recorder records outcomes into the in-memory repos the same way the sqlite
// repository does.
type Recorder struct {
	Tickets  *TicketRepo
	Outcomes *OutcomeRepo
}

func (r Recorder) RecordOutcome(ctx context.Context, o models.SyncOutcome) error {
	if err := r.Outcomes.CreateOutcome(ctx, o); err != nil {
		return err
	}
	return r.Tickets.UpdateSyncState(ctx, o)
}
