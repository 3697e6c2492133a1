package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/garnizeh/techsync/pkg/models"
	"github.com/garnizeh/techsync/pkg/repository"
)

const ticketColumns = `ticket_id, technician_name, assigned_at, sync_status, last_synced_at, last_outcome_id`

// StaleClaimAfter is how long a syncing ticket stays owned by the sync that
// claimed it. Past that the claim is assumed lost (process crash) and the
// ticket can be claimed again.
var StaleClaimAfter = 15 * time.Minute

// AssignTicket records the local assignment and claims the ticket for the
// caller's immediate sync: it is left in syncing, so the periodic sync skips
// it until the outcome is recorded or the claim goes stale. A reassignment
// overwrites the previous technician and forgets the previous outcome.
func (r *SQLiteRepo) AssignTicket(ctx context.Context, ticketID, technician string) (*models.LocalTicket, error) {
	ticketID = strings.TrimSpace(ticketID)
	technician = strings.TrimSpace(technician)
	if ticketID == "" {
		return nil, errors.New("ticket id is required")
	}
	if technician == "" {
		return nil, errors.New("technician name is required")
	}

	ts := now()
	q := `INSERT INTO tickets (ticket_id, technician_name, assigned_at, sync_status, claimed_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(ticket_id) DO UPDATE SET technician_name = excluded.technician_name, assigned_at = excluded.assigned_at,
	sync_status = excluded.sync_status, claimed_at = excluded.claimed_at, last_outcome_id = NULL`
	if _, err := r.conn.Exec(ctx, q, ticketID, technician, ts, models.SyncStatusSyncing, ts); err != nil {
		return nil, fmt.Errorf("assign ticket %s: %w", ticketID, err)
	}
	return r.GetTicket(ctx, ticketID)
}

func (r *SQLiteRepo) GetTicket(ctx context.Context, ticketID string) (*models.LocalTicket, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = ?`, ticketID)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// ListAssignments returns every local assignment ordered by ticket id.
func (r *SQLiteRepo) ListAssignments(ctx context.Context) ([]models.Pair, error) {
	return r.listPairs(ctx, `SELECT ticket_id, technician_name FROM tickets ORDER BY ticket_id`)
}

// ClaimPendingSync claims up to limit tickets that still need a sync and
// returns them, oldest assignment first. A ticket qualifies when no sync owns
// it (or its claim is older than StaleClaimAfter) and its last outcome did
// not post the audit comment: re-running those would post the comment again
// for the same assignment.
func (r *SQLiteRepo) ClaimPendingSync(ctx context.Context, limit int) ([]models.Pair, error) {
	if limit <= 0 {
		limit = 500
	}
	ts := now()
	q := `UPDATE tickets SET sync_status = ?, claimed_at = ?
WHERE ticket_id IN (
	SELECT t.ticket_id FROM tickets t
	LEFT JOIN sync_outcomes o ON o.id = t.last_outcome_id
	WHERE (t.sync_status IN (?, ?, ?, ?) OR (t.sync_status = ? AND COALESCE(t.claimed_at, 0) < ?))
		AND COALESCE(o.comment_result, '') != ?
	ORDER BY t.assigned_at ASC, t.ticket_id ASC
	LIMIT ?)
RETURNING ticket_id, technician_name, assigned_at`

	rows, err := r.conn.QueryRows(ctx, q,
		models.SyncStatusSyncing, ts,
		models.SyncStatusPending, models.SyncStatusFailed, models.SyncStatusPartial, models.SyncStatusUnmapped,
		models.SyncStatusSyncing, ts-StaleClaimAfter.Milliseconds(),
		string(models.CommentPosted), limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending sync: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		pair       models.Pair
		assignedAt int64
	}
	var got []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.pair.TicketID, &c.pair.TechnicianName, &c.assignedAt); err != nil {
			return nil, err
		}
		got = append(got, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified
	sort.Slice(got, func(i, j int) bool {
		if got[i].assignedAt != got[j].assignedAt {
			return got[i].assignedAt < got[j].assignedAt
		}
		return got[i].pair.TicketID < got[j].pair.TicketID
	})
	out := make([]models.Pair, len(got))
	for i, c := range got {
		out[i] = c.pair
	}
	return out, nil
}

func (r *SQLiteRepo) listPairs(ctx context.Context, q string, args ...any) ([]models.Pair, error) {
	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Pair
	for rows.Next() {
		var p models.Pair
		if err := rows.Scan(&p.TicketID, &p.TechnicianName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateSyncState reconciles the local ticket with an outcome. Outcomes for a
// technician the ticket is no longer assigned to are ignored.
func (r *SQLiteRepo) UpdateSyncState(ctx context.Context, o models.SyncOutcome) error {
	return execSyncState(ctx, r.conn.GetConn(), o)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execSyncState(ctx context.Context, x execer, o models.SyncOutcome) error {
	q := `UPDATE tickets SET sync_status = ?, last_synced_at = ?, last_outcome_id = ? WHERE ticket_id = ? AND technician_name = ?`
	_, err := x.ExecContext(ctx, q, o.SyncStatus(), o.Timestamp.UTC().UnixMilli(), o.ID, o.TicketID, o.TechnicianName)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(s rowScanner) (*models.LocalTicket, error) {
	var (
		t         models.LocalTicket
		lastSync  sql.NullInt64
		lastOutID sql.NullString
	)
	if err := s.Scan(&t.TicketID, &t.TechnicianName, &t.AssignedAt, &t.SyncStatus, &lastSync, &lastOutID); err != nil {
		return nil, err
	}
	if lastSync.Valid {
		v := lastSync.Int64
		t.LastSyncedAt = &v
	}
	if lastOutID.Valid {
		t.LastOutcomeID = lastOutID.String
	}
	return &t, nil
}
