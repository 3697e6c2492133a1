package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/techsync/pkg/models"
)

const outcomeColumns = `id, batch_id, ticket_id, technician_name, strategy, gap_reason, assignment_result, comment_result, error_detail, created`

// CreateOutcome appends an outcome to the audit log.
func (r *SQLiteRepo) CreateOutcome(ctx context.Context, o models.SyncOutcome) error {
	return insertOutcome(ctx, r.conn.GetConn(), o)
}

// RecordOutcome appends the outcome and reconciles the ticket's sync state in
// one transaction.
func (r *SQLiteRepo) RecordOutcome(ctx context.Context, o models.SyncOutcome) error {
	err := r.conn.InTx(ctx, func(tx *sql.Tx) error {
		if err := insertOutcome(ctx, tx, o); err != nil {
			return err
		}
		return execSyncState(ctx, tx, o)
	})
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", o.ID, err)
	}
	r.logger.Debug("sync outcome recorded",
		slog.String("outcome_id", o.ID),
		slog.String("ticket_id", o.TicketID),
		slog.String("sync_status", o.SyncStatus()))
	return nil
}

func insertOutcome(ctx context.Context, x execer, o models.SyncOutcome) error {
	if o.ID == "" {
		return errors.New("outcome id is required")
	}
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	q := `INSERT INTO sync_outcomes (` + outcomeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := x.ExecContext(ctx, q, o.ID, nullString(o.BatchID), o.TicketID, o.TechnicianName,
		nullString(o.Strategy), nullString(o.GapReason), string(o.AssignmentResult), string(o.CommentResult),
		nullString(o.ErrorDetail), ts.UTC().UnixMilli())
	return err
}

// ListOutcomesByTicket returns the audit trail of a ticket, newest first.
func (r *SQLiteRepo) ListOutcomesByTicket(ctx context.Context, ticketID string) ([]models.SyncOutcome, error) {
	return r.listOutcomes(ctx, `SELECT `+outcomeColumns+` FROM sync_outcomes WHERE ticket_id = ? ORDER BY created DESC, rowid DESC`, ticketID)
}

// ListFailedOutcomes returns the most recent outcomes with a failed step.
func (r *SQLiteRepo) ListFailedOutcomes(ctx context.Context, limit int) ([]models.SyncOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + outcomeColumns + ` FROM sync_outcomes WHERE assignment_result = ? OR comment_result = ? ORDER BY created DESC, rowid DESC LIMIT ?`
	return r.listOutcomes(ctx, q, string(models.AssignmentFailed), string(models.CommentFailed), limit)
}

func (r *SQLiteRepo) listOutcomes(ctx context.Context, q string, args ...any) ([]models.SyncOutcome, error) {
	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncOutcome
	for rows.Next() {
		var (
			o                            models.SyncOutcome
			batch, strategy, gap, detail sql.NullString
			assignment, comment          string
			created                      int64
		)
		if err := rows.Scan(&o.ID, &batch, &o.TicketID, &o.TechnicianName, &strategy, &gap, &assignment, &comment, &detail, &created); err != nil {
			return nil, err
		}
		o.BatchID = batch.String
		o.Strategy = strategy.String
		o.GapReason = gap.String
		o.ErrorDetail = detail.String
		o.AssignmentResult = models.AssignmentResult(assignment)
		o.CommentResult = models.CommentResult(comment)
		o.Timestamp = time.UnixMilli(created).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
