package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/garnizeh/techsync/pkg/models"
)

// Operator methods
func (r *SQLiteRepo) CreateOperator(ctx context.Context, o *models.Operator) (int64, error) {
	if o == nil {
		return 0, fmt.Errorf("operator is nil")
	}

	res, err := r.conn.Exec(ctx, `INSERT INTO operators (name, email, updated, password_hash) VALUES (?, ?, ?, ?)`,
		o.Name, strings.ToLower(strings.TrimSpace(o.Email)), now(), o.PasswordHash)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

// GetOperatorByID returns nil, nil when no operator matches.
func (r *SQLiteRepo) GetOperatorByID(ctx context.Context, id int64) (*models.Operator, error) {
	return scanOperator(r.conn.QueryRow(ctx, `SELECT id, name, email, updated, password_hash FROM operators WHERE id = ?`, id))
}

// GetOperatorByEmail returns nil, nil when no operator matches.
func (r *SQLiteRepo) GetOperatorByEmail(ctx context.Context, email string) (*models.Operator, error) {
	return scanOperator(r.conn.QueryRow(ctx, `SELECT id, name, email, updated, password_hash FROM operators WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))))
}

func scanOperator(row *sql.Row) (*models.Operator, error) {
	var o models.Operator
	var pw sql.NullString
	if err := row.Scan(&o.ID, &o.Name, &o.Email, &o.Updated, &pw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	if pw.Valid {
		o.PasswordHash = pw.String
	}

	return &o, nil
}
