package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/grow4bot/internal/model"
)

// TransactionRepo reads the append-only transactions table.
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo returns a new TransactionRepo bound to the given database.
func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

// ListByUser returns the user's ledger entries, newest first.
func (r *TransactionRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Transaction, error) {
	const q = `SELECT id, user_id, type, amount_cents, description, reference, created_at
               FROM transactions
               WHERE user_id = ?
               ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var t model.Transaction
	var ref sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Description, &ref, &t.CreatedAt); err != nil {
		return model.Transaction{}, err
	}
	if ref.Valid {
		r := ref.String
		t.Reference = &r
	}
	return t, nil
}
