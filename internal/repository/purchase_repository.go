package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/grow4bot/internal/model"
)

// PurchaseRepo reads the purchases table.  Rows are inserted only by the
// ledger unit of work (see MySQLStore).
type PurchaseRepo struct {
	db *sql.DB
}

// NewPurchaseRepo returns a new PurchaseRepo bound to the given database.
func NewPurchaseRepo(db *sql.DB) *PurchaseRepo { return &PurchaseRepo{db: db} }

// ListByUser returns all purchases of the given user, newest first.  When
// none exist, an empty slice is returned.
func (r *PurchaseRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Purchase, error) {
	const q = `SELECT id, user_id, product_id, product_name, price_cents, stock_data, purchase_date
               FROM purchases
               WHERE user_id = ?
               ORDER BY purchase_date DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	purchases := make([]model.Purchase, 0)
	for rows.Next() {
		var p model.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProductID, &p.ProductName, &p.Price, &p.StockData, &p.PurchaseDate); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}
