package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/grow4bot/internal/model"
)

// MySQLStore runs ledger units of work inside InnoDB transactions.  Rows
// read through LockUser/LockProduct stay locked (SELECT ... FOR UPDATE)
// until commit, the stock pop locks and deletes exactly one row, and
// balance changes are relative updates guarded against going negative.
// Callers must lock the user row before the product row.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore returns a MySQLStore bound to db.
func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

// DB exposes the underlying sql.DB.
func (s *MySQLStore) DB() *sql.DB { return s.db }

// InTx begins a READ COMMITTED transaction, runs fn and commits when fn
// succeeds.  Deadlocks and lock wait timeouts are reported as ErrConflict.
func (s *MySQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	committed = true
	return nil
}

func classify(err error) error {
	if isRetryable(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) User(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id=?", id))
}

func (t *mysqlTx) LockUser(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id=? FOR UPDATE", id))
}

func (t *mysqlTx) LockProduct(ctx context.Context, id uint64) (model.Product, error) {
	const q = `SELECT id, name, description, price_cents, image, category, created_at, 0
               FROM products WHERE id = ? FOR UPDATE`
	p, err := scanProduct(t.tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return model.Product{}, err
	}
	// Counted after the product lock is held: every stock writer takes the
	// product lock first, so the count cannot change until commit.
	err = t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM product_stock WHERE product_id = ?`, id).Scan(&p.StockCount)
	return p, err
}

func (t *mysqlTx) PopStock(ctx context.Context, productID uint64) (string, error) {
	var (
		stockID uint64
		payload string
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, payload FROM product_stock WHERE product_id = ? ORDER BY id LIMIT 1 FOR UPDATE`,
		productID).Scan(&stockID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrOutOfStock
	}
	if err != nil {
		return "", err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM product_stock WHERE id = ?`, stockID)
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n != 1 {
		return "", fmt.Errorf("stock row %d vanished: %w", stockID, ErrConflict)
	}
	return payload, nil
}

func (t *mysqlTx) AddBalance(ctx context.Context, userID uint64, delta model.Cents) (model.Cents, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET balance_cents = balance_cents + ? WHERE id = ? AND balance_cents + ? >= 0`,
		delta, userID, delta)
	if mysqlErrNumber(err) == mysqlOutOfRange {
		return 0, ErrBalanceOverflow
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	var bal model.Cents
	err = t.tx.QueryRowContext(ctx, `SELECT balance_cents FROM users WHERE id = ?`, userID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrInsufficientBalance
	}
	return bal, nil
}

func (t *mysqlTx) SetBanned(ctx context.Context, userID uint64, banned bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE users SET is_banned = ? WHERE id = ?`, banned, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// RowsAffected is 0 both for a missing row and an unchanged value.
		if _, err := t.User(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

func (t *mysqlTx) PurchaseByID(ctx context.Context, id uint64) (model.Purchase, error) {
	var p model.Purchase
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, user_id, product_id, product_name, price_cents, stock_data, purchase_date FROM purchases WHERE id = ?`,
		id).Scan(&p.ID, &p.UserID, &p.ProductID, &p.ProductName, &p.Price, &p.StockData, &p.PurchaseDate)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Purchase{}, ErrNotFound
	}
	return p, err
}

func (t *mysqlTx) ReferenceExists(ctx context.Context, ref string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE reference = ?`, ref).Scan(&n)
	return n > 0, err
}

func (t *mysqlTx) InsertPurchase(ctx context.Context, p *model.Purchase) error {
	const q = `INSERT INTO purchases (user_id, product_id, product_name, price_cents, stock_data, purchase_date)
               VALUES (?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q, p.UserID, p.ProductID, p.ProductName, p.Price, p.StockData, p.PurchaseDate.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

func (t *mysqlTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	const q = `INSERT INTO transactions (user_id, type, amount_cents, description, reference, created_at)
               VALUES (?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q, tr.UserID, string(tr.Type), tr.Amount, tr.Description, tr.Reference, tr.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("reference already used: %w", ErrConflict)
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	tr.ID = uint64(id)
	return nil
}
