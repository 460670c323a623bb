package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/grow4bot/internal/model"
)

// productSelect loads a product with the number of stock rows left.
const productSelect = `SELECT p.id, p.name, p.description, p.price_cents, p.image, p.category, p.created_at,
                              (SELECT COUNT(*) FROM product_stock s WHERE s.product_id = p.id)
                       FROM products p`

// ProductRepo manages persistence for products and their stock rows.
// Stock items live in product_stock, one row per unit; the auto-increment
// id gives the list its order.
type ProductRepo struct {
	db *sql.DB
}

// NewProductRepo constructs a ProductRepo with the given DB handle.
func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

func scanProduct(row rowScanner) (model.Product, error) {
	var p model.Product
	var desc, image sql.NullString
	err := row.Scan(&p.ID, &p.Name, &desc, &p.Price, &image, &p.Category, &p.CreatedAt, &p.StockCount)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Product{}, ErrNotFound
	}
	if err != nil {
		return model.Product{}, err
	}
	if desc.Valid {
		d := desc.String
		p.Description = &d
	}
	if image.Valid {
		i := image.String
		p.Image = &i
	}
	return p, nil
}

// List returns all products, newest first.
func (r *ProductRepo) List(ctx context.Context) ([]model.Product, error) {
	rows, err := r.db.QueryContext(ctx, productSelect+` ORDER BY p.created_at DESC, p.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := make([]model.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetByID retrieves a product by its ID.  It returns ErrNotFound if there
// is no matching row.
func (r *ProductRepo) GetByID(ctx context.Context, id uint64) (model.Product, error) {
	return scanProduct(r.db.QueryRowContext(ctx, productSelect+` WHERE p.id = ?`, id))
}

// Create inserts the product and its stock rows in one transaction.
func (r *ProductRepo) Create(ctx context.Context, p *model.Product) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const q = `INSERT INTO products (name, description, price_cents, image, category) VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, p.Name, p.Description, p.Price, p.Image, p.Category)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := insertStockTx(ctx, tx, uint64(id), p.Stock); err != nil {
		return err
	}
	created, err := scanProduct(tx.QueryRowContext(ctx, productSelect+` WHERE p.id = ?`, id))
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	stock := p.Stock
	*p = created
	p.Stock = stock
	return nil
}

// Update applies a partial update under the product row lock.  When
// upd.Stock is set the whole stock list is deleted and rewritten; there is
// no merge.
func (r *ProductRepo) Update(ctx context.Context, id uint64, upd model.ProductUpdate) (model.Product, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Product{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var locked uint64
	err = tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = ? FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Product{}, ErrNotFound
	}
	if err != nil {
		return model.Product{}, err
	}
	sets := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.Price != nil {
		sets = append(sets, "price_cents = ?")
		args = append(args, *upd.Price)
	}
	if upd.Image != nil {
		sets = append(sets, "image = ?")
		args = append(args, *upd.Image)
	}
	if upd.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *upd.Category)
	}
	if len(sets) > 0 {
		args = append(args, id)
		if _, err := tx.ExecContext(ctx, `UPDATE products SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return model.Product{}, err
		}
	}
	if upd.Stock != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_stock WHERE product_id = ?`, id); err != nil {
			return model.Product{}, err
		}
		if err := insertStockTx(ctx, tx, id, *upd.Stock); err != nil {
			return model.Product{}, err
		}
	}
	p, err := scanProduct(tx.QueryRowContext(ctx, productSelect+` WHERE p.id = ?`, id))
	if err != nil {
		return model.Product{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Product{}, err
	}
	committed = true
	return p, nil
}

// Delete removes a product; its stock rows go with it (ON DELETE CASCADE).
// Purchases keep their snapshots.
func (r *ProductRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// stockBatchRows keeps each stock INSERT well under MySQL's limit of 65535
// placeholders per statement.
const stockBatchRows = 1000

// insertStockTx inserts stock rows in batches of stockBatchRows, preserving
// the order of items.  Passing an empty slice has no effect.
func insertStockTx(ctx context.Context, tx *sql.Tx, productID uint64, items []string) error {
	for start := 0; start < len(items); start += stockBatchRows {
		end := min(start+stockBatchRows, len(items))
		batch := items[start:end]

		var b strings.Builder
		b.WriteString(`INSERT INTO product_stock (product_id, payload) VALUES `)
		args := make([]interface{}, 0, len(batch)*2)
		for i, item := range batch {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("(?, ?)")
			args = append(args, productID, item)
		}
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("insert stock rows %d-%d: %w", start, end, err)
		}
	}
	return nil
}
