package repository

import (
	"context"
	"time"

	"github.com/iliyamo/grow4bot/internal/model"
)

// Store runs a ledger unit of work atomically.  When fn returns an error, none of
// the mutations made through the Tx are visible afterwards.  Backends
// report a lost race (deadlock, lock wait timeout) by returning an error
// matching ErrConflict; the ledger retries those.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of record-store operations available inside a unit of
// work.  Lookups of a missing row return ErrNotFound.
type Tx interface {
	// User reads a user without locking it.
	User(ctx context.Context, id uint64) (model.User, error)
	// LockUser reads a user and holds its row until the unit of work ends.
	LockUser(ctx context.Context, id uint64) (model.User, error)
	// LockProduct reads a product with its StockCount (Stock is left nil)
	// and holds its row until the unit of work ends.
	LockProduct(ctx context.Context, id uint64) (model.Product, error)
	// PopStock removes and returns the first stock item of a product, or
	// ErrOutOfStock when none is left.
	PopStock(ctx context.Context, productID uint64) (string, error)
	// AddBalance atomically adds delta to the user's balance and returns
	// the new balance.  A debit that would go below zero fails with
	// ErrInsufficientBalance and changes nothing.
	AddBalance(ctx context.Context, userID uint64, delta model.Cents) (model.Cents, error)
	SetBanned(ctx context.Context, userID uint64, banned bool) error
	PurchaseByID(ctx context.Context, id uint64) (model.Purchase, error)
	ReferenceExists(ctx context.Context, ref string) (bool, error)
	// InsertPurchase stores p and fills in its ID.
	InsertPurchase(ctx context.Context, p *model.Purchase) error
	// InsertTransaction stores t and fills in its ID.
	InsertTransaction(ctx context.Context, t *model.Transaction) error
}

// UserStore persists accounts.
type UserStore interface {
	// Create inserts u and fills in ID and CreatedAt.  A duplicate email
	// yields ErrEmailExists.
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

// ProductStore persists the catalog.  Returned products carry StockCount
// but not the stock items themselves.
type ProductStore interface {
	List(ctx context.Context) ([]model.Product, error)
	GetByID(ctx context.Context, id uint64) (model.Product, error)
	// Create inserts p together with its stock list and fills in ID and
	// CreatedAt.
	Create(ctx context.Context, p *model.Product) error
	// Update applies upd under the product row lock.  A non-nil
	// upd.Stock replaces the whole stock list.
	Update(ctx context.Context, id uint64, upd model.ProductUpdate) (model.Product, error)
	Delete(ctx context.Context, id uint64) error
}

// PurchaseStore lists purchases of one owner, newest first.
type PurchaseStore interface {
	ListByUser(ctx context.Context, userID uint64) ([]model.Purchase, error)
}

// TransactionStore lists ledger entries of one owner, newest first.
type TransactionStore interface {
	ListByUser(ctx context.Context, userID uint64) ([]model.Transaction, error)
}

// SessionStore persists login sessions by the hash of their id.
type SessionStore interface {
	Create(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	// Validate returns the owner of an active session, or ErrUnauthorized
	// when the session is unknown, revoked or expired.
	Validate(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
}

var (
	_ Store            = (*MySQLStore)(nil)
	_ Store            = (*MemoryStore)(nil)
	_ UserStore        = (*UserRepo)(nil)
	_ ProductStore     = (*ProductRepo)(nil)
	_ PurchaseStore    = (*PurchaseRepo)(nil)
	_ TransactionStore = (*TransactionRepo)(nil)
	_ SessionStore     = (*SessionRepo)(nil)
)
