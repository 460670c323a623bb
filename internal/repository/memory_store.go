package repository

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/grow4bot/internal/model"
)

// MemoryStore is a process-local record store.  A single mutex serialises
// every ledger unit of work, so it is linearizable by construction.  Each
// mutation inside InTx records an undo step that is replayed in reverse
// when the unit of work fails.  It serves development setups
// (STORE_BACKEND=memory) and tests; data does not survive a restart.
type MemoryStore struct {
	mu sync.RWMutex

	users        map[uint64]model.User
	products     map[uint64]model.Product
	purchases    map[uint64]model.Purchase
	transactions map[uint64]model.Transaction
	sessions     map[string]model.Session
	references   map[string]uint64

	nextUserID        uint64
	nextProductID     uint64
	nextPurchaseID    uint64
	nextTransactionID uint64
	nextSessionID     uint64

	now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[uint64]model.User),
		products:     make(map[uint64]model.Product),
		purchases:    make(map[uint64]model.Purchase),
		transactions: make(map[uint64]model.Transaction),
		sessions:     make(map[string]model.Session),
		references:   make(map[string]uint64),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Users, Products, Purchases, Transactions and Sessions expose the query
// side of the store through the same interfaces as the MySQL repositories.
func (s *MemoryStore) Users() UserStore               { return memUsers{s} }
func (s *MemoryStore) Products() ProductStore         { return memProducts{s} }
func (s *MemoryStore) Purchases() PurchaseStore       { return memPurchases{s} }
func (s *MemoryStore) Transactions() TransactionStore { return memTransactions{s} }
func (s *MemoryStore) Sessions() SessionStore         { return memSessions{s} }

// InTx runs fn while holding the writer lock.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) User(_ context.Context, id uint64) (model.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (t *memTx) LockUser(ctx context.Context, id uint64) (model.User, error) { return t.User(ctx, id) }

func (t *memTx) LockProduct(_ context.Context, id uint64) (model.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return model.Product{}, ErrNotFound
	}
	return publicProduct(p), nil
}

func (t *memTx) PopStock(_ context.Context, productID uint64) (string, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return "", ErrNotFound
	}
	if len(p.Stock) == 0 {
		return "", ErrOutOfStock
	}
	prev := p.Stock
	item := prev[0]
	p.Stock = append([]string(nil), prev[1:]...)
	t.s.products[productID] = p
	t.undo = append(t.undo, func() {
		q := t.s.products[productID]
		q.Stock = prev
		t.s.products[productID] = q
	})
	return item, nil
}

func (t *memTx) AddBalance(_ context.Context, userID uint64, delta model.Cents) (model.Cents, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	if delta > 0 && u.Balance > model.Cents(math.MaxInt64)-delta {
		return 0, ErrBalanceOverflow
	}
	if u.Balance+delta < 0 {
		return 0, ErrInsufficientBalance
	}
	prev := u.Balance
	u.Balance += delta
	t.s.users[userID] = u
	t.undo = append(t.undo, func() {
		v := t.s.users[userID]
		v.Balance = prev
		t.s.users[userID] = v
	})
	return u.Balance, nil
}

func (t *memTx) SetBanned(_ context.Context, userID uint64, banned bool) error {
	u, ok := t.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	prev := u.IsBanned
	u.IsBanned = banned
	t.s.users[userID] = u
	t.undo = append(t.undo, func() {
		v := t.s.users[userID]
		v.IsBanned = prev
		t.s.users[userID] = v
	})
	return nil
}

func (t *memTx) PurchaseByID(_ context.Context, id uint64) (model.Purchase, error) {
	p, ok := t.s.purchases[id]
	if !ok {
		return model.Purchase{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) ReferenceExists(_ context.Context, ref string) (bool, error) {
	_, ok := t.s.references[ref]
	return ok, nil
}

func (t *memTx) InsertPurchase(_ context.Context, p *model.Purchase) error {
	t.s.nextPurchaseID++
	p.ID = t.s.nextPurchaseID
	t.s.purchases[p.ID] = *p
	id := p.ID
	t.undo = append(t.undo, func() {
		delete(t.s.purchases, id)
		t.s.nextPurchaseID--
	})
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	if tr.Reference != nil {
		if _, ok := t.s.references[*tr.Reference]; ok {
			return ErrConflict
		}
	}
	t.s.nextTransactionID++
	tr.ID = t.s.nextTransactionID
	t.s.transactions[tr.ID] = *tr
	id := tr.ID
	if tr.Reference != nil {
		t.s.references[*tr.Reference] = id
	}
	ref := tr.Reference
	t.undo = append(t.undo, func() {
		delete(t.s.transactions, id)
		if ref != nil {
			delete(t.s.references, *ref)
		}
		t.s.nextTransactionID--
	})
	return nil
}

// publicProduct strips the stock items and fills in StockCount.
func publicProduct(p model.Product) model.Product {
	p.StockCount = len(p.Stock)
	p.Stock = nil
	return p
}

// ----- query side -----

type memUsers struct{ s *MemoryStore }

func (m memUsers) Create(_ context.Context, u *model.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range m.s.users {
		if existing.Email == email {
			return ErrEmailExists
		}
	}
	m.s.nextUserID++
	u.ID = m.s.nextUserID
	u.Email = email
	u.CreatedAt = m.s.now()
	m.s.users[u.ID] = *u
	return nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, u := range m.s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, ErrNotFound
}

func (m memUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	u, ok := m.s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m memUsers) List(_ context.Context) ([]model.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]model.User, 0, len(m.s.users))
	for _, u := range m.s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memProducts struct{ s *MemoryStore }

func (m memProducts) List(_ context.Context) ([]model.Product, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]model.Product, 0, len(m.s.products))
	for _, p := range m.s.products {
		out = append(out, publicProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m memProducts) GetByID(_ context.Context, id uint64) (model.Product, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.products[id]
	if !ok {
		return model.Product{}, ErrNotFound
	}
	return publicProduct(p), nil
}

func (m memProducts) Create(_ context.Context, p *model.Product) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextProductID++
	p.ID = m.s.nextProductID
	p.CreatedAt = m.s.now()
	stored := *p
	stored.Stock = append([]string(nil), p.Stock...)
	m.s.products[p.ID] = stored
	p.StockCount = len(p.Stock)
	return nil
}

func (m memProducts) Update(_ context.Context, id uint64, upd model.ProductUpdate) (model.Product, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.products[id]
	if !ok {
		return model.Product{}, ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = upd.Description
	}
	if upd.Price != nil {
		p.Price = *upd.Price
	}
	if upd.Image != nil {
		p.Image = upd.Image
	}
	if upd.Category != nil {
		p.Category = *upd.Category
	}
	if upd.Stock != nil {
		p.Stock = append([]string(nil), (*upd.Stock)...)
	}
	m.s.products[id] = p
	return publicProduct(p), nil
}

func (m memProducts) Delete(_ context.Context, id uint64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.s.products, id)
	return nil
}

type memPurchases struct{ s *MemoryStore }

func (m memPurchases) ListByUser(_ context.Context, userID uint64) ([]model.Purchase, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]model.Purchase, 0)
	for _, p := range m.s.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	// IDs grow with time, so the highest ID is the newest row.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memTransactions struct{ s *MemoryStore }

func (m memTransactions) ListByUser(_ context.Context, userID uint64) ([]model.Transaction, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]model.Transaction, 0)
	for _, t := range m.s.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memSessions struct{ s *MemoryStore }

func (m memSessions) Create(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextSessionID++
	m.s.sessions[tokenHash] = model.Session{
		ID:        m.s.nextSessionID,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: exp.UTC(),
		CreatedAt: m.s.now(),
	}
	return nil
}

func (m memSessions) Validate(_ context.Context, tokenHash string) (uint64, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	sess, ok := m.s.sessions[tokenHash]
	if !ok || sess.RevokedAt != nil || !m.s.now().Before(sess.ExpiresAt) {
		return 0, ErrUnauthorized
	}
	return sess.UserID, nil
}

func (m memSessions) RevokeByHash(_ context.Context, tokenHash string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if sess, ok := m.s.sessions[tokenHash]; ok && sess.RevokedAt == nil {
		now := m.s.now()
		sess.RevokedAt = &now
		m.s.sessions[tokenHash] = sess
	}
	return nil
}
