// Package ledger implements the wallet and purchase flow: every operation
// that moves money or consumes stock runs as one unit of work against the
// record store, so either all of its mutations apply or none do.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/grow4bot/internal/model"
	"github.com/iliyamo/grow4bot/internal/queue"
	"github.com/iliyamo/grow4bot/internal/repository"
)

// DefaultMaxAttempts bounds how often a unit of work is retried after a
// store-level conflict.
const DefaultMaxAttempts = 3

// publishTimeout bounds the post-commit event publish, which still runs
// inside the request.
const publishTimeout = 2 * time.Second

// Ledger performs the compound state transitions of the storefront.
type Ledger struct {
	store       repository.Store
	events      Publisher
	log         *zap.Logger
	maxAttempts int
	now         func() time.Time
}

// New builds a Ledger on top of store.  events may be nil, in which case
// nothing is published.  A nil logger is replaced with a no-op logger.
func New(store repository.Store, events Publisher, log *zap.Logger, maxAttempts int) *Ledger {
	if store == nil {
		panic("nil store passed to ledger.New")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Ledger{
		store:       store,
		events:      events,
		log:         log,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PurchaseResult is returned by a successful Purchase.  StockData is the
// consumed stock item; this is the only place it is revealed.
type PurchaseResult struct {
	Purchase  model.Purchase `json:"purchase"`
	StockData string         `json:"stockData"`
	Balance   model.Cents    `json:"balance"`
}

// Purchase buys one unit of productID for userID.
func (l *Ledger) Purchase(ctx context.Context, userID, productID uint64) (PurchaseResult, error) {
	var res PurchaseResult
	var txID uint64
	err := l.run(ctx, func(tx repository.Tx) error {
		res = PurchaseResult{}
		u, err := activeUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if p.StockCount <= 0 {
			return repository.ErrOutOfStock
		}
		if u.Balance < p.Price {
			return repository.ErrInsufficientBalance
		}
		item, err := tx.PopStock(ctx, productID)
		if err != nil {
			return err
		}
		bal, err := tx.AddBalance(ctx, userID, -p.Price)
		if err != nil {
			return err
		}
		now := l.now()
		pur := model.Purchase{
			UserID:       userID,
			ProductID:    p.ID,
			ProductName:  p.Name,
			Price:        p.Price,
			StockData:    item,
			PurchaseDate: now,
		}
		if err := tx.InsertPurchase(ctx, &pur); err != nil {
			return err
		}
		t := model.Transaction{
			UserID:      userID,
			Type:        model.TxPurchase,
			Amount:      p.Price,
			Description: "Purchased " + p.Name,
			CreatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, &t); err != nil {
			return err
		}
		txID = t.ID
		res = PurchaseResult{Purchase: pur, StockData: item, Balance: bal}
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	l.log.Info("purchase completed",
		zap.Uint64("user_id", userID),
		zap.Uint64("product_id", productID),
		zap.Uint64("purchase_id", res.Purchase.ID),
		zap.Int64("price_cents", int64(res.Purchase.Price)))
	l.publish(ctx, queue.LedgerEvent{
		Kind:          queue.KindPurchaseCompleted,
		UserID:        userID,
		ProductID:     productID,
		ProductName:   res.Purchase.ProductName,
		PurchaseID:    res.Purchase.ID,
		TransactionID: txID,
		AmountCents:   int64(res.Purchase.Price),
		BalanceCents:  int64(res.Balance),
		OccurredAt:    res.Purchase.PurchaseDate,
	})
	return res, nil
}

// TopUp credits a simulated deposit of amount to the user's own wallet.
// There is no upper bound on amount other than the balance range.  A banned
// user is refused before the amount is looked at.
func (l *Ledger) TopUp(ctx context.Context, userID uint64, amount float64) (model.Cents, error) {
	var t model.Transaction
	var bal model.Cents
	err := l.run(ctx, func(tx repository.Tx) error {
		if _, err := activeUser(ctx, tx, userID); err != nil {
			return err
		}
		cents, err := amountCents(amount)
		if err != nil {
			return err
		}
		bal, t, err = l.credit(ctx, tx, userID, cents, model.TxTopUp, "Wallet top-up", nil)
		return err
	})
	if err != nil {
		return 0, err
	}
	l.log.Info("wallet topped up", zap.Uint64("user_id", userID), zap.Int64("amount_cents", int64(t.Amount)))
	l.publish(ctx, queue.LedgerEvent{
		Kind:          queue.KindWalletTopUp,
		UserID:        userID,
		TransactionID: t.ID,
		AmountCents:   int64(t.Amount),
		BalanceCents:  int64(bal),
		OccurredAt:    t.CreatedAt,
	})
	return bal, nil
}

// AdminAddBalance credits amount to targetID on behalf of adminID.  The
// target's ban status does not prevent an admin credit.
func (l *Ledger) AdminAddBalance(ctx context.Context, adminID, targetID uint64, amount float64) (model.Cents, error) {
	var t model.Transaction
	var bal model.Cents
	err := l.run(ctx, func(tx repository.Tx) error {
		if err := requireAdmin(ctx, tx, adminID); err != nil {
			return err
		}
		cents, err := amountCents(amount)
		if err != nil {
			return err
		}
		if _, err := tx.LockUser(ctx, targetID); err != nil {
			return err
		}
		bal, t, err = l.credit(ctx, tx, targetID, cents, model.TxAdminAdd, "Balance added by administrator", nil)
		return err
	})
	if err != nil {
		return 0, err
	}
	l.log.Info("admin credited balance",
		zap.Uint64("admin_id", adminID),
		zap.Uint64("user_id", targetID),
		zap.Int64("amount_cents", int64(t.Amount)))
	l.publish(ctx, queue.LedgerEvent{
		Kind:          queue.KindWalletAdminAdd,
		UserID:        targetID,
		ActorID:       adminID,
		TransactionID: t.ID,
		AmountCents:   int64(t.Amount),
		BalanceCents:  int64(bal),
		OccurredAt:    t.CreatedAt,
	})
	return bal, nil
}

// AdminSetBanned sets the ban flag of targetID.  Balance and history are
// left untouched.
func (l *Ledger) AdminSetBanned(ctx context.Context, adminID, targetID uint64, banned bool) (model.User, error) {
	var u model.User
	err := l.run(ctx, func(tx repository.Tx) error {
		if err := requireAdmin(ctx, tx, adminID); err != nil {
			return err
		}
		if adminID == targetID {
			return repository.NewValidationError("id", "admins cannot change their own ban status")
		}
		var err error
		if u, err = tx.LockUser(ctx, targetID); err != nil {
			return err
		}
		if u.IsBanned == banned {
			return nil
		}
		if err := tx.SetBanned(ctx, targetID, banned); err != nil {
			return err
		}
		u.IsBanned = banned
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	kind := queue.KindUserUnbanned
	if banned {
		kind = queue.KindUserBanned
	}
	l.log.Info("ban status changed", zap.Uint64("admin_id", adminID), zap.Uint64("user_id", targetID), zap.Bool("banned", banned))
	l.publish(ctx, queue.LedgerEvent{
		Kind:         kind,
		UserID:       targetID,
		ActorID:      adminID,
		BalanceCents: int64(u.Balance),
		OccurredAt:   l.now(),
	})
	return u, nil
}

// AdminRefund credits the price of a purchase back to its buyer.  A
// purchase can be refunded once; later attempts fail with ErrConflict.
// The consumed stock item is not returned to the product.
func (l *Ledger) AdminRefund(ctx context.Context, adminID, purchaseID uint64) (model.Transaction, error) {
	ref := "refund:" + strconv.FormatUint(purchaseID, 10)
	var t model.Transaction
	var bal model.Cents
	var pur model.Purchase
	err := l.run(ctx, func(tx repository.Tx) error {
		if err := requireAdmin(ctx, tx, adminID); err != nil {
			return err
		}
		var err error
		if pur, err = tx.PurchaseByID(ctx, purchaseID); err != nil {
			return err
		}
		if _, err := tx.LockUser(ctx, pur.UserID); err != nil {
			return err
		}
		used, err := tx.ReferenceExists(ctx, ref)
		if err != nil {
			return err
		}
		if used {
			return fmt.Errorf("purchase %d: %w: %w", purchaseID, errAlreadyRefunded, repository.ErrConflict)
		}
		bal, t, err = l.credit(ctx, tx, pur.UserID, pur.Price, model.TxRefund, "Refund for "+pur.ProductName, &ref)
		return err
	})
	if err != nil {
		return model.Transaction{}, err
	}
	l.log.Info("purchase refunded",
		zap.Uint64("admin_id", adminID),
		zap.Uint64("purchase_id", purchaseID),
		zap.Uint64("user_id", pur.UserID))
	l.publish(ctx, queue.LedgerEvent{
		Kind:          queue.KindWalletRefund,
		UserID:        pur.UserID,
		ActorID:       adminID,
		ProductID:     pur.ProductID,
		ProductName:   pur.ProductName,
		PurchaseID:    pur.ID,
		TransactionID: t.ID,
		AmountCents:   int64(pur.Price),
		BalanceCents:  int64(bal),
		OccurredAt:    t.CreatedAt,
	})
	return t, nil
}

func (l *Ledger) credit(ctx context.Context, tx repository.Tx, userID uint64, amount model.Cents, typ model.TransactionType, desc string, ref *string) (model.Cents, model.Transaction, error) {
	bal, err := tx.AddBalance(ctx, userID, amount)
	if err != nil {
		return 0, model.Transaction{}, err
	}
	t := model.Transaction{
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Description: desc,
		Reference:   ref,
		CreatedAt:   l.now(),
	}
	if err := tx.InsertTransaction(ctx, &t); err != nil {
		return 0, model.Transaction{}, err
	}
	return bal, t, nil
}

// run executes fn in a unit of work, retrying store conflicts up to
// maxAttempts times.
func (l *Ledger) run(ctx context.Context, fn func(tx repository.Tx) error) error {
	var err error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = l.store.InTx(ctx, fn)
		if err == nil || !errors.Is(err, repository.ErrConflict) || isReferenceConflict(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		l.log.Warn("ledger unit of work conflicted", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("gave up after %d attempts: %w", l.maxAttempts, err)
}

// isReferenceConflict distinguishes a used idempotency reference, which no
// retry can fix, from a lost lock race.
func isReferenceConflict(err error) bool {
	return errors.Is(err, errAlreadyRefunded)
}

var errAlreadyRefunded = errors.New("already refunded")

func (l *Ledger) publish(ctx context.Context, ev queue.LedgerEvent) {
	if l.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := l.events.Publish(ctx, ev); err != nil {
		l.log.Warn("publish ledger event failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

func amountCents(amount float64) (model.Cents, error) {
	cents, err := model.CentsFromAmount(amount)
	if err != nil {
		return 0, repository.NewValidationError("amount", err.Error())
	}
	return cents, nil
}

// activeUser locks the calling user and rejects banned accounts.  A
// session that points at a missing user is treated as unauthenticated.
func activeUser(ctx context.Context, tx repository.Tx, id uint64) (model.User, error) {
	u, err := tx.LockUser(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, repository.ErrUnauthorized
	}
	if err != nil {
		return model.User{}, err
	}
	if u.IsBanned {
		return model.User{}, fmt.Errorf("user %d is banned: %w", id, repository.ErrForbidden)
	}
	return u, nil
}

func requireAdmin(ctx context.Context, tx repository.Tx, id uint64) error {
	u, err := tx.User(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !u.IsAdmin || u.IsBanned {
		return fmt.Errorf("user %d is not an active admin: %w", id, repository.ErrForbidden)
	}
	return nil
}
