package repository

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/grow4bot/internal/model"
)

func seedMemory(t *testing.T) (*MemoryStore, uint64, uint64) {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	u := model.User{Email: " Mixed@Example.COM ", PasswordHash: "h"}
	require.NoError(t, s.Users().Create(ctx, &u))
	p := model.Product{Name: "Key", Price: 500, Category: "keys", Stock: []string{"A", "B"}}
	require.NoError(t, s.Products().Create(ctx, &p))
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		_, err := tx.AddBalance(ctx, u.ID, 1000)
		return err
	}))
	return s, u.ID, p.ID
}

func TestMemoryStoreRollsBackFailedUnitOfWork(t *testing.T) {
	ctx := context.Background()
	s, uid, pid := seedMemory(t)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx Tx) error {
		item, err := tx.PopStock(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, "A", item)
		_, err = tx.AddBalance(ctx, uid, -500)
		require.NoError(t, err)
		require.NoError(t, tx.SetBanned(ctx, uid, true))
		require.NoError(t, tx.InsertPurchase(ctx, &model.Purchase{UserID: uid, ProductID: pid, StockData: item}))
		ref := "refund:1"
		require.NoError(t, tx.InsertTransaction(ctx, &model.Transaction{UserID: uid, Type: model.TxRefund, Amount: 1, Reference: &ref}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := s.Users().GetByID(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, model.Cents(1000), u.Balance)
	assert.False(t, u.IsBanned)

	p, err := s.Products().GetByID(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 2, p.StockCount)
	assert.Nil(t, p.Stock)

	purchases, err := s.Purchases().ListByUser(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, purchases)

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		used, err := tx.ReferenceExists(ctx, "refund:1")
		assert.False(t, used)
		item, perr := tx.PopStock(ctx, pid)
		assert.Equal(t, "A", item)
		return errors.Join(err, perr)
	}))
}

func TestMemoryStoreBalanceFloor(t *testing.T) {
	ctx := context.Background()
	s, uid, _ := seedMemory(t)
	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.AddBalance(ctx, uid, -1001)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestMemoryStoreBalanceCeiling(t *testing.T) {
	ctx := context.Background()
	s, uid, _ := seedMemory(t)
	start := balanceOf(t, s, uid)

	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.AddBalance(ctx, uid, model.Cents(math.MaxInt64)-start)
		return err
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx Tx) error {
		_, err := tx.AddBalance(ctx, uid, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrBalanceOverflow)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, model.Cents(math.MaxInt64), balanceOf(t, s, uid))
}

func balanceOf(t *testing.T, s *MemoryStore, id uint64) model.Cents {
	t.Helper()
	u, err := s.Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	return u.Balance
}

func TestMemoryStorePopStockUntilEmpty(t *testing.T) {
	ctx := context.Background()
	s, _, pid := seedMemory(t)
	var got []string
	for i := 0; i < 3; i++ {
		err := s.InTx(ctx, func(tx Tx) error {
			item, err := tx.PopStock(ctx, pid)
			if err == nil {
				got = append(got, item)
			}
			return err
		})
		if i == 2 {
			assert.ErrorIs(t, err, ErrOutOfStock)
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestMemoryStoreDuplicateReference(t *testing.T) {
	ctx := context.Background()
	s, uid, _ := seedMemory(t)
	ref := "refund:7"
	insert := func() error {
		return s.InTx(ctx, func(tx Tx) error {
			return tx.InsertTransaction(ctx, &model.Transaction{UserID: uid, Type: model.TxRefund, Amount: 5, Reference: &ref})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), ErrConflict)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.InTx(ctx, func(Tx) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryUsers(t *testing.T) {
	ctx := context.Background()
	s, uid, _ := seedMemory(t)

	u, err := s.Users().GetByEmail(ctx, "MIXED@example.com")
	require.NoError(t, err)
	assert.Equal(t, uid, u.ID)
	assert.Equal(t, "mixed@example.com", u.Email)

	err = s.Users().Create(ctx, &model.User{Email: "mixed@example.com"})
	assert.ErrorIs(t, err, ErrEmailExists)

	_, err = s.Users().GetByID(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.Users().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryProducts(t *testing.T) {
	ctx := context.Background()
	s, _, pid := seedMemory(t)

	second := model.Product{Name: "Other", Price: 100, Category: "misc"}
	require.NoError(t, s.Products().Create(ctx, &second))
	list, err := s.Products().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	name := "Renamed"
	stock := []string{"Z"}
	p, err := s.Products().Update(ctx, pid, model.ProductUpdate{Name: &name, Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Name)
	assert.Equal(t, 1, p.StockCount)
	assert.Equal(t, model.Cents(500), p.Price)

	_, err = s.Products().Update(ctx, 999, model.ProductUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Products().Delete(ctx, pid))
	assert.ErrorIs(t, s.Products().Delete(ctx, pid), ErrNotFound)
}

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sessions := s.Sessions()

	require.NoError(t, sessions.Create(ctx, 1, "live", time.Now().Add(time.Hour)))
	require.NoError(t, sessions.Create(ctx, 1, "old", time.Now().Add(-time.Minute)))

	uid, err := sessions.Validate(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), uid)
	_, err = sessions.Validate(ctx, "old")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = sessions.Validate(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, sessions.Create(ctx, 1, "other", time.Now().Add(time.Hour)))
	require.NoError(t, sessions.RevokeByHash(ctx, "live"))
	require.NoError(t, sessions.RevokeByHash(ctx, "missing"))
	_, err = sessions.Validate(ctx, "live")
	assert.ErrorIs(t, err, ErrUnauthorized)
	uid, err = sessions.Validate(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), uid)
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("amount", "must be positive")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "amount must be positive", err.Error())
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, ErrValidation.Error(), (&ValidationError{}).Error())
}
