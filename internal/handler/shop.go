package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/grow4bot/internal/ledger"
	"github.com/iliyamo/grow4bot/internal/middleware"
	"github.com/iliyamo/grow4bot/internal/repository"
)

// CachePurger drops cached catalogue responses after stock or product
// changes.  A nil CachePurger means no cache is in use.
type CachePurger func(ctx context.Context) error

// ShopHandler serves the catalogue and the customer's wallet.
type ShopHandler struct {
	Ledger       *ledger.Ledger
	Products     repository.ProductStore
	Purchases    repository.PurchaseStore
	Transactions repository.TransactionStore
	Purge        CachePurger
	Log          *zap.Logger
}

type amountReq struct {
	Amount *float64 `json:"amount" validate:"required"`
}

// ListProducts returns every product with its stock count.
func (h *ShopHandler) ListProducts(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	items, err := h.Products.List(ctx)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, items)
}

// GetProduct returns a single product.
func (h *ShopHandler) GetProduct(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	p, err := h.Products.GetByID(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Purchase buys one unit of the product for the caller and reveals the
// delivered stock item.
func (h *ShopHandler) Purchase(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	res, err := h.Ledger.Purchase(ctx, middleware.UserID(c), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	purgeCache(ctx, h.Purge, h.Log)
	return c.JSON(http.StatusOK, res)
}

// ListPurchases returns the caller's purchases, newest first.
func (h *ShopHandler) ListPurchases(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	items, err := h.Purchases.ListByUser(ctx, middleware.UserID(c))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, items)
}

// ListTransactions returns the caller's ledger entries, newest first.
func (h *ShopHandler) ListTransactions(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	items, err := h.Transactions.ListByUser(ctx, middleware.UserID(c))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, items)
}

// TopUp credits a simulated deposit to the caller's wallet.  A banned
// caller gets 403 whatever the body holds.
func (h *ShopHandler) TopUp(c echo.Context) error {
	if u, ok := middleware.CurrentUser(c); ok && u.IsBanned {
		return respondError(c, h.Log, repository.ErrForbidden)
	}
	var req amountReq
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	bal, err := h.Ledger.TopUp(ctx, middleware.UserID(c), *req.Amount)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": bal})
}

func purgeCache(ctx context.Context, purge CachePurger, log *zap.Logger) {
	if purge == nil {
		return
	}
	if err := purge(context.WithoutCancel(ctx)); err != nil {
		log.Warn("purge product cache failed", zap.Error(err))
	}
}
