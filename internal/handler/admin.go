package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/grow4bot/internal/ledger"
	"github.com/iliyamo/grow4bot/internal/middleware"
	"github.com/iliyamo/grow4bot/internal/model"
	"github.com/iliyamo/grow4bot/internal/repository"
)

// AdminHandler serves the /api/admin endpoints.  Routes are mounted behind
// RequireSession and RequireAdmin; the ledger re-checks the admin flag
// inside its unit of work.
type AdminHandler struct {
	Ledger   *ledger.Ledger
	Users    repository.UserStore
	Products repository.ProductStore
	Purge    CachePurger
	Log      *zap.Logger
}

type banReq struct {
	Banned *bool `json:"banned" validate:"required"`
}

type productCreateReq struct {
	Name        string   `json:"name" validate:"required,max=255"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price" validate:"required,gt=0"`
	Image       *string  `json:"image" validate:"omitempty,max=1024"`
	Category    string   `json:"category" validate:"max=100"`
	Stock       []string `json:"stock"`
}

type productUpdateReq struct {
	Name        *string   `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string   `json:"description"`
	Price       *float64  `json:"price" validate:"omitempty,gt=0"`
	Image       *string   `json:"image" validate:"omitempty,max=1024"`
	Category    *string   `json:"category" validate:"omitempty,min=1,max=100"`
	Stock       *[]string `json:"stock"`
}

const defaultCategory = "general"

// ListUsers returns every account.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	users, err := h.Users.List(ctx)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, users)
}

// SetBanned bans or unbans a user.
func (h *AdminHandler) SetBanned(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	var req banReq
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	u, err := h.Ledger.AdminSetBanned(ctx, middleware.UserID(c), id, *req.Banned)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, u)
}

// AddBalance credits a user's wallet.
func (h *AdminHandler) AddBalance(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	var req amountReq
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	bal, err := h.Ledger.AdminAddBalance(ctx, middleware.UserID(c), id, *req.Amount)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": bal})
}

// Refund credits a purchase's price back to its buyer.
func (h *AdminHandler) Refund(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	t, err := h.Ledger.AdminRefund(ctx, middleware.UserID(c), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, t)
}

// CreateProduct adds a product with its initial stock.
func (h *AdminHandler) CreateProduct(c echo.Context) error {
	var req productCreateReq
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	price, err := model.CentsFromAmount(*req.Price)
	if err != nil {
		return respondError(c, h.Log, repository.NewValidationError("price", err.Error()))
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = defaultCategory
	}
	p := model.Product{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Price:       price,
		Image:       req.Image,
		Category:    category,
		Stock:       cleanStock(req.Stock),
	}

	ctx, cancel := requestCtx(c)
	defer cancel()
	if err := h.Products.Create(ctx, &p); err != nil {
		return respondError(c, h.Log, err)
	}
	purgeCache(ctx, h.Purge, h.Log)
	h.Log.Info("product created", zap.Uint64("product_id", p.ID), zap.Int("stock", p.StockCount))
	p.Stock = nil
	return c.JSON(http.StatusCreated, p)
}

// UpdateProduct applies a partial update.  A stock array replaces the whole
// stock list.
func (h *AdminHandler) UpdateProduct(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	var req productUpdateReq
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	upd := model.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Image:       req.Image,
		Category:    req.Category,
	}
	if req.Price != nil {
		price, err := model.CentsFromAmount(*req.Price)
		if err != nil {
			return respondError(c, h.Log, repository.NewValidationError("price", err.Error()))
		}
		upd.Price = &price
	}
	if req.Stock != nil {
		stock := cleanStock(*req.Stock)
		upd.Stock = &stock
	}

	ctx, cancel := requestCtx(c)
	defer cancel()
	p, err := h.Products.Update(ctx, id, upd)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	purgeCache(ctx, h.Purge, h.Log)
	return c.JSON(http.StatusOK, p)
}

// DeleteProduct removes a product and its unsold stock.  Past purchases
// keep their snapshot.
func (h *AdminHandler) DeleteProduct(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	if err := h.Products.Delete(ctx, id); err != nil {
		return respondError(c, h.Log, err)
	}
	purgeCache(ctx, h.Purge, h.Log)
	h.Log.Info("product deleted", zap.Uint64("product_id", id), zap.Uint64("admin_id", middleware.UserID(c)))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// cleanStock drops blank entries; a stock item is an opaque non-empty
// string.
func cleanStock(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
