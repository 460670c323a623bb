package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/grow4bot/internal/handler"
)

// RegisterShop registers the catalogue and wallet endpoints.  The product
// list is public and goes through the response cache; everything that
// touches a wallet requires a session.
func RegisterShop(e *echo.Echo, h *handler.ShopHandler, auth, cache echo.MiddlewareFunc) {
	api := e.Group("/api")
	api.GET("/products", h.ListProducts, cache)
	api.GET("/products/:id", h.GetProduct)

	api.POST("/products/:id/purchase", h.Purchase, auth)
	api.GET("/purchases", h.ListPurchases, auth)
	api.GET("/transactions", h.ListTransactions, auth)
	api.POST("/wallet/topup", h.TopUp, auth)
}
