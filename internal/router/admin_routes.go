package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/grow4bot/internal/handler"
	"github.com/iliyamo/grow4bot/internal/middleware"
)

// RegisterAdmin registers administrator endpoints under /api/admin.  All
// routes require a session of an active admin.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, auth echo.MiddlewareFunc) {
	g := e.Group("/api/admin", auth, middleware.RequireAdmin())

	g.GET("/users", h.ListUsers)
	g.PATCH("/users/:id/ban", h.SetBanned)
	g.POST("/users/:id/balance", h.AddBalance)

	g.POST("/products", h.CreateProduct)
	g.PATCH("/products/:id", h.UpdateProduct)
	g.DELETE("/products/:id", h.DeleteProduct)

	g.POST("/purchases/:id/refund", h.Refund)
}
