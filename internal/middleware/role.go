package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireAdmin allows only active administrators through.  It must run
// after RequireSession; a banned admin is treated like any other banned
// user and receives 403.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, ok := CurrentUser(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			if !u.IsAdmin || u.IsBanned {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
