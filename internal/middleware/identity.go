package middleware

// identity.go holds the context keys set by RequireSession and the helpers
// handlers use to read them back.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/grow4bot/internal/model"
)

const (
	ctxUserID = "user_id"
	ctxUser   = "user"
)

// UserID returns the authenticated user id, or 0 outside RequireSession.
func UserID(c echo.Context) uint64 {
	id, _ := c.Get(ctxUserID).(uint64)
	return id
}

// CurrentUser returns the user record loaded by RequireSession.
func CurrentUser(c echo.Context) (model.User, bool) {
	u, ok := c.Get(ctxUser).(model.User)
	return u, ok
}

// currentUserID formats the caller for rate limit keys.
func currentUserID(c echo.Context) string {
	if id := UserID(c); id != 0 {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
