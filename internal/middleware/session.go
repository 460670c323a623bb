package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/grow4bot/internal/model"
	"github.com/iliyamo/grow4bot/internal/repository"
)

// SessionResolver maps a raw session token to a user id.
type SessionResolver interface {
	Resolve(ctx context.Context, raw string) (uint64, error)
}

// UserLoader loads the user behind a session.
type UserLoader interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// SessionToken reads the raw session token from the named cookie, falling
// back to an "Authorization: Bearer" header for non-browser clients.
func SessionToken(c echo.Context, cookieName string) string {
	if ck, err := c.Cookie(cookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// RequireSession rejects requests without a valid session with 401 and
// stores the caller's id and user record in the context.  A session whose
// user was deleted counts as invalid.  Banned users pass; operations that
// banned users may not perform check the flag themselves.
func RequireSession(sessions SessionResolver, users UserLoader, cookieName string, log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			uid, err := sessions.Resolve(ctx, SessionToken(c, cookieName))
			if err != nil {
				if !errors.Is(err, repository.ErrUnauthorized) {
					log.Error("resolve session failed", zap.Error(err))
					return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			u, err := users.GetByID(ctx, uid)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
				}
				log.Error("load session user failed", zap.Uint64("user_id", uid), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			c.Set(ctxUserID, u.ID)
			c.Set(ctxUser, u)
			return next(c)
		}
	}
}
