package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/grow4bot/internal/config"
	"github.com/iliyamo/grow4bot/internal/middleware"
	"github.com/iliyamo/grow4bot/internal/model"
	"github.com/iliyamo/grow4bot/internal/repository"
	"github.com/iliyamo/grow4bot/internal/service"
	"github.com/iliyamo/grow4bot/internal/utils"
)

// AuthHandler bundles dependencies for the session endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Users    repository.UserStore
	Sessions *service.Sessions
	Log      *zap.Logger
}

func NewAuthHandler(cfg config.Config, users repository.UserStore, sessions *service.Sessions, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{Cfg: cfg, Users: users, Sessions: sessions, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginReq struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register creates a customer account and signs it in.  Emails listed in
// ADMIN_EMAILS are created as administrators.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
	if errors.Is(err, utils.ErrPasswordTooLong) {
		return respondError(c, h.Log, repository.NewValidationError("password", "must be at most 72 bytes"))
	}
	if err != nil {
		return respondError(c, h.Log, err)
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	u := model.User{Email: email, PasswordHash: hash, IsAdmin: h.Cfg.IsAdminEmail(email)}
	if err := h.Users.Create(ctx, &u); err != nil {
		return respondError(c, h.Log, err)
	}
	if err := h.startSession(c, u.ID); err != nil {
		return respondError(c, h.Log, err)
	}
	h.Log.Info("user registered", zap.Uint64("user_id", u.ID), zap.Bool("admin", u.IsAdmin))
	return c.JSON(http.StatusCreated, u)
}

// Login verifies credentials and issues a new session.  Banned accounts
// are refused with 403.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.VerifyPassword("", req.Password)
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return respondError(c, h.Log, err)
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if u.IsBanned {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account is banned"})
	}
	if err := h.startSession(c, u.ID); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, u)
}

// Logout revokes the presented session, if any, and clears the cookie.  It
// succeeds without a session.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Sessions.Revoke(ctx, middleware.SessionToken(c, h.Cfg.SessionCookie)); err != nil {
		return respondError(c, h.Log, err)
	}
	c.SetCookie(&http.Cookie{
		Name:     h.Cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return respondError(c, h.Log, repository.ErrUnauthorized)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) startSession(c echo.Context, userID uint64) error {
	tok, err := h.Sessions.Issue(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     h.Cfg.SessionCookie,
		Value:    tok.Token,
		Path:     "/",
		Expires:  tok.Exp,
		MaxAge:   int(h.Sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.Cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
