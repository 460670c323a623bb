// Package service holds the collaborators that sit between the HTTP layer
// and the stores: session issuance and the RabbitMQ event publisher.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/grow4bot/internal/repository"
	"github.com/iliyamo/grow4bot/internal/utils"
)

// Sessions issues and resolves session tokens.  A token is valid when its
// signature and expiry check out and its hash is an unrevoked row in the
// session store.
type Sessions struct {
	store  repository.SessionStore
	secret string
	ttl    time.Duration
}

// NewSessions returns a Sessions bound to store.
func NewSessions(store repository.SessionStore, secret string, ttl time.Duration) *Sessions {
	return &Sessions{store: store, secret: secret, ttl: ttl}
}

// TTL is the lifetime of newly issued sessions.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Issue creates a session for userID.
func (s *Sessions) Issue(ctx context.Context, userID uint64) (utils.SessionToken, error) {
	tok, err := utils.NewSessionToken(s.secret, userID, s.ttl)
	if err != nil {
		return utils.SessionToken{}, err
	}
	if err := s.store.Create(ctx, userID, utils.HashToken(tok.Token), tok.Exp); err != nil {
		return utils.SessionToken{}, err
	}
	return tok, nil
}

// Resolve returns the user id behind raw or ErrUnauthorized.
func (s *Sessions) Resolve(ctx context.Context, raw string) (uint64, error) {
	if raw == "" {
		return 0, repository.ErrUnauthorized
	}
	uid, err := utils.ParseSessionToken(s.secret, raw)
	if err != nil {
		return 0, repository.ErrUnauthorized
	}
	stored, err := s.store.Validate(ctx, utils.HashToken(raw))
	if err != nil {
		return 0, err
	}
	if stored != uid {
		return 0, repository.ErrUnauthorized
	}
	return uid, nil
}

// Revoke ends the session identified by raw.  Unknown tokens are ignored.
func (s *Sessions) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return s.store.RevokeByHash(ctx, utils.HashToken(raw))
}
