package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/ports"
)

// Authenticator validates access tokens issued to verified sessions
type Authenticator struct {
	tokenizer ports.Tokenizer
	tokens    ports.TokenStore
	sessions  ports.SessionStore
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(tokenizer ports.Tokenizer, tokens ports.TokenStore, sessions ports.SessionStore) *Authenticator {
	return &Authenticator{
		tokenizer: tokenizer,
		tokens:    tokens,
		sessions:  sessions,
	}
}

// ValidateAccessToken parses the token and rejects expired or revoked ones.
// The token is only good while its verified session is still stored.
func (a *Authenticator) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Grant, error) {
	grant, err := a.tokenizer.AccessTokenToGrant(accessToken)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	if time.Now().After(grant.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	invalidated, err := a.tokens.IsTokenInvalidated(ctx, grant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return nil, core.ErrTokenInvalidated
	}

	session, err := a.sessions.GetSession(ctx, grant.SessionID)
	if errors.Is(err, core.ErrSessionNotFound) {
		return nil, core.ErrTokenInvalidated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status != core.StatusVerified {
		return nil, core.ErrTokenInvalidated
	}

	return grant, nil
}
