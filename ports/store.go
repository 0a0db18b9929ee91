package ports

import (
	"context"
	"time"

	"github.com/layer-3/pairlink/core"
)

// SessionStore keeps ephemeral pairing sessions
type SessionStore interface {
	SaveSession(ctx context.Context, session *core.Session, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (*core.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// TokenStore interface for token invalidation
type TokenStore interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}
