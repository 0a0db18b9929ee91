package service

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/pairlink/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccessToken(t *testing.T) {
	h := newHarness(t, time.Minute)
	auth := NewAuthenticator(h.tokenizer, h.store, h.store)
	ctx := context.Background()

	token := h.authenticate(t)

	grant, err := auth.ValidateAccessToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, testAddress, grant.Address)

	require.NoError(t, h.controller.Logout(ctx))
	_, err = auth.ValidateAccessToken(ctx, token)
	require.ErrorIs(t, err, core.ErrTokenInvalidated)

	_, err = auth.ValidateAccessToken(ctx, "garbage")
	require.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestValidateAccessTokenNeedsStoredSession(t *testing.T) {
	h := newHarness(t, time.Minute)
	auth := NewAuthenticator(h.tokenizer, h.store, h.store)
	ctx := context.Background()

	token := h.authenticate(t)
	grant, err := auth.ValidateAccessToken(ctx, token)
	require.NoError(t, err)

	// the token has not been revoked, but its session is gone
	require.NoError(t, h.store.DeleteSession(ctx, grant.SessionID))
	_, err = auth.ValidateAccessToken(ctx, token)
	require.ErrorIs(t, err, core.ErrTokenInvalidated)
}
