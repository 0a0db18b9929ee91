package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCode(t *testing.T) {
	for _, code := range []string{"A1B2C3", "abcdef", "000000", "Zz9Yy8"} {
		assert.NoError(t, ValidateCode(code), code)
	}
	for _, code := range []string{"", "A1B2C", "A1B2C3D", "A1B2-3", "A1B2C ", "ÅÅÅ"} {
		assert.ErrorIs(t, ValidateCode(code), ErrInvalidCode, code)
	}
}

func TestVerificationAttempt(t *testing.T) {
	now := time.Now()
	a := NewVerificationAttempt(2, now.Add(time.Minute))

	assert.False(t, a.Exhausted())
	assert.False(t, a.Expired(now))
	assert.True(t, a.Expired(now.Add(2*time.Minute)))

	a.Record("AAAAAA")
	assert.Equal(t, 1, a.AttemptsRemaining)
	assert.Equal(t, "AAAAAA", a.Code)

	a.Record("BBBBBB")
	a.Record("CCCCCC")
	assert.True(t, a.Exhausted())
	assert.Zero(t, a.AttemptsRemaining)
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(&VerificationError{Remaining: 2}), "2 attempt(s) left")
	assert.Contains(t, UserMessage(&VerificationError{}), "Start pairing again")
	assert.Contains(t, UserMessage(ErrSessionExpired), "expired")
	assert.Equal(t, "Something went wrong. Try again.", UserMessage(errors.New("dial tcp 10.0.0.1: refused")))

	var verr *VerificationError
	require.True(t, errors.As(error(&VerificationError{Remaining: 1}), &verr))
	assert.ErrorIs(t, verr, ErrVerificationFailed)
}
