package core

import "errors"

var (
	// ErrProviderUnavailable is returned when no wallet connector is configured
	ErrProviderUnavailable = errors.New("wallet provider unavailable")

	// ErrSessionExpired is returned when a pairing session idled past its timeout
	ErrSessionExpired = errors.New("session has expired")

	// ErrVerificationFailed is returned when a one-time code does not match
	ErrVerificationFailed = errors.New("verification failed")

	// ErrUpstreamUnavailable is returned when the chain RPC cannot be reached
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	ErrInvalidCode        = errors.New("invalid verification code")
	ErrSubmissionInFlight = errors.New("verification already in progress")
	ErrInvalidState       = errors.New("invalid state for this action")
	ErrInvalidTransition  = errors.New("invalid session status transition")
	ErrAccountAlreadySet  = errors.New("account already set for session")
	ErrSessionClosed      = errors.New("session closed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrUnsupportedChain   = errors.New("unsupported chain")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrInvalidSignature   = errors.New("invalid signature")

	// Token errors
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidToken     = errors.New("invalid token")
)

// VerificationError carries the attempts left after a failed code submission.
type VerificationError struct {
	Remaining int
}

func (e *VerificationError) Error() string {
	return ErrVerificationFailed.Error()
}

func (e *VerificationError) Unwrap() error {
	return ErrVerificationFailed
}

// ErrFlowNotFound is returned when a flow ID is unknown
var ErrFlowNotFound = errors.New("flow not found")
