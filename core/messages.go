package core

import (
	"errors"
	"fmt"
)

// UserMessage turns an error into an actionable message for the user.
// Unknown errors get a generic message so internals never leak.
func UserMessage(err error) string {
	var verr *VerificationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr) && verr.Remaining > 0:
		return fmt.Sprintf("That code did not match. %d attempt(s) left.", verr.Remaining)
	case errors.Is(err, ErrVerificationFailed):
		return "Too many incorrect codes. Start pairing again."
	case errors.Is(err, ErrProviderUnavailable):
		return "No wallet connector is configured. Try again later."
	case errors.Is(err, ErrSessionExpired):
		return "The pairing session expired. Start pairing again."
	case errors.Is(err, ErrUpstreamUnavailable):
		return "Balance data is temporarily unavailable. Try again shortly."
	case errors.Is(err, ErrInvalidCode):
		return "Enter the 6-character code shown in your wallet."
	case errors.Is(err, ErrSubmissionInFlight):
		return "A code is already being checked. Please wait."
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrSessionClosed):
		return "That step is not available right now. Refresh and try again."
	case errors.Is(err, ErrUnsupportedChain):
		return "This network is not supported."
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidSignature):
		return "The wallet approval could not be verified."
	case errors.Is(err, ErrFlowNotFound), errors.Is(err, ErrSessionNotFound):
		return "Session not found. Start pairing again."
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenInvalidated), errors.Is(err, ErrInvalidToken):
		return "Your session has ended. Connect your wallet again."
	default:
		return "Something went wrong. Try again."
	}
}
