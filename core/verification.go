package core

import "time"

// CodeLength is the length of a one-time verification code
const CodeLength = 6

// ValidateCode checks the one-time code format: exactly CodeLength ASCII
// letters or digits.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return ErrInvalidCode
		}
	}
	return nil
}

// VerificationAttempt tracks code submissions against a scanned session
type VerificationAttempt struct {
	Code              string
	AttemptsRemaining int
	ExpiresAt         time.Time
}

// NewVerificationAttempt creates an attempt allowing the given number of tries
func NewVerificationAttempt(attempts int, expiresAt time.Time) *VerificationAttempt {
	return &VerificationAttempt{
		AttemptsRemaining: attempts,
		ExpiresAt:         expiresAt,
	}
}

// Record notes a submission and uses up one try
func (a *VerificationAttempt) Record(code string) {
	a.Code = code
	if a.AttemptsRemaining > 0 {
		a.AttemptsRemaining--
	}
}

// Exhausted reports whether no tries are left
func (a *VerificationAttempt) Exhausted() bool {
	return a.AttemptsRemaining <= 0
}

// Expired reports whether the attempt window has closed
func (a *VerificationAttempt) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}
