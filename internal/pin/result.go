package pin

import (
	"time"

	"github.com/tapturf/tapturf/internal/identity"
)

// Outcome classifies a verification attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeAccountNotFound
	OutcomePINNotConfigured
	OutcomeLocked
	OutcomeInvalidPIN
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAccountNotFound:
		return "account_not_found"
	case OutcomePINNotConfigured:
		return "pin_not_configured"
	case OutcomeLocked:
		return "locked"
	case OutcomeInvalidPIN:
		return "invalid_pin"
	default:
		return "unknown"
	}
}

// Result is the outcome of Authenticator.Verify. Only the fields relevant to
// Outcome are populated.
type Result struct {
	Outcome Outcome

	// Account is set on OutcomeSuccess.
	Account identity.Account

	// AttemptsRemaining is set on OutcomeInvalidPIN.
	AttemptsRemaining int

	// LockedUntil and RetryAfter are set on OutcomeLocked.
	LockedUntil time.Time
	RetryAfter  time.Duration
}

// OK reports whether the PIN authenticated the account.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// RemainingMinutes rounds RetryAfter up to whole minutes for display.
func (r Result) RemainingMinutes() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int((r.RetryAfter + time.Minute - 1) / time.Minute)
}
