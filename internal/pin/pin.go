// Package pin authenticates accounts by their 4-digit PIN and enforces a
// timed lockout after repeated failures.
package pin

import (
	"errors"
	"fmt"
)

// Length is the number of digits in a PIN.
const Length = 4

var (
	// ErrInvalidFormat is returned when a PIN is not exactly four ASCII digits.
	ErrInvalidFormat = errors.New("PIN must be exactly 4 digits")

	// ErrWeakPIN is returned for PINs made of one repeated digit or a run of
	// consecutive digits in either direction.
	ErrWeakPIN = errors.New("PIN is too easy to guess")
)

// ValidateFormat checks that pin is four digits and not trivially guessable.
func ValidateFormat(pin string) error {
	if !IsWellFormed(pin) {
		return ErrInvalidFormat
	}
	if pin[0] == pin[1] && pin[1] == pin[2] && pin[2] == pin[3] {
		return fmt.Errorf("%w: all digits are the same", ErrWeakPIN)
	}
	if isSequence(pin) {
		return fmt.Errorf("%w: digits form a simple sequence", ErrWeakPIN)
	}
	return nil
}

// IsWellFormed reports whether pin is exactly four ASCII digits. It performs
// no strength checks.
func IsWellFormed(pin string) bool {
	if len(pin) != Length {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// isSequence matches the 14 strictly monotonic runs 0123..6789 and 9876..3210.
func isSequence(pin string) bool {
	step := int(pin[1]) - int(pin[0])
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(pin); i++ {
		if int(pin[i])-int(pin[i-1]) != step {
			return false
		}
	}
	return true
}
