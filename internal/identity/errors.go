package identity

import "errors"

var (
	// ErrNotFound is returned when no account matches the lookup key.
	ErrNotFound = errors.New("account not found")

	// ErrExists is returned when registering a phone number that is already taken.
	ErrExists = errors.New("account already exists")

	// ErrPINStateConflict signals that the stored PIN state no longer matches
	// the state the caller read; the caller should re-read and retry.
	ErrPINStateConflict = errors.New("pin state changed concurrently")

	ErrEmailInUse          = errors.New("email already in use")
	ErrPhoneInUse          = errors.New("phone number already in use")
	ErrInvalidPhone        = errors.New("invalid phone number")
	ErrInvalidEmail        = errors.New("invalid email format")
	ErrInvalidProfileField = errors.New("invalid profile field")
	ErrInvalidProfileValue = errors.New("invalid profile value")
)
