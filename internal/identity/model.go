package identity

import (
	"fmt"
	"time"
)

// RoleUser is the role assigned to self-registered accounts.
const RoleUser = "user"

// PINState is the persisted brute-force bookkeeping for an account PIN.
type PINState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Equal compares two states, treating lock instants with time.Equal.
func (s PINState) Equal(other PINState) bool {
	if s.FailedAttempts != other.FailedAttempts {
		return false
	}
	if s.LockedUntil == nil || other.LockedUntil == nil {
		return s.LockedUntil == nil && other.LockedUntil == nil
	}
	return s.LockedUntil.Equal(*other.LockedUntil)
}

// LockedAt reports whether the lock is still in force at now.
func (s PINState) LockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// Account is a registered player or venue owner.
type Account struct {
	ID              string
	Phone           string
	Email           string
	Name            string
	Role            string
	ProfileImageURL string
	EmailVerified   bool
	PINHash         []byte
	PIN             PINState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPIN reports whether a PIN hash has been configured.
func (a Account) HasPIN() bool {
	return len(a.PINHash) > 0
}

// ProfileField enumerates the account attributes a user may edit.
type ProfileField string

const (
	FieldName            ProfileField = "name"
	FieldEmail           ProfileField = "email"
	FieldPhone           ProfileField = "phone"
	FieldProfileImageURL ProfileField = "profile_image_url"
)

// ProfileFields lists every editable field.
var ProfileFields = []ProfileField{FieldName, FieldEmail, FieldPhone, FieldProfileImageURL}

// ProfileFieldNames returns the wire names of ProfileFields.
func ProfileFieldNames() []string {
	names := make([]string, len(ProfileFields))
	for i, f := range ProfileFields {
		names[i] = string(f)
	}
	return names
}

// ParseProfileField maps a wire name onto a ProfileField.
func ParseProfileField(raw string) (ProfileField, error) {
	for _, f := range ProfileFields {
		if string(f) == raw {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidProfileField, raw)
}

// ProfileUpdate is a single validated field change.
type ProfileUpdate struct {
	Field ProfileField
	Value string
}

// PhoneStatus answers whether a phone number is registered and has a PIN.
type PhoneStatus struct {
	Exists bool
	HasPIN bool
}

// RegisterInput carries the attributes of a new account.
type RegisterInput struct {
	Phone string
	Name  string
	Email string
}
