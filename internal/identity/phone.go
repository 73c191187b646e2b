package identity

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// NormalizePhone strips separators and prefixes countryCode when the number
// carries no leading "+". The result must be a valid E.164 number.
func NormalizePhone(raw, countryCode string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if phone == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}
	if !strings.HasPrefix(phone, "+") {
		phone = countryCode + phone
	}
	if err := validate.Var(phone, "e164"); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPhone, phone)
	}
	return phone, nil
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidateEmail checks that raw looks like a deliverable address.
func ValidateEmail(raw string) error {
	if err := validate.Var(raw, "required,email"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}
