package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service manages the account lifecycle outside of PIN verification.
type Service struct {
	repo        Repository
	countryCode string
	now         func() time.Time
}

// NewService creates an account service. countryCode is prefixed to phone
// numbers submitted without one.
func NewService(repo Repository, countryCode string) *Service {
	return &Service{repo: repo, countryCode: countryCode, now: time.Now}
}

// NormalizePhone applies the service's default country code.
func (s *Service) NormalizePhone(raw string) (string, error) {
	return NormalizePhone(raw, s.countryCode)
}

// Register creates an account for a verified phone number.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Account, error) {
	phone, err := s.NormalizePhone(in.Phone)
	if err != nil {
		return Account{}, err
	}
	email := NormalizeEmail(in.Email)
	if email != "" {
		if err := ValidateEmail(email); err != nil {
			return Account{}, err
		}
	}

	now := s.now().UTC()
	account := Account{
		ID:        uuid.New().String(),
		Phone:     phone,
		Email:     email,
		Name:      strings.TrimSpace(in.Name),
		Role:      RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// Get returns the account with the given id.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.FindByID(ctx, id)
}

// CheckPhone reports whether the phone number is registered and has a PIN.
func (s *Service) CheckPhone(ctx context.Context, raw string) (PhoneStatus, error) {
	phone, err := s.NormalizePhone(raw)
	if err != nil {
		return PhoneStatus{}, err
	}
	account, err := s.repo.FindByPhone(ctx, phone)
	if errors.Is(err, ErrNotFound) {
		return PhoneStatus{}, nil
	}
	if err != nil {
		return PhoneStatus{}, err
	}
	return PhoneStatus{Exists: true, HasPIN: account.HasPIN()}, nil
}

// UpdateProfile validates and applies a single field change.
func (s *Service) UpdateProfile(ctx context.Context, id, rawField, rawValue string) (Account, error) {
	field, err := ParseProfileField(rawField)
	if err != nil {
		return Account{}, err
	}
	value, err := s.normalizeProfileValue(field, rawValue)
	if err != nil {
		return Account{}, err
	}

	switch field {
	case FieldEmail:
		if other, err := s.repo.FindByEmail(ctx, value); err == nil && other.ID != id {
			return Account{}, ErrEmailInUse
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return Account{}, err
		}
	case FieldPhone:
		if other, err := s.repo.FindByPhone(ctx, value); err == nil && other.ID != id {
			return Account{}, ErrPhoneInUse
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return Account{}, err
		}
	}

	return s.repo.UpdateProfile(ctx, id, ProfileUpdate{Field: field, Value: value}, s.now())
}

func (s *Service) normalizeProfileValue(field ProfileField, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	switch field {
	case FieldName:
		if value == "" {
			return "", fmt.Errorf("%w: name cannot be empty", ErrInvalidProfileValue)
		}
	case FieldEmail:
		value = NormalizeEmail(value)
		if err := ValidateEmail(value); err != nil {
			return "", err
		}
	case FieldPhone:
		return s.NormalizePhone(value)
	case FieldProfileImageURL:
		if value == "" {
			return "", nil
		}
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("%w: profile image must be an http(s) url", ErrInvalidProfileValue)
		}
	}
	return value, nil
}

// MarkEmailVerified flags the account owning email as verified. It reports
// false when no account uses the address.
func (s *Service) MarkEmailVerified(ctx context.Context, email string) (bool, error) {
	account, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if account.EmailVerified {
		return true, nil
	}
	if err := s.repo.MarkEmailVerified(ctx, account.ID); err != nil {
		return false, err
	}
	return true, nil
}
