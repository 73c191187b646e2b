package identity

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryRepository builds an in-memory account store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{accounts: make(map[string]Account)}
}

func (r *memoryRepository) Create(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Phone == account.Phone {
			return ErrExists
		}
		if account.Email != "" && NormalizeEmail(existing.Email) == NormalizeEmail(account.Email) {
			return ErrEmailInUse
		}
	}
	r.accounts[account.ID] = clone(account)
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(account), nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Account, error) {
	return r.findBy(func(a Account) bool { return a.Phone == phone })
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Account, error) {
	return r.findBy(func(a Account) bool { return a.Email != "" && NormalizeEmail(a.Email) == email })
}

func (r *memoryRepository) findBy(match func(Account) bool) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, account := range r.accounts {
		if match(account) {
			return clone(account), nil
		}
	}
	return Account{}, ErrNotFound
}

func (r *memoryRepository) UpdatePINState(_ context.Context, id string, prev, next PINState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok || !account.PIN.Equal(prev) {
		return ErrPINStateConflict
	}
	account.PIN = clonePINState(next)
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return nil
}

func (r *memoryRepository) UpdatePINHash(_ context.Context, id string, hash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	account.PINHash = append([]byte(nil), hash...)
	account.PIN = PINState{}
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return nil
}

func (r *memoryRepository) MarkEmailVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	account.EmailVerified = true
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return nil
}

func (r *memoryRepository) UpdateProfile(_ context.Context, id string, update ProfileUpdate, at time.Time) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	for otherID, other := range r.accounts {
		if otherID == id {
			continue
		}
		switch {
		case update.Field == FieldEmail && NormalizeEmail(other.Email) == NormalizeEmail(update.Value):
			return Account{}, ErrEmailInUse
		case update.Field == FieldPhone && other.Phone == update.Value:
			return Account{}, ErrPhoneInUse
		}
	}
	switch update.Field {
	case FieldName:
		account.Name = update.Value
	case FieldEmail:
		if NormalizeEmail(account.Email) != NormalizeEmail(update.Value) {
			account.EmailVerified = false
		}
		account.Email = update.Value
	case FieldPhone:
		account.Phone = update.Value
	case FieldProfileImageURL:
		account.ProfileImageURL = update.Value
	default:
		return Account{}, ErrInvalidProfileField
	}
	account.UpdatedAt = at.UTC()
	r.accounts[id] = account
	return clone(account), nil
}

func clone(a Account) Account {
	a.PINHash = append([]byte(nil), a.PINHash...)
	a.PIN = clonePINState(a.PIN)
	return a
}

func clonePINState(s PINState) PINState {
	if s.LockedUntil != nil {
		t := *s.LockedUntil
		s.LockedUntil = &t
	}
	return s
}
