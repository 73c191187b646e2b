package pin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tapturf/tapturf/internal/identity"
)

const (
	DefaultMaxAttempts = 5
	DefaultLockout     = 15 * time.Minute

	maxStateRetries = 3
)

// ErrContended is returned when the account's PIN state kept changing
// underneath Verify and no decision could be committed.
var ErrContended = errors.New("pin state contended")

// Store is the slice of the account store the authenticator needs.
type Store interface {
	FindByPhone(ctx context.Context, phone string) (identity.Account, error)
	UpdatePINState(ctx context.Context, id string, prev, next identity.PINState) error
	UpdatePINHash(ctx context.Context, id string, hash []byte) error
}

// Options tunes an Authenticator. Zero values select the defaults.
type Options struct {
	MaxAttempts int
	Lockout     time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Authenticator verifies PINs and maintains per-account failure counters.
type Authenticator struct {
	store       Store
	hasher      Hasher
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewAuthenticator builds an Authenticator over store and hasher.
func NewAuthenticator(store Store, hasher Hasher, opts Options) *Authenticator {
	a := &Authenticator{
		store:       store,
		hasher:      hasher,
		maxAttempts: opts.MaxAttempts,
		lockout:     opts.Lockout,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = DefaultMaxAttempts
	}
	if a.lockout <= 0 {
		a.lockout = DefaultLockout
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Verify checks pin for the account registered under phone.
//
// Domain outcomes are reported through Result; the error is non-nil only when
// the store or hasher fails. A lock that has expired stays recorded until the
// next successful match, so a wrong PIN after expiry locks the account again.
func (a *Authenticator) Verify(ctx context.Context, phone, pin string) (Result, error) {
	var (
		compared    bool
		matched     bool
		comparedFor []byte
	)

	for try := 0; try < maxStateRetries; try++ {
		account, err := a.store.FindByPhone(ctx, phone)
		if errors.Is(err, identity.ErrNotFound) {
			return Result{Outcome: OutcomeAccountNotFound}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("load account: %w", err)
		}
		if !account.HasPIN() {
			return Result{Outcome: OutcomePINNotConfigured}, nil
		}

		now := a.now()
		if account.PIN.LockedAt(now) {
			until := *account.PIN.LockedUntil
			return Result{Outcome: OutcomeLocked, LockedUntil: until, RetryAfter: until.Sub(now)}, nil
		}

		// The hash only changes when the PIN is reset, so a retry after a
		// state conflict can reuse the previous comparison.
		if !compared || !bytes.Equal(comparedFor, account.PINHash) {
			matched, err = a.hasher.Compare(account.PINHash, pin)
			if err != nil {
				return Result{}, fmt.Errorf("compare pin: %w", err)
			}
			compared = true
			comparedFor = account.PINHash
		}

		prev := account.PIN
		if matched {
			if prev.FailedAttempts == 0 && prev.LockedUntil == nil {
				return Result{Outcome: OutcomeSuccess, Account: account}, nil
			}
			err := a.store.UpdatePINState(ctx, account.ID, prev, identity.PINState{})
			if errors.Is(err, identity.ErrPINStateConflict) {
				continue
			}
			if err != nil {
				return Result{}, fmt.Errorf("reset pin state: %w", err)
			}
			account.PIN = identity.PINState{}
			return Result{Outcome: OutcomeSuccess, Account: account}, nil
		}

		next := identity.PINState{FailedAttempts: prev.FailedAttempts + 1}
		if next.FailedAttempts >= a.maxAttempts {
			until := now.Add(a.lockout)
			next.LockedUntil = &until
		}
		err = a.store.UpdatePINState(ctx, account.ID, prev, next)
		if errors.Is(err, identity.ErrPINStateConflict) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("record failed attempt: %w", err)
		}

		if next.LockedUntil != nil {
			a.logger.Warn("pin lockout imposed",
				slog.String("account_id", account.ID),
				slog.Int("failed_attempts", next.FailedAttempts),
				slog.Time("locked_until", *next.LockedUntil),
			)
			return Result{Outcome: OutcomeLocked, LockedUntil: *next.LockedUntil, RetryAfter: a.lockout}, nil
		}
		return Result{Outcome: OutcomeInvalidPIN, AttemptsRemaining: a.maxAttempts - next.FailedAttempts}, nil
	}

	a.logger.Warn("pin verification contended", slog.String("phone", phone))
	return Result{}, ErrContended
}

// SetPIN validates pin, hashes it and stores it for the account registered
// under phone, clearing any failure state.
func (a *Authenticator) SetPIN(ctx context.Context, phone, pin string) (identity.Account, error) {
	if err := ValidateFormat(pin); err != nil {
		return identity.Account{}, err
	}
	account, err := a.store.FindByPhone(ctx, phone)
	if err != nil {
		return identity.Account{}, err
	}
	hash, err := a.hasher.Hash(pin)
	if err != nil {
		return identity.Account{}, fmt.Errorf("hash pin: %w", err)
	}
	if err := a.store.UpdatePINHash(ctx, account.ID, hash); err != nil {
		return identity.Account{}, fmt.Errorf("store pin hash: %w", err)
	}
	account.PINHash = hash
	account.PIN = identity.PINState{}
	return account, nil
}
