// Package otp issues and verifies short-lived numeric codes keyed by email
// address.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

const (
	// CodeLength is the number of digits in a code.
	CodeLength = 6

	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 5
)

var codeSpace = big.NewInt(1_000_000)

// VerifyOutcome classifies a Verify call.
type VerifyOutcome int

const (
	Verified VerifyOutcome = iota + 1
	NotFound
	Expired
	TooManyAttempts
	Mismatch
)

func (o VerifyOutcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case NotFound:
		return "not_found"
	case Expired:
		return "expired"
	case TooManyAttempts:
		return "too_many_attempts"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

type entry struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// Ledger holds at most one outstanding code per email in process memory.
// It is safe for concurrent use. Expired entries are removed lazily by
// Verify and in bulk by Sweep; the ledger never starts goroutines itself.
type Ledger struct {
	mu          sync.Mutex
	entries     map[string]*entry
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// Options tunes a Ledger. Zero values select the defaults.
type Options struct {
	TTL         time.Duration
	MaxAttempts int
	Now         func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger(opts Options) *Ledger {
	l := &Ledger{
		entries:     make(map[string]*entry),
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = DefaultMaxAttempts
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// TTL returns the lifetime of a stored code.
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// Generate returns a uniformly random code in 000000–999999.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// NormalizeKey lowercases and trims an email address.
func NormalizeKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store records code for email, replacing any outstanding code.
func (l *Ledger) Store(email, code string) time.Time {
	key := NormalizeKey(email)
	expiresAt := l.now().Add(l.ttl)

	l.mu.Lock()
	l.entries[key] = &entry{code: code, expiresAt: expiresAt}
	l.mu.Unlock()

	return expiresAt
}

// Verify checks submitted against the outstanding code for email. Expiry is
// checked before the attempt is counted; a Mismatch keeps the entry so the
// remaining attempts can be used, every other outcome removes it.
func (l *Ledger) Verify(email, submitted string) VerifyOutcome {
	key := NormalizeKey(email)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return NotFound
	}
	if now.After(e.expiresAt) {
		delete(l.entries, key)
		return Expired
	}

	e.attempts++
	if e.attempts > l.maxAttempts {
		delete(l.entries, key)
		return TooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(submitted)), []byte(e.code)) != 1 {
		return Mismatch
	}

	delete(l.entries, key)
	return Verified
}

// Discard removes the entry for email only if it still holds code. It
// reports whether an entry was removed.
func (l *Ledger) Discard(email, code string) bool {
	key := NormalizeKey(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || e.code != code {
		return false
	}
	delete(l.entries, key)
	return true
}

// Sweep deletes every expired entry and returns how many were removed.
func (l *Ledger) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if now.After(e.expiresAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset drops every entry.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = make(map[string]*entry)
	l.mu.Unlock()
}
