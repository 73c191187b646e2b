package otp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tapturf/tapturf/internal/identity"
	"github.com/tapturf/tapturf/internal/notification"
)

// ErrDeliveryFailed is returned when the code was generated but the email
// could not be handed to the transport.
var ErrDeliveryFailed = errors.New("failed to send verification email")

// VerifiedRecorder is told about addresses whose ownership was just proven.
type VerifiedRecorder interface {
	MarkEmailVerified(ctx context.Context, email string) (bool, error)
}

// IssuerOptions tunes an Issuer.
type IssuerOptions struct {
	// RollbackOnSendFailure discards a stored code when delivery fails.
	// When false the code stays verifiable until it expires.
	RollbackOnSendFailure bool
	Verified              VerifiedRecorder
	Logger                *slog.Logger
}

// Issuer runs the email verification flow on top of a Ledger.
type Issuer struct {
	ledger   *Ledger
	sender   notification.Notifier
	verified VerifiedRecorder
	rollback bool
	logger   *slog.Logger
}

// NewIssuer wires a ledger to an outbound email notifier.
func NewIssuer(ledger *Ledger, sender notification.Notifier, opts IssuerOptions) *Issuer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		ledger:   ledger,
		sender:   sender,
		verified: opts.Verified,
		rollback: opts.RollbackOnSendFailure,
		logger:   logger,
	}
}

// Request generates a code for email, stores it and sends it. The code is
// stored before the send is attempted.
func (i *Issuer) Request(ctx context.Context, email string) (time.Time, error) {
	email = NormalizeKey(email)
	if err := identity.ValidateEmail(email); err != nil {
		return time.Time{}, err
	}

	code, err := Generate()
	if err != nil {
		return time.Time{}, err
	}
	expiresAt := i.ledger.Store(email, code)

	msg, err := notification.NewOTPEmail(email, code, i.ledger.TTL())
	if err == nil {
		err = i.sender.Send(ctx, msg)
	}
	if err != nil {
		discarded := false
		if i.rollback {
			discarded = i.ledger.Discard(email, code)
		}
		i.logger.Error("otp email delivery failed",
			slog.String("email", email),
			slog.Bool("code_discarded", discarded),
			slog.Any("error", err),
		)
		return time.Time{}, ErrDeliveryFailed
	}

	i.logger.Info("otp issued", slog.String("email", email), slog.Time("expires_at", expiresAt))
	return expiresAt, nil
}

// Verify checks code for email. On success the owning account, if any, is
// marked as email-verified; a failure to record that is logged and does not
// change the outcome.
func (i *Issuer) Verify(ctx context.Context, email, code string) VerifyOutcome {
	outcome := i.ledger.Verify(email, code)
	i.logger.Info("otp verification", slog.String("email", NormalizeKey(email)), slog.String("outcome", outcome.String()))
	if outcome != Verified || i.verified == nil {
		return outcome
	}
	if _, err := i.verified.MarkEmailVerified(ctx, email); err != nil {
		i.logger.Warn("mark email verified failed", slog.String("email", NormalizeKey(email)), slog.Any("error", err))
	}
	return outcome
}
