package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists accounts.
type Repository interface {
	Create(ctx context.Context, account Account) error
	FindByID(ctx context.Context, id string) (Account, error)
	FindByPhone(ctx context.Context, phone string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	// UpdatePINState replaces the PIN bookkeeping only if the stored state
	// still equals prev, returning ErrPINStateConflict otherwise.
	UpdatePINState(ctx context.Context, id string, prev, next PINState) error
	// UpdatePINHash stores a new hash and clears any failure state.
	UpdatePINHash(ctx context.Context, id string, hash []byte) error
	MarkEmailVerified(ctx context.Context, id string) error
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate, at time.Time) (Account, error)
}

const uniqueViolation = "23505"

const accountColumns = `id, phone, COALESCE(email, ''), COALESCE(name, ''), role,
	COALESCE(profile_image_url, ''), email_verified, pin_hash, pin_attempts, pin_locked_until,
	created_at, updated_at`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new account.
func (r *PostgresRepository) Create(ctx context.Context, account Account) error {
	id, err := uuid.Parse(account.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, phone, email, name, role, email_verified, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)`,
		id, account.Phone, account.Email, account.Name, account.Role, account.EmailVerified,
		account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	return mapUniqueViolation(err, ErrExists)
}

// FindByID fetches an account by its identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Account, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, uid))
}

// FindByPhone fetches an account by normalized phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Account, error) {
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE phone = $1 LIMIT 1`, phone))
}

// FindByEmail fetches an account by normalized email address.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE lower(email) = $1 LIMIT 1`, email))
}

// UpdatePINState writes the failure counter and lock instant conditionally on
// the previously read values. A zero row count means another request won the
// race or the row vanished; both surface as ErrPINStateConflict so the caller
// re-reads.
func (r *PostgresRepository) UpdatePINState(ctx context.Context, id string, prev, next PINState) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users
		SET pin_attempts = $1, pin_locked_until = $2, updated_at = NOW()
		WHERE id = $3 AND pin_attempts = $4 AND pin_locked_until IS NOT DISTINCT FROM $5`,
		next.FailedAttempts, next.LockedUntil, uid, prev.FailedAttempts, prev.LockedUntil)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPINStateConflict
	}
	return nil
}

// UpdatePINHash stores a new PIN hash and resets attempts and lockout.
func (r *PostgresRepository) UpdatePINHash(ctx context.Context, id string, hash []byte) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users
		SET pin_hash = $1, pin_attempts = 0, pin_locked_until = NULL, updated_at = NOW()
		WHERE id = $2`, hash, uid)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmailVerified flags the account email as verified.
func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`, uid)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile sets one editable column and returns the updated row.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id string, update ProfileUpdate, at time.Time) (Account, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	column, conflict, err := profileColumn(update.Field)
	if err != nil {
		return Account{}, err
	}
	set := column + ` = $1`
	if update.Field == FieldEmail {
		// A different address has not been proven yet.
		set += `, email_verified = (lower(email) IS NOT DISTINCT FROM lower($1) AND email_verified)`
	}
	row := r.db.QueryRow(ctx, `UPDATE users SET `+set+`, updated_at = $2 WHERE id = $3 RETURNING `+accountColumns,
		update.Value, at.UTC(), uid)
	account, err := r.scanOne(row)
	if err != nil {
		return Account{}, mapUniqueViolation(err, conflict)
	}
	return account, nil
}

func profileColumn(field ProfileField) (column string, conflict error, err error) {
	switch field {
	case FieldName:
		return "name", nil, nil
	case FieldEmail:
		return "email", ErrEmailInUse, nil
	case FieldPhone:
		return "phone", ErrPhoneInUse, nil
	case FieldProfileImageURL:
		return "profile_image_url", nil, nil
	default:
		return "", nil, ErrInvalidProfileField
	}
}

func (r *PostgresRepository) scanOne(row pgx.Row) (Account, error) {
	var (
		id      uuid.UUID
		account Account
	)
	err := row.Scan(&id, &account.Phone, &account.Email, &account.Name, &account.Role,
		&account.ProfileImageURL, &account.EmailVerified, &account.PINHash,
		&account.PIN.FailedAttempts, &account.PIN.LockedUntil,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	account.ID = id.String()
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func mapUniqueViolation(err, fallback error) error {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return ErrEmailInUse
	case fallback != nil:
		return fallback
	default:
		return ErrPhoneInUse
	}
}
