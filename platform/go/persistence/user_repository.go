package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, verified, hash, tfa, created_at, updated_at`

// UserRecord is an account row. Both landlord and tenant databases carry the users table.
type UserRecord struct {
	ID        uuid.UUID
	Email     string
	Verified  bool
	Hash      *string
	TFA       *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserParams holds the values for a new account.
type CreateUserParams struct {
	ID       uuid.UUID
	Email    string
	Hash     string
	Verified bool
}

// UserStore provides access to the users table of one database.
type UserStore struct {
	db Querier
}

// NewUserStore creates a store over db.
func NewUserStore(db Querier) *UserStore {
	if db == nil {
		panic("user store requires a database handle")
	}
	return &UserStore{db: db}
}

// CreateUser inserts an account. A duplicate email yields ErrConflict.
func (s *UserStore) CreateUser(ctx context.Context, params CreateUserParams) (UserRecord, error) {
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx, `
        INSERT INTO users (id, email, hash, verified)
        VALUES ($1, $2, $3, $4)
        RETURNING `+userColumns,
		params.ID, strings.TrimSpace(params.Email), params.Hash, params.Verified,
	)
	return scanUser(row)
}

// UpsertUser creates the account or replaces its password hash. Used for seeding.
func (s *UserStore) UpsertUser(ctx context.Context, params CreateUserParams) (UserRecord, error) {
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx, `
        INSERT INTO users (id, email, hash, verified)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (email) DO UPDATE SET hash = EXCLUDED.hash, verified = EXCLUDED.verified, updated_at = now()
        RETURNING `+userColumns,
		params.ID, strings.TrimSpace(params.Email), params.Hash, params.Verified,
	)
	return scanUser(row)
}

// GetUserByID returns one account.
func (s *UserStore) GetUserByID(ctx context.Context, id uuid.UUID) (UserRecord, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail returns the account registered under email.
func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.TrimSpace(email)))
}

// SetTOTPSecret stores the second-factor secret. It only succeeds while no secret is set;
// an enrolled account yields ErrConflict.
func (s *UserStore) SetTOTPSecret(ctx context.Context, id uuid.UUID, secret string) (UserRecord, error) {
	rec, err := scanUser(s.db.QueryRow(ctx, `
        UPDATE users SET tfa = $2, updated_at = now()
        WHERE id = $1 AND tfa IS NULL
        RETURNING `+userColumns, id, secret))
	if !errors.Is(err, ErrNotFound) {
		return rec, err
	}

	if _, getErr := s.GetUserByID(ctx, id); getErr != nil {
		return UserRecord{}, getErr
	}
	return UserRecord{}, fmt.Errorf("second factor already enrolled: %w", ErrConflict)
}

// MarkVerified flags the account's email as verified.
func (s *UserStore) MarkVerified(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET verified = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (UserRecord, error) {
	var u UserRecord
	if err := row.Scan(&u.ID, &u.Email, &u.Verified, &u.Hash, &u.TFA, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return UserRecord{}, mapRowErr(err)
	}
	return u, nil
}
