package persistence

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxQuerier can run statements directly or inside a transaction.
type TxQuerier interface {
	Querier
	txBeginner
}

// ResetTokenRecord is a pending password reset.
type ResetTokenRecord struct {
	ID        string
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// TokenStore manages single-use reset tokens and verification codes.
type TokenStore struct {
	db TxQuerier
}

// NewTokenStore creates a store over db.
func NewTokenStore(db TxQuerier) *TokenStore {
	if db == nil {
		panic("token store requires a database handle")
	}
	return &TokenStore{db: db}
}

// ReplaceResetToken deletes the user's previous reset tokens and stores a new one.
func (s *TokenStore) ReplaceResetToken(ctx context.Context, rec ResetTokenRecord) error {
	return WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM reset_tokens WHERE user_id = $1`, rec.UserID); err != nil {
			return fmt.Errorf("delete reset tokens: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO reset_tokens (id, user_id, expires_at) VALUES ($1, $2, $3)`,
			rec.ID, rec.UserID, rec.ExpiresAt,
		); err != nil {
			return fmt.Errorf("insert reset token: %w", err)
		}
		return nil
	})
}

// GetResetToken returns a pending reset token.
func (s *TokenStore) GetResetToken(ctx context.Context, id string) (ResetTokenRecord, error) {
	var rec ResetTokenRecord
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, expires_at FROM reset_tokens WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.ExpiresAt)
	if err != nil {
		return ResetTokenRecord{}, mapRowErr(err)
	}
	return rec, nil
}

// ResetPassword consumes the reset token, stores the new password hash and deletes every
// session of the token's user in one transaction. An expired token is still consumed.
func (s *TokenStore) ResetPassword(ctx context.Context, tokenID, hash string, now time.Time) (uuid.UUID, error) {
	var userID uuid.UUID
	var expired bool

	err := WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var expiresAt time.Time
		err := tx.QueryRow(ctx,
			`DELETE FROM reset_tokens WHERE id = $1 RETURNING user_id, expires_at`, tokenID,
		).Scan(&userID, &expiresAt)
		if err != nil {
			return mapRowErr(err)
		}
		if !now.Before(expiresAt) {
			expired = true
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET hash = $2, updated_at = now() WHERE id = $1`, userID, hash); err != nil {
			return fmt.Errorf("update password hash: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete user sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	if expired {
		return uuid.Nil, ErrExpired
	}
	return userID, nil
}

// ReplaceVerificationCode deletes the user's previous codes and stores a new one.
func (s *TokenStore) ReplaceVerificationCode(ctx context.Context, userID uuid.UUID, email, code string, expiresAt time.Time) error {
	return WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM verification_tokens WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete verification codes: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO verification_tokens (code, email, user_id, expires_at) VALUES ($1, $2, $3, $4)`,
			code, email, userID, expiresAt,
		); err != nil {
			return fmt.Errorf("insert verification code: %w", err)
		}
		return nil
	})
}

// ConsumeVerificationCode checks code against the user's pending code and, when it matches
// and has not expired, deletes it and marks the user verified. A mismatch leaves the code
// in place and yields ErrNotFound.
func (s *TokenStore) ConsumeVerificationCode(ctx context.Context, userID uuid.UUID, code string, now time.Time) error {
	var expired bool
	err := WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var stored, email string
		var expiresAt time.Time
		err := tx.QueryRow(ctx,
			`SELECT code, email, expires_at FROM verification_tokens WHERE user_id = $1 FOR UPDATE`, userID,
		).Scan(&stored, &email, &expiresAt)
		if err != nil {
			return mapRowErr(err)
		}
		if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM verification_tokens WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete verification code: %w", err)
		}
		if !now.Before(expiresAt) {
			expired = true
			return nil
		}

		tag, err := tx.Exec(ctx,
			`UPDATE users SET verified = TRUE, updated_at = now() WHERE id = $1 AND email = $2`, userID, email)
		if err != nil {
			return fmt.Errorf("mark user verified: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errors.New("verification code email no longer matches account")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if expired {
		return ErrExpired
	}
	return nil
}
