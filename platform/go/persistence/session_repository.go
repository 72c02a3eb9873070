package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRecord is a stored session. ID is the digest of the bearer token, never the token.
type SessionRecord struct {
	ID        string
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// SessionStore provides access to the sessions table of one database.
type SessionStore struct {
	db Querier
}

// NewSessionStore creates a store over db.
func NewSessionStore(db Querier) *SessionStore {
	if db == nil {
		panic("session store requires a database handle")
	}
	return &SessionStore{db: db}
}

// CreateSession inserts a session row.
func (s *SessionStore) CreateSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`,
		rec.ID, rec.UserID, rec.ExpiresAt,
	)
	if err != nil {
		return mapRowErr(fmt.Errorf("insert session: %w", err))
	}
	return nil
}

// GetSessionWithUser loads a session and its owner in one round-trip.
func (s *SessionStore) GetSessionWithUser(ctx context.Context, id string) (SessionRecord, UserRecord, error) {
	var sess SessionRecord
	var u UserRecord
	err := s.db.QueryRow(ctx, `
        SELECT s.id, s.user_id, s.expires_at,
               u.id, u.email, u.verified, u.hash, u.tfa, u.created_at, u.updated_at
        FROM sessions s
        JOIN users u ON u.id = s.user_id
        WHERE s.id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.ExpiresAt,
		&u.ID, &u.Email, &u.Verified, &u.Hash, &u.TFA, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return SessionRecord{}, UserRecord{}, mapRowErr(err)
	}
	return sess, u, nil
}

// UpdateSessionExpiry moves a session's expiry. Repeating the same update is harmless.
func (s *SessionStore) UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	if _, err := s.db.Exec(ctx, `UPDATE sessions SET expires_at = $2 WHERE id = $1`, id, expiresAt); err != nil {
		return fmt.Errorf("update session expiry: %w", err)
	}
	return nil
}

// DeleteSession removes one session.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions removes every session of a user and returns how many were removed.
func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
