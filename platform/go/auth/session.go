package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
)

const (
	// SessionLifetime is how long a new or renewed session lives.
	SessionLifetime = 30 * 24 * time.Hour
	// RenewThreshold is the remaining lifetime under which validation extends a session.
	RenewThreshold = SessionLifetime / 2

	sessionTokenBytes = 20
)

// ErrNoSession reports a missing, unknown or expired session token.
var ErrNoSession = fmt.Errorf("session %w", problem.ErrUnauthorized)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// SessionRepository is the session storage of one tenancy database.
// *persistence.SessionStore implements it.
type SessionRepository interface {
	CreateSession(ctx context.Context, rec persistence.SessionRecord) error
	GetSessionWithUser(ctx context.Context, id string) (persistence.SessionRecord, persistence.UserRecord, error)
	UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID uuid.UUID) (int64, error)
}

var _ SessionRepository = (*persistence.SessionStore)(nil)

// Result is a validated session and the user owning it.
type Result struct {
	Session persistence.SessionRecord
	User    persistence.UserRecord
	// Renewed is set when validation extended the session; the cookie must be reissued.
	Renewed bool
}

// Sessions issues and validates rolling session tokens.
type Sessions struct {
	key   []byte
	clock clock.Clock
}

// NewSessions returns a Sessions keyed by key. Stored session ids are HMACs of the
// bearer token under key.
func NewSessions(key []byte, clk clock.Clock) *Sessions {
	if len(key) == 0 {
		panic("auth: session key is required")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Sessions{key: key, clock: clk}
}

// GenerateSessionToken returns a random cookie-safe bearer token.
func GenerateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return strings.ToLower(tokenEncoding.EncodeToString(b)), nil
}

// SessionID returns the stored identifier of token.
func (s *Sessions) SessionID(token string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// CreateSession stores a new session for userID bound to token.
func (s *Sessions) CreateSession(ctx context.Context, repo SessionRepository, token string, userID uuid.UUID) (persistence.SessionRecord, error) {
	rec := persistence.SessionRecord{
		ID:        s.SessionID(token),
		UserID:    userID,
		ExpiresAt: s.clock.Now().Add(SessionLifetime),
	}
	if err := repo.CreateSession(ctx, rec); err != nil {
		return persistence.SessionRecord{}, fmt.Errorf("create session: %w", err)
	}
	return rec, nil
}

// ValidateSessionToken resolves token to its session and user.
//
// Unknown and expired tokens return ErrNoSession; expired sessions are deleted on the
// way. Sessions within RenewThreshold of expiry are extended to a full lifetime.
// Storage failures wrap problem.ErrServiceUnavailable and never read as
// unauthenticated.
func (s *Sessions) ValidateSessionToken(ctx context.Context, repo SessionRepository, token string) (Result, error) {
	if token == "" {
		return Result{}, ErrNoSession
	}

	id := s.SessionID(token)
	sess, user, err := repo.GetSessionWithUser(ctx, id)
	switch {
	case errors.Is(err, problem.ErrNotFound):
		return Result{}, ErrNoSession
	case err != nil:
		return Result{}, unavailable("load session", err)
	}

	now := s.clock.Now()
	if !now.Before(sess.ExpiresAt) {
		if err := repo.DeleteSession(ctx, id); err != nil && !errors.Is(err, problem.ErrNotFound) {
			return Result{}, unavailable("delete expired session", err)
		}
		return Result{}, ErrNoSession
	}

	res := Result{Session: sess, User: user}
	if sess.ExpiresAt.Sub(now) < RenewThreshold {
		expiresAt := now.Add(SessionLifetime)
		if err := repo.UpdateSessionExpiry(ctx, id, expiresAt); err != nil {
			return Result{}, unavailable("renew session", err)
		}
		res.Session.ExpiresAt = expiresAt
		res.Renewed = true
	}
	return res, nil
}

// InvalidateSession deletes one session. Deleting an unknown session is not an error.
func (s *Sessions) InvalidateSession(ctx context.Context, repo SessionRepository, sessionID string) error {
	if err := repo.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, problem.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// InvalidateUserSessions deletes every session of userID and returns how many existed.
func (s *Sessions) InvalidateUserSessions(ctx context.Context, repo SessionRepository, userID uuid.UUID) (int64, error) {
	n, err := repo.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return n, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, problem.ErrServiceUnavailable, err)
}
