package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
)

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]persistence.SessionRecord
	users    map[uuid.UUID]persistence.UserRecord
	reads    int
	updates  int
	failWith error
}

func newMemorySessions(users ...persistence.UserRecord) *memorySessions {
	m := &memorySessions{
		sessions: map[string]persistence.SessionRecord{},
		users:    map[uuid.UUID]persistence.UserRecord{},
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memorySessions) CreateSession(_ context.Context, rec persistence.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[rec.ID]; ok {
		return persistence.ErrConflict
	}
	m.sessions[rec.ID] = rec
	return nil
}

func (m *memorySessions) GetSessionWithUser(_ context.Context, id string) (persistence.SessionRecord, persistence.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.failWith != nil {
		return persistence.SessionRecord{}, persistence.UserRecord{}, m.failWith
	}
	s, ok := m.sessions[id]
	if !ok {
		return persistence.SessionRecord{}, persistence.UserRecord{}, persistence.ErrNotFound
	}
	return s, m.users[s.UserID], nil
}

func (m *memorySessions) UpdateSessionExpiry(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	s := m.sessions[id]
	s.ExpiresAt = expiresAt
	m.sessions[id] = s
	return nil
}

func (m *memorySessions) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memorySessions) DeleteUserSessions(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memorySessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestSessions(t *testing.T) (*Sessions, *clock.Mock, *memorySessions, persistence.UserRecord) {
	t.Helper()
	mock := clock.NewMock()
	user := persistence.UserRecord{ID: uuid.New(), Email: "ada@example.com", Verified: true}
	return NewSessions(testKey, mock), mock, newMemorySessions(user), user
}

func TestGenerateSessionTokenIsCookieSafe(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		token, err := GenerateSessionToken()
		require.NoError(t, err)
		require.Len(t, token, 32)
		require.Regexp(t, `^[a-z2-7]+$`, token)
		require.False(t, seen[token])
		seen[token] = true
	}
}

func TestSessionIDIsKeyedDigest(t *testing.T) {
	s := NewSessions(testKey, nil)
	other := NewSessions([]byte("another-key"), nil)

	id := s.SessionID("token")
	require.Len(t, id, 64)
	require.Equal(t, id, s.SessionID("token"))
	require.NotEqual(t, id, s.SessionID("token2"))
	require.NotEqual(t, id, other.SessionID("token"))
	require.NotContains(t, id, "token")
}

func TestCreateAndValidateFreshSession(t *testing.T) {
	s, mock, repo, user := newTestSessions(t)
	ctx := context.Background()

	token, err := GenerateSessionToken()
	require.NoError(t, err)
	sess, err := s.CreateSession(ctx, repo, token, user.ID)
	require.NoError(t, err)
	require.Equal(t, mock.Now().Add(SessionLifetime), sess.ExpiresAt)
	require.NotEqual(t, token, sess.ID)

	mock.Add(time.Hour)
	res, err := s.ValidateSessionToken(ctx, repo, token)
	require.NoError(t, err)
	require.False(t, res.Renewed)
	require.Equal(t, user.ID, res.User.ID)
	require.Equal(t, sess.ExpiresAt, res.Session.ExpiresAt)
	require.Zero(t, repo.updates)
}

func TestValidateEmptyTokenSkipsStorage(t *testing.T) {
	s, _, repo, _ := newTestSessions(t)

	_, err := s.ValidateSessionToken(context.Background(), repo, "")
	require.ErrorIs(t, err, ErrNoSession)
	require.ErrorIs(t, err, problem.ErrUnauthorized)
	require.Zero(t, repo.reads)
}

func TestValidateUnknownToken(t *testing.T) {
	s, _, repo, _ := newTestSessions(t)

	_, err := s.ValidateSessionToken(context.Background(), repo, "nope")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestValidateRenewsInsideThreshold(t *testing.T) {
	s, mock, repo, user := newTestSessions(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, repo, "token", user.ID)
	require.NoError(t, err)

	mock.Add(SessionLifetime - RenewThreshold + time.Second)
	res, err := s.ValidateSessionToken(ctx, repo, "token")
	require.NoError(t, err)
	require.True(t, res.Renewed)
	require.Equal(t, created.ID, res.Session.ID)
	require.Equal(t, mock.Now().Add(SessionLifetime), res.Session.ExpiresAt)
	require.Equal(t, 1, repo.updates)

	again, err := s.ValidateSessionToken(ctx, repo, "token")
	require.NoError(t, err)
	require.False(t, again.Renewed)
	require.Equal(t, 1, repo.updates)
}

func TestValidateAtHalfLifeDoesNotRenew(t *testing.T) {
	s, mock, repo, user := newTestSessions(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, repo, "token", user.ID)
	require.NoError(t, err)

	mock.Add(SessionLifetime - RenewThreshold)
	res, err := s.ValidateSessionToken(ctx, repo, "token")
	require.NoError(t, err)
	require.False(t, res.Renewed)
}

func TestValidateDeletesExpiredSession(t *testing.T) {
	s, mock, repo, user := newTestSessions(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, repo, "token", user.ID)
	require.NoError(t, err)

	mock.Add(SessionLifetime)
	_, err = s.ValidateSessionToken(ctx, repo, "token")
	require.ErrorIs(t, err, ErrNoSession)
	require.Zero(t, repo.count())
}

func TestValidateStorageFailureIsUnavailable(t *testing.T) {
	s, _, repo, _ := newTestSessions(t)
	repo.failWith = errors.New("connection reset")

	_, err := s.ValidateSessionToken(context.Background(), repo, "token")
	require.ErrorIs(t, err, problem.ErrServiceUnavailable)
	require.NotErrorIs(t, err, ErrNoSession)
}

func TestInvalidateUserSessions(t *testing.T) {
	s, _, repo, user := newTestSessions(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, repo, "one", user.ID)
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, repo, "two", user.ID)
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, repo, "other", uuid.New())
	require.NoError(t, err)

	n, err := s.InvalidateUserSessions(ctx, repo, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 1, repo.count())

	require.NoError(t, s.InvalidateSession(ctx, repo, s.SessionID("other")))
	require.NoError(t, s.InvalidateSession(ctx, repo, s.SessionID("other")))
	require.Zero(t, repo.count())
}
