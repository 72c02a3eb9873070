package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tenantgate/domains/auth/be/service"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
)

// Memory is an in-memory tenancy database suitable for tests and local tooling.
type Memory struct {
	mu            sync.Mutex
	users         map[uuid.UUID]persistence.UserRecord
	sessions      map[string]persistence.SessionRecord
	resets        map[string]persistence.ResetTokenRecord
	verifications map[uuid.UUID]verification
	failWith      error
}

type verification struct {
	code      string
	email     string
	expiresAt time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:         map[uuid.UUID]persistence.UserRecord{},
		sessions:      map[string]persistence.SessionRecord{},
		resets:        map[string]persistence.ResetTokenRecord{},
		verifications: map[uuid.UUID]verification{},
	}
}

// Repositories exposes m as every store of a tenancy.
func (m *Memory) Repositories() service.Repositories {
	return service.Repositories{Users: m, Sessions: m, Tokens: m}
}

func (m *Memory) CreateUser(_ context.Context, p persistence.CreateUserParams) (persistence.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == p.Email {
			return persistence.UserRecord{}, persistence.ErrConflict
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	hash := p.Hash
	u := persistence.UserRecord{ID: p.ID, Email: p.Email, Hash: &hash, Verified: p.Verified}
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUserByID(_ context.Context, id uuid.UUID) (persistence.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return persistence.UserRecord{}, m.failWith
	}
	u, ok := m.users[id]
	if !ok {
		return persistence.UserRecord{}, persistence.ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (persistence.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return persistence.UserRecord{}, m.failWith
	}
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return persistence.UserRecord{}, persistence.ErrNotFound
}

func (m *Memory) SetTOTPSecret(_ context.Context, id uuid.UUID, secret string) (persistence.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return persistence.UserRecord{}, persistence.ErrNotFound
	}
	if u.TFA != nil {
		return persistence.UserRecord{}, persistence.ErrConflict
	}
	u.TFA = &secret
	m.users[id] = u
	return u, nil
}

func (m *Memory) CreateSession(_ context.Context, rec persistence.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ID] = rec
	return nil
}

func (m *Memory) GetSessionWithUser(_ context.Context, id string) (persistence.SessionRecord, persistence.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return persistence.SessionRecord{}, persistence.UserRecord{}, persistence.ErrNotFound
	}
	return s, m.users[s.UserID], nil
}

func (m *Memory) UpdateSessionExpiry(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	s.ExpiresAt = expiresAt
	m.sessions[id] = s
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *Memory) DeleteUserSessions(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteUserSessions(userID), nil
}

func (m *Memory) deleteUserSessions(userID uuid.UUID) int64 {
	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *Memory) ReplaceResetToken(_ context.Context, rec persistence.ResetTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.resets {
		if r.UserID == rec.UserID {
			delete(m.resets, id)
		}
	}
	m.resets[rec.ID] = rec
	return nil
}

func (m *Memory) ResetPassword(_ context.Context, tokenID, hash string, now time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.resets[tokenID]
	if !ok {
		return uuid.Nil, persistence.ErrNotFound
	}
	delete(m.resets, tokenID)
	if !now.Before(rec.ExpiresAt) {
		return uuid.Nil, persistence.ErrExpired
	}
	u := m.users[rec.UserID]
	u.Hash = &hash
	m.users[rec.UserID] = u
	m.deleteUserSessions(rec.UserID)
	return rec.UserID, nil
}

func (m *Memory) ReplaceVerificationCode(_ context.Context, userID uuid.UUID, email, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[userID] = verification{code: code, email: email, expiresAt: expiresAt}
	return nil
}

func (m *Memory) ConsumeVerificationCode(_ context.Context, userID uuid.UUID, code string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verifications[userID]
	if !ok || v.code != code {
		return persistence.ErrNotFound
	}
	delete(m.verifications, userID)
	if !now.Before(v.expiresAt) {
		return persistence.ErrExpired
	}
	u := m.users[userID]
	u.Verified = true
	m.users[userID] = u
	return nil
}

// FailWith makes user lookups return err; nil restores normal behaviour.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// SessionIDs lists the stored session ids.
func (m *Memory) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ResetTokenCount reports how many reset tokens are pending.
func (m *Memory) ResetTokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resets)
}

var (
	_ service.UserRepository  = (*Memory)(nil)
	_ service.TokenRepository = (*Memory)(nil)
)
