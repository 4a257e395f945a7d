// Package auth implements credential verification, API tokens, and the
// capability checks behind every file operation.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/8gudbits/QuickServe/internal/db"
)

// Capability names a per-user permission flag.
type Capability string

const (
	CapUpload   Capability = "can_upload"
	CapDownload Capability = "can_download"
	CapDelete   Capability = "can_delete"
	CapPreview  Capability = "can_preview"
)

type cacheEntry struct {
	userID    int64
	expiresAt time.Time // zero when the token never expires
}

// Manager issues and verifies API tokens and runs the login flow.
// The token table is cached in memory under an RW mutex; user rows are
// read from the database per request so capability edits apply
// immediately.
type Manager struct {
	DB       *db.DB
	TokenTTL time.Duration // 0 keeps tokens valid until logout
	Guard    *LoginGuard   // optional
	Logger   *slog.Logger

	mu     sync.RWMutex
	tokens map[string]cacheEntry
}

func NewManager(d *db.DB, ttl time.Duration, guard *LoginGuard, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		DB:       d,
		TokenTTL: ttl,
		Guard:    guard,
		Logger:   logger,
		tokens:   make(map[string]cacheEntry),
	}
}

// Login checks a username and pre-hashed password and mints a token.
// Every failure mode returns ErrInvalidCredentials (or *LockedError when
// the guard is engaged); callers must not distinguish further.
func (m *Manager) Login(ctx context.Context, username, preHashed string) (string, db.User, error) {
	if m.Guard != nil {
		if err := m.Guard.Check(username); err != nil {
			return "", db.User{}, err
		}
	}
	u, err := m.checkPassword(ctx, username, preHashed)
	if err != nil {
		return "", db.User{}, err
	}

	token, err := NewToken(32)
	if err != nil {
		return "", db.User{}, err
	}
	var expiresAt int64
	var expiry time.Time
	if m.TokenTTL > 0 {
		expiry = time.Now().Add(m.TokenTTL)
		expiresAt = expiry.Unix()
	}
	if err := m.DB.CreateSession(ctx, token, u.ID, expiresAt); err != nil {
		return "", db.User{}, err
	}
	m.mu.Lock()
	m.tokens[token] = cacheEntry{userID: u.ID, expiresAt: expiry}
	m.mu.Unlock()

	if m.Guard != nil {
		m.Guard.Success(username)
	}
	m.Logger.Info("login", "username", username)
	return token, u, nil
}

// Authenticate verifies a raw (not pre-hashed) password. Protocol
// front-ends that receive plaintext credentials per connection use this;
// no token is minted.
func (m *Manager) Authenticate(ctx context.Context, username, rawPassword string) (db.User, error) {
	if m.Guard != nil {
		if err := m.Guard.Check(username); err != nil {
			return db.User{}, err
		}
	}
	u, err := m.checkPassword(ctx, username, PreHash(rawPassword))
	if err != nil {
		return db.User{}, err
	}
	if m.Guard != nil {
		m.Guard.Success(username)
	}
	return u, nil
}

func (m *Manager) checkPassword(ctx context.Context, username, preHashed string) (db.User, error) {
	u, found, err := m.DB.GetUserByUsername(ctx, username)
	if err != nil {
		return db.User{}, err
	}
	if !found {
		// Burn comparable work so timing does not reveal user existence.
		DummyVerify(preHashed)
		if m.Guard != nil {
			m.Guard.Fail(username)
		}
		return db.User{}, ErrInvalidCredentials
	}
	ok, err := VerifyPassword(preHashed, u.PassHash)
	if err != nil || !ok {
		if m.Guard != nil {
			m.Guard.Fail(username)
		}
		return db.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Verify resolves a token to its user. The in-memory table answers the
// common case; misses (fresh process, other instance) fall through to
// the sessions table and back-fill the cache.
func (m *Manager) Verify(ctx context.Context, token string) (db.User, error) {
	if token == "" {
		return db.User{}, ErrInvalidToken
	}
	m.mu.RLock()
	e, hit := m.tokens[token]
	m.mu.RUnlock()

	if hit {
		if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
			m.drop(ctx, token)
			return db.User{}, ErrInvalidToken
		}
		u, found, err := m.DB.GetUserByID(ctx, e.userID)
		if err != nil {
			return db.User{}, err
		}
		if !found {
			m.drop(ctx, token)
			return db.User{}, ErrInvalidToken
		}
		return u, nil
	}

	s, u, found, err := m.DB.GetSession(ctx, token)
	if err != nil {
		return db.User{}, err
	}
	if !found {
		return db.User{}, ErrInvalidToken
	}
	var expiry time.Time
	if s.ExpiresAt > 0 {
		expiry = time.Unix(s.ExpiresAt, 0)
		if time.Now().After(expiry) {
			m.drop(ctx, token)
			return db.User{}, ErrInvalidToken
		}
	}
	m.mu.Lock()
	m.tokens[token] = cacheEntry{userID: u.ID, expiresAt: expiry}
	m.mu.Unlock()
	return u, nil
}

// Authorize checks a capability flag on the user. Flags default to
// denied; admins get no implicit file access.
func (m *Manager) Authorize(u db.User, c Capability) error {
	var ok bool
	switch c {
	case CapUpload:
		ok = u.CanUpload
	case CapDownload:
		ok = u.CanDownload
	case CapDelete:
		ok = u.CanDelete
	case CapPreview:
		ok = u.CanPreview
	}
	if !ok {
		return ErrPermission
	}
	return nil
}

// Logout invalidates a token. Unknown tokens succeed, so repeating a
// logout is harmless.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	m.drop(ctx, token)
	return nil
}

// InvalidateUser drops every session belonging to a user, for admin
// deletes and password resets.
func (m *Manager) InvalidateUser(ctx context.Context, userID int64) error {
	if err := m.DB.DeleteSessionsForUser(ctx, userID); err != nil {
		return err
	}
	m.mu.Lock()
	for tok, e := range m.tokens {
		if e.userID == userID {
			delete(m.tokens, tok)
		}
	}
	m.mu.Unlock()
	return nil
}

// PurgeExpired removes expired sessions from the database and cache.
// The daemon runs this periodically when a TTL is configured.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	m.mu.Lock()
	for tok, e := range m.tokens {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(m.tokens, tok)
		}
	}
	m.mu.Unlock()
	return m.DB.DeleteExpiredSessions(ctx, now.Unix())
}

func (m *Manager) drop(ctx context.Context, token string) {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
	if err := m.DB.DeleteSession(ctx, token); err != nil {
		m.Logger.Warn("delete session", "error", err)
	}
}
