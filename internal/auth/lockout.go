package auth

import (
	"sync"
	"time"
)

// GuardConfig tunes the per-account login failure guard.
type GuardConfig struct {
	MaxAttemptsBeforeCooldown int
	InitialCooldown           time.Duration
	CooldownIncrement         time.Duration
	MaxAttemptsBeforeLockout  int
	LockoutDuration           time.Duration
}

type guardEntry struct {
	failures     int
	blockedUntil time.Time
	lastFailure  time.Time
}

// LoginGuard tracks consecutive login failures per username. After a few
// failures attempts are slowed with growing cooldowns; past the lockout
// threshold the account is blocked for the lockout duration. State is
// in-memory and resets on restart.
type LoginGuard struct {
	mu      sync.Mutex
	cfg     GuardConfig
	entries map[string]*guardEntry
	stopCh  chan struct{}
	now     func() time.Time
}

func NewLoginGuard(cfg GuardConfig) *LoginGuard {
	g := &LoginGuard{
		cfg:     cfg,
		entries: make(map[string]*guardEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go g.cleanupLoop()
	return g
}

// Check reports whether a login attempt for username may proceed.
// A gated attempt returns *LockedError with the remaining wait.
func (g *LoginGuard) Check(username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[username]
	if e == nil {
		return nil
	}
	if wait := e.blockedUntil.Sub(g.now()); wait > 0 {
		return &LockedError{RetryAfter: wait}
	}
	return nil
}

// Fail records a failed attempt and computes the next block window.
func (g *LoginGuard) Fail(username string) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[username]
	if e == nil {
		e = &guardEntry{}
		g.entries[username] = e
	}
	e.failures++
	e.lastFailure = now
	switch {
	case e.failures >= g.cfg.MaxAttemptsBeforeLockout:
		e.blockedUntil = now.Add(g.cfg.LockoutDuration)
	case e.failures >= g.cfg.MaxAttemptsBeforeCooldown:
		over := e.failures - g.cfg.MaxAttemptsBeforeCooldown
		e.blockedUntil = now.Add(g.cfg.InitialCooldown + time.Duration(over)*g.cfg.CooldownIncrement)
	}
}

// Success clears the failure record for username.
func (g *LoginGuard) Success(username string) {
	g.mu.Lock()
	delete(g.entries, username)
	g.mu.Unlock()
}

func (g *LoginGuard) Stop() {
	close(g.stopCh)
}

func (g *LoginGuard) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stopCh:
			return
		}
	}
}

// cleanup drops entries that are neither blocked nor recently active,
// so probing random usernames cannot grow the map without bound.
func (g *LoginGuard) cleanup() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, e := range g.entries {
		if now.Before(e.blockedUntil) {
			continue
		}
		if now.Sub(e.lastFailure) > time.Hour {
			delete(g.entries, name)
		}
	}
}
