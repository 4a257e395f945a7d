// Package auth tests for the login failure guard.
package auth

import (
	"errors"
	"testing"
	"time"
)

func testGuard(now *time.Time) *LoginGuard {
	g := &LoginGuard{
		cfg: GuardConfig{
			MaxAttemptsBeforeCooldown: 3,
			InitialCooldown:           10 * time.Second,
			CooldownIncrement:         10 * time.Second,
			MaxAttemptsBeforeLockout:  10,
			LockoutDuration:           24 * time.Hour,
		},
		entries: make(map[string]*guardEntry),
		stopCh:  make(chan struct{}),
		now:     func() time.Time { return *now },
	}
	return g
}

// TestGuardCooldownGrows verifies the escalating cooldown schedule.
func TestGuardCooldownGrows(t *testing.T) {
	now := time.Unix(1000, 0)
	g := testGuard(&now)

	g.Fail("alice")
	g.Fail("alice")
	if err := g.Check("alice"); err != nil {
		t.Fatalf("two failures should not gate: %v", err)
	}

	g.Fail("alice")
	var le *LockedError
	if err := g.Check("alice"); !errors.As(err, &le) {
		t.Fatalf("expected LockedError after third failure, got %v", err)
	} else if le.RetryAfter != 10*time.Second {
		t.Fatalf("expected 10s cooldown, got %s", le.RetryAfter)
	}

	// Fourth failure extends the cooldown by the increment.
	now = now.Add(11 * time.Second)
	g.Fail("alice")
	if err := g.Check("alice"); !errors.As(err, &le) {
		t.Fatalf("expected LockedError, got %v", err)
	} else if le.RetryAfter != 20*time.Second {
		t.Fatalf("expected 20s cooldown, got %s", le.RetryAfter)
	}
}

// TestGuardLockout blocks for the lockout duration past the threshold.
func TestGuardLockout(t *testing.T) {
	now := time.Unix(1000, 0)
	g := testGuard(&now)

	for i := 0; i < 10; i++ {
		g.Fail("bob")
		now = now.Add(5 * time.Minute)
	}
	var le *LockedError
	if err := g.Check("bob"); !errors.As(err, &le) {
		t.Fatalf("expected lockout, got %v", err)
	}
	if le.RetryAfter < 23*time.Hour {
		t.Fatalf("expected near-24h lockout, got %s", le.RetryAfter)
	}
}

// TestGuardSuccessClears resets the failure counter.
func TestGuardSuccessClears(t *testing.T) {
	now := time.Unix(1000, 0)
	g := testGuard(&now)

	g.Fail("carol")
	g.Fail("carol")
	g.Success("carol")
	g.Fail("carol")
	if err := g.Check("carol"); err != nil {
		t.Fatalf("counter should have reset: %v", err)
	}
}
