package auth

import (
	"fmt"
	"time"
)

// Sentinel errors callers branch on. The credentials error is shared by
// unknown-user and wrong-password failures so responses cannot be used
// to probe which usernames exist.
var (
	ErrInvalidCredentials = fmt.Errorf("invalid username or password")
	ErrInvalidToken       = fmt.Errorf("invalid or expired token")
	ErrPermission         = fmt.Errorf("permission denied")
)

// LockedError reports a login attempt refused by the brute-force guard.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %s", e.RetryAfter.Round(time.Second))
}
