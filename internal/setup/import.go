package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/8gudbits/QuickServe/internal/db"
	"github.com/8gudbits/QuickServe/internal/validate"
)

// legacyConfig is the old config.json schema. User entries come in two
// forms: a bare bcrypt hash string (every permission granted) or an
// object with a password hash and permission booleans.
type legacyConfig struct {
	Port          int
	AllowOrigins  []string
	Users         map[string]legacyUser
	UseRecycleBin bool
	BruteForce    *legacyBruteForce
}

type legacyUser struct {
	PassHash    string
	CanUpload   bool
	CanDownload bool
	CanPreview  bool
	CanDelete   bool
}

type legacyBruteForce struct {
	Enabled                   *bool `json:"enabled"`
	MaxAttemptsBeforeCooldown int   `json:"max_attempts_before_cooldown"`
	InitialCooldown           int   `json:"initial_cooldown"`
	CooldownIncrement         int   `json:"cooldown_increment"`
	MaxAttemptsBeforeLockout  int   `json:"max_attempts_before_lockout"`
	LockoutDuration           int   `json:"lockout_duration"`
}

func loadLegacyConfig(path string) (*legacyConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Port          int                        `json:"port"`
		AllowOrigins  []string                   `json:"allow_origins"`
		Users         map[string]json.RawMessage `json:"users"`
		UseRecycleBin *bool                      `json:"use_recycle_bin"`
		BruteForce    *legacyBruteForce          `json:"brute_force_protection"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}

	lc := &legacyConfig{
		Port:          raw.Port,
		AllowOrigins:  raw.AllowOrigins,
		Users:         make(map[string]legacyUser, len(raw.Users)),
		UseRecycleBin: true,
		BruteForce:    raw.BruteForce,
	}
	if raw.UseRecycleBin != nil {
		lc.UseRecycleBin = *raw.UseRecycleBin
	}
	// The wildcard origin meant "no CORS restrictions"; the API treats an
	// explicit "*" entry the same way, so it maps across unchanged.

	for name, msg := range raw.Users {
		u, err := parseLegacyUser(msg)
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", name, err)
		}
		lc.Users[name] = u
	}
	return lc, nil
}

func parseLegacyUser(msg json.RawMessage) (legacyUser, error) {
	// Old entries are a bare hash string with every permission granted.
	var hash string
	if err := json.Unmarshal(msg, &hash); err == nil {
		if strings.TrimSpace(hash) == "" {
			return legacyUser{}, fmt.Errorf("empty password hash")
		}
		return legacyUser{PassHash: hash, CanUpload: true, CanDownload: true, CanPreview: true, CanDelete: true}, nil
	}

	var rec struct {
		Password      string `json:"password"`
		CanUpload     *bool  `json:"can_upload"`
		CanDownload   *bool  `json:"can_download"`
		CanSeePreview *bool  `json:"can_see_preview"`
		CanDelete     *bool  `json:"can_delete"`
	}
	if err := json.Unmarshal(msg, &rec); err != nil {
		return legacyUser{}, err
	}
	if strings.TrimSpace(rec.Password) == "" {
		return legacyUser{}, fmt.Errorf("empty password hash")
	}
	boolOr := func(p *bool, def bool) bool {
		if p == nil {
			return def
		}
		return *p
	}
	return legacyUser{
		PassHash:    rec.Password,
		CanUpload:   boolOr(rec.CanUpload, true),
		CanDownload: boolOr(rec.CanDownload, true),
		CanPreview:  boolOr(rec.CanSeePreview, true),
		CanDelete:   boolOr(rec.CanDelete, true),
	}, nil
}

// importUsers creates the imported accounts. The legacy bcrypt hashes
// are stored verbatim; they keep verifying through the bcrypt path.
func importUsers(ctx context.Context, d *db.DB, lc *legacyConfig) (int, error) {
	names := make([]string, 0, len(lc.Users))
	for name := range lc.Users {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := validate.Username(name); err != nil {
			return 0, fmt.Errorf("imported user %q: %w", name, err)
		}
	}
	for i, name := range names {
		u := lc.Users[name]
		if _, err := d.CreateUser(ctx, name, u.PassHash, false, u.CanUpload, u.CanDownload, u.CanDelete, u.CanPreview); err != nil {
			return i, fmt.Errorf("import user %q: %w", name, err)
		}
	}
	return len(names), nil
}
