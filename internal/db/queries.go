// Package db contains database query helpers for QuickServe.
package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// nowUnix returns the current Unix timestamp in seconds.
func nowUnix() int64 { return time.Now().Unix() }

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// boolToInt maps booleans to SQLite-friendly integer flags.
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

const userCols = `id, username, password_hash, is_admin, can_upload, can_download, can_delete, can_preview, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var u User
	var isAdmin, up, down, del, prev int
	err := r.Scan(&u.ID, &u.Username, &u.PassHash, &isAdmin, &up, &down, &del, &prev, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	u.IsAdmin = isAdmin != 0
	u.CanUpload = up != 0
	u.CanDownload = down != 0
	u.CanDelete = del != 0
	u.CanPreview = prev != 0
	return u, nil
}

// GetConfig fetches a single config key from the database.
// The boolean indicates whether the key exists.
func (d *DB) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&v)
	if err == nil {
		return v, true, nil
	}
	if isNoRows(err) {
		return "", false, nil
	}
	return "", false, err
}

// SetConfig upserts a config key/value pair and updates its timestamp.
func (d *DB) SetConfig(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("config key is required")
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO config(key, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value, nowUnix())
	return err
}

// IsInitialized reports whether setup has completed.
func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	v, ok, err := d.GetConfig(ctx, "initialized")
	if err != nil {
		return false, err
	}
	return ok && v == "1", nil
}

// SetInitialized marks the database as setup-complete.
func (d *DB) SetInitialized(ctx context.Context) error {
	return d.SetConfig(ctx, "initialized", "1")
}

// CreateUser inserts a new user and returns its database ID.
func (d *DB) CreateUser(ctx context.Context, username, passHash string, isAdmin, canUpload, canDownload, canDelete, canPreview bool) (int64, error) {
	if username == "" || passHash == "" {
		return 0, errors.New("username and password hash are required")
	}
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO users(username, password_hash, is_admin, can_upload, can_download, can_delete, can_preview, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
`, username, passHash, boolToInt(isAdmin), boolToInt(canUpload), boolToInt(canDownload), boolToInt(canDelete), boolToInt(canPreview), nowUnix(), nowUnix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateUser updates the admin flag and file capabilities.
func (d *DB) UpdateUser(ctx context.Context, id int64, isAdmin, canUpload, canDownload, canDelete, canPreview bool) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	_, err := d.sql.ExecContext(ctx, `
UPDATE users SET is_admin=?, can_upload=?, can_download=?, can_delete=?, can_preview=?, updated_at=? WHERE id=?
`, boolToInt(isAdmin), boolToInt(canUpload), boolToInt(canDownload), boolToInt(canDelete), boolToInt(canPreview), nowUnix(), id)
	return err
}

// SetUserPasswordHash updates a user's password hash.
func (d *DB) SetUserPasswordHash(ctx context.Context, id int64, passHash string) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	if passHash == "" {
		return errors.New("password hash is required")
	}
	_, err := d.sql.ExecContext(ctx, `UPDATE users SET password_hash=?, updated_at=? WHERE id=?`, passHash, nowUnix(), id)
	return err
}

// DeleteUser removes a user by ID. Sessions cascade.
func (d *DB) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	_, err := d.sql.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	return err
}

// GetUserByUsername looks up a user by username.
func (d *DB) GetUserByUsername(ctx context.Context, username string) (User, bool, error) {
	u, err := scanUser(d.sql.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username=?`, username))
	if err == nil {
		return u, true, nil
	}
	if isNoRows(err) {
		return User{}, false, nil
	}
	return User{}, false, err
}

// GetUserByID looks up a user by ID.
func (d *DB) GetUserByID(ctx context.Context, id int64) (User, bool, error) {
	u, err := scanUser(d.sql.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id))
	if err == nil {
		return u, true, nil
	}
	if isNoRows(err) {
		return User{}, false, nil
	}
	return User{}, false, err
}

// ListUsers returns all users sorted by username.
func (d *DB) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountAdmins returns how many admin accounts exist.
func (d *DB) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_admin=1`).Scan(&n)
	return n, err
}

// CreateSession inserts an API token. expiresAt of 0 means no expiry.
func (d *DB) CreateSession(ctx context.Context, token string, userID int64, expiresAt int64) error {
	if token == "" || userID <= 0 {
		return errors.New("invalid session")
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO sessions(token, user_id, created_at, expires_at)
VALUES(?, ?, ?, ?)
`, token, userID, nowUnix(), expiresAt)
	return err
}

// GetSession looks up a session and its user in one round trip.
func (d *DB) GetSession(ctx context.Context, token string) (Session, User, bool, error) {
	var s Session
	var u User
	var isAdmin, up, down, del, prev int
	err := d.sql.QueryRowContext(ctx, `
SELECT s.token, s.user_id, s.created_at, s.expires_at,
       u.id, u.username, u.password_hash, u.is_admin, u.can_upload, u.can_download, u.can_delete, u.can_preview, u.created_at, u.updated_at
FROM sessions s JOIN users u ON u.id = s.user_id
WHERE s.token=?
`, token).Scan(
		&s.Token, &s.UserID, &s.CreatedAt, &s.ExpiresAt,
		&u.ID, &u.Username, &u.PassHash, &isAdmin, &up, &down, &del, &prev, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == nil {
		u.IsAdmin = isAdmin != 0
		u.CanUpload = up != 0
		u.CanDownload = down != 0
		u.CanDelete = del != 0
		u.CanPreview = prev != 0
		return s, u, true, nil
	}
	if isNoRows(err) {
		return Session{}, User{}, false, nil
	}
	return Session{}, User{}, false, err
}

// DeleteSession removes a session by token.
func (d *DB) DeleteSession(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("token is required")
	}
	_, err := d.sql.ExecContext(ctx, `DELETE FROM sessions WHERE token=?`, token)
	return err
}

// DeleteSessionsForUser removes every session belonging to a user.
func (d *DB) DeleteSessionsForUser(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	_, err := d.sql.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, userID)
	return err
}

// DeleteExpiredSessions deletes sessions whose expiry has passed.
// Sessions with expires_at of 0 never expire.
func (d *DB) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at > 0 AND expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListAdminIPAllowlist returns all admin allowlist entries.
func (d *DB) ListAdminIPAllowlist(ctx context.Context) ([]AdminIPAllowEntry, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, cidr, COALESCE(note, ''), created_at
FROM admin_ip_allowlist
ORDER BY id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AdminIPAllowEntry
	for rows.Next() {
		var e AdminIPAllowEntry
		if err := rows.Scan(&e.ID, &e.CIDR, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddAdminIPAllowlist inserts a new admin allowlist entry.
func (d *DB) AddAdminIPAllowlist(ctx context.Context, cidr, note string) (int64, error) {
	if cidr == "" {
		return 0, errors.New("cidr is required")
	}
	res, err := d.sql.ExecContext(ctx, `INSERT INTO admin_ip_allowlist(cidr, note, created_at) VALUES(?, ?, ?)`, cidr, note, nowUnix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DeleteAdminIPAllowlist removes an allowlist entry by ID.
func (d *DB) DeleteAdminIPAllowlist(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid id")
	}
	_, err := d.sql.ExecContext(ctx, `DELETE FROM admin_ip_allowlist WHERE id=?`, id)
	return err
}
