// Package db defines persistence models for QuickServe.
package db

// User represents an account with its file capabilities.
// Capabilities default to denied; IsAdmin grants access to the admin API
// only, not to file operations.
type User struct {
	ID          int64
	Username    string
	PassHash    string
	IsAdmin     bool
	CanUpload   bool
	CanDownload bool
	CanDelete   bool
	CanPreview  bool
	CreatedAt   int64
	UpdatedAt   int64
}

// Session represents an issued API token.
// ExpiresAt of 0 means the token is valid until logout.
type Session struct {
	Token     string
	UserID    int64
	CreatedAt int64
	ExpiresAt int64
}

// AdminIPAllowEntry records allowed admin IP/CIDR entries.
type AdminIPAllowEntry struct {
	ID        int64
	CIDR      string
	Note      string
	CreatedAt int64
}
