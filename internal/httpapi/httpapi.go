// Package httpapi exposes the QuickServe REST API and handlers.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/8gudbits/QuickServe/internal/archive"
	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/catalog"
	"github.com/8gudbits/QuickServe/internal/db"
	"github.com/8gudbits/QuickServe/internal/fsutil"
	"github.com/8gudbits/QuickServe/internal/logging"
	"github.com/8gudbits/QuickServe/internal/remove"
	"github.com/8gudbits/QuickServe/internal/upload"
	"github.com/8gudbits/QuickServe/internal/version"
)

// Server carries the wired services and config knobs the handlers need.
// Build one, then mount Routes on an http.Server.
type Server struct {
	DB      *db.DB
	Auth    *auth.Manager
	Sandbox *fsutil.Sandbox
	Catalog *catalog.Service
	Uploads *upload.Service
	Archive *archive.Builder
	Remover *remove.Service
	Logger  *slog.Logger
	Hub     *logging.Hub // nil disables the admin log stream

	MaxUploadBytes int64
	AllowOrigins   []string
	RateLimit      int // requests per minute per IP, 0 disables

	limiter *fixedWindowLimiter
}

// Routes builds the full handler chain. The rate limiter keeps a
// cleanup goroutine; Close stops it.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/verify-token", s.withUser(s.handleVerifyToken))
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/files", s.withUser(s.handleFiles))
	mux.HandleFunc("GET /api/search", s.withUser(s.handleSearch))
	mux.HandleFunc("POST /api/upload", s.withUser(s.withCapability(auth.CapUpload, s.handleUpload)))
	mux.HandleFunc("GET /api/download", s.withUser(s.withCapability(auth.CapDownload, s.handleDownload)))
	mux.HandleFunc("GET /api/preview", s.withUser(s.withCapability(auth.CapPreview, s.handlePreview)))
	mux.HandleFunc("GET /api/thumbnail", s.withUser(s.withCapability(auth.CapPreview, s.handleThumbnail)))
	mux.HandleFunc("GET /api/download-zip", s.withUser(s.withCapability(auth.CapDownload, s.handleDownloadZip)))
	mux.HandleFunc("DELETE /api/delete", s.withUser(s.withCapability(auth.CapDelete, s.handleDelete)))
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Admin API
	mux.HandleFunc("POST /api/admin/login", s.handleAdminLogin)
	mux.HandleFunc("POST /api/admin/logout", s.handleAdminLogout)
	mux.HandleFunc("GET /api/admin/users", s.withAdmin(s.handleAdminListUsers))
	mux.HandleFunc("POST /api/admin/users", s.withAdmin(s.handleAdminCreateUser))
	mux.HandleFunc("PATCH /api/admin/users/{id}", s.withAdmin(s.handleAdminUpdateUser))
	mux.HandleFunc("DELETE /api/admin/users/{id}", s.withAdmin(s.handleAdminDeleteUser))
	mux.HandleFunc("POST /api/admin/users/{id}/password", s.withAdmin(s.handleAdminSetPassword))
	mux.HandleFunc("GET /api/admin/allowlist", s.withAdmin(s.handleAdminListAllowlist))
	mux.HandleFunc("POST /api/admin/allowlist", s.withAdmin(s.handleAdminAddAllowlist))
	mux.HandleFunc("DELETE /api/admin/allowlist/{id}", s.withAdmin(s.handleAdminDeleteAllowlist))
	mux.HandleFunc("GET /api/admin/logs/stream", s.withAdmin(s.handleLogStream))

	var h http.Handler = mux
	if s.RateLimit > 0 {
		s.limiter = newFixedWindowLimiter(s.RateLimit, time.Minute)
		h = s.withRateLimit(h)
	}
	h = s.withRequestLog(h)
	h = s.withCORS(h)
	h = withSecurityHeaders(h)
	h = s.withRecover(h)
	return h
}

// Close stops background goroutines owned by the handler chain.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "QuickServe API",
		"version": version.Version,
	})
}

// fail maps service errors onto the API's status vocabulary. Bodies stay
// generic where the underlying error could carry server paths.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", retryAfterSeconds(locked.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": locked.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, auth.ErrPermission):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "permission denied"})
	case errors.Is(err, fsutil.ErrPathTraversal), errors.Is(err, fsutil.ErrNameForbidden):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid path"})
	case errors.Is(err, catalog.ErrPatternTooShort):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, catalog.ErrNotDir), errors.Is(err, upload.ErrNotDir):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not a directory"})
	case errors.Is(err, upload.ErrBadFilename):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, upload.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
	case errors.Is(err, remove.ErrRootDeletion), errors.Is(err, archive.ErrNoSelection):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case os.IsNotExist(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case isRetryableDBErr(err):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server busy"})
	default:
		s.Logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
	}
}

// resolveQueryPath funnels the ?path= parameter through the sandbox.
func (s *Server) resolveQueryPath(r *http.Request) (fsutil.SandboxedPath, error) {
	return s.Sandbox.Resolve(r.URL.Query().Get("path"))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "\"", "")
}

func attachmentDisposition(name string) string {
	return fmt.Sprintf("attachment; filename=\"%s\"", escapeQuotes(name))
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-content-type-options", "nosniff")
		w.Header().Set("x-frame-options", "DENY")
		w.Header().Set("referrer-policy", "no-referrer")
		w.Header().Set("content-security-policy", "default-src 'self'; object-src 'none'; base-uri 'self'; frame-ancestors 'none'")
		if r.TLS != nil {
			w.Header().Set("strict-transport-security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}

// withCORS answers preflights and reflects allowed origins. The API is
// consumed by a separately hosted frontend, so the allowlist comes from
// config; an empty list disables cross-origin access entirely.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Vary", "Origin")
			if len(s.AllowOrigins) == 1 && s.AllowOrigins[0] == "*" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.AllowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
