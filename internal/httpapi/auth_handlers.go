package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/db"
)

type ctxKey string

const ctxUser ctxKey = "user"

func userFrom(r *http.Request) db.User {
	u, _ := r.Context().Value(ctxUser).(db.User)
	return u
}

// bearerToken pulls the API token from the Authorization header, or
// from the token query parameter for browser-initiated downloads.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		u, err := s.Auth.Verify(r.Context(), tok)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxUser, u)))
	}
}

func (s *Server) withCapability(c auth.Capability, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Auth.Authorize(userFrom(r), c); err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r)
	}
}

func permissionsOf(u db.User) map[string]bool {
	return map[string]bool{
		"can_upload":   u.CanUpload,
		"can_download": u.CanDownload,
		"can_delete":   u.CanDelete,
		"can_preview":  u.CanPreview,
	}
}

// handleLogin exchanges credentials for a token. The password field
// carries the sha256 hex of the real password; the cleartext never
// travels.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing credentials"})
		return
	}

	token, u, err := s.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":       token,
		"username":    u.Username,
		"permissions": permissionsOf(u),
	})
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"username":    u.Username,
		"permissions": permissionsOf(u),
	})
}

// handleLogout is idempotent: unknown or missing tokens still succeed.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if tok := bearerToken(r); tok != "" {
		if err := s.Auth.Logout(r.Context(), tok); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
