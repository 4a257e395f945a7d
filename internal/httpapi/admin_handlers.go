package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/db"
	"github.com/8gudbits/QuickServe/internal/validate"
)

const adminCookieName = "qs_admin"

var errLastAdmin = errors.New("last admin")

// adminToken prefers the admin cookie (what the TUI's cookie jar holds)
// and falls back to a bearer token.
func adminToken(r *http.Request) string {
	if c, err := r.Cookie(adminCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r)
}

func (s *Server) setAdminCookie(w http.ResponseWriter, token string) {
	c := &http.Cookie{
		Name:     adminCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
	if s.Auth.TokenTTL > 0 {
		c.MaxAge = int(s.Auth.TokenTTL.Seconds())
	}
	http.SetCookie(w, c)
}

func clearAdminCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

// withAdmin requires a valid token belonging to an admin account and an
// allowlisted caller IP (loopback only while the allowlist is empty).
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := adminToken(r)
		if tok == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		u, err := s.Auth.Verify(r.Context(), tok)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !u.IsAdmin {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin required"})
			return
		}
		ok, err := isAdminAllowedByIP(s.DB, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxUser, u)))
	}
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	ok, err := isAdminAllowedByIP(s.DB, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

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
	if !u.IsAdmin {
		// Same response as a bad password; account details stay private.
		_ = s.Auth.Logout(r.Context(), token)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": auth.ErrInvalidCredentials.Error()})
		return
	}
	s.setAdminCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "username": u.Username})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if tok := adminToken(r); tok != "" {
		_ = s.Auth.Logout(r.Context(), tok)
	}
	clearAdminCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adminUserPayload struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	IsAdmin     bool   `json:"is_admin"`
	CanUpload   bool   `json:"can_upload"`
	CanDownload bool   `json:"can_download"`
	CanDelete   bool   `json:"can_delete"`
	CanPreview  bool   `json:"can_preview"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

func adminUser(u db.User) adminUserPayload {
	return adminUserPayload{
		ID:          u.ID,
		Username:    u.Username,
		IsAdmin:     u.IsAdmin,
		CanUpload:   u.CanUpload,
		CanDownload: u.CanDownload,
		CanDelete:   u.CanDelete,
		CanPreview:  u.CanPreview,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.DB.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]adminUserPayload, 0, len(users))
	for _, u := range users {
		out = append(out, adminUser(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		IsAdmin     bool   `json:"is_admin"`
		CanUpload   bool   `json:"can_upload"`
		CanDownload bool   `json:"can_download"`
		CanDelete   bool   `json:"can_delete"`
		CanPreview  bool   `json:"can_preview"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := validate.Username(req.Username); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password is required"})
		return
	}
	h, err := auth.HashPassword(auth.PreHash(req.Password), auth.DefaultArgon2Params())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.DB.CreateUser(r.Context(), req.Username, h, req.IsAdmin, req.CanUpload, req.CanDownload, req.CanDelete, req.CanPreview)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "create user failed"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	var req struct {
		IsAdmin     *bool `json:"is_admin"`
		CanUpload   *bool `json:"can_upload"`
		CanDownload *bool `json:"can_download"`
		CanDelete   *bool `json:"can_delete"`
		CanPreview  *bool `json:"can_preview"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	u, ok, err := s.DB.GetUserByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}

	wasAdmin := u.IsAdmin
	apply := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&u.IsAdmin, req.IsAdmin)
	apply(&u.CanUpload, req.CanUpload)
	apply(&u.CanDownload, req.CanDownload)
	apply(&u.CanDelete, req.CanDelete)
	apply(&u.CanPreview, req.CanPreview)

	if wasAdmin && !u.IsAdmin {
		if err := s.refuseLosingLastAdmin(w, r); err != nil {
			return
		}
	}
	if err := s.DB.UpdateUser(r.Context(), id, u.IsAdmin, u.CanUpload, u.CanDownload, u.CanDelete, u.CanPreview); err != nil {
		s.fail(w, r, err)
		return
	}
	u, _, err = s.DB.GetUserByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminUser(u))
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	u, ok, err := s.DB.GetUserByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	if u.IsAdmin {
		if err := s.refuseLosingLastAdmin(w, r); err != nil {
			return
		}
	}
	if err := s.DB.DeleteUser(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Auth.InvalidateUser(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// refuseLosingLastAdmin writes a 400 and returns an error when the
// change would leave the server without any admin account.
func (s *Server) refuseLosingLastAdmin(w http.ResponseWriter, r *http.Request) error {
	n, err := s.DB.CountAdmins(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return err
	}
	if n <= 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot remove the last admin"})
		return errLastAdmin
	}
	return nil
}

func (s *Server) handleAdminSetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password is required"})
		return
	}
	if _, ok, err := s.DB.GetUserByID(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	} else if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	h, err := auth.HashPassword(auth.PreHash(req.Password), auth.DefaultArgon2Params())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.DB.SetUserPasswordHash(r.Context(), id, h); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Auth.InvalidateUser(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type allowEntryPayload struct {
	ID        int64  `json:"id"`
	CIDR      string `json:"cidr"`
	Note      string `json:"note"`
	CreatedAt int64  `json:"created_at"`
}

func (s *Server) handleAdminListAllowlist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.DB.ListAdminIPAllowlist(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]allowEntryPayload, 0, len(entries))
	for _, e := range entries {
		out = append(out, allowEntryPayload{ID: e.ID, CIDR: e.CIDR, Note: e.Note, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) handleAdminAddAllowlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CIDR string `json:"cidr"`
		Note string `json:"note"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if _, err := parseCIDRorIP(req.CIDR); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ip or cidr"})
		return
	}
	id, err := s.DB.AddAdminIPAllowlist(r.Context(), req.CIDR, req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleAdminDeleteAllowlist(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := s.DB.DeleteAdminIPAllowlist(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var logStreamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogStream upgrades to a websocket, replays the recent log ring
// and then follows live records, one text message per line.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log stream disabled"})
		return
	}
	conn, err := logStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := s.Hub.Subscribe(64)
	defer cancel()

	for _, line := range s.Hub.Replay() {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, strconv.ErrSyntax
	}
	return id, nil
}
