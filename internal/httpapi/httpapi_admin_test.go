package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/logging"
)

const loopbackAddr = "127.0.0.1:9000"

func doAdminLogin(t *testing.T, s *Server, username, password, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", "/api/admin/login", loginBody(username, password))
	r.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	s.handleAdminLogin(w, r)
	return w
}

func adminRequest(t *testing.T, token, method, target string, body io.Reader) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, target, body)
	r.RemoteAddr = loopbackAddr
	r.AddCookie(&http.Cookie{Name: adminCookieName, Value: token})
	return r
}

// TestAdminLogin_LoopbackDefault allows loopback and refuses everyone else
// while the allowlist is empty.
func TestAdminLogin_LoopbackDefault(t *testing.T) {
	s := newAuthServer(t)
	mustCreateUser(t, s, "root", "hunter2", true)

	w := doAdminLogin(t, s, "root", "hunter2", loopbackAddr)
	if w.Code != 200 {
		t.Fatalf("loopback status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == adminCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("admin cookie not set")
	}

	w = doAdminLogin(t, s, "root", "hunter2", "203.0.113.9:4455")
	if w.Code != 403 {
		t.Fatalf("remote status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestAdminLogin_RejectsNonAdmin answers like a bad password.
func TestAdminLogin_RejectsNonAdmin(t *testing.T) {
	s := newAuthServer(t)
	mustCreateUser(t, s, "alice", "secret", false)

	w := doAdminLogin(t, s, "alice", "secret", loopbackAddr)
	if w.Code != 401 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	if !strings.Contains(w.Body.String(), auth.ErrInvalidCredentials.Error()) {
		t.Fatalf("body=%s", strings.TrimSpace(w.Body.String()))
	}
}

func mustAdminToken(t *testing.T, s *Server) string {
	t.Helper()
	w := doAdminLogin(t, s, "root", "hunter2", loopbackAddr)
	if w.Code != 200 {
		t.Fatalf("admin login status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Token
}

// TestWithAdmin_RequiresAdminAccount refuses regular users outright.
func TestWithAdmin_RequiresAdminAccount(t *testing.T) {
	s := newAuthServer(t)
	mustCreateUser(t, s, "alice", "secret", false)
	token := mustLogin(t, s, "alice", "secret")

	h := s.withAdmin(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	})
	r := adminRequest(t, token, "GET", "/api/admin/users", nil)
	w := httptest.NewRecorder()
	h(w, r)

	if w.Code != 403 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestWithAdmin_ChecksCallerIP refuses admin sessions from unlisted hosts.
func TestWithAdmin_ChecksCallerIP(t *testing.T) {
	s := newAuthServer(t)
	mustCreateUser(t, s, "root", "hunter2", true)
	token := mustAdminToken(t, s)

	h := s.withAdmin(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	})
	r := adminRequest(t, token, "GET", "/api/admin/users", nil)
	r.RemoteAddr = "203.0.113.9:4455"
	w := httptest.NewRecorder()
	h(w, r)

	if w.Code != 403 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestAdminUsers_Lifecycle creates, lists, updates, and deletes an account.
func TestAdminUsers_Lifecycle(t *testing.T) {
	s := newAuthServer(t)
	mustCreateUser(t, s, "root", "hunter2", true)

	body := strings.NewReader(`{"username":"bob","password":"pw123","can_upload":true,"can_download":true}`)
	r := httptest.NewRequest("POST", "/api/admin/users", body)
	w := httptest.NewRecorder()
	s.handleAdminCreateUser(w, r)
	if w.Code != 201 {
		t.Fatalf("create status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("missing id")
	}

	// The new account can log in with the plain password.
	if lw := doLogin(t, s, "bob", "pw123"); lw.Code != 200 {
		t.Fatalf("bob login status=%d body=%s", lw.Code, strings.TrimSpace(lw.Body.String()))
	}

	r = httptest.NewRequest("GET", "/api/admin/users", nil)
	w = httptest.NewRecorder()
	s.handleAdminListUsers(w, r)
	if w.Code != 200 {
		t.Fatalf("list status=%d", w.Code)
	}
	var listed struct {
		Users []adminUserPayload `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Users) != 2 {
		t.Fatalf("users=%d want 2", len(listed.Users))
	}

	r = httptest.NewRequest("PATCH", "/api/admin/users/0", strings.NewReader(`{"can_upload":false,"can_delete":true}`))
	r.SetPathValue("id", fmt.Sprint(created.ID))
	w = httptest.NewRecorder()
	s.handleAdminUpdateUser(w, r)
	if w.Code != 200 {
		t.Fatalf("update status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var updated adminUserPayload
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.CanUpload || !updated.CanDelete || !updated.CanDownload {
		t.Fatalf("updated=%+v", updated)
	}

	r = httptest.NewRequest("DELETE", "/api/admin/users/0", nil)
	r.SetPathValue("id", fmt.Sprint(created.ID))
	w = httptest.NewRecorder()
	s.handleAdminDeleteUser(w, r)
	if w.Code != 200 {
		t.Fatalf("delete status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}

	// Deleted accounts cannot log in anymore.
	if lw := doLogin(t, s, "bob", "pw123"); lw.Code != 401 {
		t.Fatalf("bob login after delete status=%d", lw.Code)
	}
}

// TestAdminUsers_LastAdminGuard refuses demoting or deleting the only admin.
func TestAdminUsers_LastAdminGuard(t *testing.T) {
	s := newAuthServer(t)
	root := mustCreateUser(t, s, "root", "hunter2", true)

	r := httptest.NewRequest("PATCH", "/api/admin/users/0", strings.NewReader(`{"is_admin":false}`))
	r.SetPathValue("id", fmt.Sprint(root.ID))
	w := httptest.NewRecorder()
	s.handleAdminUpdateUser(w, r)
	if w.Code != 400 {
		t.Fatalf("demote status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}

	r = httptest.NewRequest("DELETE", "/api/admin/users/0", nil)
	r.SetPathValue("id", fmt.Sprint(root.ID))
	w = httptest.NewRecorder()
	s.handleAdminDeleteUser(w, r)
	if w.Code != 400 {
		t.Fatalf("delete status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}

	// A second admin lifts the guard.
	mustCreateUser(t, s, "root2", "hunter2", true)
	r = httptest.NewRequest("PATCH", "/api/admin/users/0", strings.NewReader(`{"is_admin":false}`))
	r.SetPathValue("id", fmt.Sprint(root.ID))
	w = httptest.NewRecorder()
	s.handleAdminUpdateUser(w, r)
	if w.Code != 200 {
		t.Fatalf("demote with backup status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestAdminUsers_UnknownID returns 404 for absent accounts.
func TestAdminUsers_UnknownID(t *testing.T) {
	s := newAuthServer(t)

	r := httptest.NewRequest("PATCH", "/api/admin/users/0", strings.NewReader(`{}`))
	r.SetPathValue("id", "12345")
	w := httptest.NewRecorder()
	s.handleAdminUpdateUser(w, r)
	if w.Code != 404 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}

	r = httptest.NewRequest("PATCH", "/api/admin/users/0", strings.NewReader(`{}`))
	r.SetPathValue("id", "abc")
	w = httptest.NewRecorder()
	s.handleAdminUpdateUser(w, r)
	if w.Code != 400 {
		t.Fatalf("bad id status=%d", w.Code)
	}
}

// TestAdminSetPassword_RevokesSessions drops live tokens on reset.
func TestAdminSetPassword_RevokesSessions(t *testing.T) {
	s := newAuthServer(t)
	bob := mustCreateUser(t, s, "bob", "oldpw", false, auth.CapDownload)
	token := mustLogin(t, s, "bob", "oldpw")

	r := httptest.NewRequest("POST", "/api/admin/users/0/password", strings.NewReader(`{"password":"newpw"}`))
	r.SetPathValue("id", fmt.Sprint(bob.ID))
	w := httptest.NewRecorder()
	s.handleAdminSetPassword(w, r)
	if w.Code != 200 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}

	h := s.withUser(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("stale token must not verify")
	})
	vr := httptest.NewRequest("POST", "/api/verify-token", nil)
	vr.Header.Set("Authorization", "Bearer "+token)
	vw := httptest.NewRecorder()
	h(vw, vr)
	if vw.Code != 401 {
		t.Fatalf("stale verify status=%d", vw.Code)
	}

	if lw := doLogin(t, s, "bob", "oldpw"); lw.Code != 401 {
		t.Fatalf("old password still works: %d", lw.Code)
	}
	if lw := doLogin(t, s, "bob", "newpw"); lw.Code != 200 {
		t.Fatalf("new password status=%d body=%s", lw.Code, strings.TrimSpace(lw.Body.String()))
	}
}

// TestAdminAllowlist_GatesLogins switches from loopback-only to list-only.
func TestAdminAllowlist_GatesLogins(t *testing.T) {
	s := newAuthServer(t)
	mustCreateUser(t, s, "root", "hunter2", true)

	r := httptest.NewRequest("POST", "/api/admin/allowlist", strings.NewReader(`{"cidr":"203.0.113.0/24","note":"office"}`))
	w := httptest.NewRecorder()
	s.handleAdminAddAllowlist(w, r)
	if w.Code != 201 {
		t.Fatalf("add status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var added struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &added); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if lw := doAdminLogin(t, s, "root", "hunter2", "203.0.113.9:4455"); lw.Code != 200 {
		t.Fatalf("listed ip status=%d body=%s", lw.Code, strings.TrimSpace(lw.Body.String()))
	}
	// Loopback loses its implicit pass once entries exist.
	if lw := doAdminLogin(t, s, "root", "hunter2", loopbackAddr); lw.Code != 403 {
		t.Fatalf("loopback status=%d", lw.Code)
	}

	lr := httptest.NewRequest("GET", "/api/admin/allowlist", nil)
	lwr := httptest.NewRecorder()
	s.handleAdminListAllowlist(lwr, lr)
	var listed struct {
		Entries []allowEntryPayload `json:"entries"`
	}
	if err := json.Unmarshal(lwr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Entries) != 1 || listed.Entries[0].CIDR != "203.0.113.0/24" {
		t.Fatalf("entries=%+v", listed.Entries)
	}

	dr := httptest.NewRequest("DELETE", "/api/admin/allowlist/0", nil)
	dr.SetPathValue("id", fmt.Sprint(added.ID))
	dw := httptest.NewRecorder()
	s.handleAdminDeleteAllowlist(dw, dr)
	if dw.Code != 200 {
		t.Fatalf("delete status=%d", dw.Code)
	}

	if lw := doAdminLogin(t, s, "root", "hunter2", loopbackAddr); lw.Code != 200 {
		t.Fatalf("loopback after delete status=%d", lw.Code)
	}
}

// TestAdminAllowlist_RejectsBadCIDR validates before storing.
func TestAdminAllowlist_RejectsBadCIDR(t *testing.T) {
	s := newAuthServer(t)

	for _, bad := range []string{"", "banana", "300.1.1.1", "10.0.0.0/99"} {
		r := httptest.NewRequest("POST", "/api/admin/allowlist", strings.NewReader(`{"cidr":"`+bad+`"}`))
		w := httptest.NewRecorder()
		s.handleAdminAddAllowlist(w, r)
		if w.Code != 400 {
			t.Fatalf("cidr=%q: status=%d", bad, w.Code)
		}
	}
}

// TestHandleLogStream_ReplaysAndFollows reads the ring over a websocket,
// then a live record.
func TestHandleLogStream_ReplaysAndFollows(t *testing.T) {
	hub := logging.NewHub(slog.NewTextHandler(io.Discard, nil), 16)
	s, _ := newFileServer(t)
	s.Hub = hub
	logger := slog.New(hub)
	logger.Info("before connect")

	srv := httptest.NewServer(http.HandlerFunc(s.handleLogStream))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if !strings.Contains(string(msg), "before connect") {
		t.Fatalf("replay=%q", msg)
	}

	logger.Info("after connect")
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read live: %v", err)
	}
	if !strings.Contains(string(msg), "after connect") {
		t.Fatalf("live=%q", msg)
	}
}

// TestHandleLogStream_Disabled returns 404 without a hub.
func TestHandleLogStream_Disabled(t *testing.T) {
	s, _ := newFileServer(t)

	r := httptest.NewRequest("GET", "/api/admin/logs/stream", nil)
	w := httptest.NewRecorder()
	s.handleLogStream(w, r)

	if w.Code != 404 {
		t.Fatalf("status=%d", w.Code)
	}
}
