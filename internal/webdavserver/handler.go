// Package webdavserver serves the shared root over WebDAV using
// QuickServe accounts. Authentication is HTTP Basic; the auth manager
// prehashes the password and applies the brute-force guard.
package webdavserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/webdav"

	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/fsutil"
)

// Handler is an http.Handler speaking WebDAV over the share root.
type Handler struct {
	Auth    *auth.Manager
	Sandbox *fsutil.Sandbox
	Prefix  string
	Logger  *slog.Logger

	once sync.Once
	ls   webdav.LockSystem
}

func (h *Handler) lockSystem() webdav.LockSystem {
	h.once.Do(func() {
		h.ls = webdav.NewMemLS()
	})
	return h.ls
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lg := h.Logger
	if lg == nil {
		lg = slog.Default()
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		unauthorized(w)
		return
	}

	u, err := h.Auth.Authenticate(r.Context(), username, password)
	if err != nil {
		var locked *auth.LockedError
		if errors.As(err, &locked) {
			w.Header().Set("retry-after", strconv.Itoa(int(locked.RetryAfter.Seconds())+1))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		unauthorized(w)
		return
	}

	lg.Debug("webdav authenticated", "user", username, "method", r.Method, "path", r.URL.Path)

	dav := &webdav.Handler{
		Prefix:     strings.TrimSuffix(h.Prefix, "/"),
		FileSystem: NewJailFS(h.Sandbox, u),
		LockSystem: h.lockSystem(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				lg.Warn("webdav request error", "method", r.Method, "path", r.URL.Path, "err", err.Error())
			}
		},
	}
	dav.ServeHTTP(w, r)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="QuickServe WebDAV"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
