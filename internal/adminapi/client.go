// Package adminapi is a typed HTTP client for the admin endpoints,
// used by the terminal admin UI. Sessions ride on the qs_admin cookie,
// which the client keeps in its jar.
package adminapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/8gudbits/QuickServe/internal/auth"
)

type Client struct {
	baseURL *url.URL
	hc      *http.Client
}

type ClientOptions struct {
	Addr     string
	Insecure bool
	Timeout  time.Duration
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.Addr == "" {
		return nil, errors.New("addr is required")
	}
	u, err := url.Parse(opt.Addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Host == "" {
		return nil, errors.New("invalid addr")
	}

	jar, _ := cookiejar.New(nil)
	t := &http.Transport{}
	if strings.EqualFold(u.Scheme, "https") {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: opt.Insecure} //nolint:gosec
	}

	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}

	hc := &http.Client{Transport: t, Jar: jar, Timeout: timeout}
	return &Client{baseURL: u, hc: hc}, nil
}

// LoginAdmin authenticates an admin account. Only the sha256 of the
// password goes over the wire, same as the web frontend.
func (c *Client) LoginAdmin(username, password string) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	req.Username = username
	req.Password = auth.PreHash(password)
	return c.doJSON("POST", "/api/admin/login", req, nil)
}

func (c *Client) LogoutAdmin() error {
	return c.doJSON("POST", "/api/admin/logout", map[string]string{}, nil)
}

type User struct {
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

func (c *Client) ListUsers() ([]User, error) {
	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.doJSON("GET", "/api/admin/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// CreateUser sends the plaintext password; the server hashes it. The
// admin channel is expected to be TLS.
func (c *Client) CreateUser(username, password string, isAdmin, canUpload, canDownload, canDelete, canPreview bool) (int64, error) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		IsAdmin     bool   `json:"is_admin"`
		CanUpload   bool   `json:"can_upload"`
		CanDownload bool   `json:"can_download"`
		CanDelete   bool   `json:"can_delete"`
		CanPreview  bool   `json:"can_preview"`
	}
	req.Username = username
	req.Password = password
	req.IsAdmin = isAdmin
	req.CanUpload = canUpload
	req.CanDownload = canDownload
	req.CanDelete = canDelete
	req.CanPreview = canPreview

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.doJSON("POST", "/api/admin/users", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// UserPatch carries a partial update; nil fields keep their value.
type UserPatch struct {
	IsAdmin     *bool `json:"is_admin,omitempty"`
	CanUpload   *bool `json:"can_upload,omitempty"`
	CanDownload *bool `json:"can_download,omitempty"`
	CanDelete   *bool `json:"can_delete,omitempty"`
	CanPreview  *bool `json:"can_preview,omitempty"`
}

func (c *Client) UpdateUser(id int64, patch UserPatch) (User, error) {
	var u User
	if err := c.doJSON("PATCH", "/api/admin/users/"+itoa(id), patch, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (c *Client) DeleteUser(id int64) error {
	return c.doJSON("DELETE", "/api/admin/users/"+itoa(id), nil, nil)
}

func (c *Client) SetUserPassword(id int64, password string) error {
	var req struct {
		Password string `json:"password"`
	}
	req.Password = password
	return c.doJSON("POST", "/api/admin/users/"+itoa(id)+"/password", req, nil)
}

type AllowEntry struct {
	ID        int64  `json:"id"`
	CIDR      string `json:"cidr"`
	Note      string `json:"note"`
	CreatedAt int64  `json:"created_at"`
}

func (c *Client) ListAllowlist() ([]AllowEntry, error) {
	var resp struct {
		Entries []AllowEntry `json:"entries"`
	}
	if err := c.doJSON("GET", "/api/admin/allowlist", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) AddAllowlist(cidr, note string) (int64, error) {
	var req struct {
		CIDR string `json:"cidr"`
		Note string `json:"note"`
	}
	req.CIDR = cidr
	req.Note = note
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.doJSON("POST", "/api/admin/allowlist", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) DeleteAllowlist(id int64) error {
	return c.doJSON("DELETE", "/api/admin/allowlist/"+itoa(id), nil, nil)
}

// StreamLogs subscribes to the server log over a websocket. It returns
// a channel of log lines (recent history first, then live records) and
// a stop function. The channel closes when the stream ends.
func (c *Client) StreamLogs(ctx context.Context) (<-chan string, func(), error) {
	u := *c.baseURL
	if strings.EqualFold(u.Scheme, "https") {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/api/admin/logs/stream"

	d := websocket.Dialer{
		Jar:              c.hc.Jar,
		HandshakeTimeout: 10 * time.Second,
	}
	if t, ok := c.hc.Transport.(*http.Transport); ok {
		d.TLSClientConfig = t.TLSClientConfig
	}
	conn, resp, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			var er struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&er)
			resp.Body.Close()
			if er.Error != "" {
				return nil, nil, errors.New(er.Error)
			}
		}
		return nil, nil, err
	}

	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case ch <- string(msg):
			case <-ctx.Done():
				return
			}
		}
	}()
	stop := func() { _ = conn.Close() }
	return ch, stop, nil
}

func (c *Client) doJSON(method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequest(method, u.String(), buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	req.Header.Set("accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&er)
		if er.Error != "" {
			return errors.New(er.Error)
		}
		return errors.New(resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
