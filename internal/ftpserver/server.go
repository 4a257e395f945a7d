// Package ftpserver serves the shared root over FTP and FTPS, reusing
// QuickServe accounts and capabilities.
package ftpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"

	ftp "github.com/fclairamb/ftpserverlib"
	gologslog "github.com/fclairamb/go-log/slog"

	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/fsutil"
	"github.com/8gudbits/QuickServe/internal/jailfs"
)

// Mode selects FTP vs FTPS behavior.
type Mode int

const (
	ModeFTP Mode = iota + 1
	ModeFTPS
	ModeFTPSImplicit
)

// Options configures server address, TLS, and feature flags.
type Options struct {
	Addr           string
	Auth           *auth.Manager
	Sandbox        *fsutil.Sandbox
	Mode           Mode
	TLSConfig      *tls.Config
	PassivePorts   *ftp.PortRange
	PublicHostIP   string
	DisableMLSD    bool
	IdleTimeoutSec int
	Logger         *slog.Logger
}

// ListenAndServe starts an FTP or FTPS server until the context is done.
func ListenAndServe(ctx context.Context, opt Options) error {
	if opt.Auth == nil || opt.Sandbox == nil {
		return errors.New("auth manager and sandbox are required")
	}
	if opt.Addr == "" {
		return errors.New("addr is required")
	}
	if opt.Mode != ModeFTP && opt.Mode != ModeFTPS && opt.Mode != ModeFTPSImplicit {
		return errors.New("invalid mode")
	}
	if (opt.Mode == ModeFTPS || opt.Mode == ModeFTPSImplicit) && opt.TLSConfig == nil {
		return errors.New("tls config is required for FTPS")
	}

	ln, err := net.Listen("tcp", opt.Addr)
	if err != nil {
		return err
	}
	if opt.Mode == ModeFTPSImplicit {
		ln = tls.NewListener(ln, opt.TLSConfig)
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	drv := &mainDriver{auth: opt.Auth, sandbox: opt.Sandbox, mode: opt.Mode, tlsConfig: opt.TLSConfig, passive: opt.PassivePorts, publicHost: opt.PublicHostIP, disableMLSD: opt.DisableMLSD, idleTimeout: opt.IdleTimeoutSec, listener: ln}
	srv := ftp.NewFtpServer(drv)
	if opt.Logger != nil {
		srv.Logger = gologslog.NewWrap(opt.Logger)
	}
	err = srv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// mainDriver connects ftpserverlib callbacks to QuickServe accounts and
// the sandboxed filesystem.
type mainDriver struct {
	auth        *auth.Manager
	sandbox     *fsutil.Sandbox
	mode        Mode
	tlsConfig   *tls.Config
	passive     ftp.PasvPortGetter
	publicHost  string
	disableMLSD bool
	idleTimeout int
	listener    net.Listener
}

// GetSettings returns server settings for ftpserverlib.
func (d *mainDriver) GetSettings() (*ftp.Settings, error) {
	idle := d.idleTimeout
	if idle == 0 {
		idle = 300
	}

	tlsReq := ftp.ClearOrEncrypted
	switch d.mode {
	case ModeFTPS:
		tlsReq = ftp.MandatoryEncryption
	case ModeFTPSImplicit:
		tlsReq = ftp.ImplicitEncryption
	}

	s := &ftp.Settings{
		Listener:                 d.listener,
		ListenAddr:               "",
		Banner:                   "QuickServe",
		PassiveTransferPortRange: d.passive,
		PublicHost:               d.publicHost,
		IdleTimeout:              idle,
		ConnectionTimeout:        15,
		DisableActiveMode:        true,
		TLSRequired:              tlsReq,
		DisableMLSD:              d.disableMLSD,
		ActiveConnectionsCheck:   ftp.IPMatchRequired,
		PasvConnectionsCheck:     ftp.IPMatchRequired,
	}
	return s, nil
}

// ClientConnected returns a banner string for new connections.
func (d *mainDriver) ClientConnected(cc ftp.ClientContext) (string, error) {
	_ = cc
	return "QuickServe ready", nil
}

// ClientDisconnected is a hook for connection cleanup.
func (d *mainDriver) ClientDisconnected(cc ftp.ClientContext) {
	_ = cc
}

// AuthUser checks the password against the account store and mounts a
// capability-jailed view of the shared root. FTP clients send the real
// password; prehashing happens inside the manager.
func (d *mainDriver) AuthUser(cc ftp.ClientContext, user, pass string) (ftp.ClientDriver, error) {
	u, err := d.auth.Authenticate(context.Background(), user, pass)
	if err != nil {
		return nil, errors.New("invalid credentials")
	}

	cc.SetPath("/")
	return jailfs.New(d.sandbox, u), nil
}

// GetTLSConfig provides TLS settings for FTPS and optional TLS in FTP.
func (d *mainDriver) GetTLSConfig() (*tls.Config, error) {
	if d.tlsConfig == nil {
		return nil, errors.New("tls not configured")
	}
	// Important: return the same *tls.Config instance for both control and data
	// connections so clients can verify TLS session resumption/reuse.
	return d.tlsConfig, nil
}

// PreAuthUser is called on the FTP USER command before PASS.
// It MUST always succeed to avoid leaking whether a username exists
// (user enumeration). The real auth check happens in AuthUser.
func (d *mainDriver) PreAuthUser(cc ftp.ClientContext, user string) error {
	// Enforce TLS before proceeding in explicit-FTPS mode.
	// For implicit FTPS, the control channel is already TLS at accept time.
	if d.mode == ModeFTPS {
		_ = cc.SetTLSRequirement(ftp.MandatoryEncryption)
	}
	return nil
}

// Compile-time interface assertions.
var _ ftp.MainDriver = (*mainDriver)(nil)
var _ ftp.MainDriverExtensionUserVerifier = (*mainDriver)(nil)
