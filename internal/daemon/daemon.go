// Package daemon wires configuration into running listeners. It owns
// the process lifecycle: one HTTP server (API plus optional WebDAV
// mount) and one goroutine per enabled protocol front, all torn down
// when the context ends or the first listener fails.
package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ftp "github.com/fclairamb/ftpserverlib"

	"github.com/8gudbits/QuickServe/internal/archive"
	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/catalog"
	"github.com/8gudbits/QuickServe/internal/config"
	"github.com/8gudbits/QuickServe/internal/db"
	"github.com/8gudbits/QuickServe/internal/ftpserver"
	"github.com/8gudbits/QuickServe/internal/fsutil"
	"github.com/8gudbits/QuickServe/internal/httpapi"
	"github.com/8gudbits/QuickServe/internal/logging"
	"github.com/8gudbits/QuickServe/internal/remove"
	"github.com/8gudbits/QuickServe/internal/sftpserver"
	"github.com/8gudbits/QuickServe/internal/upload"
	"github.com/8gudbits/QuickServe/internal/webdavserver"
)

// Options carries the loaded configuration and the process logger.
type Options struct {
	Config config.Config
	Logger *slog.Logger
	Hub    *logging.Hub // nil disables the admin log stream
}

// Run starts every enabled listener and blocks until the context is
// cancelled or a listener fails. A clean shutdown returns nil.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Config
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d, err := db.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer d.Close()
	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("not initialized; run quickserve setup")
	}

	// The database file and the trash directory stay reserved even when
	// they live outside the root or trash is off, so toggling settings
	// never exposes old artifacts.
	forbidden := []string{filepath.Base(cfg.DatabasePath()), cfg.Trash.DirName}
	sb, err := fsutil.NewSandbox(cfg.RootDir, forbidden)
	if err != nil {
		return err
	}

	guard := auth.NewLoginGuard(guardConfig(cfg.Auth.BruteForce))
	defer guard.Stop()
	mgr := auth.NewManager(d, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour, guard, logger)

	trashDir := ""
	if cfg.Trash.Enable {
		trashDir = cfg.Trash.DirName
	}

	api := &httpapi.Server{
		DB:             d,
		Auth:           mgr,
		Sandbox:        sb,
		Catalog:        catalog.NewService(sb),
		Uploads:        upload.NewService(sb),
		Archive:        archive.NewBuilder(sb),
		Remover:        remove.NewService(sb, trashDir),
		Logger:         logger,
		Hub:            opt.Hub,
		MaxUploadBytes: int64(cfg.HTTP.MaxUploadMB) << 20,
		AllowOrigins:   cfg.HTTP.AllowOrigins,
		RateLimit:      cfg.HTTP.RateLimitPerMinute,
	}
	defer api.Close()

	handler := api.Routes()
	if cfg.WebDAV.Enable {
		handler = mountWebDAV(handler, cfg.WebDAV.Prefix, &webdavserver.Handler{
			Auth:    mgr,
			Sandbox: sb,
			Prefix:  cfg.WebDAV.Prefix,
			Logger:  logger,
		})
	}

	var tlsPair *tls.Config
	if cfg.FTPS.Enable || (cfg.FTP.Enable && cfg.TLS.Enable) {
		pair, err := tls.LoadX509KeyPair(cfg.TLSCertPath(), cfg.TLSKeyPath())
		if err != nil {
			return err
		}
		tlsPair = &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 4)

	httpAddr := net.JoinHostPort(cfg.HTTP.Bind, strconv.Itoa(cfg.HTTP.Port))
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()
	go func() {
		scheme := "http"
		if cfg.TLS.Enable {
			scheme = "https"
		}
		logger.Info("http listener starting", "addr", httpAddr, "scheme", scheme, "webdav", cfg.WebDAV.Enable)
		var err error
		if cfg.TLS.Enable {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath(), cfg.TLSKeyPath())
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	if cfg.SFTP.Enable {
		addr := net.JoinHostPort(cfg.SFTP.Bind, strconv.Itoa(cfg.SFTP.Port))
		logger.Info("sftp listener starting", "addr", addr)
		go func() {
			errCh <- sftpserver.ListenAndServe(ctx, sftpserver.Options{
				Addr:        addr,
				Auth:        mgr,
				Sandbox:     sb,
				HostKeyPath: cfg.SSHHostKeyPath(),
				Logger:      logger,
			})
		}()
	}

	if cfg.FTP.Enable {
		passive, err := portRange(cfg.FTP.PassivePorts)
		if err != nil {
			return err
		}
		addr := net.JoinHostPort(cfg.FTP.Bind, strconv.Itoa(cfg.FTP.Port))
		logger.Info("ftp listener starting", "addr", addr)
		go func() {
			errCh <- ftpserver.ListenAndServe(ctx, ftpserver.Options{
				Addr:         addr,
				Auth:         mgr,
				Sandbox:      sb,
				Mode:         ftpserver.ModeFTP,
				TLSConfig:    tlsPair, // enables opportunistic AUTH TLS when FTPS material exists
				PassivePorts: passive,
				PublicHostIP: cfg.FTP.PublicHost,
				Logger:       logger,
			})
		}()
	}

	if cfg.FTPS.Enable {
		passive, err := portRange(cfg.FTPS.PassivePorts)
		if err != nil {
			return err
		}
		addr := net.JoinHostPort(cfg.FTPS.Bind, strconv.Itoa(cfg.FTPS.Port))
		logger.Info("ftps listener starting", "addr", addr)
		go func() {
			errCh <- ftpserver.ListenAndServe(ctx, ftpserver.Options{
				Addr:         addr,
				Auth:         mgr,
				Sandbox:      sb,
				Mode:         ftpserver.ModeFTPSImplicit,
				TLSConfig:    tlsPair,
				PassivePorts: passive,
				PublicHostIP: cfg.FTPS.PublicHost,
				Logger:       logger,
			})
		}()
	}

	if cfg.Auth.TokenTTLHours > 0 {
		go purgeSessions(ctx, mgr, logger)
	}

	err = <-errCh
	if err != nil {
		logger.Error("listener failed", "error", err)
	}
	return err
}

// mountWebDAV serves dav under its prefix and everything else from api.
func mountWebDAV(api http.Handler, prefix string, dav http.Handler) http.Handler {
	prefix = strings.TrimSuffix(prefix, "/")
	mux := http.NewServeMux()
	mux.Handle(prefix, dav)
	mux.Handle(prefix+"/", dav)
	mux.Handle("/", api)
	return mux
}

// purgeSessions drops expired tokens hourly while the daemon runs.
func purgeSessions(ctx context.Context, mgr *auth.Manager, logger *slog.Logger) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := mgr.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("session purge failed", "error", err)
			} else if n > 0 {
				logger.Debug("purged expired sessions", "count", n)
			}
		}
	}
}

func guardConfig(bf config.BruteForceConfig) auth.GuardConfig {
	return auth.GuardConfig{
		MaxAttemptsBeforeCooldown: bf.MaxAttemptsBeforeCooldown,
		InitialCooldown:           time.Duration(bf.InitialCooldownSeconds) * time.Second,
		CooldownIncrement:         time.Duration(bf.CooldownIncrementSeconds) * time.Second,
		MaxAttemptsBeforeLockout:  bf.MaxAttemptsBeforeLockout,
		LockoutDuration:           time.Duration(bf.LockoutDurationSeconds) * time.Second,
	}
}

func portRange(s string) (*ftp.PortRange, error) {
	start, end, err := config.ParsePortRange(s)
	if err != nil {
		return nil, err
	}
	return &ftp.PortRange{Start: start, End: end}, nil
}
