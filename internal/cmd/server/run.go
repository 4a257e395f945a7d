package server

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/8gudbits/QuickServe/internal/config"
	"github.com/8gudbits/QuickServe/internal/daemon"
	"github.com/8gudbits/QuickServe/internal/logging"
	"github.com/8gudbits/QuickServe/internal/version"
)

// logRingSize bounds the replay buffer behind the admin log stream.
const logRingSize = 1024

func Run(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var (
		cfgPath     string
		logLevel    string
		showVersion bool
	)
	fs.StringVar(&cfgPath, "config", "quickserve.yaml", "path to quickserve.yaml")
	fs.StringVar(&logLevel, "log-level", "", "override the configured log level: debug|info|warning|error")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("quickserve server %s\n", version.Get())
		return nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	// Relative paths in the file resolve against the file itself, so the
	// config keeps working no matter where the daemon is started from.
	base := filepath.Dir(cfgPath)
	cfg.DataDir = resolvePath(base, cfg.DataDir)
	cfg.DB.Path = resolvePath(base, cfg.DB.Path)
	cfg.TLS.CertPath = resolvePath(base, cfg.TLS.CertPath)
	cfg.TLS.KeyPath = resolvePath(base, cfg.TLS.KeyPath)
	cfg.SFTP.HostKeyPath = resolvePath(base, cfg.SFTP.HostKeyPath)

	level := cfg.Log.Level
	if strings.TrimSpace(logLevel) != "" {
		// CLI overrides config.
		level = logLevel
	}
	lg, hub, _, err := logging.NewWithHub(logging.Options{
		Level:       level,
		JSON:        cfg.Log.JSON,
		DefaultSlog: true,
	}, logRingSize)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return daemon.Run(ctx, daemon.Options{Config: cfg, Logger: lg, Hub: hub})
}

// resolvePath rebases p against baseDir unless it is empty or absolute.
// Empty stays empty so the derived defaults in config still apply.
func resolvePath(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
