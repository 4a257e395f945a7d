// Package setup implements the first-run wizard: it creates the data
// directory, the SQLite database with the first admin account, TLS and
// SSH key material, and writes quickserve.yaml. It can also seed users
// from a legacy QuickServe config.json.
package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/config"
	"github.com/8gudbits/QuickServe/internal/db"
	"github.com/8gudbits/QuickServe/internal/validate"
)

// Options configures the wizard. Empty fields are prompted for.
// In and Out default to stdin and stderr.
type Options struct {
	ConfigPath string // where quickserve.yaml is written
	DataDir    string
	RootDir    string
	ImportPath string // legacy config.json to seed users from

	In  io.Reader
	Out io.Writer
}

// Run walks through first-time setup. It refuses to touch an already
// initialized database.
func Run(ctx context.Context, opt Options) error {
	p := newPrompter(opt.In, opt.Out)

	var legacy *legacyConfig
	if opt.ImportPath != "" {
		lc, err := loadLegacyConfig(opt.ImportPath)
		if err != nil {
			return fmt.Errorf("import %s: %w", opt.ImportPath, err)
		}
		legacy = lc
		fmt.Fprintf(p.out, "Importing %d user(s) from %s\n", len(lc.Users), opt.ImportPath)
	}

	dataDir := strings.TrimSpace(opt.DataDir)
	if dataDir == "" {
		v, err := p.ask("Data directory (database and keys)", "./data")
		if err != nil {
			return err
		}
		dataDir = v
	}
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return err
	}

	rootDir := strings.TrimSpace(opt.RootDir)
	if rootDir == "" {
		v, err := p.ask("Directory to share", "")
		if err != nil {
			return err
		}
		rootDir = v
	}
	if !filepath.IsAbs(rootDir) {
		if rootDir, err = filepath.Abs(rootDir); err != nil {
			return err
		}
	}
	rootDir, err = validate.RootPath(rootDir)
	if err != nil {
		return fmt.Errorf("share root: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return err
	}

	dbPath := filepath.Join(dataDir, "quickserve.db")
	d, err := db.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer d.Close()
	_ = os.Chmod(dbPath, 0o600)

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return errors.New("already initialized")
	}

	adminName, err := p.ask("Admin username", "admin")
	if err != nil {
		return err
	}
	if err := validate.Username(adminName); err != nil {
		return fmt.Errorf("admin username: %w", err)
	}
	if legacy != nil {
		if _, taken := legacy.Users[adminName]; taken {
			return fmt.Errorf("admin username %q collides with an imported user", adminName)
		}
	}
	adminPass, err := p.password("Admin password")
	if err != nil {
		return err
	}
	adminHash, err := auth.HashPassword(auth.PreHash(adminPass), auth.DefaultArgon2Params())
	if err != nil {
		return err
	}
	if _, err := d.CreateUser(ctx, adminName, adminHash, true, true, true, true, true); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	if legacy != nil {
		n, err := importUsers(ctx, d, legacy)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "Imported %d user(s)\n", n)
	} else if yes, err := p.yesno("Add a regular user account?", false); err != nil {
		return err
	} else if yes {
		name, err := p.ask("Username", "")
		if err != nil {
			return err
		}
		if err := validate.Username(name); err != nil {
			return fmt.Errorf("username: %w", err)
		}
		pass, err := p.password("Password")
		if err != nil {
			return err
		}
		hash, err := auth.HashPassword(auth.PreHash(pass), auth.DefaultArgon2Params())
		if err != nil {
			return err
		}
		if _, err := d.CreateUser(ctx, name, hash, false, true, true, true, true); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
	}

	httpPort := 8080
	if legacy != nil && legacy.Port > 0 {
		httpPort = legacy.Port
	}
	portStr, err := p.ask("HTTP port", strconv.Itoa(httpPort))
	if err != nil {
		return err
	}
	httpPort, err = strconv.Atoi(portStr)
	if err != nil || httpPort < 1 || httpPort > 65535 {
		return errors.New("invalid http port")
	}

	tlsEnable, err := p.yesno("Enable HTTPS (generates a self-signed certificate)?", true)
	if err != nil {
		return err
	}
	sftpEnable, err := p.yesno("Enable SFTP and SCP?", true)
	if err != nil {
		return err
	}
	ftpEnable, err := p.yesno("Enable FTP?", false)
	if err != nil {
		return err
	}
	ftpsEnable, err := p.yesno("Enable FTPS (implicit TLS, port 990)?", false)
	if err != nil {
		return err
	}
	webdavEnable, err := p.yesno("Enable WebDAV (served under /webdav)?", false)
	if err != nil {
		return err
	}

	trashEnable := true
	if legacy != nil {
		trashEnable = legacy.UseRecycleBin
	} else {
		if trashEnable, err = p.yesno("Move deletions to a recycle bin?", true); err != nil {
			return err
		}
	}

	var origins []string
	if legacy != nil {
		origins = legacy.AllowOrigins
	} else {
		v, err := p.optional("Allowed CORS origins, comma separated (empty for none)")
		if err != nil {
			return err
		}
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	if tlsEnable || ftpsEnable {
		cert := filepath.Join(dataDir, "cert.pem")
		key := filepath.Join(dataDir, "key.pem")
		if err := ensureTLSCert(cert, key); err != nil {
			return fmt.Errorf("tls material: %w", err)
		}
	}
	if sftpEnable {
		if err := ensureSSHHostKey(filepath.Join(dataDir, "ssh_host_ed25519_key")); err != nil {
			return fmt.Errorf("ssh host key: %w", err)
		}
	}

	cfg := buildConfig(dataDir, rootDir, httpPort, origins, legacy)
	cfg.TLS.Enable = tlsEnable
	cfg.Trash.Enable = trashEnable
	cfg.SFTP.Enable = sftpEnable
	cfg.FTP.Enable = ftpEnable
	cfg.FTPS.Enable = ftpsEnable
	cfg.WebDAV.Enable = webdavEnable

	cfgPath := strings.TrimSpace(opt.ConfigPath)
	if cfgPath == "" {
		cfgPath = "quickserve.yaml"
	}
	if err := writeConfig(cfgPath, cfg); err != nil {
		return err
	}

	if err := d.SetInitialized(ctx); err != nil {
		return err
	}

	fmt.Fprintf(p.out, "Setup complete. Configuration written to %s\n", cfgPath)
	fmt.Fprintf(p.out, "Start the server with: quickserve server --config %s\n", cfgPath)
	return nil
}

// buildConfig assembles the YAML document. Defaults mirror
// config.applyDefaults so the written file and the loaded one agree.
func buildConfig(dataDir, rootDir string, httpPort int, origins []string, legacy *legacyConfig) config.Config {
	var cfg config.Config
	cfg.DataDir = dataDir
	cfg.RootDir = rootDir
	cfg.Log.Level = "info"
	cfg.HTTP.Bind = "0.0.0.0"
	cfg.HTTP.Port = httpPort
	cfg.HTTP.MaxUploadMB = 512
	cfg.HTTP.RateLimitPerMinute = 240
	cfg.HTTP.AllowOrigins = origins
	cfg.Auth.BruteForce = config.BruteForceConfig{
		MaxAttemptsBeforeCooldown: 3,
		InitialCooldownSeconds:    10,
		CooldownIncrementSeconds:  10,
		MaxAttemptsBeforeLockout:  10,
		LockoutDurationSeconds:    86400,
	}
	if legacy != nil && legacy.BruteForce != nil {
		bf := legacy.BruteForce
		if bf.MaxAttemptsBeforeCooldown > 0 {
			cfg.Auth.BruteForce.MaxAttemptsBeforeCooldown = bf.MaxAttemptsBeforeCooldown
		}
		if bf.InitialCooldown > 0 {
			cfg.Auth.BruteForce.InitialCooldownSeconds = bf.InitialCooldown
		}
		if bf.CooldownIncrement > 0 {
			cfg.Auth.BruteForce.CooldownIncrementSeconds = bf.CooldownIncrement
		}
		if bf.MaxAttemptsBeforeLockout > 0 {
			cfg.Auth.BruteForce.MaxAttemptsBeforeLockout = bf.MaxAttemptsBeforeLockout
		}
		if bf.LockoutDuration > 0 {
			cfg.Auth.BruteForce.LockoutDurationSeconds = bf.LockoutDuration
		}
	}
	cfg.Trash.DirName = ".recycle"
	cfg.SFTP.Bind = "0.0.0.0"
	cfg.SFTP.Port = 2022
	cfg.FTP.Bind = "0.0.0.0"
	cfg.FTP.Port = 2121
	cfg.FTP.PassivePorts = "50000-50100"
	cfg.FTPS.Bind = "0.0.0.0"
	cfg.FTPS.Port = 990
	cfg.FTPS.PassivePorts = "50000-50100"
	cfg.WebDAV.Prefix = "/webdav"
	return cfg
}

func writeConfig(path string, cfg config.Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	out := append([]byte("# QuickServe configuration, written by quickserve setup.\n"), b...)
	return os.WriteFile(path, out, 0o600)
}
