// Package config loads and validates QuickServe YAML configuration.
// It applies defaults so the daemon can rely on fully populated values.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/8gudbits/QuickServe/internal/validate"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig holds HTTP API server settings.
type HTTPConfig struct {
	Bind               string   `yaml:"bind"`
	Port               int      `yaml:"port"`
	MaxUploadMB        int      `yaml:"max_upload_mb"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	AllowOrigins       []string `yaml:"allow_origins"`
}

// TLSConfig holds the certificate material shared by HTTPS and FTPS.
type TLSConfig struct {
	Enable   bool   `yaml:"enable"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// BruteForceConfig tunes the login failure guard.
type BruteForceConfig struct {
	MaxAttemptsBeforeCooldown int `yaml:"max_attempts_before_cooldown"`
	InitialCooldownSeconds    int `yaml:"initial_cooldown_seconds"`
	CooldownIncrementSeconds  int `yaml:"cooldown_increment_seconds"`
	MaxAttemptsBeforeLockout  int `yaml:"max_attempts_before_lockout"`
	LockoutDurationSeconds    int `yaml:"lockout_duration_seconds"`
}

// AuthConfig holds token and login-guard settings.
// TokenTTLHours of 0 keeps tokens valid until logout.
type AuthConfig struct {
	TokenTTLHours int              `yaml:"token_ttl_hours"`
	BruteForce    BruteForceConfig `yaml:"brute_force"`
}

// TrashConfig controls the recycle bin for deletions.
type TrashConfig struct {
	Enable  bool   `yaml:"enable"`
	DirName string `yaml:"dir_name"`
}

// SFTPConfig holds the SFTP/SCP listener settings.
type SFTPConfig struct {
	Enable      bool   `yaml:"enable"`
	Bind        string `yaml:"bind"`
	Port        int    `yaml:"port"`
	HostKeyPath string `yaml:"host_key_path"`
}

// FTPConfig holds FTP or FTPS listener settings.
type FTPConfig struct {
	Enable       bool   `yaml:"enable"`
	Bind         string `yaml:"bind"`
	Port         int    `yaml:"port"`
	PassivePorts string `yaml:"passive_port_range"`
	PublicHost   string `yaml:"public_host"`
}

// WebDAVConfig holds WebDAV settings (served on the HTTP listener).
type WebDAVConfig struct {
	Enable bool   `yaml:"enable"`
	Prefix string `yaml:"prefix"`
}

// Config mirrors the quickserve.yaml schema.
type Config struct {
	DataDir string       `yaml:"data_dir"`
	RootDir string       `yaml:"root_dir"`
	Log     LogConfig    `yaml:"log"`
	DB      DBConfig     `yaml:"db"`
	HTTP    HTTPConfig   `yaml:"http"`
	TLS     TLSConfig    `yaml:"tls"`
	Auth    AuthConfig   `yaml:"auth"`
	Trash   TrashConfig  `yaml:"trash"`
	SFTP    SFTPConfig   `yaml:"sftp"`
	FTP     FTPConfig    `yaml:"ftp"`
	FTPS    FTPConfig    `yaml:"ftps"`
	WebDAV  WebDAVConfig `yaml:"webdav"`
}

// Load reads a YAML config file, applies defaults, and validates it.
// It returns a fully populated Config or a descriptive error.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, errors.New("config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	if err := Validate(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// DatabasePath resolves the SQLite path, defaulting into the data dir.
func (c Config) DatabasePath() string {
	if c.DB.Path != "" {
		return c.DB.Path
	}
	return filepath.Join(c.DataDir, "quickserve.db")
}

// TLSCertPath resolves the certificate path, defaulting into the data dir.
func (c Config) TLSCertPath() string {
	if c.TLS.CertPath != "" {
		return c.TLS.CertPath
	}
	return filepath.Join(c.DataDir, "cert.pem")
}

// TLSKeyPath resolves the key path, defaulting into the data dir.
func (c Config) TLSKeyPath() string {
	if c.TLS.KeyPath != "" {
		return c.TLS.KeyPath
	}
	return filepath.Join(c.DataDir, "key.pem")
}

// SSHHostKeyPath resolves the host key path, defaulting into the data dir.
func (c Config) SSHHostKeyPath() string {
	if c.SFTP.HostKeyPath != "" {
		return c.SFTP.HostKeyPath
	}
	return filepath.Join(c.DataDir, "ssh_host_ed25519_key")
}

// applyDefaults populates zero-values with sane defaults.
// Rate limiting and token TTL keep zero as an explicit "off".
func applyDefaults(c *Config) {
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.RootDir = strings.TrimSpace(c.RootDir)
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.MaxUploadMB == 0 {
		c.HTTP.MaxUploadMB = 512
	}
	bf := &c.Auth.BruteForce
	if bf.MaxAttemptsBeforeCooldown == 0 {
		bf.MaxAttemptsBeforeCooldown = 3
	}
	if bf.InitialCooldownSeconds == 0 {
		bf.InitialCooldownSeconds = 10
	}
	if bf.CooldownIncrementSeconds == 0 {
		bf.CooldownIncrementSeconds = 10
	}
	if bf.MaxAttemptsBeforeLockout == 0 {
		bf.MaxAttemptsBeforeLockout = 10
	}
	if bf.LockoutDurationSeconds == 0 {
		bf.LockoutDurationSeconds = 86400
	}
	if c.Trash.DirName == "" {
		c.Trash.DirName = ".recycle"
	}
	if c.SFTP.Bind == "" {
		c.SFTP.Bind = c.HTTP.Bind
	}
	if c.SFTP.Port == 0 {
		c.SFTP.Port = 2022
	}
	if c.FTP.Bind == "" {
		c.FTP.Bind = c.HTTP.Bind
	}
	if c.FTP.Port == 0 {
		c.FTP.Port = 2121
	}
	if c.FTP.PassivePorts == "" {
		c.FTP.PassivePorts = "50000-50100"
	}
	if c.FTPS.Bind == "" {
		c.FTPS.Bind = c.HTTP.Bind
	}
	if c.FTPS.Port == 0 {
		c.FTPS.Port = 990
	}
	if c.FTPS.PassivePorts == "" {
		c.FTPS.PassivePorts = c.FTP.PassivePorts
	}
	if c.WebDAV.Prefix == "" {
		c.WebDAV.Prefix = "/webdav"
	}
}

// Validate performs sanity checks for required fields and ranges.
// It normalizes the root path in place.
func Validate(c *Config) error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	root, err := validate.RootPath(c.RootDir)
	if err != nil {
		return errors.New("root_dir: " + err.Error())
	}
	c.RootDir = root
	if err := portValid(c.HTTP.Port); err != nil {
		return errors.New("http.port is invalid")
	}
	if c.HTTP.MaxUploadMB < 1 || c.HTTP.MaxUploadMB > 102400 {
		return errors.New("http.max_upload_mb is invalid")
	}
	if c.HTTP.RateLimitPerMinute < 0 {
		return errors.New("http.rate_limit_per_minute is invalid")
	}
	if c.Auth.TokenTTLHours < 0 {
		return errors.New("auth.token_ttl_hours is invalid")
	}
	if err := validate.DirName(c.Trash.DirName); err != nil {
		return errors.New("trash.dir_name: " + err.Error())
	}
	if err := portValid(c.SFTP.Port); err != nil {
		return errors.New("sftp.port is invalid")
	}
	if err := portValid(c.FTP.Port); err != nil {
		return errors.New("ftp.port is invalid")
	}
	if err := portValid(c.FTPS.Port); err != nil {
		return errors.New("ftps.port is invalid")
	}
	if c.FTP.Enable {
		if _, _, err := ParsePortRange(c.FTP.PassivePorts); err != nil {
			return errors.New("ftp.passive_port_range is invalid")
		}
	}
	if c.FTPS.Enable {
		if _, _, err := ParsePortRange(c.FTPS.PassivePorts); err != nil {
			return errors.New("ftps.passive_port_range is invalid")
		}
		cp := strings.TrimSpace(c.TLS.CertPath)
		kp := strings.TrimSpace(c.TLS.KeyPath)
		if (cp == "") != (kp == "") {
			return errors.New("tls.cert_path and tls.key_path must be set together")
		}
	}
	if c.WebDAV.Enable && !strings.HasPrefix(c.WebDAV.Prefix, "/") {
		return errors.New("webdav.prefix must start with /")
	}
	// Keep cleaned forms for stable path handling in the daemon.
	c.DataDir = filepath.Clean(c.DataDir)
	if c.DB.Path != "" {
		c.DB.Path = filepath.Clean(c.DB.Path)
	}
	return nil
}

func portValid(p int) error {
	if p <= 0 || p > 65535 {
		return errors.New("port out of range")
	}
	return nil
}
