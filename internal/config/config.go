// Package config handles loading and managing mailsweep configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the mailsweep configuration.
type Config struct {
	Data      DataConfig         `toml:"data"`
	OAuth     OAuthConfig        `toml:"oauth"`
	Gmail     GmailConfig        `toml:"gmail"`
	Server    ServerConfig       `toml:"server"`
	Schedules []AnalysisSchedule `toml:"schedules"`

	// Computed at load time, not from the config file.
	HomeDir string `toml:"-"`

	configFile string
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// OAuthConfig holds OAuth configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"` // Google client secrets JSON
	Account       string `toml:"account"`        // Default account for commands
}

// GmailConfig tunes the Gmail API client.
type GmailConfig struct {
	RateLimitQPS int `toml:"rate_limit_qps"` // Request budget per second (default: 5)
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort         int      `toml:"api_port"`         // HTTP server port (default: 8080)
	APIKey          string   `toml:"api_key"`          // API authentication key
	BindAddr        string   `toml:"bind_addr"`        // Listen address (default: 127.0.0.1)
	AllowInsecure   bool     `toml:"allow_insecure"`   // Permit non-loopback bind without api_key
	CORSOrigins     []string `toml:"cors_origins"`     // Allowed origins; empty disables CORS
	CORSCredentials bool     `toml:"cors_credentials"` // Credentialed CORS requests
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache seconds
}

// ValidateSecure rejects a listening posture that would expose the API
// unauthenticated beyond the loopback interface. AllowInsecure opts out
// for trusted networks.
func (sc ServerConfig) ValidateSecure() error {
	if sc.APIKey != "" || sc.AllowInsecure {
		return nil
	}
	addr := sc.BindAddr
	if addr == "" || addr == "localhost" {
		return nil
	}
	if ip := net.ParseIP(addr); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("refusing to bind to %s without an API key; set [server] api_key or allow_insecure", addr)
}

// AnalysisSchedule defines one recurring mailbox analysis.
type AnalysisSchedule struct {
	Account     string `toml:"account"`      // Gmail account email
	Schedule    string `toml:"schedule"`     // Cron expression (e.g., "0 2 * * *" for 2am daily)
	Query       string `toml:"query"`        // Search scope; empty scans the inbox
	MaxMessages int64  `toml:"max_messages"` // Sampling cap; 0 scans everything matching
	Enabled     bool   `toml:"enabled"`      // Whether the schedule is active
}

// DefaultHome returns the default mailsweep home directory.
// Respects the MAILSWEEP_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILSWEEP_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailsweep"
	}
	return filepath.Join(home, ".mailsweep")
}

// NewDefaultConfig returns the built-in defaults rooted at DefaultHome.
func NewDefaultConfig() *Config {
	return defaultConfig(DefaultHome())
}

func defaultConfig(homeDir string) *Config {
	return &Config{
		Data: DataConfig{
			DataDir: homeDir,
		},
		Gmail: GmailConfig{
			RateLimitQPS: 5,
		},
		Server: ServerConfig{
			APIPort: 8080,
		},
		Schedules: []AnalysisSchedule{},
		HomeDir:   homeDir,
	}
}

// Load reads the configuration. An explicitly named file must exist;
// otherwise config.toml is looked up under homeDir when given, else
// under DefaultHome(), and the built-in defaults apply when the file is
// absent. With an explicit path the home directory derives from the
// file's parent, so a portable config keeps its data beside itself.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	path = expandPath(path)

	switch {
	case explicit:
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		homeDir = filepath.Dir(path)
	case homeDir != "":
		homeDir = expandPath(homeDir)
		path = filepath.Join(homeDir, "config.toml")
	default:
		homeDir = DefaultHome()
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := defaultConfig(homeDir)
	cfg.configFile = path

	// The config file is optional unless named explicitly.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, decodeError(path, err)
	}

	cfg.Data.DataDir = resolvePath(homeDir, cfg.Data.DataDir)
	cfg.OAuth.ClientSecrets = resolvePath(homeDir, cfg.OAuth.ClientSecrets)

	return cfg, nil
}

// ConfigFilePath returns the path of the config file Load read, or
// probed when none existed.
func (c *Config) ConfigFilePath() string {
	return c.configFile
}

// EnsureHomeDir creates the home and data directories when missing.
func (c *Config) EnsureHomeDir() error {
	for _, dir := range []string{c.HomeDir, c.Data.DataDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "mailsweep.db")
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// ResolveAccount picks the account an operation targets: the explicit
// override when given, else the configured default.
func (c *Config) ResolveAccount(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if c.OAuth.Account != "" {
		return c.OAuth.Account, nil
	}
	return "", errors.New("no account given: pass --account or set oauth.account in the config")
}

// ScheduledAnalyses returns the enabled schedules that have a cron
// expression.
func (c *Config) ScheduledAnalyses() []AnalysisSchedule {
	var scheduled []AnalysisSchedule
	for _, s := range c.Schedules {
		if s.Enabled && s.Schedule != "" {
			scheduled = append(scheduled, s)
		}
	}
	return scheduled
}

// decodeError wraps TOML decode failures. Windows paths pasted into
// double-quoted TOML strings turn into escape errors, so those get a
// hint.
func decodeError(path string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "escape") || strings.Contains(msg, "hexadecimal") {
		return fmt.Errorf("decode config %s: %w\nhint: backslashes in double-quoted TOML strings are escapes; use forward slashes (C:/mail/data) or single quotes ('C:\\mail\\data')", path, err)
	}
	return fmt.Errorf("decode config %s: %w", path, err)
}

// resolvePath expands ~ and resolves relative paths against the config
// directory, so a config file means the same thing from any working
// directory.
func resolvePath(homeDir, path string) string {
	if path == "" {
		return path
	}
	path = expandPath(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(homeDir, path)
	}
	return path
}

// expandPath expands a leading ~ to the user's home directory. On
// Windows it also strips surrounding quotes, which CMD leaves on pasted
// paths.
func expandPath(path string) string {
	if runtime.GOOS == "windows" {
		path = stripQuotes(path)
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func stripQuotes(path string) string {
	if len(path) < 2 {
		return path
	}
	first, last := path[0], path[len(path)-1]
	if first == last && (first == '\'' || first == '"') {
		return path[1 : len(path)-1]
	}
	return path
}
