package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestServerConfigDefaults(t *testing.T) {
	// Create a temp dir without a config file
	tmpDir := t.TempDir()
	t.Setenv("MAILSWEEP_HOME", tmpDir)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 8080 {
		t.Errorf("Server.APIPort = %d, want 8080", cfg.Server.APIPort)
	}
	if cfg.Server.APIKey != "" {
		t.Errorf("Server.APIKey = %q, want empty", cfg.Server.APIKey)
	}
}

func TestSchedulesEmpty(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSWEEP_HOME", tmpDir)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Schedules) != 0 {
		t.Errorf("Schedules = %v, want empty slice", cfg.Schedules)
	}

	scheduled := cfg.ScheduledAnalyses()
	if len(scheduled) != 0 {
		t.Errorf("ScheduledAnalyses() = %v, want empty slice", scheduled)
	}
}

func TestLoadWithServerConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSWEEP_HOME", tmpDir)

	configContent := `
[server]
api_port = 9090
api_key = "test-secret-key"

[[schedules]]
account = "test@gmail.com"
schedule = "0 2 * * *"
query = "category:promotions"
max_messages = 2000
enabled = true

[[schedules]]
account = "other@gmail.com"
schedule = "0 3 * * *"
enabled = false
`
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 9090 {
		t.Errorf("Server.APIPort = %d, want 9090", cfg.Server.APIPort)
	}
	if cfg.Server.APIKey != "test-secret-key" {
		t.Errorf("Server.APIKey = %q, want test-secret-key", cfg.Server.APIKey)
	}

	if len(cfg.Schedules) != 2 {
		t.Fatalf("len(Schedules) = %d, want 2", len(cfg.Schedules))
	}

	first := cfg.Schedules[0]
	if first.Account != "test@gmail.com" {
		t.Errorf("Schedules[0].Account = %q, want test@gmail.com", first.Account)
	}
	if first.Schedule != "0 2 * * *" {
		t.Errorf("Schedules[0].Schedule = %q, want '0 2 * * *'", first.Schedule)
	}
	if first.Query != "category:promotions" {
		t.Errorf("Schedules[0].Query = %q, want category:promotions", first.Query)
	}
	if first.MaxMessages != 2000 {
		t.Errorf("Schedules[0].MaxMessages = %d, want 2000", first.MaxMessages)
	}
	if !first.Enabled {
		t.Error("Schedules[0].Enabled = false, want true")
	}
}

func TestScheduledAnalyses(t *testing.T) {
	cfg := &Config{
		Schedules: []AnalysisSchedule{
			{Account: "enabled@gmail.com", Schedule: "0 2 * * *", Enabled: true},
			{Account: "disabled@gmail.com", Schedule: "0 3 * * *", Enabled: false},
			{Account: "noschedule@gmail.com", Schedule: "", Enabled: true},
			{Account: "both@gmail.com", Schedule: "0 4 * * *", Enabled: true},
		},
	}

	scheduled := cfg.ScheduledAnalyses()

	if len(scheduled) != 2 {
		t.Fatalf("len(ScheduledAnalyses()) = %d, want 2", len(scheduled))
	}

	// Should contain only enabled schedules with cron expressions
	accounts := make(map[string]bool)
	for _, s := range scheduled {
		accounts[s.Account] = true
	}

	if !accounts["enabled@gmail.com"] {
		t.Error("ScheduledAnalyses() missing enabled@gmail.com")
	}
	if !accounts["both@gmail.com"] {
		t.Error("ScheduledAnalyses() missing both@gmail.com")
	}
	if accounts["disabled@gmail.com"] {
		t.Error("ScheduledAnalyses() should not include disabled schedule")
	}
	if accounts["noschedule@gmail.com"] {
		t.Error("ScheduledAnalyses() should not include schedule without cron expression")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	tests := []struct {
		name        string
		input       string
		expected    string
		unixOnly    bool // skip on Windows (uses Unix-style absolute paths)
		windowsOnly bool // skip on non-Windows (quote stripping is Windows-only)
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "just tilde",
			input:    "~",
			expected: home,
		},
		{
			name:     "tilde with slash and path",
			input:    "~/foo",
			expected: filepath.Join(home, "foo"),
		},
		{
			name:     "tilde with trailing slash only",
			input:    "~/",
			expected: home,
		},
		{
			name:     "tilde user notation not expanded",
			input:    "~user",
			expected: "~user",
		},
		{
			name:     "tilde with double slash",
			input:    "~//foo",
			expected: filepath.Join(home, "foo"),
		},
		{
			name:        "single-quoted path (Windows CMD)",
			input:       `'C:\mail\data'`,
			expected:    `C:\mail\data`,
			windowsOnly: true,
		},
		{
			name:        "double-quoted path (Windows CMD)",
			input:       `"C:\mail\data"`,
			expected:    `C:\mail\data`,
			windowsOnly: true,
		},
		{
			name:        "single-quoted tilde path",
			input:       "'~/custom-data'",
			expected:    filepath.Join(home, "custom-data"),
			windowsOnly: true,
		},
		{
			name:     "mismatched quotes not stripped",
			input:    `'C:\mail\data"`,
			expected: `'C:\mail\data"`,
		},
		{
			name:     "single char not stripped",
			input:    "'",
			expected: "'",
		},
		{
			name:     "absolute path unchanged",
			input:    "/var/log/test",
			expected: "/var/log/test",
			unixOnly: true,
		},
		{
			name:     "relative path unchanged",
			input:    "relative/path",
			expected: "relative/path",
		},
		{
			name:     "tilde in middle not expanded",
			input:    "/home/~user/foo",
			expected: "/home/~user/foo",
			unixOnly: true,
		},
		{
			name:     "nested path after tilde",
			input:    "~/foo/bar/baz",
			expected: filepath.Join(home, "foo/bar/baz"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.unixOnly && runtime.GOOS == "windows" {
				t.Skip("skipping Unix-specific path test on Windows")
			}
			if tt.windowsOnly && runtime.GOOS != "windows" {
				t.Skip("skipping Windows-specific path test on non-Windows")
			}
			got := expandPath(tt.input)
			if got != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	// Use a temp directory as MAILSWEEP_HOME
	tmpDir := t.TempDir()
	t.Setenv("MAILSWEEP_HOME", tmpDir)

	// Load with empty path should use defaults
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Data.DataDir != tmpDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, tmpDir)
	}
	if cfg.Gmail.RateLimitQPS != 5 {
		t.Errorf("Gmail.RateLimitQPS = %d, want 5", cfg.Gmail.RateLimitQPS)
	}

	expectedDB := filepath.Join(tmpDir, "mailsweep.db")
	if cfg.DatabasePath() != expectedDB {
		t.Errorf("DatabasePath() = %q, want %q", cfg.DatabasePath(), expectedDB)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSWEEP_HOME", tmpDir)

	configPath := filepath.Join(tmpDir, "config.toml")
	configContent := `
[data]
data_dir = "~/custom/data"

[oauth]
client_secrets = "~/secrets/client.json"
account = "me@gmail.com"

[gmail]
rate_limit_qps = 10
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	// Verify paths were expanded
	expectedDataDir := filepath.Join(home, "custom/data")
	if cfg.Data.DataDir != expectedDataDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, expectedDataDir)
	}

	expectedSecrets := filepath.Join(home, "secrets/client.json")
	if cfg.OAuth.ClientSecrets != expectedSecrets {
		t.Errorf("OAuth.ClientSecrets = %q, want %q", cfg.OAuth.ClientSecrets, expectedSecrets)
	}

	if cfg.OAuth.Account != "me@gmail.com" {
		t.Errorf("OAuth.Account = %q, want me@gmail.com", cfg.OAuth.Account)
	}
	if cfg.Gmail.RateLimitQPS != 10 {
		t.Errorf("Gmail.RateLimitQPS = %d, want 10", cfg.Gmail.RateLimitQPS)
	}
}

func TestLoadExplicitPathNotFound(t *testing.T) {
	// When --config explicitly specifies a file that doesn't exist, Load should error
	_, err := Load("/nonexistent/path/config.toml", "")
	if err == nil {
		t.Fatal("Load with explicit nonexistent path should return error")
	}
	if got := err.Error(); !strings.Contains(got, "config file not found") {
		t.Errorf("error = %q, want it to contain %q", got, "config file not found")
	}
}

func TestLoadExplicitPathDerivedHomeDir(t *testing.T) {
	// When --config points to a custom location, HomeDir and DataDir
	// should derive from the config file's parent directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	// Write a minimal config (no data_dir override)
	configContent := `
[oauth]
client_secrets = "/tmp/secret.json"

[gmail]
rate_limit_qps = 3
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", configPath, err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Data.DataDir != tmpDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, tmpDir)
	}
	if cfg.Gmail.RateLimitQPS != 3 {
		t.Errorf("Gmail.RateLimitQPS = %d, want 3", cfg.Gmail.RateLimitQPS)
	}

	// Derived paths should use the custom directory
	expectedDB := filepath.Join(tmpDir, "mailsweep.db")
	if cfg.DatabasePath() != expectedDB {
		t.Errorf("DatabasePath() = %q, want %q", cfg.DatabasePath(), expectedDB)
	}
	expectedTokens := filepath.Join(tmpDir, "tokens")
	if cfg.TokensDir() != expectedTokens {
		t.Errorf("TokensDir() = %q, want %q", cfg.TokensDir(), expectedTokens)
	}
}

func TestLoadExplicitPathWithDataDirOverride(t *testing.T) {
	// When config file explicitly sets data_dir, that should take precedence
	tmpDir := t.TempDir()
	customDataDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	// Use forward slashes in TOML (works cross-platform)
	configContent := `
[data]
data_dir = "` + filepath.ToSlash(customDataDir) + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", configPath, err)
	}

	// HomeDir should be config file's directory
	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	// DataDir should be the explicit override from config.
	// Normalize both sides since TOML preserves forward slashes on Windows.
	if filepath.Clean(cfg.Data.DataDir) != filepath.Clean(customDataDir) {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, customDataDir)
	}
}

func TestLoadExplicitPathRelativePaths(t *testing.T) {
	// When --config is used, relative data_dir and client_secrets should
	// resolve against the config file's directory, not the working directory.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[data]
data_dir = "data"

[oauth]
client_secrets = "secrets/client.json"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", configPath, err)
	}

	expectedDataDir := filepath.Join(tmpDir, "data")
	if cfg.Data.DataDir != expectedDataDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, expectedDataDir)
	}

	expectedSecrets := filepath.Join(tmpDir, "secrets/client.json")
	if cfg.OAuth.ClientSecrets != expectedSecrets {
		t.Errorf("OAuth.ClientSecrets = %q, want %q", cfg.OAuth.ClientSecrets, expectedSecrets)
	}
}

func TestLoadExplicitPathWithTilde(t *testing.T) {
	// Explicit --config with ~ should be expanded before stat
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte("[gmail]\nrate_limit_qps = 7\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	// Construct a ~ path: replace the home prefix with ~
	if !strings.HasPrefix(tmpDir, home) {
		t.Skip("temp dir is not under home directory, cannot test ~ expansion")
	}
	tildePath := "~" + tmpDir[len(home):] + "/config.toml"

	cfg, err := Load(tildePath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", tildePath, err)
	}

	if cfg.Gmail.RateLimitQPS != 7 {
		t.Errorf("Gmail.RateLimitQPS = %d, want 7", cfg.Gmail.RateLimitQPS)
	}
}

func TestLoadConfigFilePath(t *testing.T) {
	// ConfigFilePath should return the actual loaded path, not the default
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(""), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", configPath, err)
	}

	if cfg.ConfigFilePath() != configPath {
		t.Errorf("ConfigFilePath() = %q, want %q", cfg.ConfigFilePath(), configPath)
	}
}

func TestDefaultHomeExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	t.Setenv("MAILSWEEP_HOME", "~/.mailsweep")
	got := DefaultHome()
	expected := filepath.Join(home, ".mailsweep")
	if got != expected {
		t.Errorf("DefaultHome() = %q, want %q", got, expected)
	}
}

func TestLoadBackslashErrorHint(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "invalid escape (backslash G)",
			// \G is not a valid TOML escape → "invalid escape" error
			content: "[data]\ndata_dir = \"C:\\Games\\mailsweep\"\n",
		},
		{
			name: "unicode escape (backslash U)",
			// \U is a TOML Unicode escape expecting 8 hex digits → "hexadecimal digits" error
			content: "[data]\ndata_dir = \"C:\\Users\\mail\\Unsorted\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Setenv("MAILSWEEP_HOME", tmpDir)

			configPath := filepath.Join(tmpDir, "config.toml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write config file: %v", err)
			}

			_, err := Load("", "")
			if err == nil {
				t.Fatal("Load should fail on TOML backslash error")
			}

			errMsg := err.Error()
			if !strings.Contains(errMsg, "hint:") {
				t.Errorf("error should contain hint, got: %s", errMsg)
			}
			if !strings.Contains(errMsg, "forward slashes") {
				t.Errorf("error should mention forward slashes, got: %s", errMsg)
			}
			if !strings.Contains(errMsg, "single quotes") {
				t.Errorf("error should mention single quotes, got: %s", errMsg)
			}
		})
	}
}

func TestLoadWithHomeDir(t *testing.T) {
	homeDir := t.TempDir()

	cfg, err := Load("", homeDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HomeDir != homeDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, homeDir)
	}
	if cfg.Data.DataDir != homeDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, homeDir)
	}

	// Derived paths should use the home directory
	expectedDB := filepath.Join(homeDir, "mailsweep.db")
	if cfg.DatabasePath() != expectedDB {
		t.Errorf("DatabasePath() = %q, want %q", cfg.DatabasePath(), expectedDB)
	}
	expectedTokens := filepath.Join(homeDir, "tokens")
	if cfg.TokensDir() != expectedTokens {
		t.Errorf("TokensDir() = %q, want %q", cfg.TokensDir(), expectedTokens)
	}
}

func TestLoadWithHomeDirReadsConfig(t *testing.T) {
	// --home should load config.toml from that directory
	homeDir := t.TempDir()
	configPath := filepath.Join(homeDir, "config.toml")
	configContent := `[gmail]
rate_limit_qps = 42
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load("", homeDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gmail.RateLimitQPS != 42 {
		t.Errorf("Gmail.RateLimitQPS = %d, want 42", cfg.Gmail.RateLimitQPS)
	}
	if cfg.HomeDir != homeDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, homeDir)
	}
}

func TestLoadWithHomeDirExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	cfg, err := Load("", "~/custom-data")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	expected := filepath.Join(home, "custom-data")
	if cfg.HomeDir != expected {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, expected)
	}
	if cfg.Data.DataDir != expected {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, expected)
	}
}

// TestLoadIgnoresUnknownKeys verifies that config files carrying keys
// from other versions still load. BurntSushi/toml silently ignores
// unknown keys, so upgrades and downgrades don't break existing configs.
func TestLoadIgnoresUnknownKeys(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSWEEP_HOME", tmpDir)

	configContent := `
[server]
api_port = 9090
mcp_enabled = true

[telemetry]
endpoint = "http://localhost:4317"
`
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() should succeed with unknown keys, got error: %v", err)
	}

	if cfg.Server.APIPort != 9090 {
		t.Errorf("Server.APIPort = %d, want 9090", cfg.Server.APIPort)
	}
}

func TestNewDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSWEEP_HOME", tmpDir)

	cfg := NewDefaultConfig()

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Data.DataDir != tmpDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, tmpDir)
	}
	if cfg.Gmail.RateLimitQPS != 5 {
		t.Errorf("Gmail.RateLimitQPS = %d, want 5", cfg.Gmail.RateLimitQPS)
	}
}

func TestResolveAccount(t *testing.T) {
	cfg := &Config{}
	cfg.OAuth.Account = "default@gmail.com"

	got, err := cfg.ResolveAccount("explicit@gmail.com")
	if err != nil {
		t.Fatalf("ResolveAccount with override failed: %v", err)
	}
	if got != "explicit@gmail.com" {
		t.Errorf("ResolveAccount(override) = %q, want the override", got)
	}

	got, err = cfg.ResolveAccount("")
	if err != nil {
		t.Fatalf("ResolveAccount with default failed: %v", err)
	}
	if got != "default@gmail.com" {
		t.Errorf("ResolveAccount(\"\") = %q, want the configured default", got)
	}

	empty := &Config{}
	if _, err := empty.ResolveAccount(""); err == nil {
		t.Error("ResolveAccount with no account anywhere should error")
	}
}

func TestEnsureHomeDir(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{
		HomeDir: filepath.Join(tmpDir, "home"),
		Data:    DataConfig{DataDir: filepath.Join(tmpDir, "home", "data")},
	}

	if err := cfg.EnsureHomeDir(); err != nil {
		t.Fatalf("EnsureHomeDir failed: %v", err)
	}

	for _, dir := range []string{cfg.HomeDir, cfg.Data.DataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("Stat(%q) failed: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%q is not a directory", dir)
		}
	}
}
