package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/queue"
	"github.com/mailsweep/mailsweep/internal/scheduler"
)

func TestServeConfigParsing(t *testing.T) {
	// Create temp config with schedules
	tmpDir := t.TempDir()
	configContent := `
[oauth]
client_secrets = "/path/to/secrets.json"
account = "you@gmail.com"

[server]
api_port = 9090
api_key = "test-key"

[[schedules]]
account = "you@gmail.com"
schedule = "0 2 * * *"
query = "category:promotions"
enabled = true

[[schedules]]
account = "you@gmail.com"
schedule = "0 3 * * 0"
enabled = true

[[schedules]]
account = "you@gmail.com"
schedule = "0 4 * * *"
enabled = false
`
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(configPath, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify server config
	if cfg.Server.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.Server.APIPort)
	}
	if cfg.Server.APIKey != "test-key" {
		t.Errorf("APIKey = %q, want test-key", cfg.Server.APIKey)
	}

	// Disabled schedules are filtered out
	scheduled := cfg.ScheduledAnalyses()
	if len(scheduled) != 2 {
		t.Errorf("len(ScheduledAnalyses()) = %d, want 2", len(scheduled))
	}
	if scheduled[0].Query != "category:promotions" {
		t.Errorf("Query = %q, want category:promotions", scheduled[0].Query)
	}
}

// stubQueue satisfies scheduler.JobQueue for wiring tests.
type stubQueue struct {
	enqueued int
}

func (s *stubQueue) Enqueue(t queue.Type, payload any) (string, error) {
	s.enqueued++
	return fmt.Sprintf("job_%d", s.enqueued), nil
}

func (s *stubQueue) Jobs() []queue.Job { return nil }

func TestSchedulerWithConfig(t *testing.T) {
	cfg := &config.Config{
		Schedules: []config.AnalysisSchedule{
			{Account: "you@gmail.com", Schedule: "0 2 * * *", Enabled: true},
			{Account: "you@gmail.com", Schedule: "0 3 * * *", Enabled: true},
			{Account: "you@gmail.com", Schedule: "invalid", Enabled: true},
		},
	}

	sched := scheduler.New(&stubQueue{})
	count, errs := sched.AddFromConfig(cfg, "you@gmail.com")

	// Replace-by-account semantics: the second valid schedule replaces
	// the first, so one entry remains.
	if count != 2 {
		t.Errorf("added = %d, want 2", count)
	}
	if len(errs) != 1 {
		t.Errorf("len(errs) = %d, want 1", len(errs))
	}

	statuses := sched.Status()
	if len(statuses) != 1 {
		t.Errorf("len(Status()) = %d, want 1", len(statuses))
	}
}

func TestServeCmdNoSchedules(t *testing.T) {
	// Create temp config without schedules
	tmpDir := t.TempDir()
	configContent := `
[oauth]
client_secrets = "/path/to/secrets.json"
`
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(configPath, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	scheduled := cfg.ScheduledAnalyses()
	if len(scheduled) != 0 {
		t.Errorf("expected no schedules, got %d", len(scheduled))
	}
}

func TestCronExpressionValidation(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"daily at 2am", "0 2 * * *", false},
		{"every 15 min", "*/15 * * * *", false},
		{"weekly sunday", "0 0 * * 0", false},
		{"monthly first", "0 0 1 * *", false},
		{"twice daily", "0 8,18 * * *", false},
		{"invalid", "not a cron", true},
		{"empty", "", true},
		{"too many fields", "* * * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := scheduler.ValidateCronExpr(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronExpr(%q) error = %v, wantErr = %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}
