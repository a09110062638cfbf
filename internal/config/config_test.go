// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
discord:
  token: "bot-token"
  command_prefix: "!"
  status: "whitelisting"

database:
  path: "./test.db"

shared_database:
  driver: "postgres"
  address: "db.example.com:5432"
  username: "fivem"
  password: ""

guilds:
  default_admin_role: "Staff"

autosave:
  interval: "5m"

commands:
  workers: 2
  queue_size: 16
  timeout: "3s"

external:
  connect_timeout: "2s"
  max_conns: 1

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  addr: ":9100"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Discord.Token != "bot-token" {
		t.Errorf("Discord.Token = %q, want %q", cfg.Discord.Token, "bot-token")
	}
	if cfg.Discord.CommandPrefix != "!" {
		t.Errorf("Discord.CommandPrefix = %q, want %q", cfg.Discord.CommandPrefix, "!")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if !cfg.SharedDatabase.Enabled() {
		t.Error("SharedDatabase.Enabled() = false, want true")
	}
	if cfg.SharedDatabase.Driver != "postgres" {
		t.Errorf("SharedDatabase.Driver = %q, want %q", cfg.SharedDatabase.Driver, "postgres")
	}
	if cfg.Guilds.DefaultAdminRole != "Staff" {
		t.Errorf("Guilds.DefaultAdminRole = %q, want %q", cfg.Guilds.DefaultAdminRole, "Staff")
	}
	if cfg.Autosave.Interval != 5*time.Minute {
		t.Errorf("Autosave.Interval = %v, want %v", cfg.Autosave.Interval, 5*time.Minute)
	}
	if cfg.Commands.Workers != 2 || cfg.Commands.QueueSize != 16 {
		t.Errorf("Commands = %+v, want workers 2 queue 16", cfg.Commands)
	}
	if cfg.Commands.Timeout != 3*time.Second {
		t.Errorf("Commands.Timeout = %v, want %v", cfg.Commands.Timeout, 3*time.Second)
	}
	if cfg.External.ConnectTimeout != 2*time.Second {
		t.Errorf("External.ConnectTimeout = %v, want %v", cfg.External.ConnectTimeout, 2*time.Second)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics = %+v, want enabled on :9100", cfg.Metrics)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[discord]
token = "toml-token"

[autosave]
interval = "1m"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discord.Token != "toml-token" {
		t.Errorf("Discord.Token = %q, want %q", cfg.Discord.Token, "toml-token")
	}
	if cfg.Autosave.Interval != time.Minute {
		t.Errorf("Autosave.Interval = %v, want %v", cfg.Autosave.Interval, time.Minute)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", "discord:\n  token: x\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Discord.CommandPrefix != DefaultCommandPrefix {
		t.Errorf("CommandPrefix = %q, want %q", cfg.Discord.CommandPrefix, DefaultCommandPrefix)
	}
	if cfg.Database.Path != DefaultDatabasePath {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, DefaultDatabasePath)
	}
	if cfg.Autosave.Interval != DefaultAutosaveInterval {
		t.Errorf("Autosave.Interval = %v, want %v", cfg.Autosave.Interval, DefaultAutosaveInterval)
	}
	if cfg.External.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", cfg.External.ConnectTimeout, DefaultConnectTimeout)
	}
	if cfg.SharedDatabase.Enabled() {
		t.Error("SharedDatabase.Enabled() = true, want false")
	}
	if cfg.SharedDatabase.Driver != "mysql" {
		t.Errorf("SharedDatabase.Driver = %q, want mysql", cfg.SharedDatabase.Driver)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_WHITELIST_TOKEN", "from-env")
	path := writeConfig(t, "config.yaml", "discord:\n  token: \"${TEST_WHITELIST_TOKEN}\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("Discord.Token = %q, want %q", cfg.Discord.Token, "from-env")
	}
}

func TestLoad_MissingToken(t *testing.T) {
	path := writeConfig(t, "config.yaml", "database:\n  path: x.db\n")

	_, err := Load(path)
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Load() error = %v, want ErrMissingToken", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", "discord:\n  token: x\nautosave:\n  interval: soon\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "autosave.interval") {
		t.Fatalf("Load() error = %v, want autosave.interval parse error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"long prefix", func(c *Config) { c.Discord.CommandPrefix = "!!" }, "single character"},
		{"bad driver", func(c *Config) { c.SharedDatabase.Driver = "oracle" }, "mysql or postgres"},
		{"shared without user", func(c *Config) { c.SharedDatabase.Address = "db:3306" }, "username"},
		{"short interval", func(c *Config) { c.Autosave.Interval = time.Millisecond }, "autosave.interval"},
		{"no workers", func(c *Config) { c.Commands.Workers = -1 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Discord.Token = "token"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
