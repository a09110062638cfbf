// ABOUTME: Configuration loading and parsing for whitelist-bot
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrMissingToken is returned when no bot token was configured.
var ErrMissingToken = errors.New("discord.token is required")

// Default values applied by Load when a field is left empty.
const (
	DefaultCommandPrefix    = "-"
	DefaultDatabasePath     = "bot.db"
	DefaultAdminRole        = "Whitelister"
	DefaultAutosaveInterval = 15 * time.Minute
	DefaultCommandWorkers   = 8
	DefaultCommandQueue     = 256
	DefaultCommandTimeout   = 30 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultMaxConns         = 4
	DefaultMetricsAddr      = "127.0.0.1:9090"
)

// Config represents the complete whitelist-bot configuration
type Config struct {
	Discord        DiscordConfig        `yaml:"discord" toml:"discord"`
	Database       DatabaseConfig       `yaml:"database" toml:"database"`
	SharedDatabase SharedDatabaseConfig `yaml:"shared_database" toml:"shared_database"`
	Guilds         GuildsConfig         `yaml:"guilds" toml:"guilds"`
	Autosave       AutosaveConfig       `yaml:"autosave" toml:"autosave"`
	Commands       CommandsConfig       `yaml:"commands" toml:"commands"`
	External       ExternalConfig       `yaml:"external" toml:"external"`
	Logging        LoggingConfig        `yaml:"logging" toml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics" toml:"metrics"`
}

// DiscordConfig holds the gateway connection settings
type DiscordConfig struct {
	Token         string `yaml:"token" toml:"token"`
	CommandPrefix string `yaml:"command_prefix" toml:"command_prefix"`
	Status        string `yaml:"status" toml:"status"`
}

// DatabaseConfig holds the local SQLite store configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SharedDatabaseConfig describes one external server that guilds may point
// their whitelist at without supplying their own credentials.
type SharedDatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"`
	Address  string `yaml:"address" toml:"address"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"` // may be empty
}

// Enabled reports whether a shared database server is configured.
func (s SharedDatabaseConfig) Enabled() bool {
	return s.Address != ""
}

// GuildsConfig holds per-guild defaults
type GuildsConfig struct {
	DefaultAdminRole string `yaml:"default_admin_role" toml:"default_admin_role"`
}

// AutosaveConfig holds the background persistence schedule
type AutosaveConfig struct {
	Interval    time.Duration `yaml:"-" toml:"-"`
	IntervalRaw string        `yaml:"interval" toml:"interval"`
}

// CommandsConfig holds dispatcher sizing
type CommandsConfig struct {
	Workers    int           `yaml:"workers" toml:"workers"`
	QueueSize  int           `yaml:"queue_size" toml:"queue_size"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// ExternalConfig holds limits for guild-owned external stores
type ExternalConfig struct {
	ConnectTimeout    time.Duration `yaml:"-" toml:"-"`
	ConnectTimeoutRaw string        `yaml:"connect_timeout" toml:"connect_timeout"`
	MaxConns          int           `yaml:"max_conns" toml:"max_conns"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Parse decodes raw configuration bytes, expands environment variables,
// parses durations and applies defaults. It does not validate.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied and no token.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Discord.CommandPrefix == "" {
		c.Discord.CommandPrefix = DefaultCommandPrefix
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.SharedDatabase.Driver == "" {
		c.SharedDatabase.Driver = "mysql"
	}
	if c.Guilds.DefaultAdminRole == "" {
		c.Guilds.DefaultAdminRole = DefaultAdminRole
	}
	if c.Autosave.Interval == 0 {
		c.Autosave.Interval = DefaultAutosaveInterval
	}
	if c.Commands.Workers == 0 {
		c.Commands.Workers = DefaultCommandWorkers
	}
	if c.Commands.QueueSize == 0 {
		c.Commands.QueueSize = DefaultCommandQueue
	}
	if c.Commands.Timeout == 0 {
		c.Commands.Timeout = DefaultCommandTimeout
	}
	if c.External.ConnectTimeout == 0 {
		c.External.ConnectTimeout = DefaultConnectTimeout
	}
	if c.External.MaxConns == 0 {
		c.External.MaxConns = DefaultMaxConns
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return ErrMissingToken
	}

	// The protocol matches exactly one character before the verb
	if len([]rune(c.Discord.CommandPrefix)) != 1 {
		return fmt.Errorf("discord.command_prefix must be a single character, got %q", c.Discord.CommandPrefix)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.SharedDatabase.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("shared_database.driver must be mysql or postgres, got %q", c.SharedDatabase.Driver)
	}
	if c.SharedDatabase.Enabled() && c.SharedDatabase.Username == "" {
		return fmt.Errorf("shared_database.username is required when shared_database.address is set")
	}

	if c.Autosave.Interval < time.Second {
		return fmt.Errorf("autosave.interval must be at least 1s, got %s", c.Autosave.Interval)
	}
	if c.Commands.Workers < 1 {
		return fmt.Errorf("commands.workers must be positive")
	}
	if c.Commands.QueueSize < 1 {
		return fmt.Errorf("commands.queue_size must be positive")
	}
	if c.External.ConnectTimeout <= 0 {
		return fmt.Errorf("external.connect_timeout must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"autosave.interval", cfg.Autosave.IntervalRaw, &cfg.Autosave.Interval},
		{"commands.timeout", cfg.Commands.TimeoutRaw, &cfg.Commands.Timeout},
		{"external.connect_timeout", cfg.External.ConnectTimeoutRaw, &cfg.External.ConnectTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
