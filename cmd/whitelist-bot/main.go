// ABOUTME: Entry point for whitelist-bot, the multi-guild Discord whitelist manager
// ABOUTME: Subcommands: serve (default), init, health, version

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/whitelist-bot/internal/bot"
	"github.com/2389/whitelist-bot/internal/config"
	"github.com/2389/whitelist-bot/internal/discord"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
          _     _ _       _ _     _        _           _
__      _| |__ (_) |_ ___| (_)___| |_     | |__   ___ | |_
\ \ /\ / / '_ \| | __/ _ \ | / __| __|____| '_ \ / _ \| __|
 \ V  V /| | | | | ||  __/ | \__ \ ||_____| |_) | (_) | |_
  \_/\_/ |_| |_|_|\__\___|_|_|___/\__|    |_.__/ \___/ \__|
`

// getConfigPath returns the path to the bot config file.
// Priority: WHITELIST_BOT_CONFIG env var > XDG_CONFIG_HOME/whitelist-bot/config.yaml > ~/.config/whitelist-bot/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WHITELIST_BOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "whitelist-bot", "config.yaml")
}

func usage() {
	fmt.Println("Usage: whitelist-bot [command] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve [-config PATH] [TOKEN]  Connect to Discord and serve commands (default)")
	fmt.Println("  init [-config PATH]           Write an example config file")
	fmt.Println("  health [-config PATH]         Check the metrics endpoint's health")
	fmt.Println("  version                       Print the version")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !isFlag(args[0]) {
		switch args[0] {
		case "serve", "init", "health", "version":
			cmd, args = args[0], args[1:]
		case "help":
			usage()
			return
		}
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "health":
		err = runHealth(ctx, args)
	case "version":
		fmt.Println(version)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func isFlag(arg string) bool {
	return len(arg) > 1 && arg[0] == '-'
}

// serveFlags parses the serve arguments. A positional token overrides the
// config file and the WHITELIST_BOT_TOKEN variable.
func serveFlags(args []string) (configPath, token string, err error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", getConfigPath(), "path to config file")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}

	switch fs.NArg() {
	case 0:
		token = os.Getenv("WHITELIST_BOT_TOKEN")
	case 1:
		token = fs.Arg(0)
	default:
		return "", "", fmt.Errorf("unexpected arguments: %v", fs.Args()[1:])
	}
	return configPath, token, nil
}

// loadConfig reads the config file, applies a token override and validates.
// A missing file is fine when the token comes from elsewhere.
func loadConfig(path, token string) (*config.Config, error) {
	var cfg *config.Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = config.Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
		if err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && token != "":
		cfg = config.Default()
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if token != "" {
		cfg.Discord.Token = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, args []string) error {
	configPath, token, err := serveFlags(args)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath, token)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Prefix:    %s\n", cfg.Discord.CommandPrefix)
	if cfg.SharedDatabase.Enabled() {
		green.Print("    ▶ ")
		fmt.Printf("Shared DB: ")
		cyan.Printf("%s://%s\n", cfg.SharedDatabase.Driver, cfg.SharedDatabase.Address)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Addr)
	} else {
		yellow.Println("    ▶ Metrics:   disabled")
	}
	fmt.Println()

	b, err := bot.New(ctx, cfg, logger, bot.Options{})
	if err != nil {
		return fmt.Errorf("starting bot: %w", err)
	}

	gw, err := discord.New(discord.Config{
		Token:      cfg.Discord.Token,
		Status:     cfg.Discord.Status,
		Prefix:     cfg.Discord.CommandPrefix,
		AdminRole:  cfg.Guilds.DefaultAdminRole,
		Dispatcher: b.Dispatcher(),
		Guilds:     b.Guilds(),
		Logger:     logger.With("component", "discord"),
	})
	if err != nil {
		_ = b.Shutdown(context.Background())
		return err
	}

	return b.Run(ctx, gw)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", getConfigPath(), "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*configPath); err == nil {
		return fmt.Errorf("config already exists: %s", *configPath)
	}
	if err := os.MkdirAll(filepath.Dir(*configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(*configPath, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", *configPath)
	fmt.Println("    Set WHITELIST_BOT_TOKEN or edit discord.token, then run: whitelist-bot serve")
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	configPath := fs.String("config", getConfigPath(), "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, os.Getenv("WHITELIST_BOT_TOKEN"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Metrics.Enabled {
		return errors.New("metrics endpoint is disabled in config")
	}

	url := fmt.Sprintf("http://%s/health", cfg.Metrics.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

const exampleConfig = `# whitelist-bot configuration
# ${VAR} references are expanded from the environment

discord:
  token: "${WHITELIST_BOT_TOKEN}"
  command_prefix: "-"
  status: "-help"

database:
  path: "bot.db"

# Optional server guilds can use with "setdatabase <name>"
# shared_database:
#   driver: "mysql"
#   address: "db.example.com:3306"
#   username: "whitelist"
#   password: "${SHARED_DB_PASSWORD}"

guilds:
  default_admin_role: "Whitelister"

autosave:
  interval: "15m"

commands:
  workers: 8
  queue_size: 256
  timeout: "30s"

external:
  connect_timeout: "10s"
  max_conns: 4

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  addr: "127.0.0.1:9090"
`
