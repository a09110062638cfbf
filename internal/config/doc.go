// Package config handles configuration loading for whitelist-bot.
//
// # Configuration File
//
// Configuration is YAML unless the file name ends in .toml. Default locations
// (in order):
//
//  1. Path passed with -config
//  2. Path from WHITELIST_BOT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/whitelist-bot/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	discord:
//	  token: "${WHITELIST_BOT_TOKEN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	autosave:
//	  interval: "15m"
//	external:
//	  connect_timeout: "10s"
//
// # Shared Database
//
// shared_database names one external server (address, username, optional
// password) that guilds can select with "setdatabase <name>" without handing
// their own credentials to the bot.
package config
