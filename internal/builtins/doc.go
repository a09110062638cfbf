// Package builtins provides the bot's chat commands.
//
// # Commands
//
//   - list: show the whitelist
//   - whitelist <identifier>: add a player identifier
//   - unlist <identifier>: remove a player identifier
//   - getadmin: show the admin role (open to everyone)
//   - setadmin <role>: change the admin role
//   - getdatabase: show the external database settings, password masked
//   - setdatabase <database> [address] [username] [password]: use an external database
//   - cleardatabase: go back to local storage
//   - kickbot: leave the server and delete its data
//   - help: list commands
//
// Everything except getadmin and help requires the guild's admin role.
//
// # Data Commands
//
// list, whitelist and unlist resolve the guild's store through the database
// router and record a cache refresh when they succeed. An unreachable
// external database produces a connection notice; the connection is
// invalidated so the next command reconnects.
//
// # External Databases
//
// setdatabase with only a database name uses the shared server from the bot
// configuration. An address prefixed with postgres:// selects PostgreSQL;
// anything else is MySQL. The connection is verified before the settings are
// saved.
package builtins
