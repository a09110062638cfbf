// Package store provides persistent storage for whitelist-bot using SQLite.
//
// # Architecture
//
// The store package splits its surface into small interfaces so each consumer
// depends only on what it writes:
//
//   - GuildStore: tenant rows and their external database descriptors
//   - CacheStore: one refresh timestamp per guild
//   - EntryStore: the shared local whitelist for guilds without an external store
//
// SQLiteStore implements all of them; MockStore is the in-memory test double.
//
// # Schema
//
//	guilds(id, snowflake UNIQUE, joined, admin_role)
//	caches(guild_id PRIMARY KEY, last_refresh)
//	databases(guild_id PRIMARY KEY, driver, address, name, username, password)
//	whitelist(guild_id, identifier, added_at, UNIQUE(guild_id, identifier))
//
// Every table other than guilds references guilds(snowflake); RemoveGuild
// deletes the dependent rows explicitly inside one transaction.
// Timestamps are stored as ISO-8601 text.
//
// # SQLite Configuration
//
// Pragmas are set through the DSN so every pooled connection has them:
//
//	busy_timeout(5000), foreign_keys(1), journal_mode(WAL)
//
// # Error Handling
//
//   - ErrNotFound: the row (or its owning guild) does not exist
//   - ErrDuplicateGuild: AddGuild with a snowflake that is already stored
//   - ErrDuplicateEntry: AddEntry with an identifier that is already whitelisted
//
// # Migrations
//
// runMigrations collapses the append-only caches log of older databases into
// one current row per guild.
package store
