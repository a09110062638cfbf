// ABOUTME: Store interfaces and data types for whitelist-bot persistence
// ABOUTME: Defines Guild, Descriptor, CacheState, Entry and the interfaces over them

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateGuild is returned when a guild with the same snowflake is already stored
var ErrDuplicateGuild = errors.New("guild already exists")

// ErrDuplicateEntry is returned when an identifier is already whitelisted
var ErrDuplicateEntry = errors.New("entry already exists")

// Guild is one tenant as persisted in the guilds table.
type Guild struct {
	ID        int64 // local surrogate key, assigned by AddGuild
	Snowflake string
	Joined    time.Time
	AdminRole string      // empty means the configured default
	Database  *Descriptor // nil means the shared local store
}

// Clone returns a deep copy so callers can never alias registry state.
func (g *Guild) Clone() *Guild {
	if g == nil {
		return nil
	}
	c := *g
	if g.Database != nil {
		d := *g.Database
		c.Database = &d
	}
	return &c
}

// Descriptor holds connection parameters for a guild's external whitelist store.
type Descriptor struct {
	Driver   string // "mysql" or "postgres"
	Address  string // host:port
	Name     string // database name
	Username string
	Password string
}

// Redacted returns a copy safe to display, with the password masked.
func (d Descriptor) Redacted() Descriptor {
	if d.Password != "" {
		d.Password = "********"
	}
	return d
}

// CacheState records the last successful refresh of one guild's data.
type CacheState struct {
	GuildID     string
	LastRefresh time.Time
}

// Entry is one whitelisted identifier in the local store.
type Entry struct {
	Identifier string
	AddedAt    time.Time
}

// GuildStore persists tenant records.
type GuildStore interface {
	ListGuilds(ctx context.Context) ([]*Guild, error)
	AddGuild(ctx context.Context, g *Guild) error
	RemoveGuild(ctx context.Context, snowflake string) error
	UpdateAdminRole(ctx context.Context, snowflake, role string) error
	SetDatabase(ctx context.Context, snowflake string, d *Descriptor) error
	ClearDatabase(ctx context.Context, snowflake string) error
}

// CacheStore persists refresh timestamps, one row per guild.
type CacheStore interface {
	ListCacheStates(ctx context.Context) ([]*CacheState, error)
	SaveCacheState(ctx context.Context, state *CacheState) error
	DeleteCacheState(ctx context.Context, guildID string) error
}

// EntryStore persists whitelist entries for guilds without an external store.
type EntryStore interface {
	ListEntries(ctx context.Context, guildID string) ([]*Entry, error)
	AddEntry(ctx context.Context, guildID string, entry *Entry) error
	RemoveEntry(ctx context.Context, guildID, identifier string) error
}

// Store is the full persistence surface used by the bot.
type Store interface {
	GuildStore
	CacheStore
	EntryStore

	// Ping checks that the database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
