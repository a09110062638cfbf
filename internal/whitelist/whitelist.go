// ABOUTME: Whitelist store abstraction shared by the local SQLite view and external databases
// ABOUTME: Open picks the implementation from a guild's database descriptor

package whitelist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/whitelist-bot/internal/store"
)

// ErrDuplicateEntry is returned when the identifier is already whitelisted.
var ErrDuplicateEntry = errors.New("identifier already whitelisted")

// ErrEntryNotFound is returned when the identifier is not whitelisted.
var ErrEntryNotFound = errors.New("identifier not whitelisted")

// ErrUnsupportedDriver is returned by Open for an unknown descriptor driver.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Supported descriptor drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// TableName is the FiveM (ESX) whitelist table external stores read and write.
const TableName = "whitelist"

// Entry is one whitelisted player identifier.
type Entry struct {
	Identifier string
	AddedAt    time.Time // zero when the backing table does not record it
}

// Store reads and writes one guild's whitelist.
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Add(ctx context.Context, identifier string) error
	Remove(ctx context.Context, identifier string) error
	Ping(ctx context.Context) error
	Close() error
}

// Options tune external connections.
type Options struct {
	ConnectTimeout time.Duration
	MaxConns       int
}

// Open connects to the external store described by d and verifies it is
// reachable before returning. An empty driver means MySQL.
func Open(ctx context.Context, d store.Descriptor, opts Options) (Store, error) {
	switch d.Driver {
	case "", DriverMySQL:
		return OpenMySQL(ctx, d, opts)
	case DriverPostgres:
		return OpenPostgres(ctx, d, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, d.Driver)
	}
}

// IsDataError reports whether err is a per-entry outcome rather than a
// problem with the connection itself.
func IsDataError(err error) bool {
	return errors.Is(err, ErrDuplicateEntry) || errors.Is(err, ErrEntryNotFound)
}
