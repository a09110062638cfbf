// ABOUTME: Whitelist view over the bot's own SQLite store, scoped to one guild
// ABOUTME: Used for every guild that has not configured an external database

package whitelist

import (
	"context"
	"errors"
	"time"

	"github.com/2389/whitelist-bot/internal/store"
)

// LocalBackend is the part of the persistent store the local view needs.
type LocalBackend interface {
	store.EntryStore
	Ping(ctx context.Context) error
}

// Local is a guild-scoped view of the shared local whitelist table.
type Local struct {
	backend LocalBackend
	guildID string
	now     func() time.Time
}

// NewLocal returns the local whitelist of one guild.
func NewLocal(backend LocalBackend, guildID string) *Local {
	return &Local{backend: backend, guildID: guildID, now: time.Now}
}

// List returns the guild's entries ordered by identifier.
func (l *Local) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.backend.ListEntries(ctx, l.guildID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{Identifier: r.Identifier, AddedAt: r.AddedAt})
	}
	return entries, nil
}

// Add whitelists an identifier.
func (l *Local) Add(ctx context.Context, identifier string) error {
	err := l.backend.AddEntry(ctx, l.guildID, &store.Entry{Identifier: identifier, AddedAt: l.now().UTC()})
	if errors.Is(err, store.ErrDuplicateEntry) {
		return ErrDuplicateEntry
	}
	return err
}

// Remove removes an identifier.
func (l *Local) Remove(ctx context.Context, identifier string) error {
	err := l.backend.RemoveEntry(ctx, l.guildID, identifier)
	if errors.Is(err, store.ErrNotFound) {
		return ErrEntryNotFound
	}
	return err
}

// Ping checks the shared store.
func (l *Local) Ping(ctx context.Context) error {
	return l.backend.Ping(ctx)
}

// Close is a no-op; the shared store is owned by the bot.
func (l *Local) Close() error {
	return nil
}

var _ Store = (*Local)(nil)
