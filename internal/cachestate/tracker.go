// ABOUTME: In-memory record of each guild's last data refresh, with dirty tracking
// ABOUTME: The autosave scheduler drains dirty entries into the store on a timer

package cachestate

import (
	"sort"
	"sync"
	"time"

	"github.com/2389/whitelist-bot/internal/store"
)

type entry struct {
	lastRefresh time.Time
	dirty       bool
}

// Tracker holds the latest refresh time per guild.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Seed loads persisted states. Seeded entries start clean.
func (t *Tracker) Seed(states []*store.CacheState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range states {
		t.entries[s.GuildID] = &entry{lastRefresh: s.LastRefresh}
	}
}

// RecordRefresh stores ts as the guild's last refresh and marks it dirty.
func (t *Tracker) RecordRefresh(guildID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[guildID] = &entry{lastRefresh: ts, dirty: true}
}

// Get returns the last known refresh time for a guild.
func (t *Tracker) Get(guildID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[guildID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastRefresh, true
}

// Forget drops a guild's state, dirty or not.
func (t *Tracker) Forget(guildID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, guildID)
}

// Dirty returns a snapshot of every state changed since its last flush,
// ordered by guild id.
func (t *Tracker) Dirty() []*store.CacheState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var states []*store.CacheState
	for id, e := range t.entries {
		if e.dirty {
			states = append(states, &store.CacheState{GuildID: id, LastRefresh: e.lastRefresh})
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].GuildID < states[j].GuildID })
	return states
}

// MarkClean clears the dirty flag if the guild still holds ts. A refresh
// recorded while the flush was in flight keeps the entry dirty.
func (t *Tracker) MarkClean(guildID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[guildID]; ok && e.lastRefresh.Equal(ts) {
		e.dirty = false
	}
}

// Len returns the number of tracked guilds.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
