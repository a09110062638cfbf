// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject per-method failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	guilds    map[string]*Guild            // keyed by snowflake
	caches    map[string]time.Time         // keyed by guild snowflake
	entries   map[string]map[string]*Entry // keyed by guild snowflake, then identifier
	nextID    int64
	failures  map[string]error // keyed by method name
	failGuild map[string]error // SaveCacheState failures keyed by guild snowflake
	calls     map[string]int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		guilds:    make(map[string]*Guild),
		caches:    make(map[string]time.Time),
		entries:   make(map[string]map[string]*Entry),
		failures:  make(map[string]error),
		failGuild: make(map[string]error),
		calls:     make(map[string]int),
	}
}

// FailOn makes every later call of the named method return err.
// Passing a nil error clears the failure.
func (m *MockStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// FailCacheStateFor makes SaveCacheState fail for one guild only.
func (m *MockStore) FailCacheStateFor(guildID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failGuild, guildID)
		return
	}
	m.failGuild[guildID] = err
}

// Calls returns how many times the named method was invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// CacheState returns the stored refresh time for a guild, for assertions.
func (m *MockStore) CacheState(guildID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.caches[guildID]
	return ts, ok
}

// enter records a call and returns the injected failure, if any. Must be called with mu held.
func (m *MockStore) enter(method string) error {
	m.calls[method]++
	return m.failures[method]
}

// ListGuilds returns copies of all stored guilds ordered by local id.
func (m *MockStore) ListGuilds(ctx context.Context) ([]*Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListGuilds"); err != nil {
		return nil, err
	}

	guilds := make([]*Guild, 0, len(m.guilds))
	for _, g := range m.guilds {
		guilds = append(guilds, g.Clone())
	}
	sort.Slice(guilds, func(i, j int) bool { return guilds[i].ID < guilds[j].ID })
	return guilds, nil
}

// AddGuild stores a guild and assigns its local id.
func (m *MockStore) AddGuild(ctx context.Context, g *Guild) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddGuild"); err != nil {
		return err
	}

	if _, exists := m.guilds[g.Snowflake]; exists {
		return ErrDuplicateGuild
	}
	m.nextID++
	g.ID = m.nextID
	m.guilds[g.Snowflake] = g.Clone()
	return nil
}

// RemoveGuild deletes a guild and everything it owns.
func (m *MockStore) RemoveGuild(ctx context.Context, snowflake string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RemoveGuild"); err != nil {
		return err
	}

	if _, exists := m.guilds[snowflake]; !exists {
		return ErrNotFound
	}
	delete(m.guilds, snowflake)
	delete(m.caches, snowflake)
	delete(m.entries, snowflake)
	return nil
}

// UpdateAdminRole sets a guild's admin role.
func (m *MockStore) UpdateAdminRole(ctx context.Context, snowflake, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateAdminRole"); err != nil {
		return err
	}

	g, exists := m.guilds[snowflake]
	if !exists {
		return ErrNotFound
	}
	g.AdminRole = role
	return nil
}

// SetDatabase stores a guild's external descriptor.
func (m *MockStore) SetDatabase(ctx context.Context, snowflake string, d *Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetDatabase"); err != nil {
		return err
	}

	g, exists := m.guilds[snowflake]
	if !exists {
		return ErrNotFound
	}
	copied := *d
	g.Database = &copied
	return nil
}

// ClearDatabase drops a guild's external descriptor.
func (m *MockStore) ClearDatabase(ctx context.Context, snowflake string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ClearDatabase"); err != nil {
		return err
	}

	if g, exists := m.guilds[snowflake]; exists {
		g.Database = nil
	}
	return nil
}

// ListCacheStates returns all stored refresh rows.
func (m *MockStore) ListCacheStates(ctx context.Context) ([]*CacheState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListCacheStates"); err != nil {
		return nil, err
	}

	states := make([]*CacheState, 0, len(m.caches))
	for id, ts := range m.caches {
		states = append(states, &CacheState{GuildID: id, LastRefresh: ts})
	}
	return states, nil
}

// SaveCacheState overwrites a guild's refresh row.
func (m *MockStore) SaveCacheState(ctx context.Context, state *CacheState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveCacheState"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failGuild[state.GuildID]; err != nil {
		return err
	}

	m.caches[state.GuildID] = state.LastRefresh
	return nil
}

// DeleteCacheState removes a guild's refresh row.
func (m *MockStore) DeleteCacheState(ctx context.Context, guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteCacheState"); err != nil {
		return err
	}

	delete(m.caches, guildID)
	return nil
}

// ListEntries returns a guild's entries ordered by identifier.
func (m *MockStore) ListEntries(ctx context.Context, guildID string) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListEntries"); err != nil {
		return nil, err
	}

	entries := []*Entry{}
	for _, e := range m.entries[guildID] {
		copied := *e
		entries = append(entries, &copied)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identifier < entries[j].Identifier })
	return entries, nil
}

// AddEntry whitelists an identifier.
func (m *MockStore) AddEntry(ctx context.Context, guildID string, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddEntry"); err != nil {
		return err
	}

	byID, ok := m.entries[guildID]
	if !ok {
		byID = make(map[string]*Entry)
		m.entries[guildID] = byID
	}
	if _, exists := byID[entry.Identifier]; exists {
		return ErrDuplicateEntry
	}
	copied := *entry
	byID[entry.Identifier] = &copied
	return nil
}

// RemoveEntry removes an identifier.
func (m *MockStore) RemoveEntry(ctx context.Context, guildID, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RemoveEntry"); err != nil {
		return err
	}

	if _, exists := m.entries[guildID][identifier]; !exists {
		return ErrNotFound
	}
	delete(m.entries[guildID], identifier)
	return nil
}

// Ping always succeeds unless a failure was injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("Ping")
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("Close")
}

var _ Store = (*MockStore)(nil)
