// ABOUTME: Thread-safe in-memory directory of registered guilds backed by the persistent store.
// ABOUTME: Persists before committing every change so memory never runs ahead of the database.

package guild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/whitelist-bot/internal/metrics"
	"github.com/2389/whitelist-bot/internal/store"
)

// ErrDuplicate indicates the guild is already registered (or being registered).
var ErrDuplicate = errors.New("guild already registered")

// ErrNotFound indicates the guild is not registered.
var ErrNotFound = errors.New("guild not registered")

// ErrBusy indicates another add or remove for the same guild is in flight.
var ErrBusy = errors.New("guild change in progress")

// RemoveHook is called after a guild has been durably removed and evicted.
type RemoveHook func(snowflake string)

// Registry maintains the set of registered guilds.
// Entries only become visible once their row has been written.
type Registry struct {
	mu      sync.RWMutex
	guilds  map[string]*store.Guild
	pending map[string]struct{} // snowflakes with an add or remove in flight
	hooks   []RemoveHook
	store   store.GuildStore
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry writing through to s.
func NewRegistry(s store.GuildStore, logger *slog.Logger) *Registry {
	return &Registry{
		guilds:  make(map[string]*store.Guild),
		pending: make(map[string]struct{}),
		store:   s,
		logger:  logger,
	}
}

// OnRemove registers a hook run after every successful Remove.
// Hooks must be registered before the registry is shared.
func (r *Registry) OnRemove(hook RemoveHook) {
	r.hooks = append(r.hooks, hook)
}

// Load replaces the in-memory directory with every guild in the store.
// A failure here leaves the registry empty; callers treat it as fatal.
func (r *Registry) Load(ctx context.Context) (int, error) {
	guilds, err := r.store.ListGuilds(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading guilds: %w", err)
	}

	loaded := make(map[string]*store.Guild, len(guilds))
	for _, g := range guilds {
		loaded[g.Snowflake] = g
	}

	r.mu.Lock()
	r.guilds = loaded
	r.mu.Unlock()
	metrics.RegisteredGuilds.Set(float64(len(loaded)))

	r.logger.Info("loaded guilds", "count", len(loaded))
	return len(loaded), nil
}

// Add registers a new guild. The row is written first; if that fails the
// guild never becomes visible and the error is returned. Adding a guild that
// is already registered logs a warning and returns ErrDuplicate.
func (r *Registry) Add(ctx context.Context, g *store.Guild) error {
	candidate := g.Clone()

	r.mu.Lock()
	if _, exists := r.guilds[candidate.Snowflake]; exists {
		r.mu.Unlock()
		r.logger.Warn("guild already registered, ignoring", "guild", candidate.Snowflake)
		return ErrDuplicate
	}
	if _, busy := r.pending[candidate.Snowflake]; busy {
		r.mu.Unlock()
		r.logger.Warn("guild registration already in flight, ignoring", "guild", candidate.Snowflake)
		return ErrDuplicate
	}
	r.pending[candidate.Snowflake] = struct{}{}
	r.mu.Unlock()

	err := r.store.AddGuild(ctx, candidate)

	r.mu.Lock()
	delete(r.pending, candidate.Snowflake)
	if err == nil {
		r.guilds[candidate.Snowflake] = candidate
		metrics.RegisteredGuilds.Set(float64(len(r.guilds)))
	}
	r.mu.Unlock()

	if errors.Is(err, store.ErrDuplicateGuild) {
		r.logger.Warn("guild row already stored, ignoring", "guild", candidate.Snowflake)
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("persisting guild %s: %w", candidate.Snowflake, err)
	}

	g.ID = candidate.ID
	r.logger.Info("registered guild", "guild", candidate.Snowflake, "id", candidate.ID)
	return nil
}

// Remove deletes the guild's row and then evicts it, running remove hooks
// (cache state, external connection) afterwards. If the delete fails the
// guild stays registered.
func (r *Registry) Remove(ctx context.Context, snowflake string) error {
	r.mu.Lock()
	if _, exists := r.guilds[snowflake]; !exists {
		r.mu.Unlock()
		return ErrNotFound
	}
	if _, busy := r.pending[snowflake]; busy {
		r.mu.Unlock()
		return ErrBusy
	}
	r.pending[snowflake] = struct{}{}
	r.mu.Unlock()

	err := r.store.RemoveGuild(ctx, snowflake)
	if errors.Is(err, store.ErrNotFound) {
		// Row already gone; memory just needs to catch up
		err = nil
	}

	r.mu.Lock()
	delete(r.pending, snowflake)
	if err == nil {
		delete(r.guilds, snowflake)
		metrics.RegisteredGuilds.Set(float64(len(r.guilds)))
	}
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("removing guild %s: %w", snowflake, err)
	}

	for _, hook := range r.hooks {
		hook(snowflake)
	}

	r.logger.Info("unregistered guild", "guild", snowflake)
	return nil
}

// Get returns a copy of the registered guild. It never touches the store.
func (r *Registry) Get(snowflake string) (*store.Guild, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[snowflake]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// List returns copies of all registered guilds ordered by local id.
func (r *Registry) List() []*store.Guild {
	r.mu.RLock()
	guilds := make([]*store.Guild, 0, len(r.guilds))
	for _, g := range r.guilds {
		guilds = append(guilds, g.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(guilds, func(i, j int) bool { return guilds[i].ID < guilds[j].ID })
	return guilds
}

// Len returns the number of registered guilds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.guilds)
}

// SetAdminRole persists and applies a new admin role for the guild.
func (r *Registry) SetAdminRole(ctx context.Context, snowflake, role string) error {
	return r.update(ctx, snowflake, func(ctx context.Context) error {
		return r.store.UpdateAdminRole(ctx, snowflake, role)
	}, func(g *store.Guild) {
		g.AdminRole = role
	})
}

// SetDatabase persists and applies an external store descriptor for the guild.
func (r *Registry) SetDatabase(ctx context.Context, snowflake string, d store.Descriptor) error {
	return r.update(ctx, snowflake, func(ctx context.Context) error {
		return r.store.SetDatabase(ctx, snowflake, &d)
	}, func(g *store.Guild) {
		copied := d
		g.Database = &copied
	})
}

// ClearDatabase points the guild back at the shared local store.
func (r *Registry) ClearDatabase(ctx context.Context, snowflake string) error {
	return r.update(ctx, snowflake, func(ctx context.Context) error {
		return r.store.ClearDatabase(ctx, snowflake)
	}, func(g *store.Guild) {
		g.Database = nil
	})
}

// update runs persist for a registered guild and, on success, applies the
// change to the in-memory copy. Guild values are swapped, never mutated in
// place, so copies handed out by Get stay consistent.
func (r *Registry) update(ctx context.Context, snowflake string, persist func(context.Context) error, apply func(*store.Guild)) error {
	if _, ok := r.Get(snowflake); !ok {
		return ErrNotFound
	}

	if err := persist(ctx); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("updating guild %s: %w", snowflake, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.guilds[snowflake]
	if !ok {
		return ErrNotFound
	}
	next := current.Clone()
	apply(next)
	r.guilds[snowflake] = next
	return nil
}
