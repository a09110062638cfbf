// ABOUTME: Routes each guild to its whitelist store, local or external, caching external connections
// ABOUTME: A per-guild lock keeps connection attempts one at a time; singleflight shares each attempt

package dbrouter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/whitelist-bot/internal/metrics"
	"github.com/2389/whitelist-bot/internal/store"
	"github.com/2389/whitelist-bot/internal/whitelist"
)

// ErrConnection wraps any failure to reach a guild's external store.
var ErrConnection = errors.New("external database unreachable")

// ErrReleased indicates the guild's connection was closed or invalidated
// while it was still being established.
var ErrReleased = errors.New("connection released while connecting")

// Opener establishes an external store connection.
type Opener func(ctx context.Context, d store.Descriptor, opts whitelist.Options) (whitelist.Store, error)

type conn struct {
	store      whitelist.Store
	descriptor store.Descriptor
}

// Router hands out whitelist stores per guild.
type Router struct {
	local  whitelist.LocalBackend
	open   Opener
	opts   whitelist.Options
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn   // keyed by guild snowflake
	gens  map[string]uint64  // bumped by Close and Invalidate
	locks *shardedMutex      // one establishment per guild at a time
	group singleflight.Group // keyed by guild and descriptor
}

// Config configures a Router.
type Config struct {
	Local   whitelist.LocalBackend
	Opener  Opener // defaults to whitelist.Open
	Options whitelist.Options
	Logger  *slog.Logger
}

// New creates a Router.
func New(cfg Config) *Router {
	open := cfg.Opener
	if open == nil {
		open = whitelist.Open
	}
	return &Router{
		local:  cfg.Local,
		open:   open,
		opts:   cfg.Options,
		logger: cfg.Logger,
		conns:  make(map[string]*conn),
		gens:   make(map[string]uint64),
		locks:  newShardedMutex(),
	}
}

// Resolve returns the whitelist store serving g. Guilds without a descriptor
// get a view of the local store. Otherwise a cached connection is reused, or
// a new one is established under the connect timeout.
func (r *Router) Resolve(ctx context.Context, g *store.Guild) (whitelist.Store, error) {
	if g.Database == nil {
		return whitelist.NewLocal(r.local, g.Snowflake), nil
	}

	if s, ok := r.cached(g.Snowflake, *g.Database); ok {
		return s, nil
	}

	d := *g.Database
	v, err, _ := r.group.Do(flightKey(g.Snowflake, d), func() (interface{}, error) {
		return r.establish(ctx, g.Snowflake, d)
	})
	if err != nil {
		return nil, err
	}
	return v.(whitelist.Store), nil
}

// cached returns the connection for snowflake if it was opened with d.
// A connection opened for a different descriptor is closed and dropped.
func (r *Router) cached(snowflake string, d store.Descriptor) (whitelist.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[snowflake]
	if !ok {
		return nil, false
	}
	if c.descriptor != d {
		r.dropLocked(snowflake, "descriptor changed")
		return nil, false
	}
	return c.store, true
}

func (r *Router) establish(ctx context.Context, snowflake string, d store.Descriptor) (whitelist.Store, error) {
	timeout := r.opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Shared by every waiter, so only the timeout bounds it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	// Taken before waiting so a Close while queued also discards the attempt
	r.mu.Lock()
	gen := r.gens[snowflake]
	r.mu.Unlock()

	start := time.Now()
	unlock, err := r.locks.lock(ctx, snowflake)
	if err != nil {
		metrics.ConnectionFailuresTotal.Inc()
		r.logger.Warn("waiting for pending connection attempt", "guild", snowflake, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer unlock()

	// The previous holder may have just opened this descriptor
	if s, ok := r.cached(snowflake, d); ok {
		return s, nil
	}

	s, err := r.open(ctx, d, r.opts)
	if err != nil {
		metrics.ConnectionFailuresTotal.Inc()
		r.logger.Warn("external database connection failed",
			"guild", snowflake,
			"driver", d.Driver,
			"address", d.Address,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	r.mu.Lock()
	if r.gens[snowflake] != gen {
		r.mu.Unlock()
		if err := s.Close(); err != nil {
			r.logger.Warn("closing external database", "guild", snowflake, "error", err)
		}
		r.logger.Debug("discarding connection released while connecting", "guild", snowflake)
		return nil, fmt.Errorf("%w: %w", ErrConnection, ErrReleased)
	}
	r.dropLocked(snowflake, "replaced")
	r.conns[snowflake] = &conn{store: s, descriptor: d}
	metrics.ExternalConnections.Set(float64(len(r.conns)))
	r.mu.Unlock()

	r.logger.Info("external database connected",
		"guild", snowflake,
		"driver", d.Driver,
		"address", d.Address,
		"duration", time.Since(start),
	)
	return s, nil
}

// Invalidate closes and forgets the guild's connection so the next Resolve
// establishes a fresh one. An attempt still connecting is discarded.
func (r *Router) Invalidate(snowflake string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[snowflake]++
	r.dropLocked(snowflake, "invalidated")
}

// Close releases the guild's connection, including one still connecting.
// Used when a guild is removed.
func (r *Router) Close(snowflake string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[snowflake]++
	r.dropLocked(snowflake, "guild removed")
}

// release drops the guild's cached connection only if it is still s.
func (r *Router) release(snowflake string, s whitelist.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[snowflake]; ok && c.store == s {
		r.dropLocked(snowflake, "failed")
	}
}

// CloseAll releases every cached connection.
func (r *Router) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for snowflake := range r.conns {
		r.dropLocked(snowflake, "shutdown")
	}
}

// OpenCount returns the number of cached external connections.
func (r *Router) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Router) dropLocked(snowflake, reason string) {
	c, ok := r.conns[snowflake]
	if !ok {
		return
	}
	delete(r.conns, snowflake)
	metrics.ExternalConnections.Set(float64(len(r.conns)))

	if err := c.store.Close(); err != nil {
		r.logger.Warn("closing external database", "guild", snowflake, "error", err)
	}
	r.logger.Debug("external database released", "guild", snowflake, "reason", reason)
}

// Run resolves g's store and calls fn with it. Any failure other than a
// per-entry outcome invalidates an external connection so the next attempt
// reconnects instead of reusing a broken handle.
func (r *Router) Run(ctx context.Context, g *store.Guild, fn func(whitelist.Store) error) error {
	s, err := r.Resolve(ctx, g)
	if err != nil {
		return err
	}

	err = fn(s)
	if err != nil && g.Database != nil && !whitelist.IsDataError(err) {
		r.release(g.Snowflake, s)
		if !errors.Is(err, ErrConnection) {
			err = fmt.Errorf("%w: %w", ErrConnection, err)
		}
	}
	return err
}

func flightKey(snowflake string, d store.Descriptor) string {
	return strings.Join([]string{snowflake, d.Driver, d.Address, d.Name, d.Username, d.Password}, "\x00")
}

// shardedMutex is a fixed pool of channel mutexes keyed by hash, so waiting
// for a lock can give up when the context ends.
type shardedMutex struct {
	shards [64]chan struct{}
}

func newShardedMutex() *shardedMutex {
	m := &shardedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

func (m *shardedMutex) lock(ctx context.Context, key string) (func(), error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	shard := m.shards[h.Sum32()%uint32(len(m.shards))]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
