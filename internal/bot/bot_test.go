// ABOUTME: Tests for bot assembly, the run loop and ordered shutdown
// ABOUTME: Uses the mock store and a fake gateway that records notices

package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/whitelist-bot/internal/command"
	"github.com/2389/whitelist-bot/internal/config"
	"github.com/2389/whitelist-bot/internal/store"
	"github.com/2389/whitelist-bot/internal/whitelist"
)

type fakeGateway struct {
	mu      sync.Mutex
	notices map[string][]command.Notice
	left    []string
	runErr  error
	started chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{notices: make(map[string][]command.Notice), started: make(chan struct{})}
}

func (f *fakeGateway) Run(ctx context.Context) error {
	close(f.started)
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeGateway) Notify(_ context.Context, channelID string, n command.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices[channelID] = append(f.notices[channelID], n)
	return nil
}

func (f *fakeGateway) LeaveGuild(_ context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, guildID)
	return nil
}

func (f *fakeGateway) count(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices[channelID])
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Discord.Token = "test-token"
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_LoadsGuildsAndCacheState(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMockStore()
	require.NoError(t, ms.AddGuild(ctx, &store.Guild{Snowflake: "G1"}))
	require.NoError(t, ms.SaveCacheState(ctx, &store.CacheState{GuildID: "G1", LastRefresh: time.Unix(100, 0)}))

	b, err := New(ctx, testConfig(), testLogger(), Options{Store: ms})
	require.NoError(t, err)

	_, ok := b.Guilds().Get("G1")
	assert.True(t, ok)
	ts, ok := b.tracker.Get("G1")
	require.True(t, ok)
	assert.True(t, ts.Equal(time.Unix(100, 0)))
	assert.NoError(t, b.Shutdown(ctx))
}

func TestNew_LoadFailureIsFatal(t *testing.T) {
	ms := store.NewMockStore()
	ms.FailOn("ListGuilds", errors.New("disk gone"))

	_, err := New(context.Background(), testConfig(), testLogger(), Options{Store: ms})
	assert.Error(t, err)
	assert.Equal(t, 1, ms.Calls("Close"), "store is closed on failure")
}

func TestNotifyWithoutGateway(t *testing.T) {
	b, err := New(context.Background(), testConfig(), testLogger(), Options{Store: store.NewMockStore()})
	require.NoError(t, err)

	assert.ErrorIs(t, b.Notify(context.Background(), "C1", command.Notice{}), ErrNoGateway)
	assert.ErrorIs(t, b.LeaveGuild(context.Background(), "G1"), ErrNoGateway)
}

func TestRun_ServesCommandsAndFlushesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ms := store.NewMockStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err := New(ctx, testConfig(), testLogger(), Options{Store: ms, Now: func() time.Time { return now }})
	require.NoError(t, err)
	require.NoError(t, b.Guilds().Add(ctx, &store.Guild{Snowflake: "G1"}))

	gw := newFakeGateway()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, gw) }()
	<-gw.started

	prefix := b.Dispatcher().Prefix()
	require.True(t, b.Dispatcher().Submit(&command.Invocation{
		GuildID:   "G1",
		ChannelID: "C1",
		AuthorID:  "U1",
		Roles:     []string{config.DefaultAdminRole},
		Text:      prefix + "whitelist Steve",
	}))
	assert.Eventually(t, func() bool { return gw.count("C1") == 1 }, 2*time.Second, 10*time.Millisecond)

	entries, err := ms.ListEntries(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Steve", entries[0].Identifier)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	ts, ok := ms.CacheState("G1")
	require.True(t, ok, "final autosave writes the refresh")
	assert.True(t, ts.Equal(now))
	assert.Equal(t, 1, ms.Calls("Close"))
}

func TestRun_GatewayFailure(t *testing.T) {
	ms := store.NewMockStore()
	b, err := New(context.Background(), testConfig(), testLogger(), Options{Store: ms})
	require.NoError(t, err)

	gw := newFakeGateway()
	gw.runErr = errors.New("invalid token")

	err = b.Run(context.Background(), gw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
	assert.Equal(t, 1, ms.Calls("Close"), "store is closed even when the gateway fails")
}

func TestRemoveGuildDropsCacheState(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMockStore()
	b, err := New(ctx, testConfig(), testLogger(), Options{Store: ms})
	require.NoError(t, err)

	require.NoError(t, b.Guilds().Add(ctx, &store.Guild{Snowflake: "G1"}))
	b.tracker.RecordRefresh("G1", time.Now())
	require.NoError(t, b.Guilds().Remove(ctx, "G1"))

	_, ok := b.tracker.Get("G1")
	assert.False(t, ok)
	assert.Empty(t, b.tracker.Dirty())
	assert.NoError(t, b.Shutdown(ctx))
}

func TestNew_SQLiteExportsPoolMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "bot.db")

	b, err := New(context.Background(), cfg, testLogger(), Options{})
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "go_sql_max_open_connections" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "db_name" && l.GetValue() == "local" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "local pool statistics are registered")
}

type closeRecorder struct {
	whitelist.Store
	mu     sync.Mutex
	closed bool
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestShutdown_ClosesExternalConnections(t *testing.T) {
	ctx := context.Background()
	ext := &closeRecorder{}
	opener := func(context.Context, store.Descriptor, whitelist.Options) (whitelist.Store, error) {
		return ext, nil
	}

	b, err := New(ctx, testConfig(), testLogger(), Options{Store: store.NewMockStore(), Opener: opener})
	require.NoError(t, err)

	g := &store.Guild{Snowflake: "G1", Database: &store.Descriptor{Driver: "mysql", Address: "db:3306", Name: "fivem"}}
	_, err = b.router.Resolve(ctx, g)
	require.NoError(t, err)
	require.Equal(t, 1, b.router.OpenCount())

	require.NoError(t, b.Shutdown(ctx))
	assert.Zero(t, b.router.OpenCount())
	ext.mu.Lock()
	defer ext.mu.Unlock()
	assert.True(t, ext.closed)
}

func TestShutdownIsIdempotent(t *testing.T) {
	ms := store.NewMockStore()
	b, err := New(context.Background(), testConfig(), testLogger(), Options{Store: ms})
	require.NoError(t, err)

	assert.NoError(t, b.Shutdown(context.Background()))
	assert.NoError(t, b.Shutdown(context.Background()))
	assert.Equal(t, 1, ms.Calls("Close"))
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "ok", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "store close", errors.New("boom"))
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "store close: boom")
}
