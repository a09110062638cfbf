// ABOUTME: End-to-end tests for the builtin commands through a real dispatcher
// ABOUTME: External databases are faked with an in-memory opener

package builtins

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/whitelist-bot/internal/cachestate"
	"github.com/2389/whitelist-bot/internal/command"
	"github.com/2389/whitelist-bot/internal/dbrouter"
	"github.com/2389/whitelist-bot/internal/guild"
	"github.com/2389/whitelist-bot/internal/store"
	"github.com/2389/whitelist-bot/internal/whitelist"
)

const unreachableAddr = "10.255.255.1:3306"

type memWhitelist struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (m *memWhitelist) List(ctx context.Context) ([]whitelist.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []whitelist.Entry
	for id := range m.ids {
		out = append(out, whitelist.Entry{Identifier: id})
	}
	return out, nil
}

func (m *memWhitelist) Add(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids[id] {
		return whitelist.ErrDuplicateEntry
	}
	m.ids[id] = true
	return nil
}

func (m *memWhitelist) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ids[id] {
		return whitelist.ErrEntryNotFound
	}
	delete(m.ids, id)
	return nil
}

func (m *memWhitelist) Ping(ctx context.Context) error { return nil }
func (m *memWhitelist) Close() error                   { return nil }

// fakeOpener hangs on unreachableAddr until the connect timeout and
// otherwise hands out one in-memory whitelist per address.
type fakeOpener struct {
	mu     sync.Mutex
	stores map[string]*memWhitelist
	seen   []store.Descriptor
}

func (o *fakeOpener) open(ctx context.Context, d store.Descriptor, _ whitelist.Options) (whitelist.Store, error) {
	o.mu.Lock()
	o.seen = append(o.seen, d)
	o.mu.Unlock()

	if d.Address == unreachableAddr {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stores[d.Address]
	if !ok {
		s = &memWhitelist{ids: make(map[string]bool)}
		o.stores[d.Address] = s
	}
	return s, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices map[string][]command.Notice // by channel
	err     error
}

func (r *recordingNotifier) Notify(ctx context.Context, channelID string, n command.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices[channelID] = append(r.notices[channelID], n)
	return r.err
}

func (r *recordingNotifier) last(channelID string) command.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns := r.notices[channelID]
	if len(ns) == 0 {
		return command.Notice{}
	}
	return ns[len(ns)-1]
}

type fakeLeaver struct {
	left []string
	err  error
}

func (f *fakeLeaver) LeaveGuild(ctx context.Context, id string) error {
	f.left = append(f.left, id)
	return f.err
}

type env struct {
	store      *store.MockStore
	guilds     *guild.Registry
	router     *dbrouter.Router
	tracker    *cachestate.Tracker
	notifier   *recordingNotifier
	leaver     *fakeLeaver
	opener     *fakeOpener
	deps       Deps
	dispatcher *command.Dispatcher
}

func newEnv(t *testing.T, shared *store.Descriptor) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := &env{
		store:    store.NewMockStore(),
		tracker:  cachestate.NewTracker(),
		notifier: &recordingNotifier{notices: make(map[string][]command.Notice)},
		leaver:   &fakeLeaver{},
		opener:   &fakeOpener{stores: make(map[string]*memWhitelist)},
	}
	e.guilds = guild.NewRegistry(e.store, logger)
	e.router = dbrouter.New(dbrouter.Config{
		Local:   e.store,
		Opener:  e.opener.open,
		Options: whitelist.Options{ConnectTimeout: 150 * time.Millisecond},
		Logger:  logger,
	})
	e.guilds.OnRemove(e.tracker.Forget)
	e.guilds.OnRemove(e.router.Close)

	e.deps = Deps{
		Guilds:           e.guilds,
		Router:           e.router,
		Tracker:          e.tracker,
		Notifier:         e.notifier,
		Leaver:           e.leaver,
		Prefix:           "-",
		DefaultAdminRole: "Whitelister",
		SharedDatabase:   shared,
		Now:              time.Now,
		Logger:           logger,
	}
	registry := command.NewRegistry()
	require.NoError(t, Register(registry, e.deps))

	e.dispatcher = command.NewDispatcher(command.DispatcherConfig{
		Prefix:           "-",
		Registry:         registry,
		Guilds:           e.guilds,
		Notifier:         e.notifier,
		DefaultAdminRole: "Whitelister",
		Timeout:          5 * time.Second,
		Logger:           logger,
	})

	require.NoError(t, e.guilds.Add(context.Background(), &store.Guild{Snowflake: "G1", Joined: time.Now()}))
	return e
}

// run dispatches text in guild as an admin and returns the notice shown.
func (e *env) run(t *testing.T, guildID, text string, roles ...string) (command.Notice, error) {
	t.Helper()
	if roles == nil {
		roles = []string{"Whitelister"}
	}
	channel := "chan-" + guildID
	matched, err := e.dispatcher.Dispatch(context.Background(), &command.Invocation{
		GuildID:   guildID,
		ChannelID: channel,
		AuthorID:  "u1",
		Roles:     roles,
		Text:      text,
	})
	assert.True(t, matched, "text %q did not match", text)
	return e.notifier.last(channel), err
}

func (e *env) addExternalGuild(t *testing.T, id, addr string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.guilds.Add(ctx, &store.Guild{Snowflake: id, Joined: time.Now()}))
	require.NoError(t, e.guilds.SetDatabase(ctx, id, store.Descriptor{Driver: "mysql", Address: addr, Name: "fivem", Username: "u"}))
}

func TestScenario_LocalWhitelistThenList(t *testing.T) {
	e := newEnv(t, nil)

	n, err := e.run(t, "G1", "-whitelist steam:110000112345678")
	require.NoError(t, err)
	assert.Equal(t, command.KindSuccess, n.Kind)

	n, err = e.run(t, "G1", "-list")
	require.NoError(t, err)
	assert.Contains(t, n.Description, "steam:110000112345678")

	_, ok := e.tracker.Get("G1")
	assert.True(t, ok, "data commands record a refresh")
}

func TestScenario_UnreachableExternalStoreIsIsolated(t *testing.T) {
	e := newEnv(t, nil)
	e.addExternalGuild(t, "G2", unreachableAddr)

	var wg sync.WaitGroup
	var g1Err, g2Err error
	var g2Notice command.Notice

	start := time.Now()
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, g2Err = e.run(t, "G2", "-list")
		g2Notice = e.notifier.last("chan-G2")
	}()
	go func() {
		defer wg.Done()
		_, g1Err = e.run(t, "G1", "-whitelist license:abc")
	}()
	wg.Wait()

	assert.Less(t, time.Since(start), 5*time.Second, "unreachable store must not hang")
	assert.ErrorIs(t, g2Err, dbrouter.ErrConnection)
	assert.Equal(t, command.KindConnection, g2Notice.Kind)
	assert.NoError(t, g1Err)

	n, err := e.run(t, "G1", "-list")
	require.NoError(t, err)
	assert.Contains(t, n.Description, "license:abc")

	_, ok := e.tracker.Get("G2")
	assert.False(t, ok, "failed commands do not record a refresh")
}

func TestWhitelist_DuplicateAndUnlist(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.run(t, "G1", "-whitelist steam:1")
	require.NoError(t, err)

	n, err := e.run(t, "G1", "-whitelist steam:1")
	require.NoError(t, err)
	assert.Equal(t, "Already whitelisted", n.Title)

	n, err = e.run(t, "G1", "-unlist steam:1")
	require.NoError(t, err)
	assert.Equal(t, command.KindSuccess, n.Kind)

	n, err = e.run(t, "G1", "-unlist steam:1")
	require.NoError(t, err)
	assert.Equal(t, "Not whitelisted", n.Title)

	n, err = e.run(t, "G1", "-list")
	require.NoError(t, err)
	assert.Contains(t, n.Description, "No one is whitelisted")
}

func TestWhitelist_ExternalStore(t *testing.T) {
	e := newEnv(t, nil)
	e.addExternalGuild(t, "G3", "db.g3:3306")

	_, err := e.run(t, "G3", "-whitelist steam:3")
	require.NoError(t, err)

	entries, err := e.store.ListEntries(context.Background(), "G3")
	require.NoError(t, err)
	assert.Empty(t, entries, "external guilds never touch the local table")
	assert.True(t, e.opener.stores["db.g3:3306"].ids["steam:3"])
}

func TestPermission_NonAdminDenied(t *testing.T) {
	e := newEnv(t, nil)

	n, err := e.run(t, "G1", "-whitelist steam:1", "Member")
	assert.ErrorIs(t, err, command.ErrPermissionDenied)
	assert.Equal(t, command.KindPermission, n.Kind)
	assert.Contains(t, n.Description, "Whitelister")

	// getadmin is open to everyone
	n, err = e.run(t, "G1", "-getadmin", "Member")
	require.NoError(t, err)
	assert.Contains(t, n.Description, "**Whitelister**")
}

func TestSetAdmin(t *testing.T) {
	e := newEnv(t, nil)

	n, err := e.run(t, "G1", "-setadmin Server Staff")
	require.NoError(t, err)
	assert.Equal(t, command.KindSuccess, n.Kind)

	g, _ := e.guilds.Get("G1")
	assert.Equal(t, "Server Staff", g.AdminRole)

	_, err = e.run(t, "G1", "-list")
	assert.ErrorIs(t, err, command.ErrPermissionDenied, "old role no longer grants access")

	_, err = e.run(t, "G1", "-list", "Server Staff")
	assert.NoError(t, err)
}

func TestSetDatabase_Explicit(t *testing.T) {
	e := newEnv(t, nil)

	n, err := e.run(t, "G1", "-setdatabase rp postgres://pg.example:5432 bot s3cret")
	require.NoError(t, err)
	assert.Equal(t, command.KindSuccess, n.Kind)
	assert.Contains(t, n.Description, "password")

	g, _ := e.guilds.Get("G1")
	require.NotNil(t, g.Database)
	assert.Equal(t, store.Descriptor{Driver: "postgres", Address: "pg.example:5432", Name: "rp", Username: "bot", Password: "s3cret"}, *g.Database)
	assert.Equal(t, 1, e.router.OpenCount())

	n, err = e.run(t, "G1", "-getdatabase")
	require.NoError(t, err)
	var fields []string
	for _, f := range n.Fields {
		fields = append(fields, f.Name+"="+f.Value)
	}
	assert.Contains(t, fields, "Driver=postgres")
	assert.NotContains(t, strings.Join(fields, ","), "s3cret", "password is never shown")
}

func TestSetDatabase_Shared(t *testing.T) {
	shared := &store.Descriptor{Driver: "mysql", Address: "shared.example:3306", Username: "bot", Password: ""}
	e := newEnv(t, shared)

	_, err := e.run(t, "G1", "-setdatabase guild_one")
	require.NoError(t, err)

	g, _ := e.guilds.Get("G1")
	require.NotNil(t, g.Database)
	assert.Equal(t, "shared.example:3306", g.Database.Address)
	assert.Equal(t, "guild_one", g.Database.Name)
	assert.Empty(t, shared.Name, "shared descriptor is copied, not modified")
}

func TestSetDatabase_SyntaxErrors(t *testing.T) {
	e := newEnv(t, nil)

	n, err := e.run(t, "G1", "-setdatabase only_name")
	assert.Error(t, err)
	assert.Equal(t, "No shared database", n.Title)

	n, err = e.run(t, "G1", "-setdatabase rp db:3306")
	assert.Error(t, err)
	assert.Equal(t, command.KindSyntax, n.Kind)
}

func TestSetDatabase_UnreachableKeepsSettings(t *testing.T) {
	e := newEnv(t, nil)

	n, err := e.run(t, "G1", "-setdatabase rp "+unreachableAddr+" bot")
	assert.Error(t, err)
	assert.Equal(t, command.KindConnection, n.Kind)

	g, _ := e.guilds.Get("G1")
	assert.Nil(t, g.Database)
	assert.Zero(t, e.router.OpenCount())
}

func TestClearDatabase(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.run(t, "G1", "-setdatabase rp db.example:3306 bot")
	require.NoError(t, err)

	n, err := e.run(t, "G1", "-cleardatabase")
	require.NoError(t, err)
	assert.Equal(t, command.KindSuccess, n.Kind)

	g, _ := e.guilds.Get("G1")
	assert.Nil(t, g.Database)
	assert.Zero(t, e.router.OpenCount())

	n, err = e.run(t, "G1", "-cleardatabase")
	require.NoError(t, err)
	assert.Equal(t, command.KindInfo, n.Kind)
}

func TestKickBot(t *testing.T) {
	e := newEnv(t, nil)
	e.tracker.RecordRefresh("G1", time.Now())

	n, err := e.run(t, "G1", "-kickbot")
	require.NoError(t, err)
	assert.Equal(t, "Goodbye", n.Title)
	assert.Equal(t, []string{"G1"}, e.leaver.left)

	_, ok := e.guilds.Get("G1")
	assert.False(t, ok)
	_, ok = e.tracker.Get("G1")
	assert.False(t, ok, "removal forgets cache state")
}

func TestKickBot_GoodbyeFailureStillLeaves(t *testing.T) {
	e := newEnv(t, nil)
	e.notifier.err = errors.New("missing permissions")

	_, err := e.run(t, "G1", "-kickbot")
	require.NoError(t, err)
	assert.Equal(t, []string{"G1"}, e.leaver.left)

	_, ok := e.guilds.Get("G1")
	assert.False(t, ok)
}

func TestDataCommands_SkipRefreshForRemovedGuild(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	h := &handlers{Deps: e.deps}

	// The handler still holds the guild it was dispatched with
	g, ok := e.guilds.Get("G1")
	require.True(t, ok)
	require.NoError(t, e.guilds.Remove(ctx, "G1"))

	_, err := h.Whitelist(ctx, []string{"steam:1"}, g, &command.Invocation{GuildID: "G1"})
	require.NoError(t, err)
	_, err = h.List(ctx, nil, g, &command.Invocation{GuildID: "G1"})
	require.NoError(t, err)
	_, err = h.Unlist(ctx, []string{"steam:1"}, g, &command.Invocation{GuildID: "G1"})
	require.NoError(t, err)

	_, ok = e.tracker.Get("G1")
	assert.False(t, ok)
	assert.Empty(t, e.tracker.Dirty(), "nothing left for autosave to write")
}

func TestKickBot_LeaveFails(t *testing.T) {
	e := newEnv(t, nil)
	e.leaver.err = errors.New("missing access")

	_, err := e.run(t, "G1", "-kickbot")
	assert.Error(t, err)

	_, ok := e.guilds.Get("G1")
	assert.True(t, ok, "guild stays registered when the bot could not leave")
}

func TestHelp(t *testing.T) {
	e := newEnv(t, nil)

	n, err := e.run(t, "G1", "-help", "Member")
	require.NoError(t, err)
	require.NotEmpty(t, n.Fields)
	assert.Equal(t, "-list", n.Fields[0].Name)
	assert.Equal(t, "-whitelist <identifier>", n.Fields[1].Name)
	assert.Equal(t, "-help", n.Fields[len(n.Fields)-1].Name)
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in, driver, addr string
	}{
		{"db:3306", "mysql", "db:3306"},
		{"mysql://db:3306", "mysql", "db:3306"},
		{"postgres://pg:5432/", "postgres", "pg:5432"},
		{"postgresql://pg:5432", "postgres", "pg:5432"},
	}
	for _, tt := range tests {
		driver, addr := parseAddress(tt.in)
		assert.Equal(t, tt.driver, driver, tt.in)
		assert.Equal(t, tt.addr, addr, tt.in)
	}
}

func TestRenderEntries_Truncates(t *testing.T) {
	var entries []whitelist.Entry
	for i := 0; i < 500; i++ {
		entries = append(entries, whitelist.Entry{Identifier: "steam:1100001" + strings.Repeat("0", 10)})
	}
	out := renderEntries(entries)
	assert.LessOrEqual(t, len(out), maxListDescription+32)
	assert.Contains(t, out, "more")
}
