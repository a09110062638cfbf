// ABOUTME: Bot wires the store, guild registry, database router, dispatcher and autosave together
// ABOUTME: Run serves until the context is canceled, then shuts down in dependency order

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/whitelist-bot/internal/autosave"
	"github.com/2389/whitelist-bot/internal/builtins"
	"github.com/2389/whitelist-bot/internal/cachestate"
	"github.com/2389/whitelist-bot/internal/command"
	"github.com/2389/whitelist-bot/internal/config"
	"github.com/2389/whitelist-bot/internal/dbrouter"
	"github.com/2389/whitelist-bot/internal/guild"
	"github.com/2389/whitelist-bot/internal/metrics"
	"github.com/2389/whitelist-bot/internal/store"
	"github.com/2389/whitelist-bot/internal/whitelist"
)

// ErrNoGateway is returned when Notify or LeaveGuild is used before Run.
var ErrNoGateway = errors.New("gateway not attached")

// Gateway is the chat platform connection. Run blocks until ctx is canceled.
type Gateway interface {
	command.Notifier
	builtins.Leaver
	Run(ctx context.Context) error
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	Store  store.Store      // defaults to SQLite at cfg.Database.Path
	Opener dbrouter.Opener  // defaults to whitelist.Open
	Now    func() time.Time // defaults to time.Now
}

// Bot is the assembled whitelist bot.
type Bot struct {
	cfg    *config.Config
	logger *slog.Logger

	store      store.Store
	guilds     *guild.Registry
	tracker    *cachestate.Tracker
	router     *dbrouter.Router
	commands   *command.Registry
	dispatcher *command.Dispatcher
	autosave   *autosave.Scheduler
	shared     *store.Descriptor

	mu      sync.RWMutex
	gateway Gateway

	closeOnce sync.Once
	closeErr  error
}

// New opens the store, loads every registered guild and assembles the bot.
// Failing to load guilds is fatal: without the directory no command can be
// routed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Bot, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := opts.Store
	if s == nil {
		sqlite, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		if err := metrics.RegisterDBStats(sqlite.DB(), "local"); err != nil {
			logger.Warn("registering database pool metrics", "error", err)
		}
		s = sqlite
	}

	b := &Bot{
		cfg:     cfg,
		logger:  logger,
		store:   s,
		guilds:  guild.NewRegistry(s, logger.With("component", "guilds")),
		tracker: cachestate.NewTracker(),
	}

	if _, err := b.guilds.Load(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	states, err := s.ListCacheStates(ctx)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("loading cache state: %w", err)
	}
	b.tracker.Seed(states)

	b.router = dbrouter.New(dbrouter.Config{
		Local:  s,
		Opener: opts.Opener,
		Options: whitelist.Options{
			ConnectTimeout: cfg.External.ConnectTimeout,
			MaxConns:       cfg.External.MaxConns,
		},
		Logger: logger.With("component", "dbrouter"),
	})

	b.guilds.OnRemove(b.tracker.Forget)
	b.guilds.OnRemove(b.router.Close)
	b.guilds.OnRemove(func(snowflake string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.DeleteCacheState(ctx, snowflake); err != nil {
			logger.Warn("deleting cache state", "guild", snowflake, "error", err)
		}
	})

	if cfg.SharedDatabase.Enabled() {
		b.shared = &store.Descriptor{
			Driver:   cfg.SharedDatabase.Driver,
			Address:  cfg.SharedDatabase.Address,
			Username: cfg.SharedDatabase.Username,
			Password: cfg.SharedDatabase.Password,
		}
	}

	b.commands = command.NewRegistry()
	err = builtins.Register(b.commands, builtins.Deps{
		Guilds:           b.guilds,
		Router:           b.router,
		Tracker:          b.tracker,
		Notifier:         command.NotifierFunc(b.Notify),
		Leaver:           b,
		Prefix:           cfg.Discord.CommandPrefix,
		DefaultAdminRole: cfg.Guilds.DefaultAdminRole,
		SharedDatabase:   b.shared,
		Now:              opts.Now,
		Logger:           logger.With("component", "builtins"),
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("registering commands: %w", err)
	}

	b.dispatcher = command.NewDispatcher(command.DispatcherConfig{
		Prefix:           cfg.Discord.CommandPrefix,
		Registry:         b.commands,
		Guilds:           b.guilds,
		Notifier:         command.NotifierFunc(b.Notify),
		DefaultAdminRole: cfg.Guilds.DefaultAdminRole,
		Workers:          cfg.Commands.Workers,
		QueueSize:        cfg.Commands.QueueSize,
		Timeout:          cfg.Commands.Timeout,
		Logger:           logger.With("component", "dispatcher"),
	})

	b.autosave = autosave.New(b.tracker, s, cfg.Autosave.Interval, logger.With("component", "autosave"))

	return b, nil
}

// Dispatcher returns the command dispatcher the gateway submits to.
func (b *Bot) Dispatcher() *command.Dispatcher { return b.dispatcher }

// Guilds returns the guild registry the gateway drives.
func (b *Bot) Guilds() *guild.Registry { return b.guilds }

// Notify forwards a notice to the attached gateway.
func (b *Bot) Notify(ctx context.Context, channelID string, n command.Notice) error {
	gw := b.currentGateway()
	if gw == nil {
		return ErrNoGateway
	}
	return gw.Notify(ctx, channelID, n)
}

// LeaveGuild asks the attached gateway to leave a guild.
func (b *Bot) LeaveGuild(ctx context.Context, guildID string) error {
	gw := b.currentGateway()
	if gw == nil {
		return ErrNoGateway
	}
	return gw.LeaveGuild(ctx, guildID)
}

func (b *Bot) currentGateway() Gateway {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gateway
}

// Health reports whether the local store is reachable.
func (b *Bot) Health(ctx context.Context) error {
	return b.store.Ping(ctx)
}

// Run attaches gw and serves until ctx is canceled or a component fails.
// Shutdown stops the gateway first, drains in-flight commands, writes the
// final autosave, then closes external connections and the store.
func (b *Bot) Run(ctx context.Context, gw Gateway) error {
	b.mu.Lock()
	b.gateway = gw
	b.mu.Unlock()

	b.logger.Info("starting whitelist bot",
		"guilds", b.guilds.Len(),
		"prefix", b.cfg.Discord.CommandPrefix,
		"autosave", b.cfg.Autosave.Interval,
	)

	// The dispatcher outlives the gateway so queued work can finish
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- b.dispatcher.Run(dispatchCtx) }()

	b.autosave.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gw.Run(gctx); err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	})
	if b.cfg.Metrics.Enabled {
		srv := metrics.NewServer(b.cfg.Metrics.Addr, b.Health, b.logger.With("component", "metrics"))
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	if b.shared != nil {
		g.Go(func() error {
			b.checkShared(gctx)
			return nil
		})
	}

	runErr := g.Wait()
	if runErr != nil {
		b.logger.Error("component failed, shutting down", "error", runErr)
	} else {
		b.logger.Info("context canceled, initiating shutdown")
	}

	stopDispatch()
	<-dispatchDone

	shutdownErr := b.gracefulShutdown()

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// checkShared probes the shared database server once at startup. Failure is
// logged, not fatal; guilds see a connection notice when they use it.
func (b *Bot) checkShared(ctx context.Context) {
	probe := *b.shared
	ws, err := whitelist.Open(ctx, probe, whitelist.Options{
		ConnectTimeout: b.cfg.External.ConnectTimeout,
		MaxConns:       1,
	})
	if err != nil {
		b.logger.Warn("shared database unreachable", "address", probe.Address, "error", err)
		return
	}
	_ = ws.Close()
	b.logger.Info("shared database reachable", "address", probe.Address)
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (b *Bot) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

// Shutdown writes the final autosave and releases every connection. It is
// safe to call more than once.
func (b *Bot) Shutdown(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.logger.Info("shutting down whitelist bot")

		var errs []error
		result := b.autosave.Stop(ctx)
		if result.Failed > 0 {
			errs = append(errs, fmt.Errorf("final autosave: %d of %d rows failed", result.Failed, result.Written+result.Failed))
		}

		if n := b.router.OpenCount(); n > 0 {
			b.logger.Info("closing external connections", "count", n)
		}
		b.router.CloseAll()
		errs = appendCloseError(errs, "store close", b.store.Close())

		if len(errs) > 0 {
			b.closeErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return b.closeErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
