// ABOUTME: Parses inbound messages, admits them through the role and arity checks, and runs handlers
// ABOUTME: A bounded queue and worker pool keep blocking handler I/O off the gateway's event goroutine

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/whitelist-bot/internal/metrics"
	"github.com/2389/whitelist-bot/internal/store"
)

// ErrPermissionDenied indicates the author lacks the command's role.
var ErrPermissionDenied = errors.New("permission denied")

// ErrSyntax indicates too few arguments.
var ErrSyntax = errors.New("missing arguments")

// ErrNoGuild indicates a guild-only command outside a registered guild.
var ErrNoGuild = errors.New("no registered guild")

// ErrHandlerPanic indicates the handler panicked.
var ErrHandlerPanic = errors.New("handler panicked")

// GuildLookup resolves a guild snowflake without I/O.
type GuildLookup interface {
	Get(snowflake string) (*store.Guild, bool)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Prefix           string // single character
	Registry         *Registry
	Guilds           GuildLookup
	Notifier         Notifier
	DefaultAdminRole string
	Workers          int
	QueueSize        int
	Timeout          time.Duration
	Logger           *slog.Logger
}

// Dispatcher routes messages to command handlers.
type Dispatcher struct {
	prefix           string
	registry         *Registry
	guilds           GuildLookup
	notifier         Notifier
	defaultAdminRole string
	workers          int
	timeout          time.Duration
	logger           *slog.Logger

	queue chan *Invocation
	wg    sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		prefix:           cfg.Prefix,
		registry:         cfg.Registry,
		guilds:           cfg.Guilds,
		notifier:         cfg.Notifier,
		defaultAdminRole: cfg.DefaultAdminRole,
		workers:          workers,
		timeout:          cfg.Timeout,
		logger:           cfg.Logger,
		queue:            make(chan *Invocation, queueSize),
	}
}

// Prefix returns the command prefix.
func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// Submit queues an invocation for the worker pool and never blocks. Messages
// that cannot be commands are discarded here; if the queue is full the
// message is dropped with a warning.
func (d *Dispatcher) Submit(inv *Invocation) bool {
	if !strings.HasPrefix(inv.Text, d.prefix) {
		return false
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}

	select {
	case d.queue <- inv:
		return true
	default:
		metrics.DroppedMessagesTotal.Inc()
		d.logger.Warn("dispatch queue full, dropping message",
			"invocation", inv.ID,
			"guild", inv.GuildID,
			"channel", inv.ChannelID,
		)
		return false
	}
}

// Run serves the queue with the worker pool until ctx is canceled, then
// waits for in-flight handlers to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "workers", d.workers, "queue", cap(d.queue))

	// Handlers outlive shutdown long enough to finish; the timeout still bounds them
	runCtx := context.WithoutCancel(ctx)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case inv := <-d.queue:
					_, _ = d.Dispatch(runCtx, inv)
				}
			}
		}()
	}

	<-ctx.Done()
	d.wg.Wait()

	if n := len(d.queue); n > 0 {
		d.logger.Warn("dispatcher stopped with queued messages", "dropped", n)
	}
	d.logger.Info("dispatcher stopped")
	return nil
}

// parse splits text into verb and arguments. The verb must follow the
// prefix immediately.
func (d *Dispatcher) parse(text string) (string, []string, bool) {
	rest, ok := strings.CutPrefix(text, d.prefix)
	if !ok || rest == "" {
		return "", nil, false
	}
	if r, _ := utf8.DecodeRuneInString(rest); unicode.IsSpace(r) {
		return "", nil, false
	}
	fields := strings.Fields(rest)
	return fields[0], fields[1:], true
}

// Dispatch runs the invocation synchronously and reports whether it matched
// a command. Unmatched text is a no-op. The error is the reason the command
// did not succeed; the user has already been notified of it.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) (bool, error) {
	verb, args, ok := d.parse(inv.Text)
	if !ok {
		return false, nil
	}
	spec, handler, ok := d.registry.Lookup(verb)
	if !ok {
		return false, nil
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}

	logger := d.logger.With(
		"invocation", inv.ID,
		"verb", verb,
		"guild", inv.GuildID,
		"author", inv.AuthorID,
	)

	var g *store.Guild
	if inv.GuildID != "" {
		g, _ = d.guilds.Get(inv.GuildID)
	}

	required := d.requiredRole(spec, g)
	if !IsAllowed(inv.Roles, required) {
		metrics.CommandsTotal.WithLabelValues(verb, "denied").Inc()
		logger.Debug("permission denied", "required_role", required)
		d.notify(ctx, logger, inv, Notice{
			Kind:        KindPermission,
			Title:       "Permission denied",
			Description: fmt.Sprintf("You need the **%s** role to use this command.", required),
		})
		return true, ErrPermissionDenied
	}

	if !IsSatisfied(args, spec.Arguments) {
		metrics.CommandsTotal.WithLabelValues(verb, "syntax").Inc()
		d.notify(ctx, logger, inv, Notice{
			Kind:        KindSyntax,
			Title:       "Invalid syntax",
			Description: "Usage: `" + Usage(d.prefix, spec) + "`",
			Fields:      []Field{{Name: "Description", Value: spec.Description}},
		})
		return true, ErrSyntax
	}

	if spec.GuildOnly && g == nil {
		metrics.CommandsTotal.WithLabelValues(verb, "no_guild").Inc()
		d.notify(ctx, logger, inv, Notice{
			Kind:        KindError,
			Title:       "Not available here",
			Description: "This command can only be used in a registered server.",
		})
		return true, ErrNoGuild
	}

	start := time.Now()
	notice, err := d.runHandler(ctx, handler, args, g, inv)
	metrics.CommandDuration.WithLabelValues(verb).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.CommandsTotal.WithLabelValues(verb, "error").Inc()
		logger.Warn("command failed", "error", err, "duration", time.Since(start))
		d.notify(ctx, logger, inv, NoticeFor(err))
		return true, err
	}

	metrics.CommandsTotal.WithLabelValues(verb, "ok").Inc()
	logger.Debug("command completed", "duration", time.Since(start))
	if notice != nil {
		d.notify(ctx, logger, inv, *notice)
	}
	return true, nil
}

// requiredRole resolves GuildAdminRole against the guild's settings.
func (d *Dispatcher) requiredRole(spec Spec, g *store.Guild) string {
	if spec.RequiredRole != GuildAdminRole {
		return spec.RequiredRole
	}
	if g != nil && g.AdminRole != "" {
		return g.AdminRole
	}
	return d.defaultAdminRole
}

// runHandler calls the handler under the command timeout, converting a panic
// into ErrHandlerPanic.
func (d *Dispatcher) runHandler(ctx context.Context, h Handler, args []string, g *store.Guild, inv *Invocation) (notice *Notice, err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				"invocation", inv.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			notice, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return h(ctx, args, g, inv)
}

func (d *Dispatcher) notify(ctx context.Context, logger *slog.Logger, inv *Invocation, n Notice) {
	metrics.NoticesTotal.WithLabelValues(string(n.Kind)).Inc()
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, inv.ChannelID, n); err != nil {
		logger.Warn("sending notice", "kind", n.Kind, "error", err)
	}
}
