// ABOUTME: discordgo gateway adapter: turns Discord events into invocations and guild lifecycle calls
// ABOUTME: Also renders notices as embeds and leaves guilds for kickbot

package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/whitelist-bot/internal/command"
	"github.com/2389/whitelist-bot/internal/dedupe"
	"github.com/2389/whitelist-bot/internal/guild"
	"github.com/2389/whitelist-bot/internal/store"
)

// Intents the bot needs: guild lifecycle, guild and DM messages, and their content.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// Submitter queues invocations for dispatch.
type Submitter interface {
	Submit(inv *command.Invocation) bool
}

// Guilds is the registry surface the adapter drives.
type Guilds interface {
	Add(ctx context.Context, g *store.Guild) error
	Remove(ctx context.Context, snowflake string) error
	Get(snowflake string) (*store.Guild, bool)
}

// api is the slice of the Discord REST and state API the adapter uses.
type api interface {
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
	LeaveGuild(ctx context.Context, guildID string) error
	RoleNames(guildID string, roleIDs []string) []string
	SetStatus(status string) error
}

// Config configures an Adapter.
type Config struct {
	Token      string
	Status     string
	Prefix     string
	AdminRole  string // role named in the welcome message
	Dispatcher Submitter
	Guilds     Guilds
	Logger     *slog.Logger
}

// Adapter connects the bot core to Discord.
type Adapter struct {
	session    *discordgo.Session
	api        api
	dispatcher Submitter
	guilds     Guilds
	seen       *dedupe.Cache
	status     string
	prefix     string
	adminRole  string
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Adapter with a discordgo session. The connection is opened
// by Run.
func New(cfg Config) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = Intents

	a := newAdapter(sessionAPI{session}, cfg)
	a.session = session

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { a.handleReady(r) })
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { a.handleMessage(m) })
	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { a.handleGuildCreate(g) })
	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) { a.handleGuildDelete(g) })

	return a, nil
}

func newAdapter(api api, cfg Config) *Adapter {
	return &Adapter{
		api:        api,
		dispatcher: cfg.Dispatcher,
		guilds:     cfg.Guilds,
		seen:       dedupe.New(10*time.Minute, 10000),
		status:     cfg.Status,
		prefix:     cfg.Prefix,
		adminRole:  cfg.AdminRole,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Run opens the gateway connection and blocks until ctx is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	a.logger.Info("connected to discord")

	<-ctx.Done()

	a.logger.Info("disconnecting from discord")
	if err := a.session.Close(); err != nil {
		return fmt.Errorf("closing discord gateway: %w", err)
	}
	return nil
}

// Notify sends a notice to a channel as an embed.
func (a *Adapter) Notify(ctx context.Context, channelID string, n command.Notice) error {
	return a.api.SendEmbed(ctx, channelID, Embed(n))
}

// LeaveGuild removes the bot from a guild.
func (a *Adapter) LeaveGuild(ctx context.Context, guildID string) error {
	return a.api.LeaveGuild(ctx, guildID)
}

func (a *Adapter) handleReady(r *discordgo.Ready) {
	a.logger.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
	if a.status == "" {
		return
	}
	if err := a.api.SetStatus(a.status); err != nil {
		a.logger.Warn("setting status", "error", err)
	}
}

func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, a.prefix) {
		return
	}
	if a.seen.CheckAndMark(m.ID) {
		a.logger.Debug("dropping redelivered message", "message", m.ID)
		return
	}

	inv := &command.Invocation{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Text:       m.Content,
		Received:   a.now(),
	}
	if m.Member != nil && m.GuildID != "" {
		inv.Roles = a.api.RoleNames(m.GuildID, m.Member.Roles)
	}

	a.dispatcher.Submit(inv)
}

func (a *Adapter) handleGuildCreate(g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	if _, ok := a.guilds.Get(g.ID); ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.guilds.Add(ctx, &store.Guild{Snowflake: g.ID, Joined: a.now().UTC()})
	switch {
	case errors.Is(err, guild.ErrDuplicate):
		return
	case err != nil:
		a.logger.Warn("registering guild failed", "guild", g.ID, "error", err)
		return
	}

	if g.SystemChannelID != "" {
		if err := a.Notify(ctx, g.SystemChannelID, welcomeNotice(a.prefix, a.adminRole)); err != nil {
			a.logger.Debug("sending welcome message", "guild", g.ID, "error", err)
		}
	}
}

func (a *Adapter) handleGuildDelete(g *discordgo.GuildDelete) {
	if g.Guild == nil {
		return
	}
	if g.Unavailable {
		a.logger.Warn("guild unavailable (outage), keeping registration", "guild", g.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.guilds.Remove(ctx, g.ID)
	switch {
	case errors.Is(err, guild.ErrNotFound), errors.Is(err, guild.ErrBusy):
		a.logger.Debug("guild already removed", "guild", g.ID)
	case err != nil:
		a.logger.Warn("unregistering guild failed", "guild", g.ID, "error", err)
	}
}

func welcomeNotice(prefix, adminRole string) command.Notice {
	return command.Notice{
		Kind:  command.KindInfo,
		Title: "Thanks for adding the whitelist bot",
		Description: "Give the **" + adminRole + "** role to everyone who should manage the whitelist, " +
			"or choose another role with `" + prefix + "setadmin <role>`.",
		Fields: []command.Field{
			{Name: "Getting started", Value: "`" + prefix + "help` lists every command."},
		},
	}
}
