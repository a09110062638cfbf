// ABOUTME: The bot's command set: whitelist management, admin role and database settings
// ABOUTME: Register wires every command into a command.Registry

package builtins

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/whitelist-bot/internal/cachestate"
	"github.com/2389/whitelist-bot/internal/command"
	"github.com/2389/whitelist-bot/internal/dbrouter"
	"github.com/2389/whitelist-bot/internal/guild"
	"github.com/2389/whitelist-bot/internal/store"
)

// Leaver removes the bot from a guild on the chat platform.
type Leaver interface {
	LeaveGuild(ctx context.Context, guildID string) error
}

// Deps are the collaborators the commands act on.
type Deps struct {
	Guilds           *guild.Registry
	Router           *dbrouter.Router
	Tracker          *cachestate.Tracker
	Notifier         command.Notifier
	Leaver           Leaver
	Prefix           string
	DefaultAdminRole string
	SharedDatabase   *store.Descriptor // nil when no shared server is configured
	Now              func() time.Time
	Logger           *slog.Logger
}

type handlers struct {
	Deps
	commands *command.Registry
}

// Register adds every builtin command to r.
func Register(r *command.Registry, deps Deps) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{Deps: deps, commands: r}

	identifier := []command.Argument{{Name: "identifier", Required: true}}

	cmds := []struct {
		spec    command.Spec
		handler command.Handler
	}{
		{
			spec: command.Spec{
				Verb:         "list",
				Description:  "List every whitelisted identifier",
				RequiredRole: command.GuildAdminRole,
				GuildOnly:    true,
			},
			handler: h.List,
		},
		{
			spec: command.Spec{
				Verb:         "whitelist",
				Description:  "Add a player identifier to the whitelist",
				Arguments:    identifier,
				RequiredRole: command.GuildAdminRole,
				GuildOnly:    true,
			},
			handler: h.Whitelist,
		},
		{
			spec: command.Spec{
				Verb:         "unlist",
				Description:  "Remove a player identifier from the whitelist",
				Arguments:    identifier,
				RequiredRole: command.GuildAdminRole,
				GuildOnly:    true,
			},
			handler: h.Unlist,
		},
		{
			spec: command.Spec{
				Verb:        "getadmin",
				Description: "Show the role allowed to manage the whitelist",
				GuildOnly:   true,
			},
			handler: h.GetAdmin,
		},
		{
			spec: command.Spec{
				Verb:         "setadmin",
				Description:  "Change the role allowed to manage the whitelist",
				Arguments:    []command.Argument{{Name: "role", Required: true}},
				RequiredRole: command.GuildAdminRole,
				GuildOnly:    true,
			},
			handler: h.SetAdmin,
		},
		{
			spec: command.Spec{
				Verb:         "getdatabase",
				Description:  "Show where this server's whitelist is stored",
				RequiredRole: command.GuildAdminRole,
				GuildOnly:    true,
			},
			handler: h.GetDatabase,
		},
		{
			spec: command.Spec{
				Verb:        "setdatabase",
				Description: "Store the whitelist in your own MySQL or PostgreSQL database",
				Arguments: []command.Argument{
					{Name: "database", Required: true},
					{Name: "address"},
					{Name: "username"},
					{Name: "password"},
				},
				RequiredRole: command.GuildAdminRole,
				GuildOnly:    true,
			},
			handler: h.SetDatabase,
		},
		{
			spec: command.Spec{
				Verb:         "cleardatabase",
				Description:  "Go back to the bot's own whitelist storage",
				RequiredRole: command.GuildAdminRole,
				GuildOnly:    true,
			},
			handler: h.ClearDatabase,
		},
		{
			spec: command.Spec{
				Verb:         "kickbot",
				Description:  "Remove the bot and all of its data from this server",
				RequiredRole: command.GuildAdminRole,
				GuildOnly:    true,
			},
			handler: h.KickBot,
		},
		{
			spec: command.Spec{
				Verb:        "help",
				Description: "Show available commands",
			},
			handler: h.Help,
		},
	}

	for _, c := range cmds {
		if err := r.Register(c.spec, c.handler); err != nil {
			return err
		}
	}
	return nil
}

// adminRole returns the effective admin role of g.
func (h *handlers) adminRole(g *store.Guild) string {
	if g.AdminRole != "" {
		return g.AdminRole
	}
	return h.DefaultAdminRole
}

// storageFailure turns a whitelist store error into the notice-bearing error
// users see.
func storageFailure(err error) error {
	if errors.Is(err, dbrouter.ErrConnection) {
		return command.Fail(command.KindConnection, "Database unavailable",
			"This server's whitelist database could not be reached. Try again later or check `getdatabase`.", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return command.Fail(command.KindConnection, "Timed out",
			"The whitelist database took too long to answer.", err)
	}
	return command.Fail(command.KindError, "Storage error",
		"The whitelist could not be read or updated.", err)
}

// registryFailure turns a guild registry error into a notice-bearing error.
func registryFailure(err error) error {
	if errors.Is(err, guild.ErrNotFound) {
		return command.Fail(command.KindError, "Server not registered",
			"This server is no longer registered with the bot.", err)
	}
	return command.Fail(command.KindError, "Could not save settings",
		"The change was not saved. Try again later.", err)
}
