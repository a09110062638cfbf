// ABOUTME: Per-guild settings commands: admin role and external database
// ABOUTME: setdatabase verifies the connection before the descriptor is saved

package builtins

import (
	"context"
	"strings"

	"github.com/2389/whitelist-bot/internal/command"
	"github.com/2389/whitelist-bot/internal/store"
	"github.com/2389/whitelist-bot/internal/whitelist"
)

// GetAdmin shows the effective admin role.
func (h *handlers) GetAdmin(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	desc := "Members with the **" + h.adminRole(g) + "** role can manage the whitelist."
	if g.AdminRole == "" {
		desc += " This is the default; change it with `" + h.Prefix + "setadmin <role>`."
	}
	return &command.Notice{
		Kind:        command.KindInfo,
		Title:       "Admin role",
		Description: desc,
	}, nil
}

// SetAdmin changes the admin role. The whole remaining text is the role
// name so names with spaces work.
func (h *handlers) SetAdmin(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	role := strings.Join(args, " ")
	if err := h.Guilds.SetAdminRole(ctx, g.Snowflake, role); err != nil {
		return nil, registryFailure(err)
	}
	return &command.Notice{
		Kind:        command.KindSuccess,
		Title:       "Admin role updated",
		Description: "Members with the **" + role + "** role can now manage the whitelist.",
	}, nil
}

// GetDatabase shows where the guild's whitelist lives.
func (h *handlers) GetDatabase(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	if g.Database == nil {
		return &command.Notice{
			Kind:        command.KindInfo,
			Title:       "Database",
			Description: "This server uses the bot's own whitelist storage.",
		}, nil
	}

	d := g.Database.Redacted()
	driver := d.Driver
	if driver == "" {
		driver = whitelist.DriverMySQL
	}
	fields := []command.Field{
		{Name: "Driver", Value: driver, Inline: true},
		{Name: "Address", Value: d.Address, Inline: true},
		{Name: "Database", Value: d.Name, Inline: true},
		{Name: "Username", Value: d.Username, Inline: true},
	}
	if d.Password != "" {
		fields = append(fields, command.Field{Name: "Password", Value: d.Password, Inline: true})
	}
	return &command.Notice{
		Kind:        command.KindInfo,
		Title:       "Database",
		Description: "This server's whitelist is stored in an external database.",
		Fields:      fields,
	}, nil
}

// parseAddress splits an optional scheme off addr and returns the driver it selects.
func parseAddress(addr string) (driver, hostPort string) {
	for _, p := range []struct{ scheme, driver string }{
		{"postgres://", whitelist.DriverPostgres},
		{"postgresql://", whitelist.DriverPostgres},
		{"mysql://", whitelist.DriverMySQL},
	} {
		if rest, ok := strings.CutPrefix(addr, p.scheme); ok {
			return p.driver, strings.TrimSuffix(rest, "/")
		}
	}
	return whitelist.DriverMySQL, addr
}

// SetDatabase points the guild at an external database:
//
//	setdatabase <database>                                 shared server from config
//	setdatabase <database> <address> <username> [password]
func (h *handlers) SetDatabase(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	var d store.Descriptor
	switch {
	case len(args) == 1:
		if h.SharedDatabase == nil {
			return nil, command.Fail(command.KindSyntax, "No shared database",
				"This bot has no shared database server. Usage: `"+h.Prefix+"setdatabase <database> <address> <username> [password]`", nil)
		}
		d = *h.SharedDatabase
		d.Name = args[0]
	case len(args) == 2:
		return nil, command.Fail(command.KindSyntax, "Invalid syntax",
			"A username is required with an address. Usage: `"+h.Prefix+"setdatabase <database> <address> <username> [password]`", nil)
	default:
		driver, addr := parseAddress(args[1])
		d = store.Descriptor{
			Driver:   driver,
			Address:  addr,
			Name:     args[0],
			Username: args[2],
		}
		if len(args) > 3 {
			d.Password = args[3]
		}
	}

	// Connect before saving so a typo never replaces a working setup
	probe := g.Clone()
	probe.Database = &d
	if _, err := h.Router.Resolve(ctx, probe); err != nil {
		return nil, command.Fail(command.KindConnection, "Could not connect",
			"The database at `"+d.Address+"` could not be reached with those settings. Nothing was changed.", err)
	}

	if err := h.Guilds.SetDatabase(ctx, g.Snowflake, d); err != nil {
		h.Router.Invalidate(g.Snowflake)
		return nil, registryFailure(err)
	}

	desc := "Whitelist commands now use `" + d.Name + "` on `" + d.Address + "`."
	if len(args) > 3 {
		desc += " Consider deleting your message, it contains a password."
	}
	return &command.Notice{
		Kind:        command.KindSuccess,
		Title:       "Database updated",
		Description: desc,
	}, nil
}

// ClearDatabase goes back to the local store.
func (h *handlers) ClearDatabase(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	if g.Database == nil {
		return &command.Notice{
			Kind:        command.KindInfo,
			Title:       "Database",
			Description: "This server already uses the bot's own whitelist storage.",
		}, nil
	}
	if err := h.Guilds.ClearDatabase(ctx, g.Snowflake); err != nil {
		return nil, registryFailure(err)
	}
	h.Router.Close(g.Snowflake)

	return &command.Notice{
		Kind:        command.KindSuccess,
		Title:       "Database cleared",
		Description: "This server now uses the bot's own whitelist storage.",
	}, nil
}
