// ABOUTME: help and kickbot commands

package builtins

import (
	"context"
	"errors"

	"github.com/2389/whitelist-bot/internal/command"
	"github.com/2389/whitelist-bot/internal/guild"
	"github.com/2389/whitelist-bot/internal/store"
)

// Help lists the registered commands in registration order.
func (h *handlers) Help(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	specs := h.commands.Specs()
	fields := make([]command.Field, 0, len(specs))
	for _, s := range specs {
		fields = append(fields, command.Field{
			Name:  command.Usage(h.Prefix, s),
			Value: s.Description,
		})
	}
	return &command.Notice{
		Kind:   command.KindInfo,
		Title:  "Commands",
		Fields: fields,
	}, nil
}

// KickBot says goodbye, leaves the guild and deletes its data.
func (h *handlers) KickBot(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	if h.Notifier != nil {
		// Sent first; the channel is gone once the bot leaves
		err := h.Notifier.Notify(ctx, inv.ChannelID, command.Notice{
			Kind:        command.KindInfo,
			Title:       "Goodbye",
			Description: "Leaving this server and deleting its whitelist settings.",
		})
		if err != nil {
			h.Logger.Debug("sending goodbye notice", "guild", g.Snowflake, "channel", inv.ChannelID, "error", err)
		}
	}

	if h.Leaver != nil {
		if err := h.Leaver.LeaveGuild(ctx, g.Snowflake); err != nil {
			return nil, command.Fail(command.KindError, "Could not leave",
				"The bot could not leave this server. Try removing it from the server settings.", err)
		}
	}

	// The platform also reports the departure; whichever arrives second is a no-op
	if err := h.Guilds.Remove(ctx, g.Snowflake); err != nil && !errors.Is(err, guild.ErrNotFound) && !errors.Is(err, guild.ErrBusy) {
		return nil, err
	}
	return nil, nil
}
