// ABOUTME: list, whitelist and unlist commands
// ABOUTME: Each goes through the database router and records a cache refresh on success

package builtins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/whitelist-bot/internal/command"
	"github.com/2389/whitelist-bot/internal/store"
	"github.com/2389/whitelist-bot/internal/whitelist"
)

// maxListDescription keeps list output under Discord's embed description limit.
const maxListDescription = 3800

// List shows the guild's whitelist.
func (h *handlers) List(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	var entries []whitelist.Entry
	err := h.Router.Run(ctx, g, func(s whitelist.Store) error {
		var err error
		entries, err = s.List(ctx)
		return err
	})
	if err != nil {
		return nil, storageFailure(err)
	}
	h.recordRefresh(g.Snowflake)

	if len(entries) == 0 {
		return &command.Notice{
			Kind:        command.KindInfo,
			Title:       "Whitelist",
			Description: "No one is whitelisted yet.",
		}, nil
	}

	return &command.Notice{
		Kind:        command.KindInfo,
		Title:       "Whitelist",
		Description: renderEntries(entries),
		Fields:      []command.Field{{Name: "Entries", Value: strconv.Itoa(len(entries)), Inline: true}},
	}, nil
}

// recordRefresh notes a successful whitelist access. A guild removed while
// the command ran gets no entry; autosave would have nowhere to write it.
func (h *handlers) recordRefresh(snowflake string) {
	if _, ok := h.Guilds.Get(snowflake); !ok {
		return
	}
	h.Tracker.RecordRefresh(snowflake, h.Now())
}

func renderEntries(entries []whitelist.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		line := "`" + e.Identifier + "`\n"
		if b.Len()+len(line) > maxListDescription {
			fmt.Fprintf(&b, "... and %d more", len(entries)-i)
			break
		}
		b.WriteString(line)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Whitelist adds an identifier.
func (h *handlers) Whitelist(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	identifier := args[0]

	err := h.Router.Run(ctx, g, func(s whitelist.Store) error {
		return s.Add(ctx, identifier)
	})
	if errors.Is(err, whitelist.ErrDuplicateEntry) {
		return &command.Notice{
			Kind:        command.KindInfo,
			Title:       "Already whitelisted",
			Description: "`" + identifier + "` is already on the whitelist.",
		}, nil
	}
	if err != nil {
		return nil, storageFailure(err)
	}
	h.recordRefresh(g.Snowflake)

	return &command.Notice{
		Kind:        command.KindSuccess,
		Title:       "Whitelisted",
		Description: "`" + identifier + "` can now join the server.",
	}, nil
}

// Unlist removes an identifier.
func (h *handlers) Unlist(ctx context.Context, args []string, g *store.Guild, inv *command.Invocation) (*command.Notice, error) {
	identifier := args[0]

	err := h.Router.Run(ctx, g, func(s whitelist.Store) error {
		return s.Remove(ctx, identifier)
	})
	if errors.Is(err, whitelist.ErrEntryNotFound) {
		return &command.Notice{
			Kind:        command.KindInfo,
			Title:       "Not whitelisted",
			Description: "`" + identifier + "` is not on the whitelist.",
		}, nil
	}
	if err != nil {
		return nil, storageFailure(err)
	}
	h.recordRefresh(g.Snowflake)

	return &command.Notice{
		Kind:        command.KindSuccess,
		Title:       "Removed",
		Description: "`" + identifier + "` was removed from the whitelist.",
	}, nil
}
