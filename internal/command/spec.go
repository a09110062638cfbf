// ABOUTME: Command descriptions, invocation context and the two pure admission checks
// ABOUTME: IsAllowed gates on roles, IsSatisfied gates on argument count

package command

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/2389/whitelist-bot/internal/store"
)

// GuildAdminRole as a RequiredRole means "the guild's configured admin role".
const GuildAdminRole = "\x00guild-admin"

// Argument describes one positional argument.
type Argument struct {
	Name     string
	Required bool
}

// Spec declares a command.
type Spec struct {
	Verb         string
	Description  string
	Arguments    []Argument
	RequiredRole string // empty means anyone may run it
	GuildOnly    bool   // needs a registered guild to act on
}

// RequiredCount returns the number of required arguments.
func (s Spec) RequiredCount() int {
	n := 0
	for _, a := range s.Arguments {
		if a.Required {
			n++
		}
	}
	return n
}

// Usage renders the invocation syntax, e.g. "-whitelist <identifier>".
func Usage(prefix string, s Spec) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(s.Verb)
	for _, a := range s.Arguments {
		b.WriteByte(' ')
		if a.Required {
			b.WriteString("<" + a.Name + ">")
		} else {
			b.WriteString("[" + a.Name + "]")
		}
	}
	return b.String()
}

// Invocation is one inbound message as seen by the dispatcher.
type Invocation struct {
	ID         string // correlation id, assigned on submit
	GuildID    string // empty for direct messages
	ChannelID  string
	AuthorID   string
	AuthorName string
	Roles      []string // role names held by the author in GuildID
	Text       string
	Received   time.Time
}

// Handler runs a command. The returned notice, if any, is sent to the
// invoking channel. A nil guild means the message arrived outside a
// registered guild.
type Handler func(ctx context.Context, args []string, g *store.Guild, inv *Invocation) (*Notice, error)

// IsAllowed reports whether a principal holding roles may run a command that
// requires the named role. Matching is exact and case-sensitive.
func IsAllowed(roles []string, required string) bool {
	if required == "" {
		return true
	}
	return slices.Contains(roles, required)
}

// IsSatisfied reports whether args cover every required argument. Only the
// count is checked; handlers validate content.
func IsSatisfied(args []string, spec []Argument) bool {
	required := 0
	for _, a := range spec {
		if a.Required {
			required++
		}
	}
	return len(args) >= required
}
