// ABOUTME: discordgo-backed implementation of the adapter's api and notice rendering
// ABOUTME: Role ids are resolved to names from the session state cache

package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/whitelist-bot/internal/command"
)

// Embed colours per notice kind.
var kindColors = map[command.Kind]int{
	command.KindInfo:       0x5865F2,
	command.KindSuccess:    0x57F287,
	command.KindPermission: 0xFEE75C,
	command.KindSyntax:     0xFEE75C,
	command.KindConnection: 0xED4245,
	command.KindError:      0xED4245,
}

// Embed renders a notice as a Discord embed.
func Embed(n command.Notice) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		Color:       kindColors[n.Kind],
	}
	for _, f := range n.Fields {
		value := f.Value
		if value == "" {
			value = "-"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  value,
			Inline: f.Inline,
		})
	}
	return embed
}

type sessionAPI struct {
	s *discordgo.Session
}

func (a sessionAPI) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	_, err := a.s.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	return err
}

func (a sessionAPI) LeaveGuild(ctx context.Context, guildID string) error {
	return a.s.GuildLeave(guildID, discordgo.WithContext(ctx))
}

// RoleNames maps role ids to names. Roles missing from the state cache are
// skipped; the cache is filled from GUILD_CREATE.
func (a sessionAPI) RoleNames(guildID string, roleIDs []string) []string {
	names := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		role, err := a.s.State.Role(guildID, id)
		if err != nil {
			continue
		}
		names = append(names, role.Name)
	}
	return names
}

func (a sessionAPI) SetStatus(status string) error {
	return a.s.UpdateGameStatus(0, status)
}
