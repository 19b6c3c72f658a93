package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// embedColor is the sidebar color of the status embed.
const embedColor = 0x9B59B6

// PersonaCommands handles the /persona slash command group.
type PersonaCommands struct {
	bot *Bot
}

// NewPersonaCommands creates the /persona handlers for b.
func NewPersonaCommands(b *Bot) *PersonaCommands {
	return &PersonaCommands{bot: b}
}

// Register registers all /persona subcommands with the router.
func (pc *PersonaCommands) Register(router *CommandRouter) {
	router.RegisterCommand("persona", pc.Definition(), func(s Responder, i *discordgo.InteractionCreate) {
		RespondEphemeral(s, i, "Please use a subcommand: `/persona status`, `/persona reset`, `/persona location`.")
	})
	router.RegisterHandler("persona/status", pc.handleStatus)
	router.RegisterHandler("persona/reset", pc.handleReset)
	router.RegisterHandler("persona/location", pc.handleLocation)
}

// Definition returns the /persona ApplicationCommand for Discord registration.
func (pc *PersonaCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "persona",
		Description: "Talk to and manage the character",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the character's state and reply statistics",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "reset",
				Description: "Forget your conversation with the character",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "location",
				Description: "Move the character somewhere else",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "place",
						Description: "Where the character is now",
						Required:    true,
					},
				},
			},
		},
	}
}

func (pc *PersonaCommands) handleStatus(s Responder, i *discordgo.InteractionCreate) {
	st := pc.bot.engine.CharacterState(pc.bot.cfg.CharacterID)
	RespondEmbed(s, i, buildStatusEmbed(pc.bot.cfg.CharacterID, st.Mood, st.Location, st.LastActive, pc.bot.stats.Snapshot()))
}

func (pc *PersonaCommands) handleReset(s Responder, i *discordgo.InteractionCreate) {
	u := interactionUser(i)
	if u == nil {
		RespondEphemeral(s, i, "Could not tell who you are.")
		return
	}
	pc.bot.engine.ClearConversationHistory(pc.bot.cfg.CharacterID, userID(u))
	RespondEphemeral(s, i, "Your conversation has been forgotten.")
}

func (pc *PersonaCommands) handleLocation(s Responder, i *discordgo.InteractionCreate) {
	if !pc.bot.perms.IsAdmin(i) {
		RespondEphemeral(s, i, "You do not have permission to move the character.")
		return
	}
	data := i.ApplicationCommandData()
	var place string
	if len(data.Options) > 0 {
		for _, opt := range data.Options[0].Options {
			if opt.Name == "place" {
				place = opt.StringValue()
			}
		}
	}
	if place == "" {
		RespondEphemeral(s, i, "Please name a place.")
		return
	}
	pc.bot.engine.SetCharacterLocation(pc.bot.cfg.CharacterID, place)
	RespondEphemeral(s, i, fmt.Sprintf("The character is now at **%s**.", place))
}

// interactionUser returns the invoking user for guild and direct interactions.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func buildStatusEmbed(characterID, mood, location string, lastActive time.Time, snap Snapshot) *discordgo.MessageEmbed {
	orNone := func(s string) string {
		if s == "" {
			return "none"
		}
		return s
	}
	active := "never"
	if !lastActive.IsZero() {
		active = formatDuration(time.Since(lastActive)) + " ago"
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Character", Value: fmt.Sprintf("`%s`", characterID), Inline: true},
		{Name: "Mood", Value: orNone(mood), Inline: true},
		{Name: "Location", Value: orNone(location), Inline: true},
		{Name: "Last Active", Value: active, Inline: true},
		{Name: "Replies", Value: fmt.Sprintf("%d", snap.Replies), Inline: true},
		{Name: "Fallbacks", Value: fmt.Sprintf("%d", snap.Fallbacks), Inline: true},
		{Name: "Errors", Value: fmt.Sprintf("%d", snap.Errors), Inline: true},
	}
	if snap.Latency.P50 > 0 || snap.Latency.P95 > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Reply Latency",
			Value: fmt.Sprintf("```\np50=%s p95=%s\n```", formatMs(snap.Latency.P50), formatMs(snap.Latency.P95)),
		})
	}

	return &discordgo.MessageEmbed{
		Title:     "Persona Status",
		Color:     embedColor,
		Fields:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// formatMs formats a duration as milliseconds with one decimal place.
func formatMs(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
