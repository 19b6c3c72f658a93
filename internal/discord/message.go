package discord

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/personae/internal/engine"
)

// maxMessageRunes is Discord's per-message content limit.
const maxMessageRunes = 2000

var mentionPattern = regexp.MustCompile(`<@!?\d+>`)

// HandleMessage answers m as the configured character when it addresses the
// bot. Messages from bots, empty messages and messages outside the allowed
// channels are ignored.
func (b *Bot) HandleMessage(ctx context.Context, s Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	self := b.self()
	if m.Author.ID == self || !b.addressed(m, self) {
		return
	}
	text := strings.TrimSpace(mentionPattern.ReplaceAllString(m.Content, ""))
	if text == "" {
		return
	}

	log := slog.With("channel_id", m.ChannelID, "author_id", m.Author.ID, "character_id", b.cfg.CharacterID)
	if err := s.ChannelTyping(m.ChannelID); err != nil {
		log.Debug("discord: typing indicator failed", "err", err)
	}

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	start := time.Now()
	resp, err := b.engine.GenerateCharacterResponse(ctx, engine.Request{
		CharacterID:    b.cfg.CharacterID,
		Message:        text,
		UserID:         userID(m.Author),
		UserName:       displayName(m),
		ConversationID: m.ChannelID,
	})
	if err != nil {
		b.stats.IncrErrors()
		log.Error("discord: generate reply", "err", err)
		return
	}
	b.stats.Record(time.Since(start), resp.Fallback)

	for i, part := range splitMessage(resp.Text, maxMessageRunes) {
		var sendErr error
		if i == 0 {
			_, sendErr = s.ChannelMessageSendReply(m.ChannelID, part, m.Reference())
		} else {
			_, sendErr = s.ChannelMessageSend(m.ChannelID, part)
		}
		if sendErr != nil {
			b.stats.IncrErrors()
			log.Warn("discord: send reply", "part", i, "err", sendErr)
			return
		}
	}
}

// addressed reports whether m is meant for the bot. Direct messages always
// are. In a configured channel every message is; otherwise the bot must be
// mentioned.
func (b *Bot) addressed(m *discordgo.MessageCreate, self string) bool {
	if m.GuildID == "" {
		return true
	}
	if !b.allowedChannel(m.ChannelID) {
		return false
	}
	if len(b.cfg.Channels) > 0 {
		return true
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == self {
			return true
		}
	}
	return false
}

// userID namespaces Discord users so their history never collides with
// API callers.
func userID(u *discordgo.User) string { return "discord:" + u.ID }

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// splitMessage cuts text into parts of at most limit runes, preferring to
// break at a newline or space.
func splitMessage(text string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		if c := text[cut]; c != ' ' && c != '\n' {
			if i := strings.LastIndexAny(text[:cut], "\n "); i > 0 {
				cut = i
			}
		}
		parts = append(parts, strings.TrimSpace(text[:cut]))
		text = strings.TrimLeft(text[cut:], "\n ")
	}
	if text = strings.TrimSpace(text); text != "" {
		parts = append(parts, text)
	}
	return parts
}

// byteOffset returns the byte index of the n-th rune in s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
