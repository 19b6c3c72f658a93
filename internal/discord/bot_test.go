package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/personae/internal/discord/mock"
	"github.com/MrWong99/personae/internal/engine"
)

// fakeEngine records requests and answers with a fixed reply.
type fakeEngine struct {
	mu       sync.Mutex
	reply    string
	fallback bool
	err      error
	requests []engine.Request
	cleared  []string
	location string
}

func (f *fakeEngine) GenerateCharacterResponse(_ context.Context, req engine.Request) (*engine.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Response{CharacterID: req.CharacterID, Text: f.reply, Fallback: f.fallback}, nil
}

func (f *fakeEngine) ClearConversationHistory(characterID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, characterID+"/"+userID)
}

func (f *fakeEngine) CharacterState(characterID string) engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.State{CharacterID: characterID, Mood: "curious", Location: f.location}
}

func (f *fakeEngine) SetCharacterLocation(_, location string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.location = location
}

func testBot(t *testing.T, cfg Config, eng *fakeEngine) *Bot {
	t.Helper()
	if cfg.CharacterID == "" {
		cfg.CharacterID = "aria"
	}
	b := newBot(context.Background(), cfg, eng)
	b.selfID = "bot-1"
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func message(guildID, channelID, content string, mentions ...string) *discordgo.MessageCreate {
	m := &discordgo.Message{
		ID:        "msg-1",
		GuildID:   guildID,
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: "user-7", Username: "sam", GlobalName: "Sam"},
	}
	for _, id := range mentions {
		m.Mentions = append(m.Mentions, &discordgo.User{ID: id})
	}
	return &discordgo.MessageCreate{Message: m}
}

func TestHandleMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		channels []string
		msg      *discordgo.MessageCreate
		want     string // expected request message; empty means ignored
	}{
		{
			name: "mention in guild",
			msg:  message("g1", "c1", "<@bot-1> what do you guard?", "bot-1"),
			want: "what do you guard?",
		},
		{
			name: "nickname mention",
			msg:  message("g1", "c1", "<@!bot-1> hello", "bot-1"),
			want: "hello",
		},
		{
			name: "guild message without mention",
			msg:  message("g1", "c1", "what do you guard?"),
		},
		{
			name: "direct message",
			msg:  message("", "dm-1", "hello there"),
			want: "hello there",
		},
		{
			name:     "configured channel needs no mention",
			channels: []string{"c1"},
			msg:      message("g1", "c1", "hello"),
			want:     "hello",
		},
		{
			name:     "other channel ignored even with mention",
			channels: []string{"c1"},
			msg:      message("g1", "c2", "<@bot-1> hello", "bot-1"),
		},
		{
			name: "mention only",
			msg:  message("g1", "c1", "<@bot-1>", "bot-1"),
		},
		{
			name: "bot author",
			msg: func() *discordgo.MessageCreate {
				m := message("", "dm-1", "hello")
				m.Author.Bot = true
				return m
			}(),
		},
		{
			name: "own message",
			msg: func() *discordgo.MessageCreate {
				m := message("", "dm-1", "hello")
				m.Author.ID = "bot-1"
				return m
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng := &fakeEngine{reply: "The shadows whisper..."}
			b := testBot(t, Config{Channels: tt.channels}, eng)
			s := &mock.Session{}

			b.HandleMessage(context.Background(), s, tt.msg)

			if tt.want == "" {
				if len(eng.requests) != 0 || len(s.Sent()) != 0 {
					t.Fatalf("expected message to be ignored, got %d requests", len(eng.requests))
				}
				return
			}
			if len(eng.requests) != 1 {
				t.Fatalf("expected 1 request, got %d", len(eng.requests))
			}
			req := eng.requests[0]
			if req.Message != tt.want {
				t.Errorf("Message = %q, want %q", req.Message, tt.want)
			}
			if req.CharacterID != "aria" || req.UserID != "discord:user-7" || req.UserName != "Sam" {
				t.Errorf("request = %+v", req)
			}
			if req.ConversationID != tt.msg.ChannelID {
				t.Errorf("ConversationID = %q, want channel id", req.ConversationID)
			}
			if len(s.Typing) != 1 {
				t.Errorf("expected typing indicator, got %v", s.Typing)
			}
			sent := s.Sent()
			if len(sent) != 1 || sent[0].Content != "The shadows whisper..." || sent[0].ReplyTo != "msg-1" {
				t.Errorf("sent = %+v", sent)
			}
		})
	}
}

func TestHandleMessage_MemberNickname(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{reply: "ok"}
	b := testBot(t, Config{}, eng)

	m := message("", "dm-1", "hi")
	m.Member = &discordgo.Member{Nick: "Lantern Sam"}
	b.HandleMessage(context.Background(), &mock.Session{}, m)

	if got := eng.requests[0].UserName; got != "Lantern Sam" {
		t.Errorf("UserName = %q", got)
	}
}

func TestHandleMessage_Errors(t *testing.T) {
	t.Parallel()

	t.Run("engine error sends nothing", func(t *testing.T) {
		t.Parallel()
		eng := &fakeEngine{err: errors.New("boom")}
		b := testBot(t, Config{}, eng)
		s := &mock.Session{}

		b.HandleMessage(context.Background(), s, message("", "dm-1", "hi"))

		if len(s.Sent()) != 0 {
			t.Errorf("expected no reply, got %+v", s.Sent())
		}
		if snap := b.Stats().Snapshot(); snap.Errors != 1 || snap.Replies != 0 {
			t.Errorf("snapshot = %+v", snap)
		}
	})

	t.Run("send error counted", func(t *testing.T) {
		t.Parallel()
		eng := &fakeEngine{reply: "hi", fallback: true}
		b := testBot(t, Config{}, eng)
		s := &mock.Session{Err: errors.New("rate limited")}

		b.HandleMessage(context.Background(), s, message("", "dm-1", "hi"))

		if snap := b.Stats().Snapshot(); snap.Errors != 1 || snap.Replies != 1 || snap.Fallbacks != 1 {
			t.Errorf("snapshot = %+v", snap)
		}
	})
}

func TestHandleMessage_LongReplySplit(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{reply: strings.Repeat("whisper ", 600)}
	b := testBot(t, Config{}, eng)
	s := &mock.Session{}

	b.HandleMessage(context.Background(), s, message("", "dm-1", "tell me everything"))

	sent := s.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(sent))
	}
	if sent[0].ReplyTo != "msg-1" || sent[1].ReplyTo != "" {
		t.Error("only the first part should be a reply")
	}
	for i, m := range sent {
		if utf8.RuneCountInString(m.Content) > maxMessageRunes {
			t.Errorf("part %d has %d runes", i, utf8.RuneCountInString(m.Content))
		}
	}
}

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"empty", "   ", 10, nil},
		{"break at space", "aaaa bbbb cccc", 9, []string{"aaaa bbbb", "cccc"}},
		{"break at newline", "aaa\nbbb ccc", 8, []string{"aaa\nbbb", "ccc"}},
		{"no break point", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"multibyte", "äöüäöü", 3, []string{"äöü", "äöü"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitMessage(tt.text, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("splitMessage(%q) = %q, want %q", tt.text, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("part %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPermissionChecker_IsAdmin(t *testing.T) {
	t.Parallel()

	withRoles := func(roles ...string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{Roles: roles},
		}}
	}

	tests := []struct {
		name   string
		roleID string
		inter  *discordgo.InteractionCreate
		want   bool
	}{
		{"user with role", "role-123", withRoles("role-456", "role-123"), true},
		{"user without role", "role-123", withRoles("role-456"), false},
		{"empty role allows all", "", withRoles("role-456"), true},
		{"nil member", "role-123", &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}, false},
		{"empty roles", "role-123", withRoles(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewPermissionChecker(tt.roleID).IsAdmin(tt.inter); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.want)
			}
		})
	}
}
