// Package discord runs a Discord text bot that speaks as one configured
// character. It owns the discordgo.Session lifecycle, answers messages that
// address the bot, and routes /persona slash commands to their handlers.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/personae/internal/engine"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// CharacterID is the character the bot speaks as.
	CharacterID string

	// Channels restricts replies to these channel IDs. When empty the bot
	// answers direct messages and guild messages that mention it.
	Channels []string

	// AdminRoleID gates /persona location. Empty allows everyone.
	AdminRoleID string
}

// Engine is the part of the character engine the bot drives.
type Engine interface {
	GenerateCharacterResponse(ctx context.Context, req engine.Request) (*engine.Response, error)
	ClearConversationHistory(characterID, userID string)
	CharacterState(characterID string) engine.State
	SetCharacterLocation(characterID, location string)
}

var _ Engine = (*engine.Engine)(nil)

// Session is the subset of *discordgo.Session the bot calls.
type Session interface {
	Responder
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Session = (*discordgo.Session)(nil)

// replyTimeout bounds one generated reply.
const replyTimeout = 2 * time.Minute

// Bot owns the Discord gateway connection.
type Bot struct {
	mu       sync.RWMutex
	session  *discordgo.Session
	engine   Engine
	router   *CommandRouter
	perms    *PermissionChecker
	stats    *ReplyStats
	cfg      Config
	selfID   string
	commands []*discordgo.ApplicationCommand

	// ctx is cancelled by Close so in-flight replies stop.
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the message and
// interaction handlers.
func New(ctx context.Context, cfg Config, eng Engine) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token must not be empty")
	}
	if cfg.CharacterID == "" {
		return nil, fmt.Errorf("discord: character id must not be empty")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds

	b := newBot(ctx, cfg, eng)
	b.session = session

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.mu.Lock()
		b.selfID = r.User.ID
		b.mu.Unlock()
		slog.Info("discord: connected", "user", r.User.Username, "character_id", cfg.CharacterID)
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.HandleMessage(b.ctx, s, m)
		}()
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	if err := session.Open(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// newBot wires everything except the gateway connection.
func newBot(ctx context.Context, cfg Config, eng Engine) *Bot {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Bot{
		engine: eng,
		router: NewCommandRouter(),
		perms:  NewPermissionChecker(cfg.AdminRoleID),
		stats:  NewReplyStats(100),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	NewPersonaCommands(b).Register(b.router)
	return b
}

// Stats returns the reply statistics collector.
func (b *Bot) Stats() *ReplyStats { return b.stats }

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter { return b.router }

func (b *Bot) self() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfID
}

func (b *Bot) allowedChannel(channelID string) bool {
	return len(b.cfg.Channels) == 0 || slices.Contains(b.cfg.Channels, channelID)
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	appID := b.session.State.User.ID

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, "", cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close cancels in-flight replies, unregisters commands and disconnects.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.cancel()
		b.inflight.Wait()

		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, "", cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
