// Package mock provides test doubles for Discord session testing.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentMessage is one recorded channel message.
type SentMessage struct {
	ChannelID string
	Content   string

	// ReplyTo is the referenced message ID for replies, empty otherwise.
	ReplyTo string
}

// Session records channel and interaction traffic for test assertions.
// It satisfies discord.Session.
type Session struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// Messages records ChannelMessageSend and ChannelMessageSendReply calls
	// in order.
	Messages []SentMessage

	// Typing records the channel IDs passed to ChannelTyping.
	Typing []string

	// Err is returned by every call when non-nil.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *Session) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// ChannelTyping records the channel.
func (m *Session) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Typing = append(m.Typing, channelID)
	return m.Err
}

// ChannelMessageSendReply records a reply.
func (m *Session) ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	msg := SentMessage{ChannelID: channelID, Content: content}
	if reference != nil {
		msg.ReplyTo = reference.MessageID
	}
	return m.record(msg)
}

// ChannelMessageSend records a plain message.
func (m *Session) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.record(SentMessage{ChannelID: channelID, Content: content})
}

func (m *Session) record(msg SentMessage) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Messages = append(m.Messages, msg)
	return &discordgo.Message{ID: "mock-message", ChannelID: msg.ChannelID, Content: msg.Content}, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *Session) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// Sent returns a copy of the recorded channel messages.
func (m *Session) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Messages...)
}

// Reset clears all recorded traffic and errors.
func (m *Session) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = nil
	m.Messages = nil
	m.Typing = nil
	m.Err = nil
}
