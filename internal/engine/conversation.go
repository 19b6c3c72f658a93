package engine

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/personae/pkg/provider/llm"
)

// DefaultHistoryCap is the number of turns kept per character and user.
const DefaultHistoryCap = 50

// Turn is one message of a conversation.
type Turn struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Fallback       bool      `json:"fallback,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Message converts the turn into an LLM chat message.
func (t Turn) Message() llm.Message {
	return llm.Message{Role: t.Role, Content: t.Content}
}

// Messages converts turns into LLM chat messages, oldest first.
func Messages(turns []Turn) []llm.Message {
	out := make([]llm.Message, len(turns))
	for i, t := range turns {
		out[i] = t.Message()
	}
	return out
}

// ConversationStats summarises what a [ConversationStore] holds.
type ConversationStats struct {
	Conversations int `json:"conversations"`
	Characters    int `json:"characters"`
	Messages      int `json:"messages"`
}

// ConversationStore keeps bounded per-(character, user) histories.
// Appends for one key are applied in call order and never interleave.
type ConversationStore interface {
	// Append adds turns to the history of characterID and userID, evicting
	// the oldest turns beyond the cap.
	Append(characterID, userID string, turns ...Turn)

	// History returns a copy of the history, oldest first.
	History(characterID, userID string) []Turn

	// Recent returns at most the last n turns, oldest first.
	Recent(characterID, userID string, n int) []Turn

	// Clear drops the history of one key.
	Clear(characterID, userID string)

	// ClearCharacter drops every history of characterID and returns how many
	// conversations were removed.
	ClearCharacter(characterID string) int

	// Stats reports the number of conversations and buffered messages.
	Stats() ConversationStats
}

type convKey struct {
	characterID string
	userID      string
}

type conversation struct {
	mu    sync.Mutex
	turns []Turn
}

// MemConversations is the in-process [ConversationStore]. Histories are not
// shared between processes.
type MemConversations struct {
	limit int

	mu    sync.Mutex
	convs map[convKey]*conversation
}

var _ ConversationStore = (*MemConversations)(nil)

// NewMemConversations creates a store that keeps at most limit turns per
// key. A non-positive limit means [DefaultHistoryCap].
func NewMemConversations(limit int) *MemConversations {
	if limit <= 0 {
		limit = DefaultHistoryCap
	}
	return &MemConversations{limit: limit, convs: make(map[convKey]*conversation)}
}

// conv returns the conversation for key or nil.
func (s *MemConversations) conv(key convKey) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[key]
}

// Append implements [ConversationStore]. The store lock is held for the
// whole append so a concurrent Clear cannot orphan the conversation.
func (s *MemConversations) Append(characterID, userID string, turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := convKey{characterID, userID}
	c, ok := s.convs[key]
	if !ok {
		c = &conversation{}
		s.convs[key] = c
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turns...)
	if over := len(c.turns) - s.limit; over > 0 {
		c.turns = slices.Clone(c.turns[over:])
	}
}

// History implements [ConversationStore].
func (s *MemConversations) History(characterID, userID string) []Turn {
	return s.Recent(characterID, userID, 0)
}

// Recent implements [ConversationStore]. n <= 0 returns everything.
func (s *MemConversations) Recent(characterID, userID string, n int) []Turn {
	c := s.conv(convKey{characterID, userID})
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	turns := c.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return slices.Clone(turns)
}

// Clear implements [ConversationStore].
func (s *MemConversations) Clear(characterID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, convKey{characterID, userID})
}

// ClearCharacter implements [ConversationStore].
func (s *MemConversations) ClearCharacter(characterID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.convs {
		if k.characterID == characterID {
			delete(s.convs, k)
			n++
		}
	}
	return n
}

// Stats implements [ConversationStore].
func (s *MemConversations) Stats() ConversationStats {
	s.mu.Lock()
	convs := make([]*conversation, 0, len(s.convs))
	chars := make(map[string]struct{})
	for k, c := range s.convs {
		convs = append(convs, c)
		chars[k.characterID] = struct{}{}
	}
	s.mu.Unlock()

	st := ConversationStats{Conversations: len(convs), Characters: len(chars)}
	for _, c := range convs {
		c.mu.Lock()
		st.Messages += len(c.turns)
		c.mu.Unlock()
	}
	return st
}

// turnLocks serialises whole turns per conversation key so the user and
// assistant turns of one exchange are never split by another exchange.
type turnLocks struct {
	mu    sync.Mutex
	locks map[convKey]*turnLock
}

type turnLock struct {
	sync.Mutex
	refs int
}

// lock blocks until the turn for characterID and userID is free and returns
// the matching unlock.
func (l *turnLocks) lock(characterID, userID string) func() {
	key := convKey{characterID, userID}
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[convKey]*turnLock)
	}
	tl, ok := l.locks[key]
	if !ok {
		tl = &turnLock{}
		l.locks[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.Lock()
	return func() {
		tl.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
