// Package engine orchestrates a single character turn.
//
// [Engine.GenerateCharacterResponse] loads the character, substitutes
// template placeholders in the user message, gathers context (retrieved
// persona and memories, or the recent history when retrieval is disabled or
// degraded), classifies the message, renders a prompt and runs it through
// the generation gate. The reply is sanitised and appended to the bounded
// per-(character, user) history.
//
// A turn never fails because generation failed: gate rejections, timeouts
// and upstream errors all produce [FallbackApology], which is stored in the
// history like any other reply. Only a missing character or an invalid
// request is returned as an error. The typing flag of the character is set
// while a turn is in flight and always cleared when it ends.
//
// Conversation history and character state live in the injected
// [ConversationStore] and [StateStore]. The in-memory implementations are
// per process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/gate"
	"github.com/MrWong99/personae/internal/observe"
	"github.com/MrWong99/personae/internal/prompt"
	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/internal/sanitize"
	"github.com/MrWong99/personae/pkg/memory"
)

// FallbackApology is the reply used when generation fails.
const FallbackApology = "I'm sorry, I lost my train of thought for a moment. Could you say that again?"

// DefaultUserID is used when a request carries no user.
const DefaultUserID = "anonymous"

// ErrEmptyMessage is returned for requests without message content.
var ErrEmptyMessage = errors.New("engine: message must not be empty")

// Generator runs gated model calls. [*gate.Gate] implements it.
type Generator interface {
	SafeGenerate(ctx context.Context, in gate.Input, p gate.Params) (*gate.Output, error)
	SafeStream(ctx context.Context, in gate.Input, p gate.Params, onChunk func(string)) (*gate.Output, error)
	ResourceUsage() gate.Usage
	EmergencyStop() int
}

// Retriever supplies retrieval context and stores conversation memories.
// [*rag.Retriever] implements it.
type Retriever interface {
	GetCharacterContextForLLM(ctx context.Context, characterID, query string, opts ...rag.Option) rag.Context
	StoreMemory(ctx context.Context, characterID, content string, t memory.Type, meta rag.Metadata) (*memory.Record, error)
}

var (
	_ Generator = (*gate.Gate)(nil)
	_ Retriever = (*rag.Retriever)(nil)
)

// Request is one user message addressed to a character.
type Request struct {
	CharacterID string `json:"character_id"`
	Message     string `json:"message"`
	UserID      string `json:"user_id"`

	// UserName is used for {{user}} placeholders. Defaults to "User".
	UserName string `json:"user_name,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
}

// Response is the outcome of a turn.
type Response struct {
	CharacterID    string          `json:"character_id"`
	UserID         string          `json:"user_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Text           string          `json:"text"`
	MessageType    MessageType     `json:"message_type"`
	Strategy       prompt.Strategy `json:"strategy"`
	Templated      bool            `json:"templated"`
	Fallback       bool            `json:"fallback"`
	Degraded       bool            `json:"retrieval_degraded"`
	RequestID      string          `json:"request_id,omitempty"`
	TokensUsed     int             `json:"tokens_used"`
	Duration       time.Duration   `json:"duration_ns"`
}

// Health is the engine's self-report.
type Health struct {
	Status           string `json:"status"`
	ActiveCharacters int    `json:"active_characters"`
	Conversations    int    `json:"conversations"`
	BufferedMessages int    `json:"buffered_messages"`
	Config           Config `json:"config"`
}

// Engine runs character turns. It is safe for concurrent use.
type Engine struct {
	chars     character.Store
	gen       Generator
	retriever Retriever
	convs     ConversationStore
	states    StateStore
	metrics   *observe.Metrics
	now       func() time.Time
	budget    int

	background sync.WaitGroup
	turns      turnLocks

	mu  sync.RWMutex
	cfg Config
}

// Option configures an [Engine].
type Option func(*Engine)

// WithRetriever enables retrieval and conversation memory persistence.
func WithRetriever(r Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// WithConversations sets the history store. Defaults to
// [NewMemConversations] with the default cap.
func WithConversations(s ConversationStore) Option {
	return func(e *Engine) { e.convs = s }
}

// WithStates sets the character state store. Defaults to [NewMemStates].
func WithStates(s StateStore) Option {
	return func(e *Engine) { e.states = s }
}

// WithConfig sets the initial settings.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPromptBudget sets the prompt size, in characters, that history and
// memories are trimmed to. It should match the generator's input cap.
// Defaults to [gate.DefaultMaxPromptChars].
func WithPromptBudget(chars int) Option {
	return func(e *Engine) { e.budget = chars }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(chars character.Store, gen Generator, opts ...Option) (*Engine, error) {
	if chars == nil {
		return nil, fmt.Errorf("engine: character store must not be nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("engine: generator must not be nil")
	}
	e := &Engine{
		chars:  chars,
		gen:    gen,
		cfg:    DefaultConfig(),
		now:    time.Now,
		budget: gate.DefaultMaxPromptChars,
	}
	for _, o := range opts {
		o(e)
	}
	if e.convs == nil {
		e.convs = NewMemConversations(DefaultHistoryCap)
	}
	if e.states == nil {
		e.states = NewMemStates()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	return e, nil
}

// Config returns the current settings.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfig merges p into the current settings. The update is rejected
// as a whole when the result is invalid.
func (e *Engine) UpdateConfig(p ConfigPatch) (Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := p.Apply(e.cfg)
	if err := next.Validate(); err != nil {
		return e.cfg, err
	}
	e.cfg = next
	return next, nil
}

// GenerateCharacterResponse runs one turn and returns the sanitised reply.
func (e *Engine) GenerateCharacterResponse(ctx context.Context, req Request) (*Response, error) {
	return e.respond(ctx, req, nil)
}

// GenerateCharacterResponseStream runs one turn and passes reply fragments
// to onChunk as they arrive. Only the head of the stream is checked for a
// speaker label; the returned Response holds the fully sanitised text.
func (e *Engine) GenerateCharacterResponseStream(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return e.respond(ctx, req, onChunk)
}

// turn carries the per-turn values shared by the steps of respond.
type turn struct {
	req      Request
	char     *character.Character
	cfg      Config
	session  prompt.SessionContext
	message  string
	history  []Turn
	pc       prompt.Context
	typ      MessageType
	strategy prompt.Strategy
	chat     bool
	degraded bool
}

func (e *Engine) respond(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	start := time.Now()
	req.Message = strings.TrimSpace(req.Message)
	if req.CharacterID == "" {
		return nil, fmt.Errorf("engine: character id must not be empty")
	}
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}
	if req.UserID == "" {
		req.UserID = DefaultUserID
	}

	c, err := character.Lookup(ctx, e.chars, req.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	// History is read at the start of a turn and both sides are appended by
	// its end; turns on the same conversation run one at a time.
	defer e.turns.lock(req.CharacterID, req.UserID)()

	ctx, span := observe.StartSpan(observe.WithCharacter(ctx, req.CharacterID), "engine.respond")
	defer span.End()
	log := observe.Logger(ctx).With("user_id", req.UserID)

	e.states.SetTyping(req.CharacterID, true)
	defer e.states.SetTyping(req.CharacterID, false)

	t := &turn{
		req:  req,
		char: c,
		cfg:  e.Config(),
	}
	state := e.states.Get(req.CharacterID)
	t.session = prompt.SessionContext{
		UserName:      req.UserName,
		CharacterName: c.Name,
		Location:      state.Location,
		Now:           e.now(),
	}.WithDefaults()
	t.message = prompt.ApplyTemplate(req.Message, t.session)

	t.history = e.convs.Recent(req.CharacterID, req.UserID, t.cfg.HistoryTurns)
	t.pc = prompt.Context{
		History:  Messages(t.history),
		Mood:     state.Mood,
		Session:  t.session,
		MaxChars: e.budget,
	}
	if t.cfg.UseRAG && e.retriever != nil {
		rc := e.retriever.GetCharacterContextForLLM(ctx, req.CharacterID, t.message,
			rag.WithMaxResults(t.cfg.MaxResults),
			rag.WithMinSimilarity(t.cfg.MinSimilarity),
		)
		if rc.Degraded {
			t.degraded = true
			log.Warn("engine: retrieval degraded, using recent history")
		} else {
			t.pc.RAG = &rc
		}
	}

	e.convs.Append(req.CharacterID, req.UserID, Turn{
		ID:             uuid.NewString(),
		Role:           "user",
		Content:        t.message,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Timestamp:      e.now(),
	})

	t.typ = Classify(t.message)
	if mood, ok := moods[t.typ]; ok {
		e.states.SetMood(req.CharacterID, mood)
		t.pc.Mood = mood
	}

	in := e.buildInput(t)
	params := gate.Params{
		Model:       t.cfg.Model,
		Temperature: t.cfg.Temperature,
		MaxTokens:   t.cfg.MaxTokens,
	}

	var out *gate.Output
	if onChunk == nil {
		out, err = e.gen.SafeGenerate(ctx, in, params)
	} else {
		out, err = e.stream(ctx, t, in, params, onChunk)
	}

	resp := &Response{
		CharacterID:    req.CharacterID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		MessageType:    t.typ,
		Strategy:       t.strategy,
		Templated:      t.typ.templated(),
		Degraded:       t.degraded,
	}
	if err != nil {
		log.Error("engine: generation failed, sending fallback", "err", err, "message_type", t.typ)
		resp.Text = FallbackApology
		resp.Fallback = true
	} else {
		resp.Text = e.clean(t, out.Text)
		resp.RequestID = out.RequestID
		resp.TokensUsed = out.TokensUsed
	}

	now := e.now()
	e.states.Touch(req.CharacterID, now)
	e.convs.Append(req.CharacterID, req.UserID, Turn{
		ID:             uuid.NewString(),
		Role:           "assistant",
		Content:        resp.Text,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Fallback:       resp.Fallback,
		Timestamp:      now,
	})

	path := "dynamic"
	switch {
	case resp.Fallback:
		path = "fallback"
	case resp.Templated:
		path = "template"
	}
	e.metrics.RecordCharacterResponse(ctx, path)

	if t.cfg.StoreConversations && !resp.Fallback && e.retriever != nil {
		e.persist(ctx, t, resp.Text)
	}

	resp.Duration = time.Since(start)
	return resp, nil
}

// buildInput renders the gate input for t and records the strategy used.
func (e *Engine) buildInput(t *turn) gate.Input {
	c := t.char
	if t.typ.templated() {
		pc := t.pc
		pc.RAG = nil
		pc.IncludeAppearance = true
		pc.ReplyHint = c.Phrases.Greeting
		if t.typ == MessageComfortNeeded {
			pc.ReplyHint = c.Phrases.Comfort
		}
		t.strategy = prompt.StrategyMinimal
		return gate.Input{Prompt: prompt.Build(c, t.message, pc, prompt.StrategyMinimal)}
	}

	t.strategy = t.cfg.Strategy
	if t.pc.RAG != nil {
		t.strategy = prompt.StrategyRAGEnhanced
	}
	if t.cfg.ChatMessages {
		t.chat = true
		return gate.Input{Messages: prompt.BuildChatMessages(c, t.message, t.pc.History, t.pc)}
	}
	return gate.Input{Prompt: prompt.Build(c, t.message, t.pc, t.strategy)}
}

// clean sanitises a finished reply.
func (e *Engine) clean(t *turn, raw string) string {
	if t.chat {
		recent := make([]string, 0, len(t.history))
		for _, h := range t.history {
			if h.Role == "assistant" {
				recent = append(recent, h.Content)
			}
		}
		return sanitize.CleanChatCompletion(raw, t.char.Name, recent, t.session)
	}
	return sanitize.CleanResponse(raw, t.char.Name, t.session)
}

// stream forwards fragments to onChunk. Text is held back until enough has
// arrived to recognise a speaker label, which is stripped once; everything
// after that head is forwarded untouched.
func (e *Engine) stream(ctx context.Context, t *turn, in gate.Input, p gate.Params, onChunk func(string)) (*gate.Output, error) {
	window := utf8.RuneCountInString(t.char.Name) + 16
	var (
		head    strings.Builder
		flushed bool
		emitted bool
	)
	emit := func(s string) {
		if s == "" {
			return
		}
		emitted = true
		onChunk(s)
	}
	flush := func() {
		flushed = true
		emit(sanitize.StripNamePrefix(head.String(), t.char.Name))
	}

	out, err := e.gen.SafeStream(ctx, in, p, func(s string) {
		if flushed {
			emit(s)
			return
		}
		head.WriteString(s)
		if utf8.RuneCountInString(head.String()) >= window {
			flush()
		}
	})
	switch {
	case err != nil && !emitted:
		emit(FallbackApology)
	case err == nil && !flushed:
		flush()
	}
	return out, err
}

// persist stores the exchange as a conversation memory in the background.
// Failures are logged.
func (e *Engine) persist(ctx context.Context, t *turn, reply string) {
	ctx = context.WithoutCancel(ctx)
	content := fmt.Sprintf("%s said: %s\n%s replied: %s", t.session.UserName, t.message, t.session.CharacterName, reply)
	meta := rag.Metadata{
		Importance:      memory.ImportanceLow,
		EmotionalWeight: emotionalWeight(t.typ),
		TimeOfDay:       t.session.TimeOfDay,
		SessionID:       t.req.ConversationID,
	}
	if t.session.Location != prompt.DefaultLocation {
		meta.Location = t.session.Location
	}
	typ := memory.TypeConversation
	if t.typ == MessageComfortNeeded {
		typ = memory.TypeEmotionalEvent
		meta.Importance = memory.ImportanceMedium
	}

	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if _, err := e.retriever.StoreMemory(ctx, t.req.CharacterID, content, typ, meta); err != nil {
			observe.Logger(ctx).Warn("engine: failed to store conversation memory",
				"character_id", t.req.CharacterID, "err", err)
		}
	}()
}

func emotionalWeight(t MessageType) float64 {
	switch t {
	case MessageComfortNeeded:
		return 0.8
	case MessageCompliment:
		return 0.5
	case MessageGreeting:
		return 0.2
	default:
		return 0.1
	}
}

// Wait blocks until background memory writes have finished.
func (e *Engine) Wait() { e.background.Wait() }

// ConversationHistory returns the buffered turns of one conversation.
func (e *Engine) ConversationHistory(characterID, userID string) []Turn {
	if userID == "" {
		userID = DefaultUserID
	}
	return e.convs.History(characterID, userID)
}

// ClearConversationHistory drops one conversation.
func (e *Engine) ClearConversationHistory(characterID, userID string) {
	if userID == "" {
		userID = DefaultUserID
	}
	e.convs.Clear(characterID, userID)
}

// ClearConversationHistoryForCharacter drops every conversation with
// characterID and returns how many were removed.
func (e *Engine) ClearConversationHistoryForCharacter(characterID string) int {
	return e.convs.ClearCharacter(characterID)
}

// CharacterState returns the ephemeral state of a character.
func (e *Engine) CharacterState(characterID string) State {
	return e.states.Get(characterID)
}

// SetCharacterTyping sets the typing flag, for frontends that show it
// outside of engine turns.
func (e *Engine) SetCharacterTyping(characterID string, typing bool) {
	e.states.SetTyping(characterID, typing)
}

// SetCharacterLocation sets the location used for {{location}} placeholders.
func (e *Engine) SetCharacterLocation(characterID, location string) {
	e.states.SetLocation(characterID, location)
}

// HealthCheck reports buffered conversations and the current settings.
func (e *Engine) HealthCheck() Health {
	st := e.convs.Stats()
	return Health{
		Status:           "ok",
		ActiveCharacters: st.Characters,
		Conversations:    st.Conversations,
		BufferedMessages: st.Messages,
		Config:           e.Config(),
	}
}

// ResourceUsage reports the generation gate's resource usage.
func (e *Engine) ResourceUsage() gate.Usage { return e.gen.ResourceUsage() }

// EmergencyStop clears the gate's active requests and returns how many were
// cleared.
func (e *Engine) EmergencyStop() int { return e.gen.EmergencyStop() }
