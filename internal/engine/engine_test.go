package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/gate"
	"github.com/MrWong99/personae/internal/prompt"
	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/pkg/memory"
	"github.com/MrWong99/personae/pkg/provider/llm"
	llmmock "github.com/MrWong99/personae/pkg/provider/llm/mock"
)

var evening = time.Date(2025, 1, 1, 19, 0, 0, 0, time.UTC)

// fakeGenerator is a recording Generator.
type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	chunks  []string
	during  func()
	inputs  []gate.Input
	params  []gate.Params
	stopped int
}

func (g *fakeGenerator) record(in gate.Input, p gate.Params) {
	g.mu.Lock()
	g.inputs = append(g.inputs, in)
	g.params = append(g.params, p)
	g.mu.Unlock()
	if g.during != nil {
		g.during()
	}
}

func (g *fakeGenerator) SafeGenerate(_ context.Context, in gate.Input, p gate.Params) (*gate.Output, error) {
	g.record(in, p)
	if g.err != nil {
		return nil, g.err
	}
	return &gate.Output{RequestID: "req-1", Text: g.text, TokensUsed: 12}, nil
}

func (g *fakeGenerator) SafeStream(_ context.Context, in gate.Input, p gate.Params, onChunk func(string)) (*gate.Output, error) {
	g.record(in, p)
	for _, c := range g.chunks {
		onChunk(c)
	}
	if g.err != nil {
		return nil, g.err
	}
	return &gate.Output{RequestID: "req-1", Text: strings.Join(g.chunks, "")}, nil
}

func (g *fakeGenerator) ResourceUsage() gate.Usage { return gate.Usage{MaxConcurrent: 3} }

func (g *fakeGenerator) EmergencyStop() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped++
	return 2
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.inputs) == 0 {
		return ""
	}
	return g.inputs[len(g.inputs)-1].Prompt
}

// fakeRetriever returns a fixed context and records stored memories.
type fakeRetriever struct {
	mu      sync.Mutex
	ctx     rag.Context
	queries []string
	stored  []memory.Record
	err     error
}

func (r *fakeRetriever) GetCharacterContextForLLM(_ context.Context, _ string, query string, _ ...rag.Option) rag.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	return r.ctx
}

func (r *fakeRetriever) StoreMemory(_ context.Context, characterID, content string, t memory.Type, meta rag.Metadata) (*memory.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	rec := memory.Record{CharacterID: characterID, Content: content, Type: t, Importance: meta.Importance, EmotionalWeight: meta.EmotionalWeight}
	r.stored = append(r.stored, rec)
	return &rec, nil
}

func aria() *character.Character {
	return &character.Character{
		ID:         "aria",
		Name:       "Aria",
		Archetype:  "elven archivist",
		Appearance: character.Appearance{Description: "Tall and pale with silver eyes."},
		Voice:      character.VoiceStyle{Tones: []string{"hushed"}},
		Personality: character.Personality{
			Primary: []string{"mysterious"},
		},
		Phrases: character.SignaturePhrases{
			Greeting: "The shadows whisper...",
			Comfort:  "Rest here a while, {{user}}.",
		},
	}
}

func newEngine(t *testing.T, gen Generator, opts ...Option) *Engine {
	t.Helper()
	chars := character.NewMemStore()
	if err := chars.Create(context.Background(), aria()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	opts = append([]Option{WithClock(func() time.Time { return evening })}, opts...)
	e, err := New(chars, gen, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func noRAG() Option {
	cfg := DefaultConfig()
	cfg.UseRAG = false
	return WithConfig(cfg)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, &fakeGenerator{}); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(character.NewMemStore(), nil); err == nil {
		t.Error("expected error for nil generator")
	}
	bad := DefaultConfig()
	bad.MaxTokens = 0
	if _, err := New(character.NewMemStore(), &fakeGenerator{}, WithConfig(bad)); err == nil {
		t.Error("expected error for invalid config")
	}
}

// TestGenerate_AriaGreeting drives a greeting through the real gate.
func TestGenerate_AriaGreeting(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Aria: The shadows whisper your name, traveler.",
	}}
	g, err := gate.New(p)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	e := newEngine(t, g, noRAG())

	resp, err := e.GenerateCharacterResponse(context.Background(), Request{
		CharacterID: "aria",
		Message:     "Hello!",
		UserID:      "sam",
	})
	if err != nil {
		t.Fatalf("GenerateCharacterResponse: %v", err)
	}

	if resp.MessageType != MessageGreeting {
		t.Errorf("MessageType = %q, want greeting", resp.MessageType)
	}
	if !resp.Templated || resp.Strategy != prompt.StrategyMinimal {
		t.Errorf("templated = %v strategy = %q, want minimal template path", resp.Templated, resp.Strategy)
	}
	sent := p.LastComplete().Prompt
	if !strings.Contains(sent, "The shadows whisper...") {
		t.Errorf("prompt lacks the greeting:\n%s", sent)
	}
	if !strings.Contains(sent, "Tall and pale with silver eyes.") {
		t.Errorf("template path must include appearance:\n%s", sent)
	}
	if resp.Text == "" || strings.HasPrefix(resp.Text, "Aria:") {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Text != "The shadows whisper your name, traveler." {
		t.Errorf("Text = %q", resp.Text)
	}

	hist := e.ConversationHistory("aria", "sam")
	if len(hist) != 2 || hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Fatalf("history = %+v", hist)
	}
	if hist[1].Content != resp.Text {
		t.Errorf("stored reply = %q", hist[1].Content)
	}
	st := e.CharacterState("aria")
	if st.Typing {
		t.Error("typing not cleared")
	}
	if !st.LastActive.Equal(evening) || st.Mood != "cheerful" {
		t.Errorf("state = %+v", st)
	}
	if g.ActiveCount() != 0 {
		t.Error("gate slot leaked")
	}
}

func TestGenerate_ComfortUsesComfortPhrase(t *testing.T) {
	gen := &fakeGenerator{text: "I'm here."}
	e := newEngine(t, gen, noRAG())

	resp, err := e.GenerateCharacterResponse(context.Background(), Request{
		CharacterID: "aria", Message: "I feel so lonely", UserID: "sam", UserName: "Sam",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.MessageType != MessageComfortNeeded || !resp.Templated {
		t.Errorf("resp = %+v", resp)
	}
	if !strings.Contains(gen.lastPrompt(), "Rest here a while, Sam.") {
		t.Errorf("prompt lacks comfort phrase:\n%s", gen.lastPrompt())
	}
}

func TestGenerate_Validation(t *testing.T) {
	e := newEngine(t, &fakeGenerator{text: "hi"}, noRAG())
	ctx := context.Background()

	if _, err := e.GenerateCharacterResponse(ctx, Request{CharacterID: "aria", Message: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
	if _, err := e.GenerateCharacterResponse(ctx, Request{Message: "hi"}); err == nil {
		t.Error("expected error for missing character id")
	}

	_, err := e.GenerateCharacterResponse(ctx, Request{CharacterID: "ghost", Message: "hi"})
	if !errors.Is(err, character.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if e.CharacterState("ghost").Typing {
		t.Error("typing set for a missing character")
	}
}

func TestGenerate_FallbackOnGateErrors(t *testing.T) {
	for _, gateErr := range []error{
		gate.ErrTooManyConcurrent,
		gate.ErrPromptTooLong,
		gate.ErrTimeout,
		&gate.UpstreamError{RequestID: "r", Err: errors.New("502")},
	} {
		t.Run(gateErr.Error(), func(t *testing.T) {
			e := newEngine(t, &fakeGenerator{err: gateErr}, noRAG())

			resp, err := e.GenerateCharacterResponse(context.Background(), Request{
				CharacterID: "aria", Message: "Tell me a story", UserID: "sam",
			})
			if err != nil {
				t.Fatalf("turn must not fail: %v", err)
			}
			if !resp.Fallback || resp.Text != FallbackApology {
				t.Errorf("resp = %+v", resp)
			}
			hist := e.ConversationHistory("aria", "sam")
			if len(hist) != 2 || hist[1].Content != FallbackApology || !hist[1].Fallback {
				t.Errorf("fallback not persisted: %+v", hist)
			}
			if e.CharacterState("aria").Typing {
				t.Error("typing not cleared after failure")
			}
		})
	}
}

func TestGenerate_TypingWhileGenerating(t *testing.T) {
	gen := &fakeGenerator{text: "Mm."}
	e := newEngine(t, gen, noRAG())
	var typing bool
	gen.during = func() { typing = e.CharacterState("aria").Typing }

	if _, err := e.GenerateCharacterResponse(context.Background(), Request{CharacterID: "aria", Message: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !typing {
		t.Error("typing must be set during generation")
	}
	if e.CharacterState("aria").Typing {
		t.Error("typing must be cleared afterwards")
	}
}

func TestGenerate_TemplateSubstitutionInMessage(t *testing.T) {
	gen := &fakeGenerator{text: "Indeed."}
	e := newEngine(t, gen, noRAG())
	e.SetCharacterLocation("aria", "the archive")

	_, err := e.GenerateCharacterResponse(context.Background(), Request{
		CharacterID: "aria", Message: "{{char}}, it is {{time_of_day}} at {{location}}.", UserID: "sam",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hist := e.ConversationHistory("aria", "sam")
	if want := "Aria, it is evening at the archive."; hist[0].Content != want {
		t.Errorf("user turn = %q, want %q", hist[0].Content, want)
	}
}

func TestGenerate_DynamicStrategies(t *testing.T) {
	t.Run("configured strategy without retrieval", func(t *testing.T) {
		gen := &fakeGenerator{text: "The tide waits for no one."}
		e := newEngine(t, gen, noRAG())
		resp, err := e.GenerateCharacterResponse(context.Background(), Request{
			CharacterID: "aria", Message: "The tide turned at dawn.",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Templated || resp.Strategy != prompt.StrategyOptimized {
			t.Errorf("resp = %+v", resp)
		}
		if got := prompt.AnalyzePrompt(gen.lastPrompt()).Strategy; got != prompt.StrategyOptimized {
			t.Errorf("prompt fingerprint = %q", got)
		}
	})

	t.Run("retrieval context selects rag-enhanced", func(t *testing.T) {
		gen := &fakeGenerator{text: "I remember the storm."}
		r := &fakeRetriever{ctx: rag.Context{
			CorePersona: "You are Aria, keeper of the archive.",
			Memories: []rag.Scored{{
				Record:     memory.Record{Content: "The storm of the long night.", Type: memory.TypeEmotionalEvent},
				Similarity: 0.9,
				Score:      0.9,
			}},
		}}
		e := newEngine(t, gen, WithRetriever(r))
		resp, err := e.GenerateCharacterResponse(context.Background(), Request{
			CharacterID: "aria", Message: "The storm last night was loud.",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Strategy != prompt.StrategyRAGEnhanced || resp.Degraded {
			t.Errorf("resp = %+v", resp)
		}
		got := gen.lastPrompt()
		if !strings.Contains(got, "You are Aria, keeper of the archive.") || !strings.Contains(got, "The storm of the long night.") {
			t.Errorf("prompt lacks retrieval context:\n%s", got)
		}
		if len(r.queries) != 1 || r.queries[0] != "The storm last night was loud." {
			t.Errorf("queries = %v", r.queries)
		}
	})

	t.Run("degraded retrieval falls back to history", func(t *testing.T) {
		gen := &fakeGenerator{text: "Yes."}
		r := &fakeRetriever{ctx: rag.Context{CorePersona: "You are Aria. Stay in character.", Degraded: true}}
		e := newEngine(t, gen, WithRetriever(r))
		e.convs.Append("aria", DefaultUserID,
			Turn{Role: "user", Content: "Remember the lantern?"},
			Turn{Role: "assistant", Content: "The blue lantern, yes."},
		)

		resp, err := e.GenerateCharacterResponse(context.Background(), Request{
			CharacterID: "aria", Message: "It flickered again.",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.Degraded || resp.Strategy != prompt.StrategyOptimized {
			t.Errorf("resp = %+v", resp)
		}
		if !strings.Contains(gen.lastPrompt(), "The blue lantern, yes.") {
			t.Errorf("prompt lacks history:\n%s", gen.lastPrompt())
		}
	})

	t.Run("chat messages", func(t *testing.T) {
		gen := &fakeGenerator{text: "<|im_start|>assistant\nAria: Of course."}
		cfg := DefaultConfig()
		cfg.UseRAG = false
		cfg.ChatMessages = true
		e := newEngine(t, gen, WithConfig(cfg))

		resp, err := e.GenerateCharacterResponse(context.Background(), Request{
			CharacterID: "aria", Message: "The wind is rising.",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		in := gen.inputs[0]
		if in.Prompt != "" || len(in.Messages) < 2 || in.Messages[0].Role != llm.RoleSystem {
			t.Fatalf("input = %+v", in)
		}
		if last := in.Messages[len(in.Messages)-1]; last.Content != "The wind is rising." {
			t.Errorf("last message = %+v", last)
		}
		if resp.Text != "Of course." {
			t.Errorf("Text = %q", resp.Text)
		}
	})
}

func TestGenerate_ForwardsParams(t *testing.T) {
	gen := &fakeGenerator{text: "ok"}
	cfg := DefaultConfig()
	cfg.UseRAG = false
	cfg.Model = "llama3.1:8b"
	cfg.MaxTokens = 99
	cfg.Temperature = 0.4
	e := newEngine(t, gen, WithConfig(cfg))

	if _, err := e.GenerateCharacterResponse(context.Background(), Request{CharacterID: "aria", Message: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := gate.Params{Model: "llama3.1:8b", MaxTokens: 99, Temperature: 0.4}
	if gen.params[0] != want {
		t.Errorf("params = %+v, want %+v", gen.params[0], want)
	}
}

func TestGenerate_Mood(t *testing.T) {
	e := newEngine(t, &fakeGenerator{text: "Thank you."}, noRAG())
	if _, err := e.GenerateCharacterResponse(context.Background(), Request{CharacterID: "aria", Message: "Your library is beautiful"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mood := e.CharacterState("aria").Mood; mood != "pleased" {
		t.Errorf("mood = %q, want pleased", mood)
	}

	// General messages keep the mood.
	if _, err := e.GenerateCharacterResponse(context.Background(), Request{CharacterID: "aria", Message: "The candle burned low."}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mood := e.CharacterState("aria").Mood; mood != "pleased" {
		t.Errorf("mood = %q, want pleased", mood)
	}
}

func TestGenerateStream(t *testing.T) {
	t.Run("strips label from the head only", func(t *testing.T) {
		gen := &fakeGenerator{chunks: []string{"Ar", "ia: The sha", "dows whisper", " softly."}}
		e := newEngine(t, gen, noRAG())

		var got []string
		resp, err := e.GenerateCharacterResponseStream(context.Background(),
			Request{CharacterID: "aria", Message: "Tell me about the tower"},
			func(s string) { got = append(got, s) },
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if joined := strings.Join(got, ""); joined != "The shadows whisper softly." {
			t.Errorf("streamed = %q", joined)
		}
		if resp.Text != "The shadows whisper softly." {
			t.Errorf("Text = %q", resp.Text)
		}
	})

	t.Run("short reply is flushed at the end", func(t *testing.T) {
		gen := &fakeGenerator{chunks: []string{"Aria: ", "Yes."}}
		e := newEngine(t, gen, noRAG())
		var got []string
		if _, err := e.GenerateCharacterResponseStream(context.Background(),
			Request{CharacterID: "aria", Message: "Is it late"},
			func(s string) { got = append(got, s) },
		); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0] != "Yes." {
			t.Errorf("streamed = %q", got)
		}
	})

	t.Run("failure streams the apology", func(t *testing.T) {
		gen := &fakeGenerator{err: gate.ErrTimeout}
		e := newEngine(t, gen, noRAG())
		var got []string
		resp, err := e.GenerateCharacterResponseStream(context.Background(),
			Request{CharacterID: "aria", Message: "Is it late"},
			func(s string) { got = append(got, s) },
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.Fallback || len(got) != 1 || got[0] != FallbackApology {
			t.Errorf("resp = %+v streamed = %q", resp, got)
		}
		if e.CharacterState("aria").Typing {
			t.Error("typing not cleared")
		}
	})
}

func TestGenerate_StoresConversationMemories(t *testing.T) {
	gen := &fakeGenerator{text: "The archive never sleeps."}
	r := &fakeRetriever{}
	cfg := DefaultConfig()
	cfg.StoreConversations = true
	e := newEngine(t, gen, WithRetriever(r), WithConfig(cfg))

	if _, err := e.GenerateCharacterResponse(context.Background(), Request{
		CharacterID: "aria", Message: "Does the archive sleep", UserName: "Sam",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Wait()

	if len(r.stored) != 1 {
		t.Fatalf("stored %d memories, want 1", len(r.stored))
	}
	rec := r.stored[0]
	if rec.Type != memory.TypeConversation || rec.Importance != memory.ImportanceLow {
		t.Errorf("record = %+v", rec)
	}
	if !strings.Contains(rec.Content, "Sam said: Does the archive sleep") || !strings.Contains(rec.Content, "Aria replied: The archive never sleeps.") {
		t.Errorf("content = %q", rec.Content)
	}

	// Fallback replies are not remembered.
	gen.err = gate.ErrTimeout
	if _, err := e.GenerateCharacterResponse(context.Background(), Request{CharacterID: "aria", Message: "Hello?"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Wait()
	if len(r.stored) != 1 {
		t.Errorf("stored %d memories after fallback, want 1", len(r.stored))
	}
}

func TestGenerate_StoreFailureIsSwallowed(t *testing.T) {
	r := &fakeRetriever{err: errors.New("db down")}
	cfg := DefaultConfig()
	cfg.StoreConversations = true
	e := newEngine(t, &fakeGenerator{text: "Fine."}, WithRetriever(r), WithConfig(cfg))

	resp, err := e.GenerateCharacterResponse(context.Background(), Request{CharacterID: "aria", Message: "ok"})
	e.Wait()
	if err != nil || resp.Fallback {
		t.Errorf("resp = %+v err = %v", resp, err)
	}
}

func TestGenerate_ConcurrentTurnsSameKey(t *testing.T) {
	gen := &fakeGenerator{text: "Noted.", during: func() { time.Sleep(time.Millisecond) }}
	e := newEngine(t, gen, noRAG())
	const n = 10
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.GenerateCharacterResponse(context.Background(), Request{
				CharacterID: "aria", Message: fmt.Sprintf("note %d", i), UserID: "sam",
				ConversationID: fmt.Sprintf("c%d", i),
			})
		}()
	}
	wg.Wait()

	history := e.ConversationHistory("aria", "sam")
	if len(history) != 2*n {
		t.Fatalf("history len = %d, want %d", len(history), 2*n)
	}
	for i := 0; i < len(history); i += 2 {
		u, a := history[i], history[i+1]
		if u.Role != "user" || a.Role != "assistant" || u.ConversationID != a.ConversationID {
			t.Fatalf("exchange %d interleaved: %s/%s then %s/%s", i/2, u.Role, u.ConversationID, a.Role, a.ConversationID)
		}
	}
}

// TestGenerate_LongHistoryFitsGate checks that a long conversation is trimmed
// to the gate's input cap instead of ending in the fallback apology.
func TestGenerate_LongHistoryFitsGate(t *testing.T) {
	for _, chat := range []bool{false, true} {
		t.Run(fmt.Sprintf("chat=%v", chat), func(t *testing.T) {
			p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "The harbour never sleeps."}}
			g, err := gate.New(p)
			if err != nil {
				t.Fatalf("gate.New: %v", err)
			}
			convs := NewMemConversations(0)
			for i := range 10 {
				role := "user"
				if i%2 == 1 {
					role = "assistant"
				}
				convs.Append("aria", "sam", Turn{Role: role, Content: fmt.Sprintf("old-%d %s", i, strings.Repeat("z", 1500))})
			}
			cfg := DefaultConfig()
			cfg.UseRAG = false
			cfg.ChatMessages = chat
			e := newEngine(t, g, WithConfig(cfg), WithConversations(convs))

			resp, err := e.GenerateCharacterResponse(context.Background(), Request{
				CharacterID: "aria", Message: "What do you think of the harbour?", UserID: "sam",
			})
			if err != nil {
				t.Fatalf("GenerateCharacterResponse: %v", err)
			}
			if resp.Fallback {
				t.Fatal("reply fell back; prompt was not trimmed to the gate cap")
			}
			in := gate.Input{Prompt: p.LastComplete().Prompt, Messages: p.LastComplete().Messages}
			if n := in.Len(); n > gate.DefaultMaxPromptChars {
				t.Errorf("input is %d characters, cap %d", n, gate.DefaultMaxPromptChars)
			}
		})
	}
}

func TestGenerate_TurnsOnDifferentKeysOverlap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	gen := &fakeGenerator{text: "ok", during: func() {
		entered <- struct{}{}
		<-release
	}}
	e := newEngine(t, gen, noRAG())

	var wg sync.WaitGroup
	for _, user := range []string{"sam", "kim"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.GenerateCharacterResponse(context.Background(), Request{CharacterID: "aria", Message: "hi", UserID: user})
		}()
	}
	for range 2 {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			close(release)
			t.Fatal("turns for different users should not wait on each other")
		}
	}
	close(release)
	wg.Wait()
}

func TestEngine_ConfigAndHealth(t *testing.T) {
	gen := &fakeGenerator{text: "ok"}
	e := newEngine(t, gen, noRAG())

	detailed := prompt.StrategyDetailed
	cfg, err := e.UpdateConfig(ConfigPatch{Strategy: &detailed})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if cfg.Strategy != prompt.StrategyDetailed || e.Config().Strategy != prompt.StrategyDetailed {
		t.Errorf("strategy not applied: %+v", cfg)
	}

	zero := 0
	if _, err := e.UpdateConfig(ConfigPatch{MaxTokens: &zero}); err == nil {
		t.Error("expected invalid patch to be rejected")
	}
	if e.Config().MaxTokens != DefaultConfig().MaxTokens {
		t.Error("rejected patch must not be applied partially")
	}

	for _, user := range []string{"sam", "kim"} {
		if _, err := e.GenerateCharacterResponse(context.Background(), Request{CharacterID: "aria", Message: "ok", UserID: user}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	h := e.HealthCheck()
	if h.Status != "ok" || h.ActiveCharacters != 1 || h.Conversations != 2 || h.BufferedMessages != 4 {
		t.Errorf("health = %+v", h)
	}
	if h.Config.Strategy != prompt.StrategyDetailed {
		t.Error("health must report current config")
	}

	e.ClearConversationHistory("aria", "sam")
	if len(e.ConversationHistory("aria", "sam")) != 0 {
		t.Error("history not cleared")
	}
	if n := e.ClearConversationHistoryForCharacter("aria"); n != 1 {
		t.Errorf("cleared %d, want 1", n)
	}

	e.SetCharacterTyping("aria", true)
	if !e.CharacterState("aria").Typing {
		t.Error("SetCharacterTyping not applied")
	}

	if n := e.EmergencyStop(); n != 2 || gen.stopped != 1 {
		t.Errorf("EmergencyStop = %d, stopped = %d", n, gen.stopped)
	}
	if e.ResourceUsage().MaxConcurrent != 3 {
		t.Error("ResourceUsage not forwarded")
	}
}
