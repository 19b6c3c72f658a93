// Package rag assembles retrieval-augmented context for character replies.
//
// A [Retriever] embeds the user's message, pulls the nearest memories of the
// character from a [memory.Store] and ranks them by similarity weighted with
// emotional weight, importance and recency. Retrieval never blocks a reply:
// on any failure [Retriever.GetCharacterContextForLLM] returns the core
// persona alone and marks the context as degraded.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/observe"
	"github.com/MrWong99/personae/pkg/memory"
	"github.com/MrWong99/personae/pkg/provider/embeddings"
)

// Context is the retrieval result handed to the prompt composer.
type Context struct {
	CorePersona   string        `json:"core_persona"`
	Memories      []Scored      `json:"relevant_memories"`
	RetrievalTime time.Duration `json:"retrieval_time"`

	// Degraded is set when retrieval failed and only the persona is present.
	Degraded bool `json:"degraded,omitempty"`
}

// Retriever implements memory storage and retrieval for characters.
type Retriever struct {
	chars    character.Store
	memories memory.Store
	embedder embeddings.Provider
	defaults Options
	metrics  *observe.Metrics
	now      func() time.Time
}

// RetrieverOption configures a [Retriever].
type RetrieverOption func(*Retriever)

// WithDefaults sets the options every retrieval starts from.
func WithDefaults(o Options) RetrieverOption {
	return func(r *Retriever) { r.defaults = o }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// WithClock overrides the time source used for recency and pruning.
func WithClock(now func() time.Time) RetrieverOption {
	return func(r *Retriever) { r.now = now }
}

// New creates a Retriever.
func New(chars character.Store, memories memory.Store, embedder embeddings.Provider, opts ...RetrieverOption) (*Retriever, error) {
	if chars == nil || memories == nil || embedder == nil {
		return nil, fmt.Errorf("rag: character store, memory store and embedder are required")
	}
	r := &Retriever{
		chars:    chars,
		memories: memories,
		embedder: embedder,
		defaults: DefaultOptions(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// FallbackPersona is the persona used for characters that have not been
// ingested yet.
func FallbackPersona(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Stay in character."
	}
	return fmt.Sprintf("You are %s. Stay in character.", name)
}

// CorePersona returns the ingested persona of c or the fallback.
func CorePersona(c *character.Character) string {
	if c == nil {
		return FallbackPersona("")
	}
	if p := strings.TrimSpace(c.CorePersona); p != "" {
		return p
	}
	return FallbackPersona(c.Name)
}

// GetCharacterContextForLLM builds the retrieval context for one user turn.
// The persona lookup and the query embedding run concurrently. It never
// returns an error; failures yield a persona-only context with Degraded set.
func (r *Retriever) GetCharacterContextForLLM(ctx context.Context, characterID, query string, opts ...Option) Context {
	start := time.Now()
	o := r.defaults
	for _, fn := range opts {
		fn(&o)
	}
	ctx, span := observe.StartSpan(observe.WithCharacter(ctx, characterID), "rag.context")
	defer span.End()
	log := observe.Logger(ctx)

	var (
		persona    string
		personaErr error
		vector     []float32
	)
	// A plain group: a failed embedding must not cancel the persona lookup.
	var g errgroup.Group
	g.Go(func() error {
		c, err := character.Lookup(ctx, r.chars, characterID)
		if err != nil {
			personaErr = err
			persona = FallbackPersona("")
			return nil
		}
		persona = CorePersona(c)
		return nil
	})
	if strings.TrimSpace(query) != "" {
		g.Go(func() error {
			v, err := r.embed(ctx, query)
			if err != nil {
				return err
			}
			vector = v
			return nil
		})
	}
	err := g.Wait()

	rc := Context{CorePersona: persona}
	if personaErr != nil {
		log.Warn("rag: persona lookup failed", "err", personaErr)
		rc.Degraded = true
	}
	if err == nil && vector != nil {
		var scored []Scored
		scored, err = r.search(ctx, characterID, vector, o)
		rc.Memories = scored
	}
	if err != nil {
		log.Warn("rag: retrieval failed, using persona only", "err", err)
		rc.Memories = nil
		rc.Degraded = true
	}

	if rc.Degraded {
		r.metrics.RetrievalDegraded.Add(ctx, 1)
	}
	rc.RetrievalTime = time.Since(start)
	r.metrics.RetrievalDuration.Record(ctx, rc.RetrievalTime.Seconds())
	return rc
}

// SearchMemories ranks the character's memories against query using the
// same scoring as [Retriever.GetCharacterContextForLLM]. Unlike that method
// it returns errors instead of degrading.
func (r *Retriever) SearchMemories(ctx context.Context, characterID, query string, o Options) ([]Scored, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("rag: search: query must not be empty")
	}
	vector, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	scored, err := r.search(ctx, characterID, vector, o)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	return scored, nil
}

func (r *Retriever) search(ctx context.Context, characterID string, vector []float32, o Options) ([]Scored, error) {
	o = o.normalized()
	filter := memory.Filter{Types: o.MemoryTypes}
	if o.MinSimilarity > 0 && o.MinSimilarity < 1 {
		filter.MaxDistance = 1 - o.MinSimilarity
	}
	// Weighting can lift a distant memory above closer ones, so every
	// memory past the similarity floor is ranked, not a nearest-k pool.
	neighbors, err := r.memories.Nearest(ctx, characterID, vector, filter, 0)
	if err != nil {
		return nil, fmt.Errorf("nearest memories: %w", err)
	}
	return Rank(neighbors, o, r.now()), nil
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := r.embedder.Embed(ctx, text)
	r.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordProviderError(ctx, r.embedder.ModelID(), "embeddings")
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("embed query: empty vector")
	}
	return v, nil
}
