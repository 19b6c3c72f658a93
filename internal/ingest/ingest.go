// Package ingest turns a character profile into retrievable knowledge.
//
// [Ingester.IngestCharacterBio] renders the full biography, condenses it into
// a core persona, chunks the biography and replaces the character's
// bio_chunk memories with freshly embedded chunks. Every step reports its
// failures into the [Result] instead of aborting, so a partially successful
// run still leaves the character usable.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/observe"
	"github.com/MrWong99/personae/pkg/memory"
	"github.com/MrWong99/personae/pkg/provider/embeddings"
	"github.com/MrWong99/personae/pkg/provider/llm"
)

// bioTopic tags every bio chunk so it can be told apart in listings.
const bioTopic = "biography"

// Result summarises one ingestion run.
type Result struct {
	ChunksCreated        int      `json:"chunks_created"`
	EmbeddingsGenerated  int      `json:"embeddings_generated"`
	CorePersonaGenerated bool     `json:"core_persona_generated"`
	TotalTokensUsed      int      `json:"total_tokens_used"`
	Success              bool     `json:"success"`
	Errors               []string `json:"errors,omitempty"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Ingester runs the ingestion pipeline. It is safe for concurrent use as long
// as the injected stores and providers are.
type Ingester struct {
	chars    character.Store
	memories memory.Store
	embedder embeddings.Provider
	llm      llm.Provider

	chunkSize       int
	chunkOverlap    int
	personaMaxWords int
	metrics         *observe.Metrics
}

// Option configures an [Ingester].
type Option func(*Ingester)

// WithLLM enables model-written core personas. Without it the template
// summary is always used.
func WithLLM(p llm.Provider) Option {
	return func(in *Ingester) { in.llm = p }
}

// WithChunking overrides the chunk size and overlap in characters.
func WithChunking(size, overlap int) Option {
	return func(in *Ingester) {
		in.chunkSize = size
		in.chunkOverlap = overlap
	}
}

// WithPersonaMaxWords overrides the core persona word limit.
func WithPersonaMaxWords(n int) Option {
	return func(in *Ingester) { in.personaMaxWords = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(in *Ingester) { in.metrics = m }
}

// New creates an Ingester. chars, memories and embedder are required.
func New(chars character.Store, memories memory.Store, embedder embeddings.Provider, opts ...Option) (*Ingester, error) {
	if chars == nil {
		return nil, fmt.Errorf("ingest: character store must not be nil")
	}
	if memories == nil {
		return nil, fmt.Errorf("ingest: memory store must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingest: embeddings provider must not be nil")
	}

	in := &Ingester{
		chars:           chars,
		memories:        memories,
		embedder:        embedder,
		chunkSize:       DefaultChunkSize,
		chunkOverlap:    DefaultChunkOverlap,
		personaMaxWords: DefaultPersonaMaxWords,
	}
	for _, o := range opts {
		o(in)
	}
	if in.personaMaxWords <= 0 {
		in.personaMaxWords = DefaultPersonaMaxWords
	}
	if in.metrics == nil {
		in.metrics = observe.DefaultMetrics()
	}
	return in, nil
}

// IngestCharacterBio runs the full pipeline for one character. The only
// returned error is a failure to load the character (wrapping
// [character.ErrNotFound] when it does not exist); everything after that is
// reported through Result.Errors.
//
// Existing bio_chunk memories are replaced, never patched, so running it
// twice leaves the same number of chunks as running it once.
func (in *Ingester) IngestCharacterBio(ctx context.Context, characterID string) (*Result, error) {
	c, err := character.Lookup(ctx, in.chars, characterID)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	ctx = observe.WithCharacter(ctx, c.ID)
	log := observe.Logger(ctx).With("character", c.Name)
	res := &Result{}

	bio := RenderFullBio(c)
	if bio == "" {
		res.addError("biography is empty: no chunks created")
		log.Warn("ingest: empty biography")
		return res, nil
	}

	persona := in.corePersona(ctx, c, res, log)
	if err := in.chars.SetDerived(ctx, c.ID, bio, persona); err != nil {
		res.addError("save derived fields: %v", err)
		log.Error("ingest: failed to save derived fields", "err", err)
	}

	chunks := ChunkText(bio, in.chunkSize, in.chunkOverlap)
	if len(chunks) == 0 {
		res.addError("biography produced no chunks")
		return res, nil
	}

	in.replaceChunks(ctx, c.ID, chunks, res, log)
	res.Success = res.EmbeddingsGenerated == len(chunks) && res.ChunksCreated == len(chunks)

	log.Info("ingest: character ingested",
		"chunks", res.ChunksCreated,
		"embeddings", res.EmbeddingsGenerated,
		"persona_generated", res.CorePersonaGenerated,
		"tokens", res.TotalTokensUsed,
		"success", res.Success,
		"errors", len(res.Errors),
	)
	return res, nil
}

// corePersona returns the LLM summary when possible and the template summary
// otherwise. CorePersonaGenerated reports whether the model produced it.
func (in *Ingester) corePersona(ctx context.Context, c *character.Character, res *Result, log *slog.Logger) string {
	if in.llm != nil {
		summary, tokens, err := summarizePersona(ctx, in.llm, c, in.personaMaxWords)
		res.TotalTokensUsed += tokens
		if err == nil {
			res.CorePersonaGenerated = true
			return summary
		}
		res.addError("core persona: %v", err)
		log.Warn("ingest: persona summarisation failed, using template", "err", err)
	}
	return templatePersona(c, in.personaMaxWords)
}

// replaceChunks embeds chunks, removes the previous bio chunks and inserts
// the new ones. Embedding runs first so a provider outage leaves the old
// chunks in place.
func (in *Ingester) replaceChunks(ctx context.Context, characterID string, chunks []string, res *Result, log *slog.Logger) {
	start := time.Now()
	vectors, err := in.embedder.EmbedBatch(ctx, chunks)
	in.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		in.metrics.RecordProviderError(ctx, in.embedder.ModelID(), "embeddings")
		res.addError("embed chunks: %v", err)
		log.Error("ingest: batch embedding failed", "err", err, "chunks", len(chunks))
		return
	}

	now := time.Now().UTC()
	records := make([]memory.Record, 0, len(chunks))
	for i, chunk := range chunks {
		res.TotalTokensUsed += estimateTokens(chunk)
		if i >= len(vectors) || len(vectors[i]) == 0 {
			res.addError("chunk %d: no embedding returned", i)
			continue
		}
		res.EmbeddingsGenerated++
		records = append(records, memory.Record{
			CharacterID: characterID,
			Content:     chunk,
			Type:        memory.TypeBioChunk,
			Embedding:   vectors[i],
			Importance:  memory.ImportanceHigh,
			Topics:      []string{bioTopic},
			CreatedAt:   now,
		})
	}
	if missing := len(chunks) - res.EmbeddingsGenerated; missing > 0 {
		log.Warn("ingest: partial embedding batch", "missing", missing, "chunks", len(chunks))
	}

	removed, err := in.memories.DeleteByType(ctx, characterID, memory.TypeBioChunk)
	if err != nil {
		res.addError("delete previous bio chunks: %v", err)
		log.Error("ingest: failed to delete previous bio chunks", "err", err)
		return
	}
	if len(records) == 0 {
		return
	}

	if err := in.memories.Insert(ctx, records...); err != nil {
		res.addError("insert bio chunks: %v", err)
		log.Error("ingest: failed to insert bio chunks", "err", err)
		return
	}
	res.ChunksCreated = len(records)
	in.metrics.IngestedChunks.Add(ctx, int64(len(records)))
	log.Debug("ingest: bio chunks replaced", "removed", removed, "inserted", len(records))
}

// estimateTokens approximates token usage for embedded text at four
// characters per token.
func estimateTokens(s string) int {
	return (len([]rune(s)) + 3) / 4
}
