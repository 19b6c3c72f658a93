// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text to dense float32 vectors. The memory layer
// stores one vector per memory record and the retrieval engine embeds each
// live query with the same provider, so a deployment must never mix vectors
// from different models.
//
// The concrete backend is chosen once at startup: openai, ollama and gemini
// call remote services, while deterministic produces stable hash-derived
// vectors with no credentials so the rest of the system runs offline.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for several texts in one call. The returned
	// slice always has len(texts) entries when err is nil; an entry is nil when
	// the backend returned no vector for that input. Callers must handle such
	// partial results per entry rather than assuming completeness.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the backend model identifier.
	ModelID() string
}

// Missing returns the indices of nil entries in a batch result.
func Missing(vecs [][]float32) []int {
	var out []int
	for i, v := range vecs {
		if len(v) == 0 {
			out = append(out, i)
		}
	}
	return out
}
