package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/personae/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover. All
// backends must produce vectors of the same length; mixing models with
// equal dimensions is allowed but makes stored vectors less comparable, so
// fallbacks are best reserved for another deployment of the same model.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	if cfg.Kind == "" {
		cfg.Kind = "embeddings"
	}
	return &EmbeddingsFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend. It fails when the backend's
// dimensions differ from the primary's.
func (f *EmbeddingsFallback) AddFallback(name string, p embeddings.Provider) error {
	if want, got := f.group.Primary().Dimensions(), p.Dimensions(); want != got {
		return fmt.Errorf("resilience: embeddings fallback %q has %d dimensions, primary has %d", name, got, want)
	}
	f.group.AddFallback(name, p)
	return nil
}

// Status reports the breaker state of each backend.
func (f *EmbeddingsFallback) Status() []EntryStatus { return f.group.Status() }

// Healthy reports whether any backend accepts calls.
func (f *EmbeddingsFallback) Healthy() bool { return f.group.Healthy() }

// Embed implements [embeddings.Provider].
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch implements [embeddings.Provider].
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions implements [embeddings.Provider].
func (f *EmbeddingsFallback) Dimensions() int { return f.group.Primary().Dimensions() }

// ModelID implements [embeddings.Provider]. It reports the primary model.
func (f *EmbeddingsFallback) ModelID() string { return f.group.Primary().ModelID() }
