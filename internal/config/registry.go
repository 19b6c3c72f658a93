package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/personae/internal/observe"
	"github.com/MrWong99/personae/internal/resilience"
	"github.com/MrWong99/personae/pkg/provider/embeddings"
	"github.com/MrWong99/personae/pkg/provider/embeddings/deterministic"
	geminiembed "github.com/MrWong99/personae/pkg/provider/embeddings/gemini"
	ollamaembed "github.com/MrWong99/personae/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/personae/pkg/provider/embeddings/openai"
	"github.com/MrWong99/personae/pkg/provider/llm"
	"github.com/MrWong99/personae/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/personae/pkg/provider/llm/openai"
)

// ErrProviderNotRegistered is returned when no factory exists for a name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds a text-generation provider from its config entry.
type LLMFactory func(ctx context.Context, entry ProviderEntry) (llm.Provider, error)

// EmbeddingsFactory builds an embeddings provider from its config entry.
type EmbeddingsFactory func(ctx context.Context, entry ProviderEntry) (embeddings.Provider, error)

// Registry maps provider names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]LLMFactory
	embeddings map[string]EmbeddingsFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]LLMFactory),
		embeddings: make(map[string]EmbeddingsFactory),
	}
}

// RegisterLLM registers factory under name, replacing any previous one.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers factory under name, replacing any previous
// one.
func (r *Registry) RegisterEmbeddings(name string, factory EmbeddingsFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateLLM builds the provider registered under entry.Name.
func (r *Registry) CreateLLM(ctx context.Context, entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry)
}

// CreateEmbeddings builds the provider registered under entry.Name.
func (r *Registry) CreateEmbeddings(ctx context.Context, entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry)
}

// BuildLLM creates the primary text-generation provider and its fallbacks,
// each behind a circuit breaker.
func (r *Registry) BuildLLM(ctx context.Context, cfg *Config, m *observe.Metrics) (*resilience.LLMFallback, error) {
	fbCfg := resilience.FallbackConfig{CircuitBreaker: cfg.Providers.CircuitBreaker.Breaker(), Metrics: m}

	primary, err := r.CreateLLM(ctx, cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("config: providers.llm: %w", err)
	}
	out := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, fbCfg)
	for i, e := range cfg.Providers.LLMFallbacks {
		p, err := r.CreateLLM(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("config: providers.llm_fallbacks[%d]: %w", i, err)
		}
		out.AddFallback(e.Name, p)
	}
	return out, nil
}

// BuildEmbeddings creates the primary embeddings provider and its
// fallbacks. Entries without a "dimensions" option get
// storage.embedding_dimensions so every vector fits the store.
func (r *Registry) BuildEmbeddings(ctx context.Context, cfg *Config, m *observe.Metrics) (*resilience.EmbeddingsFallback, error) {
	fbCfg := resilience.FallbackConfig{CircuitBreaker: cfg.Providers.CircuitBreaker.Breaker(), Metrics: m}
	dims := cfg.Storage.EmbeddingDimensions

	primary, err := r.CreateEmbeddings(ctx, withDimensions(cfg.Providers.Embeddings, dims))
	if err != nil {
		return nil, fmt.Errorf("config: providers.embeddings: %w", err)
	}
	if got := primary.Dimensions(); got != dims {
		return nil, fmt.Errorf("config: providers.embeddings produces %d dimensions but storage.embedding_dimensions is %d", got, dims)
	}
	out := resilience.NewEmbeddingsFallback(primary, cfg.Providers.Embeddings.Name, fbCfg)
	for i, e := range cfg.Providers.EmbeddingsFallbacks {
		p, err := r.CreateEmbeddings(ctx, withDimensions(e, dims))
		if err != nil {
			return nil, fmt.Errorf("config: providers.embeddings_fallbacks[%d]: %w", i, err)
		}
		if err := out.AddFallback(e.Name, p); err != nil {
			return nil, fmt.Errorf("config: providers.embeddings_fallbacks[%d]: %w", i, err)
		}
	}
	return out, nil
}

func withDimensions(e ProviderEntry, dims int) ProviderEntry {
	if _, ok := e.Options["dimensions"]; ok {
		return e
	}
	opts := make(map[string]any, len(e.Options)+1)
	maps.Copy(opts, e.Options)
	opts["dimensions"] = dims
	e.Options = opts
	return e
}

// IntOption returns the integer option key, or 0.
func (e ProviderEntry) IntOption(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// StringOption returns the string option key, or "".
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// DurationOption returns the duration option key, or 0. Values are Go duration
// strings such as "30s".
func (e ProviderEntry) DurationOption(key string) time.Duration {
	d, _ := time.ParseDuration(e.StringOption(key))
	return d
}

// DefaultRegistry returns a [Registry] with every built-in provider.
//
// LLM: "openai" uses the OpenAI SDK directly; the remaining names in
// ValidProviderNames["llm"] go through any-llm-go. Embeddings: "openai",
// "ollama", "gemini" and the offline "deterministic".
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterLLM("openai", func(_ context.Context, e ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if e.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(e.BaseURL))
		}
		if org := e.StringOption("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := e.DurationOption("timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(e.APIKey, e.Model, opts...)
	})
	for _, name := range ValidProviderNames["llm"] {
		if name == "openai" {
			continue
		}
		r.RegisterLLM(name, func(_ context.Context, e ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	r.RegisterEmbeddings("openai", func(_ context.Context, e ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if e.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(e.BaseURL))
		}
		if d := e.IntOption("dimensions"); d > 0 {
			opts = append(opts, oaembed.WithDimensions(d))
		}
		if d := e.DurationOption("timeout"); d > 0 {
			opts = append(opts, oaembed.WithTimeout(d))
		}
		return oaembed.New(e.APIKey, e.Model, opts...)
	})
	r.RegisterEmbeddings("ollama", func(_ context.Context, e ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if d := e.IntOption("dimensions"); d > 0 {
			opts = append(opts, ollamaembed.WithDimensions(d))
		}
		if d := e.DurationOption("timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		return ollamaembed.New(e.BaseURL, e.Model, opts...)
	})
	r.RegisterEmbeddings("gemini", func(ctx context.Context, e ProviderEntry) (embeddings.Provider, error) {
		var opts []geminiembed.Option
		if d := e.IntOption("dimensions"); d > 0 {
			opts = append(opts, geminiembed.WithDimensions(d))
		}
		if project := e.StringOption("project"); project != "" {
			opts = append(opts, geminiembed.WithVertexAI(project, e.StringOption("location")))
		}
		return geminiembed.New(ctx, e.APIKey, e.Model, opts...)
	})
	r.RegisterEmbeddings("deterministic", func(_ context.Context, e ProviderEntry) (embeddings.Provider, error) {
		return deterministic.New(e.IntOption("dimensions")), nil
	})

	return r
}
