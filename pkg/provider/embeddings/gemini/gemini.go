// Package gemini provides an embeddings provider backed by the Google Gemini
// API through google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/MrWong99/personae/pkg/provider/embeddings"
)

// DefaultModel is the default Gemini embeddings model.
const DefaultModel = "gemini-embedding-001"

// defaultDimensions is the native output length of gemini-embedding-001.
const defaultDimensions = 3072

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the Gemini API.
type Provider struct {
	client     *genai.Client
	model      string
	dimensions int
}

type config struct {
	dimensions int
	backend    genai.Backend
	project    string
	location   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithDimensions truncates output vectors to dims, which must match the
// memory store's vector column.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// WithVertexAI routes requests through Vertex AI instead of the Gemini API.
func WithVertexAI(project, location string) Option {
	return func(c *config) {
		c.backend = genai.BackendVertexAI
		c.project = project
		c.location = location
	}
}

// New constructs a Gemini embeddings provider. If model is empty,
// DefaultModel is used.
func New(ctx context.Context, apiKey string, model string, opts ...Option) (*Provider, error) {
	cfg := &config{backend: genai.BackendGeminiAPI}
	for _, o := range opts {
		o(cfg)
	}
	if apiKey == "" && cfg.backend == genai.BackendGeminiAPI {
		return nil, fmt.Errorf("gemini embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:   apiKey,
		Backend:  cfg.backend,
		Project:  cfg.project,
		Location: cfg.location,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: create client: %w", err)
	}
	return &Provider{client: client, model: model, dimensions: cfg.dimensions}, nil
}

func (p *Provider) embedConfig() *genai.EmbedContentConfig {
	if p.dimensions <= 0 {
		return nil
	}
	d := int32(p.dimensions)
	return &genai.EmbedContentConfig{OutputDimensionality: &d}
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Models.EmbedContent(ctx, p.model, genai.Text(text), p.embedConfig())
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini embeddings: empty response")
	}
	return resp.Embeddings[0].Values, nil
}

// EmbedBatch implements embeddings.Provider. Each text becomes one content
// entry in a single request; missing embeddings are left nil.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, p.embedConfig())
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed batch: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		slog.Warn("gemini embeddings: partial batch", "model", p.model, "inputs", len(texts), "vectors", len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if i >= len(out) {
			break
		}
		if e != nil {
			out[i] = e.Values
		}
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	return defaultDimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}
