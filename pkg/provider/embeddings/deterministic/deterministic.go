// Package deterministic provides an offline embeddings provider.
//
// Vectors are built from hashed word unigrams and bigrams, then L2
// normalised. Texts that share vocabulary land close together under cosine
// similarity, which is enough for local development and tests without any
// model or credentials. Output is stable across processes and platforms.
package deterministic

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/MrWong99/personae/pkg/provider/embeddings"
)

// DefaultDimensions is used when New is given a non-positive size.
const DefaultDimensions = 384

// ModelName is reported by ModelID.
const ModelName = "deterministic-hash-v1"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider without any external service.
type Provider struct {
	dims int
}

// New returns a Provider emitting vectors of length dims.
func New(dims int) *Provider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Provider{dims: dims}
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return ModelName }

func (p *Provider) vector(text string) []float32 {
	vec := make([]float64, p.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	for i, w := range words {
		p.add(vec, w, 1.0)
		if i > 0 {
			p.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, p.dims)
	if norm == 0 {
		// Empty input still yields a unit vector so cosine stays defined.
		out[0] = 1
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (p *Provider) add(vec []float64, token string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dims))
	// The top bit picks the sign so unrelated tokens cancel on average.
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
