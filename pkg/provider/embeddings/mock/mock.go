// Package mock provides a test double for the embeddings.Provider interface.
//
// By default every text maps to a fixed vector. EmbedFunc, when set, computes
// a vector per text, which lets tests model similarity directly:
//
//	p := &mock.Provider{
//	    DimensionsValue: 3,
//	    EmbedFunc: func(text string) []float32 {
//	        if strings.Contains(text, "ocean") {
//	            return []float32{1, 0, 0}
//	        }
//	        return []float32{0, 1, 0}
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/personae/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a recording mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedFunc, if non-nil, computes the vector for each text in both Embed
	// and EmbedBatch. Returning nil from EmbedBatch yields a missing entry.
	EmbedFunc func(text string) []float32

	// EmbedErr, if non-nil, is returned by Embed.
	EmbedErr error

	// EmbedBatchErr, if non-nil, is returned by EmbedBatch.
	EmbedBatchErr error

	// BatchLimit truncates EmbedBatch results to the first BatchLimit entries
	// when positive. The remaining entries are nil.
	BatchLimit int

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records every text passed to Embed.
	EmbedCalls []string

	// EmbedBatchCalls records a copy of every slice passed to EmbedBatch.
	EmbedBatchCalls [][]string
}

func (p *Provider) vector(text string) []float32 {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return p.EmbedResult
}

// Embed records the call and returns the configured vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vector(text), nil
}

// EmbedBatch records the call and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, cp)
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if p.BatchLimit > 0 && i >= p.BatchLimit {
			break
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// EmbedCallCount returns the number of Embed calls so far.
func (p *Provider) EmbedCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}
