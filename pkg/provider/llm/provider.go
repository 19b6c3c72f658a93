// Package llm defines the Provider interface for text-generation backends.
//
// A provider wraps a remote or local chat model (OpenAI, any backend reachable
// through any-llm-go, a local llama.cpp server, ...) and exposes the narrow
// surface the character engine needs: a blocking completion, a streaming
// completion, and a rough token estimate. The generation safety gate is the
// only caller that talks to a Provider during a chat turn; ingestion uses it
// for core-persona summarisation.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// Roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a streamed chunk that carries a mid-stream failure
// in its Text field.
const FinishReasonError = "error"

// Message is one entry of a chat-completion conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser, RoleAssistant.
	Role string

	// Content is the message text.
	Content string

	// Name optionally identifies the speaker (user id or character name).
	Name string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Either Prompt or Messages must be set. When Prompt is set it is sent as a
// single user message after the optional SystemPrompt.
type CompletionRequest struct {
	// Prompt is a fully composed single-string prompt.
	Prompt string

	// Messages is the ordered conversation for chat-style generation.
	Messages []Message

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Temperature in [0.0, 2.0]. Zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// Model overrides the provider's configured model for this request.
	Model string
}

// AllMessages flattens the request into the message list a chat backend
// receives: system prompt first, then either the explicit messages or the
// single prompt as a user turn.
func (r CompletionRequest) AllMessages() []Message {
	out := make([]Message, 0, len(r.Messages)+2)
	if r.SystemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	if len(r.Messages) > 0 {
		return append(out, r.Messages...)
	}
	if r.Prompt != "" {
		out = append(out, Message{Role: RoleUser, Content: r.Prompt})
	}
	return out
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text of this chunk.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", or
	// FinishReasonError). Empty for intermediate chunks.
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelCapabilities is static metadata about the configured model.
type ModelCapabilities struct {
	ContextWindow     int
	MaxOutputTokens   int
	SupportsStreaming bool
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// StreamCompletion starts a streaming generation. The returned channel is
	// closed when generation finishes or ctx is cancelled. Failures after the
	// stream started are surfaced as a Chunk with FinishReason ==
	// FinishReasonError. The channel is never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the tokens the message list would consume. It need
	// not be exact but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata for the configured model.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the shared chars/4 heuristic used by providers that have
// no tokeniser endpoint. Each message carries a small fixed overhead for role
// and formatting tokens.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
