package engine

import (
	"errors"
	"fmt"

	"github.com/MrWong99/personae/internal/prompt"
)

// Config holds the runtime-tunable generation settings.
type Config struct {
	Strategy prompt.Strategy `json:"strategy"`

	// UseRAG enables retrieval of persona and memories for every turn.
	UseRAG bool `json:"use_rag"`

	// ChatMessages sends a system message plus message history instead of a
	// single rendered prompt on the dynamic path.
	ChatMessages bool `json:"chat_messages"`

	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// HistoryTurns is the number of past turns offered to the prompt and
	// used as the fallback context when retrieval degrades.
	HistoryTurns int `json:"history_turns"`

	// StoreConversations persists every exchange as a conversation memory.
	StoreConversations bool `json:"store_conversations"`

	MaxResults    int     `json:"max_results"`
	MinSimilarity float64 `json:"min_similarity"`
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Strategy:      prompt.DefaultStrategy,
		UseRAG:        true,
		MaxTokens:     150,
		Temperature:   0.8,
		HistoryTurns:  prompt.MaxChatHistory,
		MaxResults:    3,
		MinSimilarity: 0.7,
	}
}

// Validate returns every problem with c joined, or nil.
func (c Config) Validate() error {
	var errs []error
	if _, err := prompt.ParseStrategy(string(c.Strategy)); err != nil {
		errs = append(errs, err)
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("engine: max_tokens must be positive, got %d", c.MaxTokens))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("engine: temperature must be within [0, 2], got %g", c.Temperature))
	}
	if c.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("engine: history_turns must not be negative, got %d", c.HistoryTurns))
	}
	if c.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("engine: max_results must be positive, got %d", c.MaxResults))
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("engine: min_similarity must be within [0, 1], got %g", c.MinSimilarity))
	}
	return errors.Join(errs...)
}

// ConfigPatch is a partial update. Nil fields are left unchanged.
type ConfigPatch struct {
	Strategy           *prompt.Strategy `json:"strategy,omitempty"`
	UseRAG             *bool            `json:"use_rag,omitempty"`
	ChatMessages       *bool            `json:"chat_messages,omitempty"`
	Model              *string          `json:"model,omitempty"`
	MaxTokens          *int             `json:"max_tokens,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	HistoryTurns       *int             `json:"history_turns,omitempty"`
	StoreConversations *bool            `json:"store_conversations,omitempty"`
	MaxResults         *int             `json:"max_results,omitempty"`
	MinSimilarity      *float64         `json:"min_similarity,omitempty"`
}

// Apply returns c with p merged in.
func (p ConfigPatch) Apply(c Config) Config {
	if p.Strategy != nil {
		c.Strategy = *p.Strategy
	}
	if p.UseRAG != nil {
		c.UseRAG = *p.UseRAG
	}
	if p.ChatMessages != nil {
		c.ChatMessages = *p.ChatMessages
	}
	if p.Model != nil {
		c.Model = *p.Model
	}
	if p.MaxTokens != nil {
		c.MaxTokens = *p.MaxTokens
	}
	if p.Temperature != nil {
		c.Temperature = *p.Temperature
	}
	if p.HistoryTurns != nil {
		c.HistoryTurns = *p.HistoryTurns
	}
	if p.StoreConversations != nil {
		c.StoreConversations = *p.StoreConversations
	}
	if p.MaxResults != nil {
		c.MaxResults = *p.MaxResults
	}
	if p.MinSimilarity != nil {
		c.MinSimilarity = *p.MinSimilarity
	}
	return c
}
