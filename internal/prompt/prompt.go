// Package prompt composes the text sent to the language model for a
// character turn.
//
// A [Strategy] selects how much of the profile is rendered. All strategies
// share one signature and are dispatched through a table, and every one of
// them ends with the same instruction footer: answer as the character and do
// not prefix the reply with the character's name. When retrieval context is
// available the rag-enhanced strategy is used regardless of the requested
// one.
//
// Chat-completion backends use [BuildChatMessages] instead, which splits the
// same information into a system message and a bounded message history.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/pkg/provider/llm"
)

// Strategy names a prompt layout.
type Strategy string

// Available strategies.
const (
	StrategyMinimal        Strategy = "minimal"
	StrategyDetailed       Strategy = "detailed"
	StrategyStructured     Strategy = "structured"
	StrategyConversational Strategy = "conversational"
	StrategyExamples       Strategy = "examples"
	StrategyOptimized      Strategy = "optimized"
	StrategyRAGEnhanced    Strategy = "rag-enhanced"
)

// DefaultStrategy is used when none is configured.
const DefaultStrategy = StrategyOptimized

// AllStrategies returns every strategy in a stable order.
func AllStrategies() []Strategy {
	return []Strategy{
		StrategyMinimal, StrategyDetailed, StrategyStructured, StrategyConversational,
		StrategyExamples, StrategyOptimized, StrategyRAGEnhanced,
	}
}

// ParseStrategy converts s into a Strategy. Empty input yields
// [DefaultStrategy].
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return DefaultStrategy, nil
	}
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := builders[st]; !ok {
		return "", fmt.Errorf("prompt: unknown strategy %q", s)
	}
	return st, nil
}

// Context is everything besides the profile and the message that shapes a
// prompt.
type Context struct {
	// History holds previous turns, oldest first. Only user and assistant
	// roles are rendered.
	History []llm.Message

	// Mood is the character's current mood, if tracked.
	Mood string

	// Session fills template placeholders and the time of day.
	Session SessionContext

	// RAG, when non-nil, forces the rag-enhanced strategy.
	RAG *rag.Context

	// IncludeAppearance adds the physical description to the minimal
	// strategy. Used for greetings and comfort replies.
	IncludeAppearance bool

	// ReplyHint is a line the minimal strategy offers as a model for the
	// reply, typically the character's greeting or comfort phrase.
	ReplyHint string

	// MaxChars, when positive, is the size budget of the rendered prompt.
	// Oldest history turns go first, then the lowest-ranked memories. The
	// persona, the user message and the footer are always kept.
	MaxChars int
}

// builder renders a prompt for one strategy.
type builder func(c *character.Character, userMessage string, pc Context) string

// builders must hold an entry for every value returned by [AllStrategies].
var builders = map[Strategy]builder{
	StrategyMinimal:        buildMinimal,
	StrategyDetailed:       buildDetailed,
	StrategyStructured:     buildStructured,
	StrategyConversational: buildConversational,
	StrategyExamples:       buildExamples,
	StrategyOptimized:      buildOptimized,
	StrategyRAGEnhanced:    buildRAGEnhanced,
}

// Build renders the prompt for c and userMessage. Unknown strategies fall
// back to [DefaultStrategy]. A non-nil pc.RAG always selects the
// rag-enhanced strategy. A positive pc.MaxChars trims history and
// memories until the prompt fits.
func Build(c *character.Character, userMessage string, pc Context, s Strategy) string {
	if c == nil {
		c = &character.Character{}
	}
	if pc.RAG != nil {
		s = StrategyRAGEnhanced
	}
	b, ok := builders[s]
	if !ok {
		b = builders[DefaultStrategy]
	}
	msg := strings.TrimSpace(userMessage)
	return fit(pc,
		func(pc Context) string { return b(c, msg, pc) },
		utf8.RuneCountInString,
	)
}

// Footer is the closing instruction shared by all strategies.
func Footer(c *character.Character) string {
	name := displayName(c)
	return fmt.Sprintf("Respond as %s, speaking in first person. Do not begin your reply with your own name or any speaker label.", name)
}

func displayName(c *character.Character) string {
	if c != nil && strings.TrimSpace(c.Name) != "" {
		return strings.TrimSpace(c.Name)
	}
	return "the character"
}
