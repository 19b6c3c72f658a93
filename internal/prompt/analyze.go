package prompt

import "strings"

// Complexity buckets a prompt by estimated size.
type Complexity string

// Complexity levels.
const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Analysis describes a rendered prompt. It is diagnostic only.
type Analysis struct {
	EstimatedTokens int        `json:"estimated_tokens"`
	Complexity      Complexity `json:"complexity"`

	// Strategy is the strategy that most likely produced the prompt, or
	// empty when no fingerprint matched.
	Strategy Strategy `json:"strategy,omitempty"`
}

// fingerprints are checked in order; the first match wins.
var fingerprints = []struct {
	marker   string
	strategy Strategy
}{
	{markerRAG, StrategyRAGEnhanced},
	{markerExamples, StrategyExamples},
	{markerConversational, StrategyConversational},
	{markerStructured, StrategyStructured},
	{markerDetailed, StrategyDetailed},
	{markerOptimized, StrategyOptimized},
	{markerMinimal, StrategyMinimal},
}

// AnalyzePrompt estimates the token count of text as words × 1.3, buckets it
// (under 200 low, under 400 medium, else high) and guesses the strategy
// from structural markers.
func AnalyzePrompt(text string) Analysis {
	words := len(strings.Fields(text))
	// words × 1.3 rounded up, in integer arithmetic.
	tokens := (words*13 + 9) / 10

	a := Analysis{EstimatedTokens: tokens}
	switch {
	case tokens < 200:
		a.Complexity = ComplexityLow
	case tokens < 400:
		a.Complexity = ComplexityMedium
	default:
		a.Complexity = ComplexityHigh
	}
	for _, fp := range fingerprints {
		if strings.Contains(text, fp.marker) {
			a.Strategy = fp.strategy
			break
		}
	}
	return a
}
