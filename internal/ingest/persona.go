package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/pkg/provider/llm"
)

// DefaultPersonaMaxWords bounds the core persona summary.
const DefaultPersonaMaxWords = 200

// bioExcerptRunes caps the biography excerpt passed to the summariser.
const bioExcerptRunes = 1500

const personaSystemPrompt = `You condense roleplay character profiles into a core persona.
Write in second person ("You are ..."), present tense, as one or two short paragraphs.
Cover personality, way of speaking, motivation and boundaries.
Never describe physical appearance, clothing or colors.
Do not use headings, lists or quotation marks. Use at most %d words.`

// summarizePersona asks the LLM for a core persona. It returns the cleaned
// summary and the tokens consumed.
func summarizePersona(ctx context.Context, p llm.Provider, c *character.Character, maxWords int) (string, int, error) {
	source := personaSource(c)
	excerpt := source
	if r := []rune(excerpt); len(r) > bioExcerptRunes {
		excerpt = string(r[:bioExcerptRunes])
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Character: %s\n", c.Name)
	if traits := joinNonEmpty(c.AllTraits(), ", "); traits != "" {
		fmt.Fprintf(&prompt, "Traits: %s\n", traits)
	}
	if tones := joinNonEmpty(c.Voice.Tones, ", "); tones != "" {
		fmt.Fprintf(&prompt, "Tone: %s\n", tones)
	}
	if c.Motivation != "" {
		fmt.Fprintf(&prompt, "Motivation: %s\n", c.Motivation)
	}
	fmt.Fprintf(&prompt, "\nProfile excerpt:\n%s", excerpt)

	resp, err := p.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(personaSystemPrompt, maxWords),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt.String()}},
		Temperature:  0.3,
		MaxTokens:    maxWords * 2,
	})
	if err != nil {
		return "", 0, fmt.Errorf("summarize persona: %w", err)
	}
	if resp == nil {
		return "", 0, fmt.Errorf("summarize persona: empty response")
	}

	tokens := resp.Usage.TotalTokens
	summary := truncateWords(strings.TrimSpace(resp.Content), maxWords)
	if summary == "" {
		return "", tokens, fmt.Errorf("summarize persona: model returned no text")
	}
	return summary, tokens, nil
}

// templatePersona assembles a persona from trait lists. It never returns an
// empty string for a named character and never mentions appearance.
func templatePersona(c *character.Character, maxWords int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s", strings.TrimSpace(c.Name))
	switch {
	case c.Archetype != "" && c.Role != "":
		fmt.Fprintf(&sb, ", %s and %s", article(c.Archetype), c.Role)
	case c.Archetype != "":
		fmt.Fprintf(&sb, ", %s", article(c.Archetype))
	case c.Role != "":
		fmt.Fprintf(&sb, ", %s", c.Role)
	}
	sb.WriteString(".")

	if primary := joinNonEmpty(c.Personality.Primary, ", "); primary != "" {
		fmt.Fprintf(&sb, " You are %s", primary)
		if secondary := joinNonEmpty(c.Personality.Secondary, ", "); secondary != "" {
			fmt.Fprintf(&sb, ", and at times %s", secondary)
		}
		sb.WriteString(".")
	}
	if tones := joinNonEmpty(c.Voice.Tones, ", "); tones != "" {
		fmt.Fprintf(&sb, " Your tone is %s", tones)
		if c.Voice.Pacing != "" {
			fmt.Fprintf(&sb, " with a %s pace", c.Voice.Pacing)
		}
		sb.WriteString(".")
	}
	if quirks := joinNonEmpty(c.Personality.Quirks, "; "); quirks != "" {
		fmt.Fprintf(&sb, " Quirks: %s.", quirks)
	}
	if m := strings.TrimSpace(c.Motivation); m != "" {
		fmt.Fprintf(&sb, " What drives you: %s", strings.TrimRight(m, "."))
		sb.WriteString(".")
	}
	if style := strings.TrimSpace(c.InteractionStyle); style != "" {
		fmt.Fprintf(&sb, " With others you are %s", strings.TrimRight(style, "."))
		sb.WriteString(".")
	}
	if forbidden := joinNonEmpty(c.Boundaries.ForbiddenTopics, ", "); forbidden != "" {
		fmt.Fprintf(&sb, " You refuse to discuss %s.", forbidden)
	}

	out := truncateWords(sb.String(), maxWords)
	if out == "" {
		return "You are a character. Stay in character."
	}
	return out
}

func article(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	switch strings.ToLower(s[:1]) {
	case "a", "e", "i", "o", "u":
		return "an " + s
	}
	return "a " + s
}

// truncateWords keeps at most n whitespace-separated words. Internal
// whitespace is normalised to single spaces except for paragraph breaks.
func truncateWords(s string, n int) string {
	if n <= 0 {
		return strings.TrimSpace(s)
	}
	paragraphs := strings.Split(strings.TrimSpace(s), "\n\n")
	var out []string
	remaining := n
	for _, p := range paragraphs {
		words := strings.Fields(p)
		if len(words) == 0 {
			continue
		}
		if len(words) > remaining {
			words = words[:remaining]
		}
		out = append(out, strings.Join(words, " "))
		remaining -= len(words)
		if remaining == 0 {
			break
		}
	}
	return strings.Join(out, "\n\n")
}
