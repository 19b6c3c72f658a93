// Package sanitize cleans raw model output before it is shown to a user or
// stored in conversation history.
//
// [CleanResponse] handles the common leaks of instruction-tuned models: a
// speaker label in front of the reply, a leading out-of-character aside and
// empty output. [CleanChatCompletion] additionally removes chat-template
// tokens, cuts runaway continuations that speak for the user, drops
// sentences repeated from recent turns and tidies action markup.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/MrWong99/personae/internal/prompt"
)

// Fallback replies.
const (
	FallbackEmpty     = "I'm here with you."
	FallbackListening = "I'm listening."
)

var (
	bareParenthetical    = regexp.MustCompile(`^\([^()]*\)$`)
	leadingParenthetical = regexp.MustCompile(`^\([^()]*\)\s*`)

	// genericCharacterLabel catches "Some Character:" style labels. It can
	// remove legitimate text that starts with such a phrase.
	genericCharacterLabel = regexp.MustCompile(`(?i)^[\w' ]{0,40}?\bcharacter\s*:\s*`)
)

// namePrefixPatterns returns the speaker-label patterns for name in match
// order.
func namePrefixPatterns(name string) []*regexp.Regexp {
	q := regexp.QuoteMeta(strings.TrimSpace(name))
	if q == "" {
		return []*regexp.Regexp{genericCharacterLabel}
	}
	return []*regexp.Regexp{
		regexp.MustCompile(fmt.Sprintf(`(?i)^\*{0,2}%s\*{0,2}\s*:\s*`, q)),
		regexp.MustCompile(fmt.Sprintf(`(?i)^%s\s+[-–—]\s*`, q)),
		regexp.MustCompile(fmt.Sprintf(`(?i)^%s\s+(?:says|said|replies|replied)\s*:?\s*`, q)),
		regexp.MustCompile(fmt.Sprintf(`(?i)^["“']%s["”']\s*:\s*`, q)),
		genericCharacterLabel,
	}
}

// CleanResponse applies, in order: an empty-output fallback, removal of one
// speaker label, removal of a leading parenthetical aside, removal of a
// leading quote exposed by that cleaning (only when the raw text did not
// open with one), placeholder substitution and a final empty-output
// fallback.
func CleanResponse(raw, characterName string, sc prompt.SessionContext) string {
	text := strings.TrimSpace(raw)
	if text == "" || bareParenthetical.MatchString(text) {
		return FallbackEmpty
	}

	before := text
	text = strings.TrimSpace(StripNamePrefix(text, characterName))

	text = strings.TrimSpace(leadingParenthetical.ReplaceAllString(text, ""))

	if text != before && !startsWithQuote(before) {
		text = dropExposedQuote(text)
	}

	if sc.CharacterName == "" {
		sc.CharacterName = characterName
	}
	text = strings.TrimSpace(prompt.ApplyTemplate(text, sc))

	if text == "" {
		return FallbackListening
	}
	return text
}

// StripNamePrefix removes at most one speaker label from the start of text,
// first matching pattern wins. Leading whitespace is dropped; the rest of
// text is returned unchanged, which suits the head of a token stream.
func StripNamePrefix(text, name string) string {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	for _, re := range namePrefixPatterns(name) {
		if loc := re.FindStringIndex(text); loc != nil {
			return text[loc[1]:]
		}
	}
	return text
}

var openingQuotes = []string{`"`, "“"}

func startsWithQuote(text string) bool {
	for _, q := range openingQuotes {
		if strings.HasPrefix(text, q) {
			return true
		}
	}
	return false
}

// dropExposedQuote removes a leading double quote and, when it closes the
// same span, the matching trailing quote.
func dropExposedQuote(text string) string {
	for _, open := range openingQuotes {
		if !strings.HasPrefix(text, open) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(text, open))
		for _, closing := range []string{`"`, "”"} {
			if strings.HasSuffix(rest, closing) && strings.Count(rest, closing) == 1 {
				rest = strings.TrimSpace(strings.TrimSuffix(rest, closing))
				break
			}
		}
		return rest
	}
	return text
}
