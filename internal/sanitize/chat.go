package sanitize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/personae/internal/prompt"
)

// RepeatThreshold is the Jaro-Winkler similarity at which a sentence counts
// as a repeat of an earlier turn.
const RepeatThreshold = 0.93

// minRepeatWords keeps short interjections ("Yes.", "Of course!") from being
// treated as repeats.
const minRepeatWords = 3

var (
	// leadingRoleHeader matches template headers a model sometimes echoes
	// before its answer.
	leadingRoleHeader = regexp.MustCompile(`(?i)^\s*(?:<\|im_start\|>\s*(?:assistant|system|user)?|<\|start_header_id\|>\s*\w*\s*<\|end_header_id\|>|<s>|\[/INST\]|### Response:|assistant\s*:)\s*`)

	// strayTokens are removed wherever they remain after cutting.
	strayTokens = regexp.MustCompile(`(?i)<\|[a-z_]+\|>|</?s>|\[/?INST\]|<</?SYS>>`)

	sentenceEnd = regexp.MustCompile(`[.!?…]+["”']?\s+`)

	singleWordWrap = regexp.MustCompile(`\*([^\s*]+)\*`)
)

// stopMarkers end the first complete reply. Anything after them is a new
// turn the model invented.
var stopMarkers = []string{
	"<|im_end|>", "<|im_start|>", "<|eot_id|>", "<|endoftext|>", "<|user|>",
	"</s>", "[INST]", "<<SYS>>", "### Instruction:", "### Response:", "Formatting rules:",
}

// CleanChatCompletion cleans the output of a chat-completion call. recent
// holds the contents of recent turns; sentences that repeat them are
// removed. The result is finally passed through [CleanResponse].
func CleanChatCompletion(raw, characterName string, recent []string, sc prompt.SessionContext) string {
	text := raw
	for {
		loc := leadingRoleHeader.FindStringIndex(text)
		if loc == nil || loc[1] == 0 {
			break
		}
		text = text[loc[1]:]
	}

	text = firstCandidate(text, sc.WithDefaults().UserName)
	text = strayTokens.ReplaceAllString(text, "")
	text = dropRepeatedSentences(text, recent)
	text = normalizeAsterisks(text)
	text = stripStrayQuotes(text)

	return CleanResponse(text, characterName, sc)
}

// firstCandidate cuts text at the first turn boundary.
func firstCandidate(text, userName string) string {
	cut := len(text)
	markers := append([]string{}, stopMarkers...)
	markers = append(markers, "\nUser:", "\n"+userName+":")
	lower := strings.ToLower(text)
	for _, m := range markers {
		if i := strings.Index(lower, strings.ToLower(m)); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(text[:cut])
}

// dropRepeatedSentences removes sentences that match a sentence from recent
// exactly or by Jaro-Winkler similarity.
func dropRepeatedSentences(text string, recent []string) string {
	if len(recent) == 0 || strings.TrimSpace(text) == "" {
		return text
	}

	var seen []string
	for _, r := range recent {
		for _, s := range splitSentences(r) {
			if n := normalizeSentence(s); len(strings.Fields(n)) >= minRepeatWords {
				seen = append(seen, n)
			}
		}
	}
	if len(seen) == 0 {
		return text
	}

	var kept []string
	for _, s := range splitSentences(text) {
		n := normalizeSentence(s)
		if len(strings.Fields(n)) >= minRepeatWords && isRepeat(n, seen) {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, " ")
}

func isRepeat(sentence string, seen []string) bool {
	for _, s := range seen {
		if s == sentence || matchr.JaroWinkler(sentence, s, false) >= RepeatThreshold {
			return true
		}
	}
	return false
}

// splitSentences splits on terminal punctuation followed by whitespace,
// keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func normalizeSentence(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// normalizeAsterisks unwraps single-word *emphasis* and closes an
// unterminated action.
func normalizeAsterisks(text string) string {
	text = singleWordWrap.ReplaceAllString(text, "$1")
	if strings.Count(text, "*")%2 == 1 {
		text = strings.TrimRight(text, " \t\n") + "*"
	}
	return text
}

// stripStrayQuotes unwraps a reply fully enclosed in one pair of quotes and
// removes unbalanced double quotes.
func stripStrayQuotes(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case len(text) > 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) && strings.Count(text, `"`) == 2:
		text = strings.TrimSpace(text[1 : len(text)-1])
	case strings.HasPrefix(text, "“") && strings.HasSuffix(text, "”") &&
		strings.Count(text, "“") == 1 && strings.Count(text, "”") == 1:
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(text, "“"), "”"))
	}
	if strings.Count(text, `"`)%2 == 1 {
		text = strings.ReplaceAll(text, `"`, "")
	}
	if strings.Count(text, "“") != strings.Count(text, "”") {
		text = strings.NewReplacer("“", "", "”", "").Replace(text)
	}
	return strings.TrimSpace(text)
}
