package ingest

import (
	"fmt"
	"strings"

	"github.com/MrWong99/personae/internal/character"
)

// RenderFullBio builds the biography text for c from its structured fields.
// Sections are separated by a blank line and a section whose source fields
// are all empty is omitted entirely. The output is deterministic.
func RenderFullBio(c *character.Character) string {
	return renderSections(c, true)
}

// personaSource renders the same sections as [RenderFullBio] minus
// Appearance. The core persona is built from this so that physical detail
// stays in the bio chunks.
func personaSource(c *character.Character) string {
	return renderSections(c, false)
}

func renderSections(c *character.Character, withAppearance bool) string {
	if c == nil {
		return ""
	}

	sections := []struct {
		title string
		lines []string
	}{
		{"Identity", []string{
			field("Name", c.Name),
			field("Archetype", c.Archetype),
			field("Role", c.Role),
			field("Source material", c.SourceMaterial),
		}},
		{"Appearance", []string{
			field("Description", c.Appearance.Description),
			field("Attire", c.Appearance.Attire),
			field("Distinctive features", c.Appearance.Features),
			list("Colors", c.Appearance.ColorTags),
		}},
		{"Personality", []string{
			list("Primary traits", c.Personality.Primary),
			list("Secondary traits", c.Personality.Secondary),
			list("Quirks", c.Personality.Quirks),
			field("Tolerance for interruptions", c.Personality.InterruptionTolerance),
		}},
		{"Communication", []string{
			list("Tone", c.Voice.Tones),
			field("Pacing", c.Voice.Pacing),
			field("Inflection", c.Voice.Inflection),
			field("Vocabulary", c.Voice.Vocabulary),
		}},
		{"Goals & Motivation", []string{
			field("Motivation", c.Motivation),
			list("Goals", c.Goals),
		}},
		{"Interaction Style", []string{
			strings.TrimSpace(c.InteractionStyle),
		}},
		{"Signature Phrases", []string{
			quoted("Greeting", c.Phrases.Greeting),
			quoted("Affirmation", c.Phrases.Affirmation),
			quoted("Comfort", c.Phrases.Comfort),
		}},
		{"Boundaries", []string{
			list("Will not discuss", c.Boundaries.ForbiddenTopics),
			field("Interaction policy", c.Boundaries.InteractionPolicy),
		}},
	}

	var parts []string
	for _, s := range sections {
		if !withAppearance && s.title == "Appearance" {
			continue
		}
		var body []string
		for _, l := range s.lines {
			if l != "" {
				body = append(body, l)
			}
		}
		if len(body) == 0 {
			continue
		}
		parts = append(parts, "## "+s.title+"\n"+strings.Join(body, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func field(label, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", label, value)
}

func quoted(label, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return fmt.Sprintf("%s: %q", label, value)
}

func list(label string, values []string) string {
	return field(label, joinNonEmpty(values, ", "))
}

func joinNonEmpty(values []string, sep string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}
