package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/pkg/memory"
	"github.com/MrWong99/personae/pkg/provider/llm"
)

// Fingerprint markers. Each strategy emits exactly one of these so that
// [AnalyzePrompt] can tell them apart.
const (
	markerMinimal        = "Keep your reply short and natural."
	markerDetailed       = "Character profile:"
	markerStructured     = "## Character"
	markerConversational = "The story so far:"
	markerExamples       = "Example exchange"
	markerOptimized      = "Reply in a few sentences that fit this description."
	markerRAG            = "Relevant memories:"
)

// History windows per strategy.
const (
	detailedHistory       = 4
	conversationalHistory = 6
	optimizedHistory      = 4
)

// ─────────────────────────────────────────────────────────────────────────────
// Strategies
// ─────────────────────────────────────────────────────────────────────────────

// buildMinimal renders the name, one trait and one tone word.
func buildMinimal(c *character.Character, msg string, pc Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s", displayName(c))
	trait, tone := c.PrimaryTrait(), c.PrimaryTone()
	switch {
	case trait != "" && tone != "":
		fmt.Fprintf(&sb, ", %s and %s in tone.", trait, tone)
	case trait != "":
		fmt.Fprintf(&sb, ", %s.", trait)
	case tone != "":
		fmt.Fprintf(&sb, ", %s in tone.", tone)
	default:
		sb.WriteString(".")
	}
	if pc.IncludeAppearance {
		if a := appearanceLine(c); a != "" {
			sb.WriteString(" ")
			sb.WriteString(a)
		}
	}
	sb.WriteString(" ")
	sb.WriteString(markerMinimal)
	if hint := strings.TrimSpace(pc.ReplyHint); hint != "" {
		sc := withCharacter(pc.Session.WithDefaults(), displayName(c))
		fmt.Fprintf(&sb, " A reply in your voice could start like this: %s", ApplyTemplate(hint, sc))
	}
	writeUserMessage(&sb, pc, msg)
	return finish(&sb, c)
}

// buildDetailed enumerates the whole profile plus a short history.
func buildDetailed(c *character.Character, msg string, pc Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.\n\n%s\n", displayName(c), markerDetailed)
	lines := []string{
		labelled("Archetype", c.Archetype),
		labelled("Role", c.Role),
		labelled("Personality", joinList(c.AllTraits())),
		labelled("Quirks", joinList(c.Personality.Quirks)),
		labelled("Tone", joinList(c.Voice.Tones)),
		labelled("Pacing", c.Voice.Pacing),
		labelled("Vocabulary", c.Voice.Vocabulary),
		labelled("Motivation", c.Motivation),
		labelled("Goals", joinList(c.Goals)),
		labelled("Interaction style", c.InteractionStyle),
		labelled("Avoid discussing", joinList(c.Boundaries.ForbiddenTopics)),
		labelled("Boundaries", c.Boundaries.InteractionPolicy),
	}
	for _, l := range lines {
		if l != "" {
			sb.WriteString("- ")
			sb.WriteString(l)
			sb.WriteString("\n")
		}
	}
	writeHistory(&sb, c, pc, detailedHistory, "Recent conversation:")
	writeUserMessage(&sb, pc, msg)
	return finish(&sb, c)
}

// buildStructured renders labelled bullet sections.
func buildStructured(c *character.Character, msg string, pc Context) string {
	var sb strings.Builder
	section := func(title string, items ...string) {
		var body []string
		for _, it := range items {
			if it != "" {
				body = append(body, "- "+it)
			}
		}
		if len(body) == 0 {
			return
		}
		fmt.Fprintf(&sb, "## %s\n%s\n\n", title, strings.Join(body, "\n"))
	}

	section("Character", labelled("Name", displayName(c)), labelled("Archetype", c.Archetype), labelled("Role", c.Role))
	section("Personality", labelled("Traits", joinList(c.AllTraits())), labelled("Quirks", joinList(c.Personality.Quirks)))
	section("Voice", labelled("Tone", joinList(c.Voice.Tones)), labelled("Pacing", c.Voice.Pacing), labelled("Inflection", c.Voice.Inflection))
	section("Goals", labelled("Motivation", c.Motivation), labelled("Goals", joinList(c.Goals)))
	section("Boundaries", labelled("Avoid", joinList(c.Boundaries.ForbiddenTopics)), labelled("Policy", c.Boundaries.InteractionPolicy))
	if pc.Mood != "" {
		section("State", labelled("Mood", pc.Mood))
	}

	fmt.Fprintf(&sb, "## Message\n%s: %s\n", pc.Session.WithDefaults().UserName, msg)
	return finish(&sb, c)
}

// buildConversational frames the turn as an ongoing scene.
func buildConversational(c *character.Character, msg string, pc Context) string {
	var sb strings.Builder
	sc := pc.Session.WithDefaults()

	fmt.Fprintf(&sb, "You are %s", displayName(c))
	if desc := shortDescription(c); desc != "" {
		fmt.Fprintf(&sb, ", %s", desc)
	}
	fmt.Fprintf(&sb, ". It is %s and you are with %s %s.", sc.TimeOfDay, sc.UserName, sc.Location)
	if pc.Mood != "" {
		fmt.Fprintf(&sb, " You are feeling %s.", pc.Mood)
	}
	if tones := joinList(c.Voice.Tones); tones != "" {
		fmt.Fprintf(&sb, " You speak in a %s way.", tones)
	}
	sb.WriteString("\n\n")
	sb.WriteString(markerConversational)
	sb.WriteString("\n")
	turns := recentTurns(pc.History, conversationalHistory)
	if len(turns) == 0 {
		sb.WriteString("This is the start of your conversation.\n")
	}
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", speaker(c, sc, t.Role), t.Content)
	}
	fmt.Fprintf(&sb, "%s: %s\n", sc.UserName, msg)
	return finish(&sb, c)
}

// buildExamples adds one or two synthesised example exchanges.
func buildExamples(c *character.Character, msg string, pc Context) string {
	var sb strings.Builder
	name := displayName(c)
	sc := pc.Session.WithDefaults()

	fmt.Fprintf(&sb, "You are %s", name)
	if desc := shortDescription(c); desc != "" {
		fmt.Fprintf(&sb, ", %s", desc)
	}
	sb.WriteString(".\n\n")

	greeting := strings.TrimSpace(c.Phrases.Greeting)
	if greeting == "" {
		greeting = fmt.Sprintf("Oh, hello there. I'm %s.", name)
	}
	fmt.Fprintf(&sb, "%s 1:\n%s: Hi!\n%s: %s\n\n", markerExamples, sc.UserName, name, ApplyTemplate(greeting, withCharacter(sc, name)))

	if trait := c.PrimaryTrait(); trait != "" {
		reply := traitExample(trait)
		if a := strings.TrimSpace(c.Phrases.Affirmation); a != "" {
			reply = a + " " + reply
		}
		fmt.Fprintf(&sb, "%s 2:\n%s: How are you today?\n%s: %s\n\n", markerExamples, sc.UserName, name, ApplyTemplate(reply, withCharacter(sc, name)))
	}

	fmt.Fprintf(&sb, "Now the real conversation:\n%s: %s\n", sc.UserName, msg)
	return finish(&sb, c)
}

// buildOptimized renders one compact paragraph and a short history. It suits
// small models that follow long instructions poorly.
func buildOptimized(c *character.Character, msg string, pc Context) string {
	var sb strings.Builder
	sb.WriteString(descriptionParagraph(c))
	if pc.Mood != "" {
		fmt.Fprintf(&sb, " Right now you feel %s.", pc.Mood)
	}
	sb.WriteString(" ")
	sb.WriteString(markerOptimized)
	sb.WriteString("\n")
	writeHistory(&sb, c, pc, optimizedHistory, "")
	writeUserMessage(&sb, pc, msg)
	return finish(&sb, c)
}

// buildRAGEnhanced renders the core persona, retrieved memories labelled by
// type, then mood and time.
func buildRAGEnhanced(c *character.Character, msg string, pc Context) string {
	var sb strings.Builder
	sc := pc.Session.WithDefaults()

	persona := ""
	if pc.RAG != nil {
		persona = strings.TrimSpace(pc.RAG.CorePersona)
	}
	if persona == "" {
		persona = fmt.Sprintf("You are %s. Stay in character.", displayName(c))
	}
	sb.WriteString(persona)
	sb.WriteString("\n\n")

	sb.WriteString(markerRAG)
	sb.WriteString("\n")
	if pc.RAG == nil || len(pc.RAG.Memories) == 0 {
		sb.WriteString("- none recalled\n")
	} else {
		for _, m := range pc.RAG.Memories {
			fmt.Fprintf(&sb, "- [%s] %s\n", memoryLabel(m.Record.Type), oneLine(m.Record.Content))
		}
	}

	sb.WriteString("\n")
	if pc.Mood != "" {
		fmt.Fprintf(&sb, "Current mood: %s. ", pc.Mood)
	}
	fmt.Fprintf(&sb, "Time of day: %s.\n", sc.TimeOfDay)

	writeUserMessage(&sb, pc, msg)
	return finish(&sb, c)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func finish(sb *strings.Builder, c *character.Character) string {
	out := strings.TrimRight(sb.String(), "\n ")
	return out + "\n\n" + Footer(c)
}

func writeUserMessage(sb *strings.Builder, pc Context, msg string) {
	fmt.Fprintf(sb, "\n%s says: %s\n", pc.Session.WithDefaults().UserName, msg)
}

func writeHistory(sb *strings.Builder, c *character.Character, pc Context, n int, title string) {
	turns := recentTurns(pc.History, n)
	if len(turns) == 0 {
		return
	}
	sc := pc.Session.WithDefaults()
	sb.WriteString("\n")
	if title != "" {
		sb.WriteString(title)
		sb.WriteString("\n")
	}
	for _, t := range turns {
		fmt.Fprintf(sb, "%s: %s\n", speaker(c, sc, t.Role), oneLine(t.Content))
	}
}

// recentTurns returns the last n user and assistant messages.
func recentTurns(history []llm.Message, n int) []llm.Message {
	var out []llm.Message
	for _, m := range history {
		if m.Role == llm.RoleUser || m.Role == llm.RoleAssistant {
			out = append(out, m)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func speaker(c *character.Character, sc SessionContext, role string) string {
	if role == llm.RoleAssistant {
		return displayName(c)
	}
	return sc.UserName
}

func withCharacter(sc SessionContext, name string) SessionContext {
	sc.CharacterName = name
	return sc
}

// shortDescription joins archetype and role.
func shortDescription(c *character.Character) string {
	switch {
	case c.Archetype != "" && c.Role != "":
		return fmt.Sprintf("%s, %s", c.Archetype, c.Role)
	case c.Archetype != "":
		return c.Archetype
	default:
		return c.Role
	}
}

// descriptionParagraph condenses the profile into a single paragraph.
func descriptionParagraph(c *character.Character) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s", displayName(c))
	if desc := shortDescription(c); desc != "" {
		fmt.Fprintf(&sb, ", %s", desc)
	}
	sb.WriteString(".")
	if traits := joinList(c.AllTraits()); traits != "" {
		fmt.Fprintf(&sb, " You are %s.", traits)
	}
	if tones := joinList(c.Voice.Tones); tones != "" {
		fmt.Fprintf(&sb, " Your voice is %s.", tones)
	}
	if c.Motivation != "" {
		fmt.Fprintf(&sb, " %s", ensurePeriod(c.Motivation))
	}
	if forbidden := joinList(c.Boundaries.ForbiddenTopics); forbidden != "" {
		fmt.Fprintf(&sb, " You never discuss %s.", forbidden)
	}
	return sb.String()
}

func appearanceLine(c *character.Character) string {
	parts := []string{
		strings.TrimSpace(c.Appearance.Description),
		strings.TrimSpace(c.Appearance.Attire),
		strings.TrimSpace(c.Appearance.Features),
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, ensurePeriod(p))
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return "You look like this: " + strings.Join(kept, " ")
}

func traitExample(trait string) string {
	return fmt.Sprintf("*tilts head* Honestly? I'm feeling rather %s today. And you?", strings.ToLower(trait))
}

func memoryLabel(t memory.Type) string {
	switch t {
	case memory.TypeBioChunk:
		return "background"
	case memory.TypeConversation:
		return "past conversation"
	case memory.TypeEmotionalEvent:
		return "emotional memory"
	case memory.TypeFactualKnowledge:
		return "known fact"
	default:
		return string(t)
	}
}

func labelled(label, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return label + ": " + value
}

func joinList(items []string) string {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, ", ")
}

func ensurePeriod(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}

// oneLine collapses whitespace so a history entry or memory stays on one
// prompt line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
