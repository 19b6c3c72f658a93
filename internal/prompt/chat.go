package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/pkg/provider/llm"
)

// MaxChatHistory is the number of previous turns BuildChatMessages keeps.
const MaxChatHistory = 10

// SystemMarkers are fragments of chat templates and system instructions that
// must never appear in conversation text. A turn containing one is treated
// as leaked and dropped from history.
var SystemMarkers = []string{
	"<|im_start|>", "<|im_end|>", "<|system|>", "<|user|>", "<|assistant|>",
	"<|eot_id|>", "<|start_header_id|>", "[INST]", "[/INST]", "<<SYS>>", "<</SYS>>",
	"</s>", "### Instruction:", "### Response:", "Formatting rules:",
}

// ContainsSystemMarker reports whether s contains any of [SystemMarkers],
// ignoring case.
func ContainsSystemMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range SystemMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

const formattingRules = `Formatting rules:
- Put physical actions between asterisks, like *smiles softly*.
- Put private thoughts in parentheses, like (I hope they stay a while).
- Speak dialogue directly without wrapping it in quotation marks.
- Never write lines for the user or narrate their actions.`

// BuildChatMessages builds a chat-completion message list: one system
// message with persona and formatting rules, up to [MaxChatHistory] previous
// turns, then the current user message. Historical turns that contain
// leaked system markers or repeat the current message verbatim are skipped.
// A positive pc.MaxChars drops the oldest turns, then memories, until the
// total content fits.
func BuildChatMessages(c *character.Character, userMessage string, history []llm.Message, pc Context) []llm.Message {
	if c == nil {
		c = &character.Character{}
	}
	userMessage = strings.TrimSpace(userMessage)

	var kept []llm.Message
	for _, m := range history {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" || ContainsSystemMarker(content) {
			continue
		}
		if m.Role == llm.RoleUser && content == userMessage {
			continue
		}
		kept = append(kept, llm.Message{Role: m.Role, Content: content})
	}
	if len(kept) > MaxChatHistory {
		kept = kept[len(kept)-MaxChatHistory:]
	}

	pc.History = kept
	return fit(pc, func(pc Context) []llm.Message {
		msgs := make([]llm.Message, 0, len(pc.History)+2)
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemMessage(c, pc)})
		msgs = append(msgs, pc.History...)
		return append(msgs, llm.Message{Role: llm.RoleUser, Content: userMessage})
	}, messagesLen)
}

func systemMessage(c *character.Character, pc Context) string {
	var sb strings.Builder
	sc := pc.Session.WithDefaults()

	if pc.RAG != nil {
		sb.WriteString(rag.CorePersona(&character.Character{Name: c.Name, CorePersona: pc.RAG.CorePersona}))
	} else {
		sb.WriteString(rag.CorePersona(c))
	}

	if details := descriptionDetails(c); details != "" {
		sb.WriteString("\n\n")
		sb.WriteString(details)
	}

	if pc.RAG != nil && len(pc.RAG.Memories) > 0 {
		sb.WriteString("\n\nThings you remember:\n")
		for _, m := range pc.RAG.Memories {
			fmt.Fprintf(&sb, "- [%s] %s\n", memoryLabel(m.Record.Type), oneLine(m.Record.Content))
		}
	}

	sb.WriteString("\n\n")
	if pc.Mood != "" {
		fmt.Fprintf(&sb, "Current mood: %s. ", pc.Mood)
	}
	fmt.Fprintf(&sb, "It is %s. You are talking with %s.", sc.TimeOfDay, sc.UserName)

	sb.WriteString("\n\n")
	sb.WriteString(formattingRules)
	sb.WriteString("\n\n")
	sb.WriteString(Footer(c))
	return strings.TrimSpace(sb.String())
}

// descriptionDetails renders the voice and boundary details the persona
// summary may not cover.
func descriptionDetails(c *character.Character) string {
	var lines []string
	if tones := joinList(c.Voice.Tones); tones != "" {
		lines = append(lines, fmt.Sprintf("Your tone is %s.", tones))
	}
	if forbidden := joinList(c.Boundaries.ForbiddenTopics); forbidden != "" {
		lines = append(lines, fmt.Sprintf("You never discuss %s.", forbidden))
	}
	if p := strings.TrimSpace(c.Boundaries.InteractionPolicy); p != "" {
		lines = append(lines, ensurePeriod(p))
	}
	return strings.Join(lines, " ")
}
