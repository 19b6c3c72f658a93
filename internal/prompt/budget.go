package prompt

import (
	"unicode/utf8"

	"github.com/MrWong99/personae/pkg/provider/llm"
)

// shed returns pc with one piece of optional context removed: the oldest
// history turn while any remain, then the lowest-ranked memory. ok is false
// when nothing is left to remove. pc.RAG is copied, never modified.
func shed(pc Context) (Context, bool) {
	if len(pc.History) > 0 {
		pc.History = pc.History[1:]
		return pc, true
	}
	if pc.RAG != nil && len(pc.RAG.Memories) > 0 {
		rc := *pc.RAG
		rc.Memories = rc.Memories[:len(rc.Memories)-1]
		pc.RAG = &rc
		return pc, true
	}
	return pc, false
}

// fit calls render with ever smaller contexts until size reports a value
// within pc.MaxChars or nothing optional is left.
func fit[T any](pc Context, render func(Context) T, size func(T) int) T {
	out := render(pc)
	for pc.MaxChars > 0 && size(out) > pc.MaxChars {
		next, ok := shed(pc)
		if !ok {
			break
		}
		pc = next
		out = render(pc)
	}
	return out
}

func messagesLen(msgs []llm.Message) int {
	n := 0
	for _, m := range msgs {
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}
