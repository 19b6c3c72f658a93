package ingest

import "strings"

// Chunking defaults, measured in characters (runes).
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

// paragraphSep is the preferred break point inside a chunk window.
const paragraphSep = "\n\n"

// ChunkText splits text into overlapping windows of at most size runes.
// Each window prefers to end at a paragraph separator found in its final
// fifth and otherwise cuts hard at size. Consecutive chunks share overlap
// runes. Empty or whitespace-only input yields no chunks.
//
// A non-positive size falls back to [DefaultChunkSize]; an overlap outside
// [0, size) is treated as zero so that every step makes progress.
func ChunkText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			floor := max(end-size/5, start+1)
			if brk := lastParagraphBreak(runes, floor, end); brk > 0 {
				end = brk
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// lastParagraphBreak returns the index of the last paragraph separator that
// starts in [from, to) and fits before to, or -1.
func lastParagraphBreak(runes []rune, from, to int) int {
	sep := []rune(paragraphSep)
	for i := to - len(sep); i >= from; i-- {
		match := true
		for j, r := range sep {
			if runes[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
