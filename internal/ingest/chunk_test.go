package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkText_Empty(t *testing.T) {
	if got := ChunkText("  \n ", 800, 100); got != nil {
		t.Errorf("expected no chunks, got %v", got)
	}
}

func TestChunkText_ShortText(t *testing.T) {
	got := ChunkText("A short biography.", 800, 100)
	if len(got) != 1 || got[0] != "A short biography." {
		t.Errorf("got %q", got)
	}
}

func TestChunkText_HardCutWithOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 25) // 250 runes, no paragraph breaks
	got := ChunkText(text, 100, 20)

	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if got[0] != text[:100] {
		t.Errorf("first chunk = %q", got[0])
	}
	if got[1] != text[80:180] {
		t.Errorf("second chunk should start 20 runes before the first cut")
	}
	if got[2] != text[160:] {
		t.Errorf("last chunk = %q", got[2])
	}
}

func TestChunkText_PrefersParagraphBreak(t *testing.T) {
	para1 := strings.Repeat("x", 85)
	para2 := strings.Repeat("y", 60)
	text := para1 + "\n\n" + para2

	got := ChunkText(text, 100, 0)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2: %q", len(got), got)
	}
	if got[0] != para1 {
		t.Errorf("first chunk should end at the paragraph break, got %d runes", len(got[0]))
	}
}

func TestChunkText_IgnoresEarlyParagraphBreak(t *testing.T) {
	// A break in the first 80% of the window is too early to use.
	text := strings.Repeat("x", 30) + "\n\n" + strings.Repeat("y", 150)
	got := ChunkText(text, 100, 0)
	if utf8.RuneCountInString(got[0]) != 100 {
		t.Errorf("first chunk = %d runes, want a hard cut at 100", utf8.RuneCountInString(got[0]))
	}
}

func TestChunkText_Multibyte(t *testing.T) {
	text := strings.Repeat("月", 250)
	for _, c := range ChunkText(text, 100, 10) {
		if !utf8.ValidString(c) {
			t.Fatal("chunk split a multibyte rune")
		}
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Errorf("chunk has %d runes, want at most 100", n)
		}
	}
}

func TestChunkText_InvalidParameters(t *testing.T) {
	text := strings.Repeat("z", 50)
	if got := ChunkText(text, 0, 0); len(got) != 1 {
		t.Errorf("size 0 should use the default, got %d chunks", len(got))
	}
	// Overlap >= size would never advance; it is treated as zero.
	got := ChunkText(text, 10, 10)
	if len(got) != 5 {
		t.Errorf("chunks = %d, want 5", len(got))
	}
}
