package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/personae/pkg/memory"
)

func TestStoreMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := 3

	rec, err := f.r.StoreMemory(ctx, "mira", "  We sailed past the ocean reef.  ", memory.TypeConversation, Metadata{
		EmotionalWeight: 1.7,
		DayNumber:       &day,
		Location:        "the reef",
		SessionID:       "s-1",
	})
	if err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected an ID")
	}
	if rec.Content != "We sailed past the ocean reef." {
		t.Errorf("Content = %q", rec.Content)
	}
	if rec.EmotionalWeight != 1 {
		t.Errorf("EmotionalWeight = %v, want clamped to 1", rec.EmotionalWeight)
	}
	if rec.Importance != memory.ImportanceMedium {
		t.Errorf("Importance = %q, want medium default", rec.Importance)
	}
	if !rec.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, testNow)
	}

	got, err := f.r.SearchMemories(ctx, "mira", "ocean", DefaultOptions())
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(got) != 1 || got[0].Record.ID != rec.ID {
		t.Errorf("stored memory not retrievable: %v", ids(got))
	}
}

func TestStoreMemory_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		charID  string
		content string
		typ     memory.Type
		meta    Metadata
	}{
		{"empty character", "", "hi", memory.TypeConversation, Metadata{}},
		{"empty content", "mira", "  ", memory.TypeConversation, Metadata{}},
		{"unknown type", "mira", "hi", memory.Type("dream"), Metadata{}},
		{"bio chunk", "mira", "hi", memory.TypeBioChunk, Metadata{}},
		{"bad importance", "mira", "hi", memory.TypeConversation, Metadata{Importance: "urgent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.r.StoreMemory(ctx, tt.charID, tt.content, tt.typ, tt.meta); err == nil {
				t.Error("expected error")
			}
		})
	}
	if n := f.memories.CallCount("Insert"); n != 0 {
		t.Errorf("Insert called %d times for invalid input", n)
	}
}

func TestStoreMemory_EmbeddingFailureStillStores(t *testing.T) {
	f := newFixture(t)
	f.embedder.EmbedErr = errors.New("provider down")

	rec, err := f.r.StoreMemory(context.Background(), "mira", "A quiet night.", memory.TypeEmotionalEvent, Metadata{})
	if err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	if rec.Embedding != nil {
		t.Error("expected nil embedding")
	}
	n, _ := f.memories.Count(context.Background(), "mira", memory.Filter{})
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestStoreMemory_InsertError(t *testing.T) {
	f := newFixture(t)
	f.memories.InsertErr = errors.New("disk full")
	if _, err := f.r.StoreMemory(context.Background(), "mira", "x", memory.TypeConversation, Metadata{}); err == nil {
		t.Error("expected insert error")
	}
}

func TestPruneMemories_AgedOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := testNow.Add(-100 * 24 * time.Hour)

	var recs []memory.Record
	for _, id := range []string{"low-1", "low-2", "low-3"} {
		recs = append(recs, memory.Record{ID: id, CharacterID: "mira", Content: id, Type: memory.TypeConversation,
			Importance: memory.ImportanceLow, EmotionalWeight: 0.1, CreatedAt: old})
	}
	for _, id := range []string{"high-1", "high-2"} {
		recs = append(recs, memory.Record{ID: id, CharacterID: "mira", Content: id, Type: memory.TypeConversation,
			Importance: memory.ImportanceHigh, EmotionalWeight: 0.1, CreatedAt: old})
	}
	f.seed(t, recs...)

	res, err := f.r.PruneMemories(ctx, "mira", PruneOptions{OlderThanDays: 90})
	if err != nil {
		t.Fatalf("PruneMemories: %v", err)
	}
	if res.AgedOut != 3 || res.OverLimit != 0 || res.Remaining != 2 {
		t.Errorf("result = %+v, want 3 aged out and 2 remaining", res)
	}
	left, _ := f.memories.List(ctx, "mira", memory.Filter{})
	for _, r := range left {
		if r.Importance != memory.ImportanceHigh {
			t.Errorf("unexpected survivor %s", r.ID)
		}
	}
}

func TestPruneMemories_ProtectsEmotionalAndRecent(t *testing.T) {
	f := newFixture(t)
	old := testNow.Add(-100 * 24 * time.Hour)
	f.seed(t,
		memory.Record{ID: "weighty", CharacterID: "mira", Content: "a", Type: memory.TypeEmotionalEvent,
			Importance: memory.ImportanceLow, EmotionalWeight: 0.9, CreatedAt: old},
		memory.Record{ID: "recent", CharacterID: "mira", Content: "b", Type: memory.TypeConversation,
			Importance: memory.ImportanceLow, EmotionalWeight: 0.1, CreatedAt: testNow},
		memory.Record{ID: "bio", CharacterID: "mira", Content: "c", Type: memory.TypeBioChunk,
			Importance: memory.ImportanceLow, CreatedAt: old},
	)

	res, err := f.r.PruneMemories(context.Background(), "mira", PruneOptions{OlderThanDays: 90})
	if err != nil {
		t.Fatalf("PruneMemories: %v", err)
	}
	if res.Deleted() != 0 || res.Remaining != 3 {
		t.Errorf("result = %+v, want nothing deleted", res)
	}
}

func TestPruneMemories_OverBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := func(h int) time.Time { return testNow.Add(-time.Duration(h) * time.Hour) }

	f.seed(t,
		memory.Record{ID: "low-oldest", CharacterID: "mira", Content: "1", Type: memory.TypeConversation,
			Importance: memory.ImportanceLow, EmotionalWeight: 0.8, CreatedAt: at(50)},
		memory.Record{ID: "medium-old", CharacterID: "mira", Content: "2", Type: memory.TypeConversation,
			Importance: memory.ImportanceMedium, CreatedAt: at(60)},
		memory.Record{ID: "low-newer", CharacterID: "mira", Content: "3", Type: memory.TypeConversation,
			Importance: memory.ImportanceLow, EmotionalWeight: 0.8, CreatedAt: at(10)},
		memory.Record{ID: "high", CharacterID: "mira", Content: "4", Type: memory.TypeConversation,
			Importance: memory.ImportanceHigh, CreatedAt: at(70)},
		memory.Record{ID: "bio", CharacterID: "mira", Content: "5", Type: memory.TypeBioChunk,
			Importance: memory.ImportanceHigh, CreatedAt: at(80)},
	)

	t.Run("default only removes low", func(t *testing.T) {
		res, err := f.r.PruneMemories(ctx, "mira", PruneOptions{MaxMemories: 4})
		if err != nil {
			t.Fatalf("PruneMemories: %v", err)
		}
		if res.OverLimit != 1 || res.Remaining != 4 {
			t.Errorf("result = %+v", res)
		}
		if n, _ := f.memories.Count(ctx, "mira", memory.Filter{Importance: []memory.Importance{memory.ImportanceLow}}); n != 1 {
			t.Errorf("low records left = %d, want 1", n)
		}
		recs, _ := f.memories.List(ctx, "mira", memory.Filter{Importance: []memory.Importance{memory.ImportanceLow}})
		if len(recs) == 1 && recs[0].ID != "low-newer" {
			t.Errorf("oldest low record should go first, %s survived", recs[0].ID)
		}
	})

	t.Run("cannot go below protected records", func(t *testing.T) {
		res, err := f.r.PruneMemories(ctx, "mira", PruneOptions{MaxMemories: 1, MinImportance: memory.ImportanceHigh})
		if err != nil {
			t.Fatalf("PruneMemories: %v", err)
		}
		// low-newer then medium-old go; high and bio stay.
		if res.OverLimit != 2 || res.Remaining != 2 {
			t.Errorf("result = %+v", res)
		}
	})
}

func TestPruneMemories_StoreErrors(t *testing.T) {
	f := newFixture(t)
	f.memories.ListErr = errors.New("boom")
	if _, err := f.r.PruneMemories(context.Background(), "mira", PruneOptions{}); err == nil {
		t.Error("expected list error")
	}
}
