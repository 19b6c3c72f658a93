package character

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/personae/pkg/memory"
)

func luna() *Character {
	return &Character{
		ID:        "luna",
		OwnerID:   "u1",
		Name:      "Luna",
		Archetype: "gentle healer",
		Personality: Personality{
			Primary:   []string{"empathetic", "calm"},
			Secondary: []string{"curious"},
		},
		Voice:   VoiceStyle{Tones: []string{"soft"}},
		Phrases: SignaturePhrases{Greeting: "Welcome back, traveller."},
	}
}

func TestCharacter_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Character)
		wantErr string
	}{
		{"valid", func(*Character) {}, ""},
		{"empty name", func(c *Character) { c.Name = "  " }, "name must not be empty"},
		{"long name", func(c *Character) { c.Name = strings.Repeat("x", 101) }, "at most 100"},
		{"bad tolerance", func(c *Character) { c.Personality.InterruptionTolerance = "never" }, "interruption_tolerance"},
		{"blank trait", func(c *Character) { c.Personality.Primary = []string{""} }, "personality.primary[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := luna()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCharacter_Validate_JoinsErrors(t *testing.T) {
	c := &Character{Personality: Personality{InterruptionTolerance: "x"}}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "name") || !strings.Contains(err.Error(), "interruption_tolerance") {
		t.Errorf("expected both violations, got %v", err)
	}
}

func TestCharacter_Helpers(t *testing.T) {
	c := luna()
	if c.PrimaryTrait() != "empathetic" || c.PrimaryTone() != "soft" {
		t.Errorf("PrimaryTrait/PrimaryTone = %q/%q", c.PrimaryTrait(), c.PrimaryTone())
	}
	if got := c.AllTraits(); len(got) != 3 || got[2] != "curious" {
		t.Errorf("AllTraits = %v", got)
	}
	empty := &Character{}
	if empty.PrimaryTrait() != "" || empty.PrimaryTone() != "" {
		t.Error("expected empty helpers for empty character")
	}

	cp := c.Clone()
	cp.Personality.Primary[0] = "cold"
	if c.Personality.Primary[0] != "empathetic" {
		t.Error("Clone must deep copy slices")
	}
}

func TestLookup(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Create(ctx, luna())

	if _, err := Lookup(ctx, s, "luna"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := Lookup(ctx, s, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteWithMemories(t *testing.T) {
	s := NewMemStore()
	mem := memory.NewMemStore()
	ctx := context.Background()
	_ = s.Create(ctx, luna())
	_ = mem.Insert(ctx,
		memory.Record{CharacterID: "luna", Content: "a"},
		memory.Record{CharacterID: "luna", Content: "b"},
		memory.Record{CharacterID: "aria", Content: "c"},
	)

	if err := DeleteWithMemories(ctx, s, mem, "luna"); err != nil {
		t.Fatalf("DeleteWithMemories: %v", err)
	}
	if c, _ := s.Get(ctx, "luna"); c != nil {
		t.Error("character should be gone")
	}
	if n, _ := mem.Count(ctx, "luna", memory.Filter{}); n != 0 {
		t.Errorf("expected memories cascaded, %d left", n)
	}
	if n, _ := mem.Count(ctx, "aria", memory.Filter{}); n != 1 {
		t.Errorf("other character's memories touched: %d", n)
	}
}
