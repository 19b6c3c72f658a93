package memory

import (
	"fmt"
	"time"
)

// Type classifies a memory record.
type Type string

// Memory types.
const (
	TypeBioChunk         Type = "bio_chunk"
	TypeConversation     Type = "conversation"
	TypeEmotionalEvent   Type = "emotional_event"
	TypeFactualKnowledge Type = "factual_knowledge"
)

// AllTypes returns every memory type in a stable order.
func AllTypes() []Type {
	return []Type{TypeBioChunk, TypeConversation, TypeEmotionalEvent, TypeFactualKnowledge}
}

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	switch t {
	case TypeBioChunk, TypeConversation, TypeEmotionalEvent, TypeFactualKnowledge:
		return true
	}
	return false
}

// ParseType converts s into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("memory: unknown type %q", s)
	}
	return t, nil
}

// Importance is the coarse priority tier of a record. It affects retrieval
// ranking and pruning eligibility.
type Importance string

// Importance tiers.
const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// Valid reports whether i is a known importance tier.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return true
	}
	return false
}

// ParseImportance converts s into an Importance. Empty input yields medium.
func ParseImportance(s string) (Importance, error) {
	if s == "" {
		return ImportanceMedium, nil
	}
	i := Importance(s)
	if !i.Valid() {
		return "", fmt.Errorf("memory: unknown importance %q", s)
	}
	return i, nil
}

// Record is one retrievable unit of character knowledge.
//
// Records are never updated in place. Bio chunks are replaced wholesale on
// re-ingestion and everything else is only ever inserted or pruned.
type Record struct {
	ID          string
	CharacterID string
	Content     string
	Type        Type

	// Embedding is nil until computed.
	Embedding []float32

	// EmotionalWeight is in [0, 1].
	EmotionalWeight float64
	Importance      Importance

	// DayNumber is nil when the record is not tied to an in-story day.
	DayNumber *int
	TimeOfDay string
	Location  string

	RelatedCharacters []string
	Topics            []string
	SessionID         string

	CreatedAt time.Time
}

// Neighbor pairs a record with its cosine distance from a query vector.
type Neighbor struct {
	Record   Record
	Distance float64
}

// Similarity returns 1 - Distance.
func (n Neighbor) Similarity() float64 { return 1 - n.Distance }
