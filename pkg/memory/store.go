// Package memory defines the long-term memory layer used by personae
// characters.
//
// Every character owns an append-only collection of [Record] values. Each
// record carries an embedding produced by an embeddings provider, so the
// retrieval engine can find the memories closest to a live user message with
// [Store.Nearest]. Biography chunks are written by ingestion; conversation,
// emotional and factual memories are written at runtime.
//
// Backends live in sub-packages (postgres with pgvector) or in this package
// ([MemStore]) for tests and single-process deployments. All implementations
// must be safe for concurrent use.
package memory

import (
	"context"
	"slices"
	"time"
)

// Filter narrows record queries. All non-zero fields are applied as AND
// conditions.
type Filter struct {
	// Types is an allow-list of memory types. Empty allows all types.
	Types []Type

	// Importance is an allow-list of tiers. Empty allows all tiers.
	Importance []Importance

	// CreatedBefore keeps records created strictly before this instant.
	CreatedBefore time.Time

	// EmotionalBelow keeps records whose emotional weight is strictly below
	// this value. Zero disables the condition.
	EmotionalBelow float64

	// MaxDistance keeps neighbours whose cosine distance is at most this
	// value. Only used by Nearest. Zero disables the condition.
	MaxDistance float64
}

// Match reports whether r satisfies every non-distance condition of f.
func (f Filter) Match(r Record) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, r.Type) {
		return false
	}
	if len(f.Importance) > 0 && !slices.Contains(f.Importance, r.Importance) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !r.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.EmotionalBelow > 0 && r.EmotionalWeight >= f.EmotionalBelow {
		return false
	}
	return true
}

// Store persists memory records and answers vector-similarity queries.
type Store interface {
	// Insert adds records. Records without an ID get one assigned and a zero
	// CreatedAt is set to the current time.
	Insert(ctx context.Context, records ...Record) error

	// Nearest returns up to limit records of characterID that have an
	// embedding, ordered by ascending cosine distance to query. A limit of
	// zero or less means no limit.
	Nearest(ctx context.Context, characterID string, query []float32, filter Filter, limit int) ([]Neighbor, error)

	// List returns the records of characterID matching filter, oldest first.
	List(ctx context.Context, characterID string, filter Filter) ([]Record, error)

	// Count returns the number of records of characterID matching filter.
	Count(ctx context.Context, characterID string, filter Filter) (int, error)

	// Delete removes the records with the given ids and returns how many
	// were removed.
	Delete(ctx context.Context, ids ...string) (int, error)

	// DeleteByType removes all records of characterID with type t.
	DeleteByType(ctx context.Context, characterID string, t Type) (int, error)

	// DeleteCharacter removes every record of characterID.
	DeleteCharacter(ctx context.Context, characterID string) (int, error)
}
