package rag

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/personae/internal/observe"
	"github.com/MrWong99/personae/pkg/memory"
)

// Metadata carries the optional fields of a stored memory.
type Metadata struct {
	EmotionalWeight   float64           `json:"emotional_weight"`
	Importance        memory.Importance `json:"importance"`
	DayNumber         *int              `json:"day_number,omitempty"`
	TimeOfDay         string            `json:"time_of_day,omitempty"`
	Location          string            `json:"location,omitempty"`
	RelatedCharacters []string          `json:"related_characters,omitempty"`
	Topics            []string          `json:"topics,omitempty"`
	SessionID         string            `json:"session_id,omitempty"`
}

// StoreMemory embeds content and inserts it as a new memory of characterID.
// Bio chunks are owned by ingestion and cannot be stored here. When the
// embedder fails the record is still stored without a vector; it is then
// invisible to similarity search but still subject to pruning.
func (r *Retriever) StoreMemory(ctx context.Context, characterID, content string, t memory.Type, meta Metadata) (*memory.Record, error) {
	content = strings.TrimSpace(content)
	if characterID == "" {
		return nil, fmt.Errorf("rag: store memory: character id must not be empty")
	}
	if content == "" {
		return nil, fmt.Errorf("rag: store memory: content must not be empty")
	}
	if !t.Valid() {
		return nil, fmt.Errorf("rag: store memory: unknown memory type %q", t)
	}
	if t == memory.TypeBioChunk {
		return nil, fmt.Errorf("rag: store memory: %s records are written by ingestion only", t)
	}
	importance, err := memory.ParseImportance(string(meta.Importance))
	if err != nil {
		return nil, fmt.Errorf("rag: store memory: %w", err)
	}

	rec := memory.Record{
		ID:                uuid.NewString(),
		CharacterID:       characterID,
		Content:           content,
		Type:              t,
		EmotionalWeight:   min(max(meta.EmotionalWeight, 0), 1),
		Importance:        importance,
		DayNumber:         meta.DayNumber,
		TimeOfDay:         meta.TimeOfDay,
		Location:          meta.Location,
		RelatedCharacters: meta.RelatedCharacters,
		Topics:            meta.Topics,
		SessionID:         meta.SessionID,
		CreatedAt:         r.now().UTC(),
	}

	if v, err := r.embed(ctx, content); err != nil {
		observe.Logger(ctx).Warn("rag: storing memory without embedding",
			"character_id", characterID, "type", t, "err", err)
	} else {
		rec.Embedding = v
	}

	if err := r.memories.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("rag: store memory: %w", err)
	}
	return &rec, nil
}

// Pruning defaults.
const (
	DefaultMaxMemories    = 1000
	DefaultOlderThanDays  = 30
	DefaultEmotionalFloor = 0.3
)

// PruneOptions controls [Retriever.PruneMemories].
type PruneOptions struct {
	// MaxMemories is the per-character budget enforced by the second phase.
	MaxMemories int

	// MinImportance is the lowest tier protected from the budget phase.
	// Records below it may be removed to meet MaxMemories. High is always
	// protected.
	MinImportance memory.Importance

	// OlderThanDays is the age threshold of the first phase.
	OlderThanDays int

	// EmotionalFloor protects emotionally weighty memories from the first
	// phase.
	EmotionalFloor float64
}

func (o PruneOptions) normalized() PruneOptions {
	if o.MaxMemories <= 0 {
		o.MaxMemories = DefaultMaxMemories
	}
	if !o.MinImportance.Valid() || o.MinImportance == memory.ImportanceLow {
		o.MinImportance = memory.ImportanceMedium
	}
	if o.OlderThanDays <= 0 {
		o.OlderThanDays = DefaultOlderThanDays
	}
	if o.EmotionalFloor <= 0 {
		o.EmotionalFloor = DefaultEmotionalFloor
	}
	return o
}

// PruneResult reports what pruning removed.
type PruneResult struct {
	AgedOut   int `json:"aged_out"`
	OverLimit int `json:"over_limit"`
	Remaining int `json:"remaining"`
}

// Deleted is the total number of removed records.
func (p PruneResult) Deleted() int { return p.AgedOut + p.OverLimit }

// prunableTypes excludes bio chunks, which only ingestion may remove.
var prunableTypes = []memory.Type{
	memory.TypeConversation,
	memory.TypeEmotionalEvent,
	memory.TypeFactualKnowledge,
}

// PruneMemories removes stale memories of characterID in two phases. First
// it deletes low-importance records older than OlderThanDays whose
// emotional weight is below EmotionalFloor. Then, while the character holds
// more than MaxMemories records, it deletes the oldest records ranked below
// MinImportance. High-importance records and bio chunks are never removed.
func (r *Retriever) PruneMemories(ctx context.Context, characterID string, opts PruneOptions) (PruneResult, error) {
	o := opts.normalized()
	var res PruneResult
	now := r.now()

	aged, err := r.memories.List(ctx, characterID, memory.Filter{
		Types:          prunableTypes,
		Importance:     []memory.Importance{memory.ImportanceLow},
		CreatedBefore:  now.Add(-time.Duration(o.OlderThanDays) * 24 * time.Hour),
		EmotionalBelow: o.EmotionalFloor,
	})
	if err != nil {
		return res, fmt.Errorf("rag: prune: list aged: %w", err)
	}
	if len(aged) > 0 {
		n, err := r.memories.Delete(ctx, recordIDs(aged)...)
		if err != nil {
			return res, fmt.Errorf("rag: prune: delete aged: %w", err)
		}
		res.AgedOut = n
	}

	total, err := r.memories.Count(ctx, characterID, memory.Filter{})
	if err != nil {
		return res, fmt.Errorf("rag: prune: count: %w", err)
	}
	if excess := total - o.MaxMemories; excess > 0 {
		candidates, err := r.memories.List(ctx, characterID, memory.Filter{
			Types:      prunableTypes,
			Importance: belowTier(o.MinImportance),
		})
		if err != nil {
			return res, fmt.Errorf("rag: prune: list candidates: %w", err)
		}
		// List is oldest first; low goes before medium.
		slices.SortStableFunc(candidates, func(a, b memory.Record) int {
			return tierRank(a.Importance) - tierRank(b.Importance)
		})
		if len(candidates) > excess {
			candidates = candidates[:excess]
		}
		if len(candidates) > 0 {
			n, err := r.memories.Delete(ctx, recordIDs(candidates)...)
			if err != nil {
				return res, fmt.Errorf("rag: prune: delete over limit: %w", err)
			}
			res.OverLimit = n
		}
	}

	res.Remaining, err = r.memories.Count(ctx, characterID, memory.Filter{})
	if err != nil {
		return res, fmt.Errorf("rag: prune: count: %w", err)
	}
	if res.Deleted() > 0 {
		r.metrics.MemoriesPruned.Add(ctx, int64(res.Deleted()))
		observe.Logger(ctx).Info("rag: memories pruned",
			"character_id", characterID,
			"aged_out", res.AgedOut,
			"over_limit", res.OverLimit,
			"remaining", res.Remaining,
		)
	}
	return res, nil
}

func tierRank(i memory.Importance) int {
	switch i {
	case memory.ImportanceLow:
		return 0
	case memory.ImportanceMedium:
		return 1
	default:
		return 2
	}
}

// belowTier lists the tiers strictly below floor, never including high.
func belowTier(floor memory.Importance) []memory.Importance {
	var out []memory.Importance
	for _, i := range []memory.Importance{memory.ImportanceLow, memory.ImportanceMedium} {
		if tierRank(i) < tierRank(floor) {
			out = append(out, i)
		}
	}
	return out
}

func recordIDs(recs []memory.Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
