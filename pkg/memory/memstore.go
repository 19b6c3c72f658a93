package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store] that scans
// every record of a character on each query. It suits tests, offline mode
// and small single-process deployments. The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record // keyed by ID

	// now is overridable in tests.
	now func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (s *MemStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Insert implements [Store.Insert].
func (s *MemStore) Insert(ctx context.Context, records ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]Record)
	}
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.clock()
		}
		r.Embedding = slices.Clone(r.Embedding)
		s.records[r.ID] = r
	}
	return nil
}

// Nearest implements [Store.Nearest].
func (s *MemStore) Nearest(ctx context.Context, characterID string, query []float32, filter Filter, limit int) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Neighbor
	for _, r := range s.records {
		if r.CharacterID != characterID || len(r.Embedding) == 0 || !filter.Match(r) {
			continue
		}
		d := CosineDistance(query, r.Embedding)
		if filter.MaxDistance > 0 && d > filter.MaxDistance {
			continue
		}
		out = append(out, Neighbor{Record: r, Distance: d})
	}
	slices.SortFunc(out, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Record.ID, b.Record.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, characterID string, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(characterID, filter), nil
}

func (s *MemStore) listLocked(characterID string, filter Filter) []Record {
	var out []Record
	for _, r := range s.records {
		if r.CharacterID == characterID && filter.Match(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Count implements [Store.Count].
func (s *MemStore) Count(ctx context.Context, characterID string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if r.CharacterID == characterID && filter.Match(r) {
			n++
		}
	}
	return n, nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// DeleteByType implements [Store.DeleteByType].
func (s *MemStore) DeleteByType(ctx context.Context, characterID string, t Type) (int, error) {
	return s.deleteWhere(func(r Record) bool {
		return r.CharacterID == characterID && r.Type == t
	}), nil
}

// DeleteCharacter implements [Store.DeleteCharacter].
func (s *MemStore) DeleteCharacter(ctx context.Context, characterID string) (int, error) {
	return s.deleteWhere(func(r Record) bool {
		return r.CharacterID == characterID
	}), nil
}

func (s *MemStore) deleteWhere(pred func(Record) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.records {
		if pred(r) {
			delete(s.records, id)
			n++
		}
	}
	return n
}
