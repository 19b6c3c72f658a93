// Package mock provides a recording test double for [memory.Store].
//
// Store keeps records in an embedded [memory.MemStore] so queries behave
// realistically, while the exported *Err fields inject failures per method:
//
//	store := mock.NewStore()
//	store.NearestErr = errors.New("connection refused")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Nearest"); got != 1 {
//	    t.Errorf("expected 1 Nearest call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/personae/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable test double for [memory.Store].
type Store struct {
	mu    sync.Mutex
	calls []Call
	inner *memory.MemStore

	InsertErr          error
	NearestErr         error
	ListErr            error
	CountErr           error
	DeleteErr          error
	DeleteByTypeErr    error
	DeleteCharacterErr error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{inner: memory.NewMemStore()}
}

// record appends a call and returns the configured error for method.
func (s *Store) record(method string, err func() error, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner == nil {
		s.inner = memory.NewMemStore()
	}
	s.calls = append(s.calls, Call{Method: method, Args: args})
	return err()
}

// Insert implements [memory.Store].
func (s *Store) Insert(ctx context.Context, records ...memory.Record) error {
	if err := s.record("Insert", func() error { return s.InsertErr }, len(records)); err != nil {
		return err
	}
	return s.inner.Insert(ctx, records...)
}

// Nearest implements [memory.Store].
func (s *Store) Nearest(ctx context.Context, characterID string, query []float32, filter memory.Filter, limit int) ([]memory.Neighbor, error) {
	if err := s.record("Nearest", func() error { return s.NearestErr }, characterID, filter, limit); err != nil {
		return nil, err
	}
	return s.inner.Nearest(ctx, characterID, query, filter, limit)
}

// List implements [memory.Store].
func (s *Store) List(ctx context.Context, characterID string, filter memory.Filter) ([]memory.Record, error) {
	if err := s.record("List", func() error { return s.ListErr }, characterID, filter); err != nil {
		return nil, err
	}
	return s.inner.List(ctx, characterID, filter)
}

// Count implements [memory.Store].
func (s *Store) Count(ctx context.Context, characterID string, filter memory.Filter) (int, error) {
	if err := s.record("Count", func() error { return s.CountErr }, characterID, filter); err != nil {
		return 0, err
	}
	return s.inner.Count(ctx, characterID, filter)
}

// Delete implements [memory.Store].
func (s *Store) Delete(ctx context.Context, ids ...string) (int, error) {
	if err := s.record("Delete", func() error { return s.DeleteErr }, ids); err != nil {
		return 0, err
	}
	return s.inner.Delete(ctx, ids...)
}

// DeleteByType implements [memory.Store].
func (s *Store) DeleteByType(ctx context.Context, characterID string, t memory.Type) (int, error) {
	if err := s.record("DeleteByType", func() error { return s.DeleteByTypeErr }, characterID, t); err != nil {
		return 0, err
	}
	return s.inner.DeleteByType(ctx, characterID, t)
}

// DeleteCharacter implements [memory.Store].
func (s *Store) DeleteCharacter(ctx context.Context, characterID string) (int, error) {
	if err := s.record("DeleteCharacter", func() error { return s.DeleteCharacterErr }, characterID); err != nil {
		return 0, err
	}
	return s.inner.DeleteCharacter(ctx, characterID)
}

// Calls returns a copy of all recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and all injected errors. Stored records are
// kept.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.InsertErr = nil
	s.NearestErr = nil
	s.ListErr = nil
	s.CountErr = nil
	s.DeleteErr = nil
	s.DeleteByTypeErr = nil
	s.DeleteCharacterErr = nil
}
