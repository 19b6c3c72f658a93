package character

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	chars map[string]*Character
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{chars: make(map[string]*Character)}
}

func (s *MemStore) init() {
	if s.chars == nil {
		s.chars = make(map[string]*Character)
	}
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, c *Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := s.chars[c.ID]; ok {
		return fmt.Errorf("character: id %q already exists", c.ID)
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.chars[c.ID] = c.Clone()
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (*Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chars[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, c *Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.chars[c.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, c.ID)
	}
	cp := c.Clone()
	cp.FullBio, cp.CorePersona = old.FullBio, old.CorePersona
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.chars[c.ID] = cp
	c.UpdatedAt = cp.UpdatedAt
	return nil
}

// SetDerived implements [Store.SetDerived].
func (s *MemStore) SetDerived(ctx context.Context, id, fullBio, corePersona string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chars[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	c.FullBio, c.CorePersona = fullBio, corePersona
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chars, id)
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, ownerID string) ([]Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Character, 0, len(s.chars))
	for _, c := range s.chars {
		if ownerID == "" || c.OwnerID == ownerID {
			out = append(out, *c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b Character) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// Upsert implements [Store.Upsert]. Derived fields of an existing character
// are preserved.
func (s *MemStore) Upsert(ctx context.Context, c *Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cp := c.Clone()
	if old, ok := s.chars[c.ID]; ok {
		cp.CreatedAt = old.CreatedAt
		if cp.FullBio == "" {
			cp.FullBio = old.FullBio
		}
		if cp.CorePersona == "" {
			cp.CorePersona = old.CorePersona
		}
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.chars[c.ID] = cp
	c.CreatedAt, c.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	return nil
}
