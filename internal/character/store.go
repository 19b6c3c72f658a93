package character

import (
	"context"
	"fmt"

	"github.com/MrWong99/personae/pkg/memory"
)

// Store provides CRUD operations for character profiles.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new character. The profile is validated first and an
	// ID is generated when empty.
	Create(ctx context.Context, c *Character) error

	// Get retrieves a character by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, id string) (*Character, error)

	// Update replaces the authored fields of an existing character. Derived
	// fields are left untouched. Returns an error wrapping [ErrNotFound] if
	// the character does not exist.
	Update(ctx context.Context, c *Character) error

	// SetDerived stores the ingestion outputs for a character.
	SetDerived(ctx context.Context, id, fullBio, corePersona string) error

	// Delete removes a character. Deleting a missing character is not an
	// error.
	Delete(ctx context.Context, id string) error

	// List returns characters ordered by name. An empty ownerID lists all.
	List(ctx context.Context, ownerID string) ([]Character, error)

	// Upsert creates or replaces a character, used by seed import.
	Upsert(ctx context.Context, c *Character) error
}

// Lookup fetches a character and converts a missing row into [ErrNotFound].
func Lookup(ctx context.Context, s Store, id string) (*Character, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c, nil
}

// DeleteWithMemories deletes a character and every memory it owns. Memories
// go first so a failure never leaves orphaned records behind a deleted
// profile.
func DeleteWithMemories(ctx context.Context, s Store, memories memory.Store, id string) error {
	if memories != nil {
		if _, err := memories.DeleteCharacter(ctx, id); err != nil {
			return fmt.Errorf("character: delete memories of %q: %w", id, err)
		}
	}
	return s.Delete(ctx, id)
}
