// Package postgres provides a PostgreSQL implementation of [memory.Store]
// using the pgvector extension for nearest-neighbour search.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Insert(ctx, memory.Record{CharacterID: id, Content: "…", Embedding: vec})
//	hits, _ := store.Nearest(ctx, id, queryVec, memory.Filter{MaxDistance: 0.3}, 50)
package postgres

import (
	"context"
	"fmt"
)

// ddl returns the memories DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at creation time.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id                 TEXT              PRIMARY KEY,
    character_id       TEXT              NOT NULL,
    content            TEXT              NOT NULL,
    memory_type        TEXT              NOT NULL,
    embedding          vector(%d),
    emotional_weight   DOUBLE PRECISION  NOT NULL DEFAULT 0,
    importance         TEXT              NOT NULL DEFAULT 'medium',
    day_number         INTEGER,
    time_of_day        TEXT              NOT NULL DEFAULT '',
    location           TEXT              NOT NULL DEFAULT '',
    related_characters TEXT[]            NOT NULL DEFAULT '{}',
    topics             TEXT[]            NOT NULL DEFAULT '{}',
    session_id         TEXT              NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_character
    ON memories (character_id, memory_type);

CREATE INDEX IF NOT EXISTS idx_memories_created
    ON memories (character_id, created_at);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates the memories table and its indexes if they do not exist.
// It is idempotent and safe to call on every start. Changing the embedding
// dimension after the first migration requires a manual schema change.
func Migrate(ctx context.Context, db DB, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := db.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
