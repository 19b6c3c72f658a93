package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/personae/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// DB is the subset of *pgxpool.Pool used by [Store].
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL-backed memory store. All operations are safe for
// concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool // nil when constructed with NewWithDB
}

// NewStore opens a pool to dsn, registers pgvector types on every
// connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// NewWithDB wraps an existing connection or pool. The caller must have run
// [Migrate] and registered pgvector types.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Pool returns the underlying pool, or nil when built with NewWithDB.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases the pool if the store owns one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const insertColumns = 14

// Insert implements [memory.Store]. All records are written in one
// statement, so either all or none are stored.
func (s *Store) Insert(ctx context.Context, records ...memory.Record) error {
	if len(records) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(records)*insertColumns)
	)
	sb.WriteString(`INSERT INTO memories
	    (id, character_id, content, memory_type, embedding, emotional_weight, importance,
	     day_number, time_of_day, location, related_characters, topics, session_id, created_at)
	VALUES `)

	now := time.Now().UTC()
	for i, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.Importance == "" {
			r.Importance = memory.ImportanceMedium
		}
		var emb any
		if len(r.Embedding) > 0 {
			emb = pgvector.NewVector(r.Embedding)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		base := len(args)
		sb.WriteByte('(')
		for c := 1; c <= insertColumns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+c)
		}
		sb.WriteByte(')')

		args = append(args,
			r.ID, r.CharacterID, r.Content, string(r.Type), emb, r.EmotionalWeight,
			string(r.Importance), r.DayNumber, r.TimeOfDay, r.Location,
			nonNil(r.RelatedCharacters), nonNil(r.Topics), r.SessionID, r.CreatedAt,
		)
	}

	if _, err := s.db.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("postgres store: insert: %w", err)
	}
	return nil
}

// whereClause renders filter as SQL conditions for characterID, appending
// bind values to args.
func whereClause(characterID string, filter memory.Filter, args *[]any) string {
	next := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}

	conds := []string{"character_id = " + next(characterID)}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conds = append(conds, "memory_type = ANY("+next(types)+")")
	}
	if len(filter.Importance) > 0 {
		tiers := make([]string, len(filter.Importance))
		for i, t := range filter.Importance {
			tiers[i] = string(t)
		}
		conds = append(conds, "importance = ANY("+next(tiers)+")")
	}
	if !filter.CreatedBefore.IsZero() {
		conds = append(conds, "created_at < "+next(filter.CreatedBefore))
	}
	if filter.EmotionalBelow > 0 {
		conds = append(conds, "emotional_weight < "+next(filter.EmotionalBelow))
	}
	return "WHERE " + strings.Join(conds, "\n\t  AND ")
}

const selectColumns = `id, character_id, content, memory_type, emotional_weight, importance,
	       day_number, time_of_day, location, related_characters, topics, session_id, created_at`

func scanRecord(row pgx.CollectableRow, extra ...any) (memory.Record, error) {
	var (
		r        memory.Record
		typ, imp string
		day      *int
	)
	dest := []any{
		&r.ID, &r.CharacterID, &r.Content, &typ, &r.EmotionalWeight, &imp,
		&day, &r.TimeOfDay, &r.Location, &r.RelatedCharacters, &r.Topics, &r.SessionID, &r.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return memory.Record{}, err
	}
	r.Type = memory.Type(typ)
	r.Importance = memory.Importance(imp)
	r.DayNumber = day
	return r, nil
}

// Nearest implements [memory.Store] using the HNSW cosine index.
func (s *Store) Nearest(ctx context.Context, characterID string, query []float32, filter memory.Filter, limit int) ([]memory.Neighbor, error) {
	args := []any{pgvector.NewVector(query)} // $1
	where := whereClause(characterID, filter, &args) + "\n\t  AND embedding IS NOT NULL"
	if filter.MaxDistance > 0 {
		args = append(args, filter.MaxDistance)
		where += fmt.Sprintf("\n\t  AND embedding <=> $1 <= $%d", len(args))
	}
	limitClause := ""
	if limit > 0 {
		args = append(args, limit)
		limitClause = fmt.Sprintf("LIMIT $%d", len(args))
	}

	q := fmt.Sprintf(`
	SELECT %s, embedding, embedding <=> $1 AS distance
	FROM   memories
	%s
	ORDER  BY distance, id
	%s`, selectColumns, where, limitClause)

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Neighbor, error) {
		var (
			vec  pgvector.Vector
			dist float64
		)
		r, err := scanRecord(row, &vec, &dist)
		if err != nil {
			return memory.Neighbor{}, err
		}
		r.Embedding = vec.Slice()
		return memory.Neighbor{Record: r, Distance: dist}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest: scan: %w", err)
	}
	return out, nil
}

// List implements [memory.Store]. Embeddings are not loaded.
func (s *Store) List(ctx context.Context, characterID string, filter memory.Filter) ([]memory.Record, error) {
	var args []any
	q := fmt.Sprintf(`
	SELECT %s
	FROM   memories
	%s
	ORDER  BY created_at, id`, selectColumns, whereClause(characterID, filter, &args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Record, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: scan: %w", err)
	}
	return out, nil
}

// Count implements [memory.Store].
func (s *Store) Count(ctx context.Context, characterID string, filter memory.Filter) (int, error) {
	var args []any
	q := "SELECT count(*) FROM memories " + whereClause(characterID, filter, &args)
	var n int
	if err := s.db.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	return n, nil
}

// Delete implements [memory.Store].
func (s *Store) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM memories WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres store: delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByType implements [memory.Store].
func (s *Store) DeleteByType(ctx context.Context, characterID string, t memory.Type) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM memories WHERE character_id = $1 AND memory_type = $2`, characterID, string(t))
	if err != nil {
		return 0, fmt.Errorf("postgres store: delete by type: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteCharacter implements [memory.Store].
func (s *Store) DeleteCharacter(ctx context.Context, characterID string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM memories WHERE character_id = $1`, characterID)
	if err != nil {
		return 0, fmt.Errorf("postgres store: delete character: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
