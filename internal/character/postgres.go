package character

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the characters table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS characters (
    id            TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL,
    profile       JSONB NOT NULL DEFAULT '{}',
    full_bio      TEXT NOT NULL DEFAULT '',
    core_persona  TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_characters_owner ON characters(owner_id);
CREATE INDEX IF NOT EXISTS idx_characters_name ON characters(name);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. The authored profile is
// serialised as JSONB; identity and derived fields have their own columns.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on top of db. Call
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("character: migrate: %w", err)
	}
	return nil
}

// marshalProfile encodes the authored part of c.
func marshalProfile(c *Character) ([]byte, error) {
	p := c.Clone()
	p.FullBio, p.CorePersona = "", ""
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("character: marshal profile: %w", err)
	}
	return b, nil
}

// unmarshalProfile decodes profile into c and re-applies the column values
// that are authoritative.
func unmarshalProfile(c *Character, profile []byte) error {
	id, owner, name := c.ID, c.OwnerID, c.Name
	bio, persona := c.FullBio, c.CorePersona
	created, updated := c.CreatedAt, c.UpdatedAt
	if err := json.Unmarshal(profile, c); err != nil {
		return fmt.Errorf("character: unmarshal profile: %w", err)
	}
	c.ID, c.OwnerID, c.Name = id, owner, name
	c.FullBio, c.CorePersona = bio, persona
	c.CreatedAt, c.UpdatedAt = created, updated
	return nil
}

// Create implements [Store.Create].
func (s *PostgresStore) Create(ctx context.Context, c *Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	profile, err := marshalProfile(c)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO characters (id, owner_id, name, profile, full_bio, core_persona)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query, c.ID, c.OwnerID, c.Name, profile, c.FullBio, c.CorePersona).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("character: id %q already exists", c.ID)
		}
		return fmt.Errorf("character: create: %w", err)
	}
	return nil
}

const selectCharacter = `
	SELECT id, owner_id, name, profile, full_bio, core_persona, created_at, updated_at
	FROM characters`

func scanCharacter(row pgx.Row) (*Character, error) {
	var (
		c       Character
		profile []byte
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &profile, &c.FullBio, &c.CorePersona, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalProfile(&c, profile); err != nil {
		return nil, err
	}
	return &c, nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Character, error) {
	c, err := scanCharacter(s.db.QueryRow(ctx, selectCharacter+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("character: get %q: %w", id, err)
	}
	return c, nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, c *Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	profile, err := marshalProfile(c)
	if err != nil {
		return err
	}

	const query = `
		UPDATE characters SET owner_id = $2, name = $3, profile = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query, c.ID, c.OwnerID, c.Name, profile).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrNotFound, c.ID)
		}
		return fmt.Errorf("character: update: %w", err)
	}
	return nil
}

// SetDerived implements [Store.SetDerived].
func (s *PostgresStore) SetDerived(ctx context.Context, id, fullBio, corePersona string) error {
	const query = `
		UPDATE characters SET full_bio = $2, core_persona = $3, updated_at = now()
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, fullBio, corePersona)
	if err != nil {
		return fmt.Errorf("character: set derived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// Delete implements [Store.Delete].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM characters WHERE id = $1`, id); err != nil {
		return fmt.Errorf("character: delete %q: %w", id, err)
	}
	return nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context, ownerID string) ([]Character, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = s.db.Query(ctx, selectCharacter+` ORDER BY name`)
	} else {
		rows, err = s.db.Query(ctx, selectCharacter+` WHERE owner_id = $1 ORDER BY name`, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("character: list: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("character: list scan: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("character: list: %w", err)
	}
	return out, nil
}

// Upsert implements [Store.Upsert]. Existing derived fields are kept unless
// c carries new ones.
func (s *PostgresStore) Upsert(ctx context.Context, c *Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	profile, err := marshalProfile(c)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO characters (id, owner_id, name, profile, full_bio, core_persona)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			profile = EXCLUDED.profile,
			full_bio = COALESCE(NULLIF(EXCLUDED.full_bio, ''), characters.full_bio),
			core_persona = COALESCE(NULLIF(EXCLUDED.core_persona, ''), characters.core_persona),
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query, c.ID, c.OwnerID, c.Name, profile, c.FullBio, c.CorePersona).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("character: upsert: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks for a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
