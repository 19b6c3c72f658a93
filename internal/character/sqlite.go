package character

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS characters (
    id            TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL,
    profile       TEXT NOT NULL DEFAULT '{}',
    full_bio      TEXT NOT NULL DEFAULT '',
    core_persona  TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_characters_owner ON characters(owner_id);
`

// SQLiteStore is a [Store] backed by a single SQLite file, for single-node
// deployments without PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens dataSourceName and ensures the schema exists.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("character: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("character: ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("character: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create implements [Store.Create].
func (s *SQLiteStore) Create(ctx context.Context, c *Character) error {
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
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO characters (id, owner_id, name, profile, full_bio, core_persona, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Name, string(profile), c.FullBio, c.CorePersona, now, now)
	if err != nil {
		return fmt.Errorf("character: create: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

const sqliteSelect = `SELECT id, owner_id, name, profile, full_bio, core_persona, created_at, updated_at FROM characters`

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*Character, error) {
	var (
		c       Character
		profile string
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &profile, &c.FullBio, &c.CorePersona, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalProfile(&c, []byte(profile)); err != nil {
		return nil, err
	}
	return &c, nil
}

// Get implements [Store.Get].
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Character, error) {
	c, err := scanSQLite(s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("character: get %q: %w", id, err)
	}
	return c, nil
}

// Update implements [Store.Update].
func (s *SQLiteStore) Update(ctx context.Context, c *Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	profile, err := marshalProfile(c)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET owner_id = ?, name = ?, profile = ?, updated_at = ? WHERE id = ?`,
		c.OwnerID, c.Name, string(profile), now, c.ID)
	if err != nil {
		return fmt.Errorf("character: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, c.ID)
	}
	c.UpdatedAt = now
	return nil
}

// SetDerived implements [Store.SetDerived].
func (s *SQLiteStore) SetDerived(ctx context.Context, id, fullBio, corePersona string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET full_bio = ?, core_persona = ?, updated_at = ? WHERE id = ?`,
		fullBio, corePersona, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("character: set derived: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// Delete implements [Store.Delete].
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM characters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("character: delete %q: %w", id, err)
	}
	return nil
}

// List implements [Store.List].
func (s *SQLiteStore) List(ctx context.Context, ownerID string) ([]Character, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = s.db.QueryContext(ctx, sqliteSelect+` ORDER BY name`)
	} else {
		rows, err = s.db.QueryContext(ctx, sqliteSelect+` WHERE owner_id = ? ORDER BY name`, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("character: list: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("character: list scan: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Upsert implements [Store.Upsert].
func (s *SQLiteStore) Upsert(ctx context.Context, c *Character) error {
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
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO characters (id, owner_id, name, profile, full_bio, core_persona, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			profile = excluded.profile,
			full_bio = COALESCE(NULLIF(excluded.full_bio, ''), characters.full_bio),
			core_persona = COALESCE(NULLIF(excluded.core_persona, ''), characters.core_persona),
			updated_at = excluded.updated_at`,
		c.ID, c.OwnerID, c.Name, string(profile), c.FullBio, c.CorePersona, now, now)
	if err != nil {
		return fmt.Errorf("character: upsert: %w", err)
	}
	c.UpdatedAt = now
	return nil
}
