package character

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return nil, errors.New("mockDB: Query not configured")
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS characters") {
			t.Errorf("unexpected DDL: %s", sql)
		}
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}

func TestPostgresStore_Create(t *testing.T) {
	t.Parallel()

	t.Run("stores authored profile only", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		db := &mockDB{queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			if !strings.Contains(sql, "INSERT INTO characters") {
				t.Errorf("unexpected SQL: %s", sql)
			}
			var profile map[string]any
			if err := json.Unmarshal(args[3].([]byte), &profile); err != nil {
				t.Fatalf("profile is not JSON: %v", err)
			}
			if _, ok := profile["full_bio"]; ok {
				t.Error("derived full_bio must not be stored in profile")
			}
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*time.Time) = now
				*dest[1].(*time.Time) = now
				return nil
			}}
		}}
		c := luna()
		c.FullBio = "should not leak"
		if err := NewPostgresStore(db).Create(context.Background(), c); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if !c.CreatedAt.Equal(now) {
			t.Error("CreatedAt not populated")
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error { return &pgconn.PgError{Code: "23505"} }}
		}}
		err := NewPostgresStore(db).Create(context.Background(), luna())
		if err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Fatalf("err = %v, want already exists", err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		if err := NewPostgresStore(&mockDB{}).Create(context.Background(), &Character{}); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		profile, _ := marshalProfile(luna())
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "luna"
				*dest[1].(*string) = "u1"
				*dest[2].(*string) = "Luna"
				*dest[3].(*[]byte) = profile
				*dest[4].(*string) = "the bio"
				*dest[5].(*string) = "the persona"
				return nil
			}}
		}}
		c, err := NewPostgresStore(db).Get(context.Background(), "luna")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if c.Name != "Luna" || c.CorePersona != "the persona" || c.PrimaryTrait() != "empathetic" {
			t.Errorf("unexpected character: %+v", c)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		c, err := NewPostgresStore(&mockDB{}).Get(context.Background(), "nobody")
		if c != nil || err != nil {
			t.Fatalf("Get = %v, %v; want nil, nil", c, err)
		}
	})
}

func TestPostgresStore_SetDerived(t *testing.T) {
	t.Parallel()
	db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}}
	err := NewPostgresStore(db).SetDerived(context.Background(), "missing", "b", "p")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_Update_NotFound(t *testing.T) {
	t.Parallel()
	err := NewPostgresStore(&mockDB{}).Update(context.Background(), luna())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
