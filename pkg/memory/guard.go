package memory

import (
	"context"
	"log/slog"
	"sync/atomic"
)

var _ Store = (*Guard)(nil)

// Guard wraps a [Store] and records whether the backend is healthy. Every
// call is delegated unchanged; a failing call marks the guard degraded and a
// succeeding call clears the flag. Readiness probes report [Guard.IsDegraded].
//
// Unlike the retrieval engine, Guard does not swallow errors. Callers decide
// whether a failure is fatal.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

// NewGuard creates a new [Guard] wrapping store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// IsDegraded reports whether the most recent operation failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

// Unwrap returns the wrapped store.
func (g *Guard) Unwrap() Store { return g.store }

func (g *Guard) observe(op string, err error) {
	if err != nil {
		if !g.degraded.Swap(true) {
			slog.Warn("memory guard: store degraded", "op", op, "err", err)
		}
		return
	}
	if g.degraded.Swap(false) {
		slog.Info("memory guard: store recovered", "op", op)
	}
}

// Insert implements [Store.Insert].
func (g *Guard) Insert(ctx context.Context, records ...Record) error {
	err := g.store.Insert(ctx, records...)
	g.observe("insert", err)
	return err
}

// Nearest implements [Store.Nearest].
func (g *Guard) Nearest(ctx context.Context, characterID string, query []float32, filter Filter, limit int) ([]Neighbor, error) {
	out, err := g.store.Nearest(ctx, characterID, query, filter, limit)
	g.observe("nearest", err)
	return out, err
}

// List implements [Store.List].
func (g *Guard) List(ctx context.Context, characterID string, filter Filter) ([]Record, error) {
	out, err := g.store.List(ctx, characterID, filter)
	g.observe("list", err)
	return out, err
}

// Count implements [Store.Count].
func (g *Guard) Count(ctx context.Context, characterID string, filter Filter) (int, error) {
	n, err := g.store.Count(ctx, characterID, filter)
	g.observe("count", err)
	return n, err
}

// Delete implements [Store.Delete].
func (g *Guard) Delete(ctx context.Context, ids ...string) (int, error) {
	n, err := g.store.Delete(ctx, ids...)
	g.observe("delete", err)
	return n, err
}

// DeleteByType implements [Store.DeleteByType].
func (g *Guard) DeleteByType(ctx context.Context, characterID string, t Type) (int, error) {
	n, err := g.store.DeleteByType(ctx, characterID, t)
	g.observe("delete_by_type", err)
	return n, err
}

// DeleteCharacter implements [Store.DeleteCharacter].
func (g *Guard) DeleteCharacter(ctx context.Context, characterID string) (int, error) {
	n, err := g.store.DeleteCharacter(ctx, characterID)
	g.observe("delete_character", err)
	return n, err
}
