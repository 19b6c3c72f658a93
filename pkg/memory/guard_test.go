package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/personae/pkg/memory"
	"github.com/MrWong99/personae/pkg/memory/mock"
)

func TestGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("passes results through", func(t *testing.T) {
		store := mock.NewStore()
		g := memory.NewGuard(store)
		if err := g.Insert(ctx, memory.Record{CharacterID: "luna", Content: "x"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		n, err := g.Count(ctx, "luna", memory.Filter{})
		if err != nil || n != 1 {
			t.Fatalf("Count = %d, %v; want 1, nil", n, err)
		}
		if g.IsDegraded() {
			t.Error("should not be degraded")
		}
	})

	t.Run("failure marks degraded and returns error", func(t *testing.T) {
		store := mock.NewStore()
		store.NearestErr = errors.New("connection refused")
		g := memory.NewGuard(store)

		if _, err := g.Nearest(ctx, "luna", []float32{1}, memory.Filter{}, 3); err == nil {
			t.Fatal("expected error to propagate")
		}
		if !g.IsDegraded() {
			t.Error("should be degraded after failure")
		}

		store.NearestErr = nil
		if _, err := g.Nearest(ctx, "luna", []float32{1}, memory.Filter{}, 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if g.IsDegraded() {
			t.Error("should recover after success")
		}
	})
}
