package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("openai", "openai", FallbackConfig{
		Kind:           "llm",
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("ollama", "ollama")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	tests := []struct {
		name    string
		failing map[string]bool
		want    string
		wantErr bool
	}{
		{name: "primary answers", want: "openai"},
		{name: "fails over", failing: map[string]bool{"openai": true}, want: "ollama"},
		{name: "all fail", failing: map[string]bool{"openai": true, "ollama": true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newGroup(3)
			var called string
			err := fg.Execute(context.Background(), func(v string) error {
				if tt.failing[v] {
					return errTest
				}
				called = v
				return nil
			})
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping the provider error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if called != tt.want {
				t.Errorf("called = %q, want %q", called, tt.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	fg := newGroup(2)
	for range 2 {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "openai" {
				return errTest
			}
			return nil
		})
	}

	var calls []string
	err := fg.Execute(context.Background(), func(v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != "ollama" {
		t.Errorf("calls = %v, want only ollama", calls)
	}

	st := fg.Status()
	if len(st) != 2 || st[0] != (EntryStatus{Name: "openai", State: "open"}) || st[1].State != "closed" {
		t.Errorf("Status = %+v", st)
	}
	if !fg.Healthy() {
		t.Error("group with one closed breaker must be healthy")
	}
}

func TestFallbackGroup_Healthy(t *testing.T) {
	fg := NewFallbackGroup("only", "only", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	if !fg.Healthy() {
		t.Fatal("fresh group must be healthy")
	}
	_ = fg.Execute(context.Background(), func(string) error { return errTest })
	if fg.Healthy() {
		t.Error("group with every breaker open must be unhealthy")
	}
	if fg.Primary() != "only" {
		t.Errorf("Primary = %q", fg.Primary())
	}
}

func TestFallbackGroup_StopsWhenContextDone(t *testing.T) {
	fg := newGroup(3)
	ctx, cancel := context.WithCancel(context.Background())

	var calls []string
	err := fg.Execute(ctx, func(v string) error {
		calls = append(calls, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, fallbacks must not run after cancellation", calls)
	}
	if fg.Status()[0].State != "closed" {
		t.Error("cancellation must not count against the primary")
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	got, err := ExecuteWithResult(context.Background(), fg, func(v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 40 {
		t.Errorf("result = %d, want 40", got)
	}
}
