package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/personae/internal/gate"
)

// Pinger is implemented by the postgres-backed stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database reports whether the database answers a ping.
func Database(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Degrader is implemented by [memory.Guard].
type Degrader interface {
	IsDegraded() bool
}

// Memory fails while the memory store is marked degraded after repeated
// errors.
func Memory(d Degrader) Checker {
	return Checker{Name: "memory", Check: func(context.Context) error {
		if d.IsDegraded() {
			return errors.New("memory store degraded")
		}
		return nil
	}}
}

// GateMemory fails while the process heap exceeds the gate's hard ceiling,
// which is also when generation requests are being refused.
func GateMemory(usage func() gate.Usage) Checker {
	return Checker{Name: "gate", Check: func(context.Context) error {
		u := usage()
		if u.OverHardLimit {
			return fmt.Errorf("heap %d bytes above hard limit %d", u.HeapAllocBytes, u.HardLimitBytes)
		}
		return nil
	}}
}

// Healthier is implemented by the resilience fallback wrappers.
type Healthier interface {
	Healthy() bool
}

// Provider fails when every backend behind p has an open circuit breaker.
func Provider(name string, p Healthier) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !p.Healthy() {
			return errors.New("all backends unavailable")
		}
		return nil
	}}
}
