package gate

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// Usage is a point-in-time resource report.
type Usage struct {
	HeapAllocBytes uint64        `json:"heap_alloc_bytes"`
	SoftLimitBytes uint64        `json:"soft_limit_bytes"`
	HardLimitBytes uint64        `json:"hard_limit_bytes"`
	Goroutines     int           `json:"goroutines"`
	ActiveRequests int           `json:"active_requests"`
	ActiveIDs      []string      `json:"active_ids"`
	MaxConcurrent  int           `json:"max_concurrent"`
	Uptime         time.Duration `json:"uptime_ns"`
	UptimeSeconds  float64       `json:"uptime_seconds"`
	OverSoftLimit  bool          `json:"over_soft_limit"`
	OverHardLimit  bool          `json:"over_hard_limit"`
}

// ResourceUsage reports memory, the active-request table and uptime.
func (g *Gate) ResourceUsage() Usage {
	active := g.Active()
	ids := make([]string, len(active))
	for i, r := range active {
		ids[i] = r.ID
	}
	heap := g.heap()
	up := time.Since(g.started)
	return Usage{
		HeapAllocBytes: heap,
		SoftLimitBytes: g.cfg.SoftMemoryBytes,
		HardLimitBytes: g.cfg.HardMemoryBytes,
		Goroutines:     runtime.NumGoroutine(),
		ActiveRequests: len(ids),
		ActiveIDs:      ids,
		MaxConcurrent:  g.cfg.MaxConcurrent,
		Uptime:         up,
		UptimeSeconds:  up.Seconds(),
		OverSoftLimit:  heap > g.cfg.SoftMemoryBytes,
		OverHardLimit:  heap > g.cfg.HardMemoryBytes,
	}
}

// Monitor samples heap usage every interval and logs a warning while it is
// above the soft threshold. It blocks until ctx is cancelled.
func (g *Gate) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if heap := g.heap(); heap > g.cfg.SoftMemoryBytes {
				slog.Warn("gate: memory above soft threshold",
					"heap_bytes", heap,
					"soft_limit_bytes", g.cfg.SoftMemoryBytes,
					"active", g.ActiveCount(),
				)
			}
		}
	}
}
