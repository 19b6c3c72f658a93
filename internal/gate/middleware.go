package gate

import (
	"encoding/json"
	"net/http"
)

type rejection struct {
	Error string `json:"error"`
}

// Middleware rejects requests before they reach a generation handler: 503
// when heap usage is above the hard ceiling and 429 when the active-request
// table is full. Both responses carry a Retry-After header.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if heap := g.heap(); heap > g.cfg.HardMemoryBytes {
			g.metrics.RecordGateRejection(r.Context(), "memory")
			reject(w, http.StatusServiceUnavailable, "server is low on memory, try again later")
			return
		}
		if g.ActiveCount() >= g.cfg.MaxConcurrent {
			g.metrics.RecordGateRejection(r.Context(), "too_many_concurrent")
			reject(w, http.StatusTooManyRequests, ErrTooManyConcurrent.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection{Error: msg})
}
