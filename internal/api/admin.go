package api

import (
	"net/http"

	"github.com/MrWong99/personae/internal/engine"
	"github.com/MrWong99/personae/internal/observe"
)

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Config())
}

// patchConfig applies a partial runtime update. Invalid results are
// rejected as a whole.
func (s *Server) patchConfig(w http.ResponseWriter, r *http.Request) {
	var p engine.ConfigPatch
	if !decode(w, r, &p) {
		return
	}
	cfg, err := s.engine.UpdateConfig(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	observe.Logger(r.Context()).Info("api: runtime config updated", "strategy", cfg.Strategy, "use_rag", cfg.UseRAG)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) engineHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.HealthCheck())
}

func (s *Server) resources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ResourceUsage())
}

func (s *Server) emergencyStop(w http.ResponseWriter, r *http.Request) {
	n := s.engine.EmergencyStop()
	observe.Logger(r.Context()).Warn("api: emergency stop requested", "cancelled", n, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}
