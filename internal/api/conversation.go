package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/personae/internal/engine"
)

// userParam returns the user_id query parameter, defaulting like the
// engine does.
func userParam(r *http.Request) string {
	if u := r.URL.Query().Get("user_id"); u != "" {
		return u
	}
	return engine.DefaultUserID
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	turns := s.engine.ConversationHistory(chi.URLParam(r, "id"), userParam(r))
	if turns == nil {
		turns = []engine.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

// clearHistory clears one user's conversation, or every conversation of
// the character when all=true.
func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("all") == "true" {
		n := s.engine.ClearConversationHistoryForCharacter(id)
		writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
		return
	}
	s.engine.ClearConversationHistory(id, userParam(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.CharacterState(chi.URLParam(r, "id")))
}

// StateUpdate is the body of PUT /state. Nil fields are left unchanged.
type StateUpdate struct {
	Typing   *bool   `json:"typing,omitempty"`
	Location *string `json:"location,omitempty"`
}

func (s *Server) updateState(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookup(w, r); !ok {
		return
	}
	var req StateUpdate
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if req.Typing != nil {
		s.engine.SetCharacterTyping(id, *req.Typing)
	}
	if req.Location != nil {
		s.engine.SetCharacterLocation(id, *req.Location)
	}
	writeJSON(w, http.StatusOK, s.engine.CharacterState(id))
}
