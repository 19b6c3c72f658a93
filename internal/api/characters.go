package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/observe"
)

func (s *Server) listCharacters(w http.ResponseWriter, r *http.Request) {
	list, err := s.chars.List(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []character.Character{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createCharacter(w http.ResponseWriter, r *http.Request) {
	var c character.Character
	if !decode(w, r, &c) {
		return
	}
	c.FullBio, c.CorePersona = "", ""
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.chars.Create(r.Context(), &c); err != nil {
		writeErr(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("api: character created", "character_id", c.ID, "name", c.Name)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getCharacter(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// updateCharacter replaces the authored fields. The derived biography and
// persona stay until the next ingestion.
func (s *Server) updateCharacter(w http.ResponseWriter, r *http.Request) {
	var c character.Character
	if !decode(w, r, &c) {
		return
	}
	c.ID = chi.URLParam(r, "id")
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.chars.Update(r.Context(), &c); err != nil {
		writeErr(w, r, err)
		return
	}
	updated, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// deleteCharacter removes the profile and every conversation with it.
func (s *Server) deleteCharacter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.chars.Delete(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	s.engine.ClearConversationHistoryForCharacter(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ingestCharacter(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is not configured")
		return
	}
	res, err := s.ingester.IngestCharacterBio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}
