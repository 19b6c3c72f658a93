package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/pkg/memory"
)

// MemoryView is the wire form of a memory record. Vectors are omitted.
type MemoryView struct {
	ID                string            `json:"id"`
	CharacterID       string            `json:"character_id"`
	Content           string            `json:"content"`
	Type              memory.Type       `json:"type"`
	EmotionalWeight   float64           `json:"emotional_weight"`
	Importance        memory.Importance `json:"importance"`
	DayNumber         *int              `json:"day_number,omitempty"`
	TimeOfDay         string            `json:"time_of_day,omitempty"`
	Location          string            `json:"location,omitempty"`
	RelatedCharacters []string          `json:"related_characters,omitempty"`
	Topics            []string          `json:"topics,omitempty"`
	SessionID         string            `json:"session_id,omitempty"`
	Embedded          bool              `json:"embedded"`
	CreatedAt         time.Time         `json:"created_at"`

	Similarity float64 `json:"similarity,omitzero"`
	Score      float64 `json:"score,omitzero"`
}

func viewOf(rec memory.Record) MemoryView {
	return MemoryView{
		ID:                rec.ID,
		CharacterID:       rec.CharacterID,
		Content:           rec.Content,
		Type:              rec.Type,
		EmotionalWeight:   rec.EmotionalWeight,
		Importance:        rec.Importance,
		DayNumber:         rec.DayNumber,
		TimeOfDay:         rec.TimeOfDay,
		Location:          rec.Location,
		RelatedCharacters: rec.RelatedCharacters,
		Topics:            rec.Topics,
		SessionID:         rec.SessionID,
		Embedded:          len(rec.Embedding) > 0,
		CreatedAt:         rec.CreatedAt,
	}
}

// searchMemories serves GET /memories?q=...&limit=&min_similarity=&types=a,b.
func (s *Server) searchMemories(w http.ResponseWriter, r *http.Request) {
	if s.memories == nil {
		writeError(w, http.StatusNotImplemented, "memories are not configured")
		return
	}
	if _, ok := s.lookup(w, r); !ok {
		return
	}

	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	opts := rag.DefaultOptions()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.MaxResults = n
	}
	if v := q.Get("min_similarity"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "min_similarity must be within [0, 1]")
			return
		}
		opts.MinSimilarity = f
	}
	if v := q.Get("types"); v != "" {
		opts.MemoryTypes = nil
		for _, name := range strings.Split(v, ",") {
			t, err := memory.ParseType(strings.TrimSpace(name))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			opts.MemoryTypes = append(opts.MemoryTypes, t)
		}
	}

	scored, err := s.memories.SearchMemories(r.Context(), chi.URLParam(r, "id"), query, opts)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]MemoryView, len(scored))
	for i, sc := range scored {
		out[i] = viewOf(sc.Record)
		out[i].Similarity, out[i].Score = sc.Similarity, sc.Score
	}
	writeJSON(w, http.StatusOK, out)
}

// StoreMemoryRequest is the body of POST /memories.
type StoreMemoryRequest struct {
	Content  string       `json:"content"`
	Type     memory.Type  `json:"type"`
	Metadata rag.Metadata `json:"metadata"`
}

func (s *Server) storeMemory(w http.ResponseWriter, r *http.Request) {
	if s.memories == nil {
		writeError(w, http.StatusNotImplemented, "memories are not configured")
		return
	}
	if _, ok := s.lookup(w, r); !ok {
		return
	}

	var req StoreMemoryRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case strings.TrimSpace(req.Content) == "":
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	case !req.Type.Valid():
		writeError(w, http.StatusBadRequest, "unknown memory type "+strconv.Quote(string(req.Type)))
		return
	case req.Type == memory.TypeBioChunk:
		writeError(w, http.StatusBadRequest, "bio_chunk memories are written by ingestion only")
		return
	case req.Metadata.Importance != "" && !req.Metadata.Importance.Valid():
		writeError(w, http.StatusBadRequest, "unknown importance "+strconv.Quote(string(req.Metadata.Importance)))
		return
	}

	rec, err := s.memories.StoreMemory(r.Context(), chi.URLParam(r, "id"), req.Content, req.Type, req.Metadata)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(*rec))
}

func (s *Server) pruneMemories(w http.ResponseWriter, r *http.Request) {
	if s.memories == nil {
		writeError(w, http.StatusNotImplemented, "memories are not configured")
		return
	}
	if _, ok := s.lookup(w, r); !ok {
		return
	}

	var req struct {
		MaxMemories    int               `json:"max_memories"`
		MinImportance  memory.Importance `json:"min_importance"`
		OlderThanDays  int               `json:"older_than_days"`
		EmotionalFloor float64           `json:"emotional_floor"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	res, err := s.memories.PruneMemories(r.Context(), chi.URLParam(r, "id"), rag.PruneOptions{
		MaxMemories:    req.MaxMemories,
		MinImportance:  req.MinImportance,
		OlderThanDays:  req.OlderThanDays,
		EmotionalFloor: req.EmotionalFloor,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		rag.PruneResult
		Deleted int `json:"deleted"`
	}{res, res.Deleted()})
}
