// Package api exposes characters, chat, memories and operator controls over
// HTTP and WebSocket.
//
// All JSON routes live under /api/v1. Generation routes (chat and stream)
// pass through an admission middleware, normally [gate.Gate.Middleware], so
// overload is refused before any work starts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/engine"
	"github.com/MrWong99/personae/internal/gate"
	"github.com/MrWong99/personae/internal/health"
	"github.com/MrWong99/personae/internal/ingest"
	"github.com/MrWong99/personae/internal/observe"
	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/pkg/memory"
)

// maxBodyBytes bounds request bodies. Biographies are the largest payload.
const maxBodyBytes = 1 << 20

// Engine is the part of [engine.Engine] the API serves.
type Engine interface {
	GenerateCharacterResponse(ctx context.Context, req engine.Request) (*engine.Response, error)
	GenerateCharacterResponseStream(ctx context.Context, req engine.Request, onChunk func(string)) (*engine.Response, error)
	ConversationHistory(characterID, userID string) []engine.Turn
	ClearConversationHistory(characterID, userID string)
	ClearConversationHistoryForCharacter(characterID string) int
	CharacterState(characterID string) engine.State
	SetCharacterTyping(characterID string, typing bool)
	SetCharacterLocation(characterID, location string)
	Config() engine.Config
	UpdateConfig(p engine.ConfigPatch) (engine.Config, error)
	HealthCheck() engine.Health
	ResourceUsage() gate.Usage
	EmergencyStop() int
}

// Ingester runs the biography pipeline.
type Ingester interface {
	IngestCharacterBio(ctx context.Context, characterID string) (*ingest.Result, error)
}

// Memories searches, stores and prunes character memories.
type Memories interface {
	SearchMemories(ctx context.Context, characterID, query string, o rag.Options) ([]rag.Scored, error)
	StoreMemory(ctx context.Context, characterID, content string, t memory.Type, meta rag.Metadata) (*memory.Record, error)
	PruneMemories(ctx context.Context, characterID string, opts rag.PruneOptions) (rag.PruneResult, error)
}

var (
	_ Engine   = (*engine.Engine)(nil)
	_ Ingester = (*ingest.Ingester)(nil)
	_ Memories = (*rag.Retriever)(nil)
)

// Server routes HTTP requests. Build it with [New] and serve [Server.Handler].
type Server struct {
	chars    character.Store
	engine   Engine
	ingester Ingester
	memories Memories

	admission func(http.Handler) http.Handler
	health    *health.Handler
	metrics   *observe.Metrics
	extra     map[string]http.Handler

	router chi.Router
}

// Option configures a [Server].
type Option func(*Server)

// WithIngester enables POST /characters/{id}/ingest.
func WithIngester(in Ingester) Option {
	return func(s *Server) { s.ingester = in }
}

// WithMemories enables the memory routes.
func WithMemories(m Memories) Option {
	return func(s *Server) { s.memories = m }
}

// WithAdmission guards the generation routes with mw.
func WithAdmission(mw func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.admission = mw }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHandler mounts h at pattern outside /api/v1, e.g. /metrics or the
// MCP endpoint.
func WithHandler(pattern string, h http.Handler) Option {
	return func(s *Server) { s.extra[pattern] = h }
}

// New creates a [Server] over the character store and engine.
func New(chars character.Store, eng Engine, opts ...Option) *Server {
	s := &Server{
		chars:     chars,
		engine:    eng,
		admission: func(next http.Handler) http.Handler { return next },
		extra:     make(map[string]http.Handler),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	if s.health != nil {
		s.health.Register(r)
	}
	for pattern, h := range s.extra {
		r.Handle(pattern, h)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/characters", s.listCharacters)
		r.Post("/characters", s.createCharacter)

		r.Route("/characters/{id}", func(r chi.Router) {
			r.Get("/", s.getCharacter)
			r.Put("/", s.updateCharacter)
			r.Delete("/", s.deleteCharacter)

			r.Post("/ingest", s.ingestCharacter)

			r.Group(func(r chi.Router) {
				r.Use(s.admission)
				r.Post("/chat", s.chat)
				r.Get("/stream", s.stream)
			})

			r.Get("/history", s.history)
			r.Delete("/history", s.clearHistory)

			r.Get("/state", s.state)
			r.Put("/state", s.updateState)

			r.Get("/memories", s.searchMemories)
			r.Post("/memories", s.storeMemory)
			r.Post("/memories/prune", s.pruneMemories)
		})

		r.Get("/config", s.getConfig)
		r.Patch("/config", s.patchConfig)
		r.Get("/health", s.engineHealth)
		r.Get("/resources", s.resources)
		r.Post("/emergency-stop", s.emergencyStop)
	})
	return r
}

// ListenAndServe serves s on addr until ctx is done, then shuts down within
// shutdownTimeout. TLS is used when both files are given.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api: listening", "addr", addr, "tls", certFile != "")
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeErr maps err to a status code. Unexpected errors are logged and
// reported without detail.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, character.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, 499, "client closed request")
	default:
		observe.Logger(r.Context()).Error("api: request failed",
			"method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// lookup loads the {id} character or writes 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*character.Character, bool) {
	c, err := character.Lookup(r.Context(), s.chars, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return nil, false
	}
	return c, true
}
