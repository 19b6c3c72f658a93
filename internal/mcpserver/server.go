// Package mcpserver exposes characters, their memories and conversation as
// Model Context Protocol tools so external agents can read and write a
// character's memory and talk to it.
//
// The server is built on the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk) and is served either over stdio
// or as a streamable-HTTP handler mounted next to the REST API:
//
//	s := mcpserver.New(chars, mcpserver.WithMemories(retriever), mcpserver.WithEngine(eng))
//	err := s.ServeStdio(ctx)
//
// Memory tools are registered only when a memory backend is configured, and
// state and chat tools only when an engine is.
package mcpserver

import (
	"context"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/engine"
	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/pkg/memory"
)

// Implementation name reported to MCP clients.
const implementationName = "personae"

// Memories is the memory surface the tools call.
type Memories interface {
	SearchMemories(ctx context.Context, characterID, query string, o rag.Options) ([]rag.Scored, error)
	StoreMemory(ctx context.Context, characterID, content string, t memory.Type, meta rag.Metadata) (*memory.Record, error)
}

// Engine is the conversation surface the tools call.
type Engine interface {
	GenerateCharacterResponse(ctx context.Context, req engine.Request) (*engine.Response, error)
	CharacterState(characterID string) engine.State
}

var (
	_ Memories = (*rag.Retriever)(nil)
	_ Engine   = (*engine.Engine)(nil)
)

// Server holds the MCP server and its backends.
type Server struct {
	sdk      *mcpsdk.Server
	chars    character.Store
	memories Memories
	engine   Engine
	version  string
}

// Option configures a Server.
type Option func(*Server)

// WithMemories enables the search_memories and store_memory tools.
func WithMemories(m Memories) Option {
	return func(s *Server) { s.memories = m }
}

// WithEngine enables the character_state and chat tools.
func WithEngine(e Engine) Option {
	return func(s *Server) { s.engine = e }
}

// WithVersion sets the version reported to clients. Defaults to "dev".
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New builds a Server and registers its tools.
func New(chars character.Store, opts ...Option) *Server {
	s := &Server{chars: chars, version: "dev"}
	for _, o := range opts {
		o(s)
	}
	s.sdk = mcpsdk.NewServer(&mcpsdk.Implementation{Name: implementationName, Version: s.version}, nil)
	s.registerTools()
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.sdk }

// ServeStdio serves a single client over stdin/stdout until ctx is done or
// the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.sdk.Run(ctx, &mcpsdk.StdioTransport{})
}

// Handler returns a streamable-HTTP handler serving every request with
// this server.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.sdk }, nil)
}
