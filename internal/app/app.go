// Package app wires all personae subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and background loops, and Shutdown
// tears everything down in order.
//
// For testing, inject stores and providers via functional options
// (WithCharacterStore, WithLLM, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/personae/internal/api"
	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/config"
	"github.com/MrWong99/personae/internal/discord"
	"github.com/MrWong99/personae/internal/engine"
	"github.com/MrWong99/personae/internal/gate"
	"github.com/MrWong99/personae/internal/health"
	"github.com/MrWong99/personae/internal/ingest"
	"github.com/MrWong99/personae/internal/mcpserver"
	"github.com/MrWong99/personae/internal/observe"
	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/pkg/memory"
	"github.com/MrWong99/personae/pkg/memory/postgres"
	"github.com/MrWong99/personae/pkg/provider/embeddings"
	"github.com/MrWong99/personae/pkg/provider/llm"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	scrape   http.Handler
	level    *slog.LevelVar
	version  string

	// Stores and providers. Injected or built from cfg in New.
	chars    character.Store
	store    memory.Store
	guard    *memory.Guard
	llm      llm.Provider
	embedder embeddings.Provider

	checkers []health.Checker

	gate      *gate.Gate
	retriever *rag.Retriever
	ingester  *ingest.Ingester
	engine    *engine.Engine
	health    *health.Handler
	mcp       *mcpserver.Server
	api       *api.Server

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCharacterStore injects a character store instead of creating one
// from the storage config.
func WithCharacterStore(s character.Store) Option {
	return func(a *App) { a.chars = s }
}

// WithMemoryStore injects a memory store instead of creating one from the
// storage config.
func WithMemoryStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLLM injects the text-generation provider, bypassing the registry.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithEmbeddings injects the embeddings provider, bypassing the registry.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// WithRegistry replaces [config.DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served at /metrics. Defaults to the
// Prometheus default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated. Stores opened here are closed by Shutdown, also when New fails
// half way.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.scrape == nil {
		a.scrape = promhttp.Handler()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Seed characters ───────────────────────────────────────────────
	if err := a.importSeeds(ctx); err != nil {
		return fmt.Errorf("app: import seeds: %w", err)
	}

	// ── 3. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(ctx); err != nil {
		return fmt.Errorf("app: init providers: %w", err)
	}

	// ── 4. Core services ─────────────────────────────────────────────────
	if err := a.initServices(); err != nil {
		return fmt.Errorf("app: init services: %w", err)
	}

	// ── 5. Surfaces ──────────────────────────────────────────────────────
	a.initSurfaces()
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage opens the configured backend for whichever stores were not
// injected. The sqlite backend persists characters only; memories stay in
// process.
func (a *App) initStorage(ctx context.Context) error {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.StoragePostgres:
		if a.chars != nil && a.store != nil {
			break
		}
		pg, err := postgres.NewStore(ctx, sc.PostgresDSN, sc.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		a.checkers = append(a.checkers, health.Database("postgres", pg))
		if a.store == nil {
			a.store = pg
		}
		if a.chars == nil {
			cs := character.NewPostgresStore(pg.Pool())
			if err := cs.Migrate(ctx); err != nil {
				return err
			}
			a.chars = cs
		}

	case config.StorageSQLite:
		if a.chars == nil {
			cs, err := character.NewSQLiteStore(sc.SQLitePath)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, cs.Close)
			a.checkers = append(a.checkers, health.Database("sqlite", cs))
			a.chars = cs
		}
		if a.store == nil {
			slog.Warn("sqlite backend keeps memories in process; they are lost on restart")
		}
	}

	if a.chars == nil {
		a.chars = character.NewMemStore()
	}
	if a.store == nil {
		a.store = memory.NewMemStore()
	}
	a.guard = memory.NewGuard(a.store)
	a.checkers = append(a.checkers, health.Memory(a.guard))
	return nil
}

// importSeeds upserts the characters from every configured seed file.
func (a *App) importSeeds(ctx context.Context) error {
	for _, path := range a.cfg.Characters.SeedFiles {
		chars, err := character.LoadSeedFile(path)
		if err != nil {
			return err
		}
		ids, err := character.Import(ctx, a.chars, chars)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		slog.Info("imported seed characters", "path", path, "count", len(ids))
	}
	return nil
}

// initProviders builds the llm and embeddings fallback groups from the
// registry unless they were injected.
func (a *App) initProviders(ctx context.Context) error {
	if a.llm == nil {
		fb, err := a.registry.BuildLLM(ctx, a.cfg, a.metrics)
		if err != nil {
			return err
		}
		a.llm = fb
		a.checkers = append(a.checkers, health.Provider("llm", fb))
	}
	if a.embedder == nil {
		fb, err := a.registry.BuildEmbeddings(ctx, a.cfg, a.metrics)
		if err != nil {
			return err
		}
		a.embedder = fb
		a.checkers = append(a.checkers, health.Provider("embeddings", fb))
	}
	return nil
}

func (a *App) initServices() error {
	var err error
	a.gate, err = gate.New(a.llm,
		gate.WithConfig(a.cfg.Gate.Gate()),
		gate.WithMetrics(a.metrics),
		gate.WithHaltHook(func() { slog.Warn("emergency stop: all in-flight generations cancelled") }),
	)
	if err != nil {
		return err
	}

	a.retriever, err = rag.New(a.chars, a.guard, a.embedder,
		rag.WithDefaults(a.cfg.Retrieval.Options()),
		rag.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	ingestOpts := []ingest.Option{ingest.WithLLM(a.llm), ingest.WithMetrics(a.metrics)}
	if ic := a.cfg.Ingest; ic.ChunkSize > 0 {
		ingestOpts = append(ingestOpts, ingest.WithChunking(ic.ChunkSize, ic.ChunkOverlap))
	}
	if n := a.cfg.Ingest.PersonaMaxWords; n > 0 {
		ingestOpts = append(ingestOpts, ingest.WithPersonaMaxWords(n))
	}
	a.ingester, err = ingest.New(a.chars, a.guard, a.embedder, ingestOpts...)
	if err != nil {
		return err
	}

	a.engine, err = engine.New(a.chars, a.gate,
		engine.WithRetriever(a.retriever),
		engine.WithConfig(a.cfg.Runtime()),
		engine.WithConversations(engine.NewMemConversations(a.cfg.Engine.HistoryCap)),
		engine.WithPromptBudget(a.gate.Config().MaxPromptChars),
		engine.WithMetrics(a.metrics),
	)
	return err
}

func (a *App) initSurfaces() {
	a.health = health.New(append(a.checkers, health.GateMemory(a.gate.ResourceUsage))...)

	a.mcp = mcpserver.New(a.chars,
		mcpserver.WithMemories(a.retriever),
		mcpserver.WithEngine(a.engine),
		mcpserver.WithVersion(a.version),
	)

	opts := []api.Option{
		api.WithIngester(a.ingester),
		api.WithMemories(a.retriever),
		api.WithAdmission(a.gate.Middleware),
		api.WithHealth(a.health),
		api.WithMetrics(a.metrics),
		api.WithHandler("/metrics", a.scrape),
	}
	if a.cfg.MCP.Transport == config.MCPStreamableHTTP {
		opts = append(opts, api.WithHandler(a.cfg.MCP.Path, a.mcp.Handler()))
	}
	a.api = api.New(a.chars, a.engine, opts...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the character engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Ingester returns the biography ingester.
func (a *App) Ingester() *ingest.Ingester { return a.ingester }

// Retriever returns the memory retriever.
func (a *App) Retriever() *rag.Retriever { return a.retriever }

// Characters returns the character store.
func (a *App) Characters() character.Store { return a.chars }

// MCP returns the MCP tool server.
func (a *App) MCP() *mcpserver.Server { return a.mcp }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API, the gate memory monitor and, when configured, the
// Discord bot until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	sc := a.cfg.Server
	var cert, key string
	if sc.TLS != nil {
		cert, key = sc.TLS.CertFile, sc.TLS.KeyFile
	}
	g.Go(func() error {
		return a.api.ListenAndServe(ctx, sc.ListenAddr, cert, key, sc.ShutdownTimeout)
	})

	g.Go(func() error {
		a.gate.Monitor(ctx, a.cfg.Gate.MonitorInterval)
		return nil
	})

	if dc := a.cfg.Discord; dc.Enabled() {
		bot, err := discord.New(ctx, discord.Config{
			Token:       dc.Token,
			CharacterID: dc.CharacterID,
			Channels:    dc.Channels,
			AdminRoleID: dc.AdminRoleID,
		}, a.engine)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.closers = append([]func() error{bot.Close}, a.closers...)
		g.Go(func() error { return bot.Run(ctx) })
	}

	slog.Info("server ready", "listen_addr", sc.ListenAddr, "discord", a.cfg.Discord.Enabled(), "mcp", a.cfg.MCP.Transport)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ApplyReload pushes a config file change into the running app. Engine
// settings and the log level apply immediately; other changes are logged
// as needing a restart.
func (a *App) ApplyReload(r config.Reload) {
	if r.PatchChanged {
		cfg, err := a.engine.UpdateConfig(r.Patch)
		if err != nil {
			slog.Error("config reload rejected", "err", err)
		} else {
			slog.Info("engine config reloaded", "strategy", cfg.Strategy, "max_tokens", cfg.MaxTokens, "use_rag", cfg.UseRAG)
		}
	}
	if r.LogLevelChanged && a.level != nil {
		a.level.Set(r.NewLogLevel.Slog())
		slog.Info("log level changed", "level", r.NewLogLevel)
	}
	if len(r.RestartRequired) > 0 {
		slog.Warn("config sections changed that apply only after a restart", "sections", r.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown waits for background memory writes and runs the closers in
// order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.engine != nil {
			a.engine.Wait()
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
