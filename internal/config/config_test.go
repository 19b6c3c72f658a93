package config_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/personae/internal/config"
	"github.com/MrWong99/personae/internal/prompt"
	"github.com/MrWong99/personae/pkg/provider/embeddings"
	embmock "github.com/MrWong99/personae/pkg/provider/embeddings/mock"
	"github.com/MrWong99/personae/pkg/provider/llm"
	llmmock "github.com/MrWong99/personae/pkg/provider/llm/mock"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: ollama
      model: llama3.1:8b
      base_url: http://localhost:11434
  embeddings:
    name: ollama
    model: nomic-embed-text
    options:
      timeout: 10s
  circuit_breaker:
    max_failures: 3
    reset_timeout: 30s

storage:
  backend: postgres
  postgres_dsn: postgres://localhost/personae
  embedding_dimensions: 768

gate:
  max_concurrent: 2
  timeout: 20s
  soft_memory_mb: 512
  hard_memory_mb: 1024

engine:
  strategy: RAG-Enhanced
  use_rag: false
  temperature: 0.4
  store_conversations: true

retrieval:
  max_results: 5
  min_similarity: 0.6

characters:
  seed_files:
    - characters/aria.yaml
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogFormat != config.LogJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("llm_fallbacks = %+v", cfg.Providers.LLMFallbacks)
	}
	if d := cfg.Providers.Embeddings.DurationOption("timeout"); d != 10*time.Second {
		t.Errorf("embeddings timeout option = %v", d)
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout != 30*time.Second {
		t.Errorf("reset_timeout = %v", cfg.Providers.CircuitBreaker.ResetTimeout)
	}

	g := cfg.Gate.Gate()
	if g.MaxConcurrent != 2 || g.Timeout != 20*time.Second || g.HardMemoryBytes != 1024<<20 {
		t.Errorf("gate = %+v", g)
	}

	rc := cfg.Runtime()
	if rc.Strategy != prompt.StrategyRAGEnhanced {
		t.Errorf("strategy = %q, want normalised rag-enhanced", rc.Strategy)
	}
	if rc.UseRAG || rc.Temperature != 0.4 || !rc.StoreConversations {
		t.Errorf("runtime = %+v", rc)
	}
	if rc.MaxResults != 5 || rc.MinSimilarity != 0.6 {
		t.Errorf("retrieval not carried into runtime: %+v", rc)
	}
	if len(cfg.Characters.SeedFiles) != 1 {
		t.Errorf("seed_files = %v", cfg.Characters.SeedFiles)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config must be valid: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogConsole {
		t.Errorf("logging defaults = %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if cfg.Storage.Backend != config.StorageMemory || cfg.Storage.EmbeddingDimensions != config.DefaultEmbeddingDimensions {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Providers.Embeddings.Name != "deterministic" {
		t.Errorf("embeddings default = %q", cfg.Providers.Embeddings.Name)
	}

	rc := cfg.Runtime()
	if rc.Strategy != prompt.DefaultStrategy || !rc.UseRAG || rc.MaxTokens != 150 || rc.Temperature != 0.8 {
		t.Errorf("runtime defaults = %+v", rc)
	}
	if rc.MaxResults != 3 || rc.MinSimilarity != 0.7 {
		t.Errorf("retrieval defaults = %d/%g", rc.MaxResults, rc.MinSimilarity)
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("PERSONAE_TEST_KEY", "sk-from-env")
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  llm:
    name: openai
    api_key: ${PERSONAE_TEST_KEY}
    model: gpt-4o-mini
    options:
      organization: org-$literal
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.Providers.LLM.APIKey)
	}
	if got := cfg.Providers.LLM.StringOption("organization"); got != "org-$literal" {
		t.Errorf("bare $ must survive, got %q", got)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "personae.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.MCP.Transport != config.MCPStreamableHTTP {
		t.Errorf("mcp.transport = %q", cfg.MCP.Transport)
	}
	if len(cfg.Characters.SeedFiles) == 0 {
		t.Error("example config lists no seed files")
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Slog(); got != tt.want {
			t.Errorf("LogLevel(%q).Slog() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PERSONAE_DOTENV_TEST=aria\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PERSONAE_DOTENV_TEST") })

	if err := config.LoadEnv(path, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("PERSONAE_DOTENV_TEST"); got != "aria" {
		t.Errorf("env = %q, want aria", got)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	changed, err := config.LoadFromReader(strings.NewReader(strings.Replace(sampleYAML, "max_concurrent: 2", "max_concurrent: 4", 1)))
	if err != nil {
		t.Fatal(err)
	}

	r := config.Diff(old, changed)
	if r.PatchChanged || r.LogLevelChanged {
		t.Errorf("unexpected runtime change: %+v", r)
	}
	if len(r.RestartRequired) != 1 || r.RestartRequired[0] != "gate" {
		t.Errorf("RestartRequired = %v, want [gate]", r.RestartRequired)
	}

	if same := config.Diff(old, old); same.PatchChanged || len(same.RestartRequired) != 0 {
		t.Errorf("identical configs reported changes: %+v", same)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	if _, err := r.CreateLLM(context.Background(), config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM err = %v", err)
	}
	if _, err := r.CreateEmbeddings(context.Background(), config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateEmbeddings err = %v", err)
	}
}

func TestRegistry_BuildLLM(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}

	r := config.NewRegistry()
	r.RegisterLLM("primary", func(context.Context, config.ProviderEntry) (llm.Provider, error) { return primary, nil })
	r.RegisterLLM("secondary", func(context.Context, config.ProviderEntry) (llm.Provider, error) { return secondary, nil })

	cfg := &config.Config{Providers: config.ProvidersConfig{
		LLM:          config.ProviderEntry{Name: "primary"},
		LLMFallbacks: []config.ProviderEntry{{Name: "secondary"}},
	}}
	p, err := r.BuildLLM(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	if err != nil || resp.Content != "ok" {
		t.Fatalf("Complete = %+v, %v; want the fallback's answer", resp, err)
	}
}

func TestRegistry_BuildEmbeddings(t *testing.T) {
	t.Parallel()
	var gotDims int
	r := config.NewRegistry()
	r.RegisterEmbeddings("fake", func(_ context.Context, e config.ProviderEntry) (embeddings.Provider, error) {
		gotDims = e.IntOption("dimensions")
		return &embmock.Provider{DimensionsValue: gotDims}, nil
	})
	r.RegisterEmbeddings("small", func(context.Context, config.ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{DimensionsValue: 3}, nil
	})

	cfg := &config.Config{
		Providers: config.ProvidersConfig{Embeddings: config.ProviderEntry{Name: "fake"}},
		Storage:   config.StorageConfig{EmbeddingDimensions: 768},
	}
	p, err := r.BuildEmbeddings(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("BuildEmbeddings: %v", err)
	}
	if gotDims != 768 || p.Dimensions() != 768 {
		t.Errorf("dimensions = %d/%d, want 768", gotDims, p.Dimensions())
	}

	cfg.Providers.EmbeddingsFallbacks = []config.ProviderEntry{{Name: "small"}}
	if _, err := r.BuildEmbeddings(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for a fallback with mismatched dimensions")
	}
}

func TestDefaultRegistry_Deterministic(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("storage:\n  embedding_dimensions: 64\n"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := config.DefaultRegistry().BuildEmbeddings(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("BuildEmbeddings: %v", err)
	}
	vec, err := p.Embed(context.Background(), "moonlit garden")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 64 {
		t.Errorf("len(vec) = %d, want 64", len(vec))
	}
}
