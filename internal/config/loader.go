package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/personae/internal/prompt"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultEmbeddingDimensions = 1536
	DefaultSQLitePath          = "personae.db"
	DefaultMCPPath             = "/mcp"
)

// ValidProviderNames lists the provider names [DefaultRegistry] knows per
// kind. [Validate] only warns about other names so third-party factories
// can still be registered.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama", "gemini", "deterministic"},
}

// LoadEnv loads KEY=value pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments ".env" is tried.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
	}
	return nil
}

// Load reads, expands, decodes, defaults and validates the YAML file at
// path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader is [Load] for an already opened source.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with the variable's value. Bare
// $VAR is left alone so that literal dollar signs survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ApplyDefaults fills zero values. It is idempotent.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogConsole
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Providers.Embeddings.Name == "" {
		cfg.Providers.Embeddings.Name = "deterministic"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageMemory
	}
	if cfg.Storage.Backend == StorageSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = DefaultSQLitePath
	}
	if cfg.Storage.EmbeddingDimensions <= 0 {
		cfg.Storage.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	if s, err := prompt.ParseStrategy(string(cfg.Engine.Strategy)); err == nil {
		cfg.Engine.Strategy = s
	}
	if cfg.Engine.MaxTokens <= 0 {
		cfg.Engine.MaxTokens = 150
	}
	if cfg.Engine.HistoryTurns <= 0 {
		cfg.Engine.HistoryTurns = 10
	}

	if cfg.MCP.Transport == "" {
		cfg.MCP.Transport = MCPStreamableHTTP
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
}

// Validate checks cfg for coherence and returns every problem found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: console, text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; characters will only answer with fallback apologies")
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.EmbeddingsFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.embeddings_fallbacks[%d].name is required", i))
		}
		validateProviderName("embeddings", e.Name)
	}
	if cfg.Providers.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker.max_failures must not be negative"))
	}

	if !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, sqlite, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}

	g := cfg.Gate
	if g.MaxConcurrent < 0 || g.MaxPromptChars < 0 || g.Timeout < 0 || g.SoftMemoryMB < 0 || g.HardMemoryMB < 0 {
		errs = append(errs, errors.New("gate limits must not be negative"))
	}
	if g.SoftMemoryMB > 0 && g.HardMemoryMB > 0 && g.SoftMemoryMB > g.HardMemoryMB {
		errs = append(errs, fmt.Errorf("gate.soft_memory_mb %d exceeds gate.hard_memory_mb %d", g.SoftMemoryMB, g.HardMemoryMB))
	}

	if err := cfg.Runtime().Validate(); err != nil {
		errs = append(errs, err)
	}
	if f := cfg.Retrieval.RecencyFloor; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("retrieval.recency_floor %.2f is out of range [0, 1]", f))
	}

	in := cfg.Ingest
	if in.ChunkSize < 0 || in.ChunkOverlap < 0 || in.PersonaMaxWords < 0 {
		errs = append(errs, errors.New("ingest settings must not be negative"))
	}
	if in.ChunkSize > 0 && in.ChunkOverlap >= in.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap %d must be smaller than ingest.chunk_size %d", in.ChunkOverlap, in.ChunkSize))
	}

	if cfg.Discord.Enabled() && cfg.Discord.CharacterID == "" {
		errs = append(errs, errors.New("discord.character_id is required when discord.token is set"))
	}
	if !cfg.MCP.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("mcp.transport %q is invalid; valid values: stdio, streamable-http", cfg.MCP.Transport))
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" || slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
