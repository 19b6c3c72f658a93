package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/personae/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "bad log format",
			yaml:    "server:\n  log_format: xml\n",
			wantErr: []string{"server.log_format"},
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "postgres without dsn",
			yaml:    "storage:\n  backend: postgres\n",
			wantErr: []string{"storage.postgres_dsn"},
		},
		{
			name:    "unknown backend",
			yaml:    "storage:\n  backend: redis\n",
			wantErr: []string{"storage.backend"},
		},
		{
			name:    "soft above hard",
			yaml:    "gate:\n  soft_memory_mb: 2048\n  hard_memory_mb: 1024\n",
			wantErr: []string{"gate.soft_memory_mb"},
		},
		{
			name:    "unknown strategy",
			yaml:    "engine:\n  strategy: verbose\n",
			wantErr: []string{"unknown strategy"},
		},
		{
			name:    "temperature out of range",
			yaml:    "engine:\n  temperature: 3.5\n",
			wantErr: []string{"temperature"},
		},
		{
			name:    "overlap not below chunk size",
			yaml:    "ingest:\n  chunk_size: 100\n  chunk_overlap: 100\n",
			wantErr: []string{"ingest.chunk_overlap"},
		},
		{
			name:    "discord without character",
			yaml:    "discord:\n  token: abc\n",
			wantErr: []string{"discord.character_id"},
		},
		{
			name:    "fallback without name",
			yaml:    "providers:\n  llm_fallbacks:\n    - model: x\n",
			wantErr: []string{"providers.llm_fallbacks[0].name"},
		},
		{
			name: "several problems at once",
			yaml: "server:\n  log_level: loud\nstorage:\n  backend: redis\n",
			wantErr: []string{
				"server.log_level",
				"storage.backend",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestValidate_SQLiteDefaultsPath(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("storage:\n  backend: sqlite\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.SQLitePath != config.DefaultSQLitePath {
		t.Errorf("sqlite_path = %q", cfg.Storage.SQLitePath)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if !slices.Contains(config.ValidProviderNames["llm"], "openai") {
		t.Error(`ValidProviderNames["llm"] should contain "openai"`)
	}
	if !slices.Contains(config.ValidProviderNames["embeddings"], "deterministic") {
		t.Error(`ValidProviderNames["embeddings"] should contain "deterministic"`)
	}
}
