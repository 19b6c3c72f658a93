package engine

import (
	"strings"
	"testing"

	"github.com/MrWong99/personae/internal/prompt"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{
		Strategy:      "shouting",
		MaxTokens:     0,
		Temperature:   3,
		HistoryTurns:  -1,
		MaxResults:    0,
		MinSimilarity: 1.5,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"shouting", "max_tokens", "temperature", "history_turns", "max_results", "min_similarity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfigPatch_Apply(t *testing.T) {
	detailed := prompt.StrategyDetailed
	off := false
	tokens := 300

	got := ConfigPatch{Strategy: &detailed, UseRAG: &off, MaxTokens: &tokens}.Apply(DefaultConfig())
	if got.Strategy != prompt.StrategyDetailed || got.UseRAG || got.MaxTokens != 300 {
		t.Errorf("Apply = %+v", got)
	}
	if got.Temperature != DefaultConfig().Temperature {
		t.Error("unset fields must be kept")
	}
}
