package config

import "github.com/MrWong99/personae/internal/engine"

// Reload describes what a config file change means for a running server.
// Only engine runtime settings and the log level apply without a restart;
// everything else is reported in RestartRequired.
type Reload struct {
	Patch        engine.ConfigPatch
	PatchChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections that changed but are
	// only read at startup.
	RestartRequired []string
}

// Diff compares two loaded configs.
func Diff(old, new *Config) Reload {
	var r Reload

	if old.Server.LogLevel != new.Server.LogLevel {
		r.LogLevelChanged = true
		r.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Runtime(), new.Runtime()
	if o.Strategy != n.Strategy {
		r.Patch.Strategy = &n.Strategy
	}
	if o.UseRAG != n.UseRAG {
		r.Patch.UseRAG = &n.UseRAG
	}
	if o.ChatMessages != n.ChatMessages {
		r.Patch.ChatMessages = &n.ChatMessages
	}
	if o.Model != n.Model {
		r.Patch.Model = &n.Model
	}
	if o.MaxTokens != n.MaxTokens {
		r.Patch.MaxTokens = &n.MaxTokens
	}
	if o.Temperature != n.Temperature {
		r.Patch.Temperature = &n.Temperature
	}
	if o.HistoryTurns != n.HistoryTurns {
		r.Patch.HistoryTurns = &n.HistoryTurns
	}
	if o.StoreConversations != n.StoreConversations {
		r.Patch.StoreConversations = &n.StoreConversations
	}
	if o.MaxResults != n.MaxResults {
		r.Patch.MaxResults = &n.MaxResults
	}
	if o.MinSimilarity != n.MinSimilarity {
		r.Patch.MinSimilarity = &n.MinSimilarity
	}
	r.PatchChanged = r.Patch != (engine.ConfigPatch{})

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat {
		r.RestartRequired = append(r.RestartRequired, "server")
	}
	if !equalProviders(old.Providers, new.Providers) {
		r.RestartRequired = append(r.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		r.RestartRequired = append(r.RestartRequired, "storage")
	}
	if old.Gate != new.Gate {
		r.RestartRequired = append(r.RestartRequired, "gate")
	}
	if old.Ingest != new.Ingest {
		r.RestartRequired = append(r.RestartRequired, "ingest")
	}
	if old.Discord.Token != new.Discord.Token || old.Discord.CharacterID != new.Discord.CharacterID {
		r.RestartRequired = append(r.RestartRequired, "discord")
	}
	return r
}

func equalProviders(a, b ProvidersConfig) bool {
	if a.CircuitBreaker != b.CircuitBreaker ||
		len(a.LLMFallbacks) != len(b.LLMFallbacks) ||
		len(a.EmbeddingsFallbacks) != len(b.EmbeddingsFallbacks) {
		return false
	}
	if !equalEntry(a.LLM, b.LLM) || !equalEntry(a.Embeddings, b.Embeddings) {
		return false
	}
	for i := range a.LLMFallbacks {
		if !equalEntry(a.LLMFallbacks[i], b.LLMFallbacks[i]) {
			return false
		}
	}
	for i := range a.EmbeddingsFallbacks {
		if !equalEntry(a.EmbeddingsFallbacks[i], b.EmbeddingsFallbacks[i]) {
			return false
		}
	}
	return true
}

// equalEntry ignores Options, which holds provider-specific values that are
// not comparable.
func equalEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
