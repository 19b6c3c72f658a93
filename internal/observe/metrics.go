// Package observe provides application-wide observability primitives for
// personae: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Init] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all personae metrics.
const meterName = "github.com/MrWong99/personae"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks gated text-generation latency. Attributes:
	//   attribute.String("status", ...)
	GenerationDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding provider latency.
	EmbeddingDuration metric.Float64Histogram

	// RetrievalDuration tracks end-to-end RAG context assembly.
	RetrievalDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool handler latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// CharacterResponses counts completed turns. Attributes:
	//   attribute.String("path", "template"|"dynamic"|"fallback")
	CharacterResponses metric.Int64Counter

	// GateRejections counts requests refused by the generation gate or the
	// safety middleware. Attributes: attribute.String("reason", ...)
	GateRejections metric.Int64Counter

	// RetrievalDegraded counts retrievals that fell back to persona-only
	// context.
	RetrievalDegraded metric.Int64Counter

	// IngestedChunks counts biography chunks written by ingestion.
	IngestedChunks metric.Int64Counter

	// MemoriesPruned counts records removed by pruning.
	MemoriesPruned metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveGenerations tracks in-flight gated generation calls.
	ActiveGenerations metric.Int64UpDownCounter

	// ActiveStreams tracks open streaming connections.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning
// fast embedding calls up to slow local-model generations.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.GenerationDuration, err = histogram("personae.generation.duration",
		"Latency of gated text generation."); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = histogram("personae.embedding.duration",
		"Latency of embedding provider calls."); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = histogram("personae.retrieval.duration",
		"Latency of RAG context assembly."); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = histogram("personae.tool_execution.duration",
		"Latency of MCP tool execution."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("personae.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("personae.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.CharacterResponses, err = m.Int64Counter("personae.character.responses",
		metric.WithDescription("Total character responses by generation path."),
	); err != nil {
		return nil, err
	}
	if met.GateRejections, err = m.Int64Counter("personae.gate.rejections",
		metric.WithDescription("Requests refused by the generation gate by reason."),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDegraded, err = m.Int64Counter("personae.retrieval.degraded",
		metric.WithDescription("Retrievals that fell back to persona-only context."),
	); err != nil {
		return nil, err
	}
	if met.IngestedChunks, err = m.Int64Counter("personae.ingest.chunks",
		metric.WithDescription("Biography chunks written by ingestion."),
	); err != nil {
		return nil, err
	}
	if met.MemoriesPruned, err = m.Int64Counter("personae.memory.pruned",
		metric.WithDescription("Memory records removed by pruning."),
	); err != nil {
		return nil, err
	}

	if met.ProviderErrors, err = m.Int64Counter("personae.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveGenerations, err = m.Int64UpDownCounter("personae.active_generations",
		metric.WithDescription("Number of in-flight gated generation calls."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("personae.active_streams",
		metric.WithDescription("Number of open streaming connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("personae.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall records a tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordCharacterResponse records a completed turn and the path that
// produced it.
func (m *Metrics) RecordCharacterResponse(ctx context.Context, path string) {
	m.CharacterResponses.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// RecordGateRejection records a refused generation request.
func (m *Metrics) RecordGateRejection(ctx context.Context, reason string) {
	m.GateRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
