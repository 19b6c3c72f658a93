package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"personae.generation.duration", m.GenerationDuration},
		{"personae.embedding.duration", m.EmbeddingDuration},
		{"personae.retrieval.duration", m.RetrievalDuration},
		{"personae.tool_execution.duration", m.ToolExecutionDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

// sumValue returns the value of the int64 sum data point whose attributes
// include key=value, and whether one was found.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value, true
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestRecorders(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "error")
	m.RecordProviderError(ctx, "openai", "embeddings")
	m.RecordToolCall(ctx, "search_memories", "ok")
	m.RecordToolCall(ctx, "chat", "error")
	m.RecordCharacterResponse(ctx, "template")
	m.RecordCharacterResponse(ctx, "template")
	m.RecordCharacterResponse(ctx, "fallback")
	m.RecordGateRejection(ctx, "too_many_concurrent")
	m.IngestedChunks.Add(ctx, 7)
	m.MemoriesPruned.Add(ctx, 3)
	m.RetrievalDegraded.Add(ctx, 1)

	rm := collect(t, reader)

	tests := []struct {
		metric     string
		key, value string
		want       int64
	}{
		{"personae.provider.requests", "status", "ok", 2},
		{"personae.provider.requests", "status", "error", 1},
		{"personae.provider.errors", "kind", "embeddings", 1},
		{"personae.tool.calls", "tool", "search_memories", 1},
		{"personae.tool.calls", "status", "error", 1},
		{"personae.character.responses", "path", "template", 2},
		{"personae.character.responses", "path", "fallback", 1},
		{"personae.gate.rejections", "reason", "too_many_concurrent", 1},
		{"personae.ingest.chunks", "", "", 7},
		{"personae.memory.pruned", "", "", 3},
		{"personae.retrieval.degraded", "", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.value, func(t *testing.T) {
			got, ok := sumValue(t, rm, tt.metric, tt.key, tt.value)
			if !ok {
				t.Fatalf("no data point with %s=%s", tt.key, tt.value)
			}
			if got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestActiveGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveGenerations.Add(ctx, 3)
	m.ActiveGenerations.Add(ctx, -1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)

	rm := collect(t, reader)
	if got, _ := sumValue(t, rm, "personae.active_generations", "", ""); got != 2 {
		t.Errorf("active generations = %d, want 2", got)
	}
	if got, _ := sumValue(t, rm, "personae.active_streams", "", ""); got != 0 {
		t.Errorf("active streams = %d, want 0", got)
	}
}
