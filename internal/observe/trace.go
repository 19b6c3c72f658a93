package observe

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/personae"

type characterKey struct{}

// Tracer returns the personae tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. When ctx is scoped to a character the span gets a
// character.id attribute. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := CharacterID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("character.id", id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// WithCharacter scopes ctx to a character so that [Logger] and [StartSpan]
// label everything done on its behalf.
func WithCharacter(ctx context.Context, characterID string) context.Context {
	if characterID == "" {
		return ctx
	}
	return context.WithValue(ctx, characterKey{}, characterID)
}

// CharacterID returns the character ctx is scoped to, or "".
func CharacterID(ctx context.Context) string {
	id, _ := ctx.Value(characterKey{}).(string)
	return id
}

// CorrelationID is the trace ID of the active span, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger labelled with whatever ctx carries: the
// trace and span IDs, the chi request ID and the character scope.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if rid := middleware.GetReqID(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if id := CharacterID(ctx); id != "" {
		attrs = append(attrs, slog.String("character_id", id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
