package nuagent

import (
	"context"
	"log/slog"
)

// Tracer abstracts distributed tracing so the core stays free of any
// OTEL dependency. Use observer.NewTracer() for an OTEL-backed
// implementation. A nil Tracer disables tracing.
type Tracer interface {
	// Start creates a new span with the given name and attributes.
	// Callers must call Span.End() when the operation completes.
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span represents a traced operation.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	// Event records a named annotation on the span timeline.
	Event(name string, attrs ...SpanAttr)
	// Error records an error and marks the span as failed.
	Error(err error)
	// End completes the span. Must be called exactly once.
	End()
}

// SpanAttr is a key-value attribute attached to a span or event.
type SpanAttr struct {
	Key   string
	Value any
}

func StringAttr(k, v string) SpanAttr        { return SpanAttr{Key: k, Value: v} }
func IntAttr(k string, v int) SpanAttr       { return SpanAttr{Key: k, Value: v} }
func Int64Attr(k string, v int64) SpanAttr   { return SpanAttr{Key: k, Value: v} }
func BoolAttr(k string, v bool) SpanAttr     { return SpanAttr{Key: k, Value: v} }
func FloatAttr(k string, v float64) SpanAttr { return SpanAttr{Key: k, Value: v} }

// nopTracer produces spans that do nothing. Components fall back to it
// when no tracer is configured.
var nopTracer Tracer = nopTracerImpl{}

type nopTracerImpl struct{}

func (nopTracerImpl) Start(ctx context.Context, _ string, _ ...SpanAttr) (context.Context, Span) {
	return ctx, nopSpan{}
}

type nopSpan struct{}

func (nopSpan) SetAttr(...SpanAttr)       {}
func (nopSpan) Event(string, ...SpanAttr) {}
func (nopSpan) Error(error)               {}
func (nopSpan) End()                      {}

// nopLogger discards all output. Components fall back to it when no
// logger is configured.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
