package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nevindra/nuagent"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a nuagent.Tool with OTEL instrumentation. Wrap
// tools before adding them to the registry.
type ObservedTool struct {
	inner nuagent.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner nuagent.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Definitions() []nuagent.ToolDefinition {
	return o.inner.Definitions()
}

// Available delegates to the inner tool's availability check, defaulting
// to available for tools without one.
func (o *ObservedTool) Available() bool {
	if ct, ok := o.inner.(nuagent.ConditionalTool); ok {
		return ct.Available()
	}
	return true
}

func (o *ObservedTool) Execute(ctx context.Context, name string, args json.RawMessage) (nuagent.ToolResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, name, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if result.Error != "" {
		status = "tool_error"
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result.Content)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	return result, err
}
