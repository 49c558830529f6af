// Package observability provides logging, metrics, and tracing utilities.
package observability

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans. Implementations never return a nil Span.
type Tracer interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
}

// Span is one traced unit of work
type Span interface {
	End()
	SetAttributes(attrs ...attribute.KeyValue)
	AddEvent(name string, attrs ...attribute.KeyValue)
	// NoticeError records err and marks the span failed; nil is ignored
	NoticeError(err error)
	TraceID() string
}

// SpanOption configures span creation
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind  trace.SpanKind
	attrs []attribute.KeyValue
}

// WithSpanKind sets the span kind
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

// WithAttributes sets attributes at creation
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(c *spanConfig) { c.attrs = append(c.attrs, attrs...) }
}

// ProjectAttr tags a span with the project it acts for
func ProjectAttr(projectID uint64) attribute.KeyValue {
	return attribute.Int64("project_id", int64(projectID))
}

// AddressAttr renders an address in checksum form
func AddressAttr(key string, addr common.Address) attribute.KeyValue {
	return attribute.String(key, addr.Hex())
}

// AmountAttr renders a token amount as a decimal string. Amounts overflow
// int64 routinely, so they are never recorded as numbers.
func AmountAttr(key string, v *big.Int) attribute.KeyValue {
	if v == nil {
		return attribute.String(key, "0")
	}
	return attribute.String(key, v.String())
}

type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer on the global OpenTelemetry provider. With
// tracing disabled the global provider is a no-op.
func NewTracer(name string) Tracer {
	return &otelTracer{tracer: otel.Tracer(name)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(cfg.kind), trace.WithAttributes(cfg.attrs...))
	return ctx, otelSpan{span}
}

type otelSpan struct {
	trace.Span
}

func (s otelSpan) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.Span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s otelSpan) NoticeError(err error) {
	if err == nil {
		return
	}
	s.RecordError(err)
	s.SetStatus(codes.Error, err.Error())
}

func (s otelSpan) End() { s.Span.End() }

func (s otelSpan) TraceID() string { return s.SpanContext().TraceID().String() }

type noopTracer struct{}

// NewNoopTracer returns a tracer that records nothing. Used in tests and as
// the default when a component is given no tracer.
func NewNoopTracer() Tracer { return noopTracer{} }

func (noopTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End() {}
func (noopSpan) SetAttributes(...attribute.KeyValue) {}
func (noopSpan) AddEvent(string, ...attribute.KeyValue) {}
func (noopSpan) NoticeError(error) {}
func (noopSpan) TraceID() string { return "" }
