package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Metrics holds all application metrics. A nil or disabled Metrics accepts
// every Record call and drops it.
type Metrics struct {
	meter metric.Meter

	// Oracle
	QuoteRequests metric.Int64Counter
	QuoteDuration metric.Float64Histogram

	// Routing and settlement
	RoutingDecisions metric.Int64Counter
	Swaps            metric.Int64Counter
	SlippageReverts  metric.Int64Counter
	Settlements      metric.Int64Counter

	// Registry
	ConfigChanges metric.Int64Counter

	// Audit fan-out
	EventsPublished metric.Int64Counter

	// RPC
	RPCCalls          metric.Int64Counter
	RPCDuration       metric.Float64Histogram
	RPCEndpointHealth metric.Int64Gauge

	// HTTP API
	HTTPRequests        metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	registry *promclient.Registry
	enabled  bool
}

// NewMetrics creates a new Metrics instance with its own Prometheus registry
func NewMetrics(serviceName, serviceVersion string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		registry: registry,
		enabled:  true,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.QuoteRequests, "buyback.oracle.quotes", "TWAP quote requests by result"},
		{&m.RoutingDecisions, "buyback.routing.decisions", "Routing decisions by path"},
		{&m.Swaps, "buyback.swaps", "Swap attempts by result"},
		{&m.SlippageReverts, "buyback.swaps.slippage_reverts", "Payments reverted for missing an explicit minimum"},
		{&m.Settlements, "buyback.settlements", "Settlements by path"},
		{&m.ConfigChanges, "buyback.registry.changes", "Registry configuration changes by kind"},
		{&m.EventsPublished, "buyback.events.published", "Audit records published by sink and status"},
		{&m.RPCCalls, "buyback.rpc.calls", "JSON-RPC calls by method and status"},
		{&m.HTTPRequests, "buyback.http.requests", "HTTP API requests by route and status"},
		{&m.CacheHits, "buyback.cache.hits", "Cache hits by layer"},
		{&m.CacheMisses, "buyback.cache.misses", "Cache misses by layer"},
	}
	for _, c := range counters {
		*c.target, err = m.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return err
		}
	}

	histograms := []struct {
		target *metric.Float64Histogram
		name   string
		desc   string
	}{
		{&m.QuoteDuration, "buyback.oracle.quote.duration", "TWAP quote duration in milliseconds"},
		{&m.RPCDuration, "buyback.rpc.duration", "JSON-RPC call duration in milliseconds"},
		{&m.HTTPRequestDuration, "buyback.http.request.duration", "HTTP API request duration in milliseconds"},
	}
	for _, h := range histograms {
		*h.target, err = m.meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ms"))
		if err != nil {
			return err
		}
	}

	m.RPCEndpointHealth, err = m.meter.Int64Gauge(
		"buyback.rpc.endpoint.health",
		metric.WithDescription("RPC endpoint health (1 healthy, 0 unhealthy)"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"buyback.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0 closed, 1 open, 2 half-open)"),
	)
	return err
}

func (m *Metrics) on() bool {
	return m != nil && m.enabled
}

// RecordQuote records a TWAP quote attempt. result is "ok" or the reason it was unavailable.
func (m *Metrics) RecordQuote(ctx context.Context, result string, duration time.Duration) {
	if !m.on() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.QuoteRequests.Add(ctx, 1, attrs)
	m.QuoteDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordRoutingDecision records the path chosen for a payment
func (m *Metrics) RecordRoutingDecision(ctx context.Context, path string, explicitQuote bool) {
	if !m.on() {
		return
	}
	m.RoutingDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.Bool("explicit_quote", explicitQuote),
	))
}

// RecordSwap records a swap attempt
func (m *Metrics) RecordSwap(ctx context.Context, succeeded bool) {
	if !m.on() {
		return
	}
	m.Swaps.Add(ctx, 1, metric.WithAttributes(attribute.Bool("succeeded", succeeded)))
}

// RecordSlippageRevert records a payment reverted by an explicit minimum
func (m *Metrics) RecordSlippageRevert(ctx context.Context) {
	if !m.on() {
		return
	}
	m.SlippageReverts.Add(ctx, 1)
}

// RecordSettlement records a completed settlement ("swap" or "fallback")
func (m *Metrics) RecordSettlement(ctx context.Context, path string) {
	if !m.on() {
		return
	}
	m.Settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// RecordConfigChange records a registry mutation
func (m *Metrics) RecordConfigChange(ctx context.Context, kind string) {
	if !m.on() {
		return
	}
	m.ConfigChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordEventPublished records an audit record publish attempt
func (m *Metrics) RecordEventPublished(ctx context.Context, sink, status string) {
	if !m.on() {
		return
	}
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.String("status", status),
	))
}

// RecordRPCCall records an outbound RPC call
func (m *Metrics) RecordRPCCall(ctx context.Context, method, status string, duration time.Duration) {
	if !m.on() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	)
	m.RPCCalls.Add(ctx, 1, attrs)
	m.RPCDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordRPCEndpointHealth records RPC endpoint health status
func (m *Metrics) RecordRPCEndpointHealth(ctx context.Context, url string, healthy bool) {
	if !m.on() {
		return
	}
	val := int64(0)
	if healthy {
		val = 1
	}
	m.RPCEndpointHealth.Record(ctx, val, metric.WithAttributes(attribute.String("url", url)))
}

// RecordHTTPRequest records an API request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, route string, status int, duration time.Duration) {
	if !m.on() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.HTTPRequests.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	if !m.on() {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	if !m.on() {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if !m.on() {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	if !m.on() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
