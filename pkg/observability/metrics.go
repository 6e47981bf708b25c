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
)

// Metrics is the recording surface used across services. Every method is
// safe on the zero value returned when metrics are disabled.
type Metrics struct {
	registry *promclient.Registry

	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter

	llmCalls     metric.Int64Counter
	llmDuration  metric.Float64Histogram
	llmTokens    metric.Int64Counter
	breakerState metric.Int64Gauge

	retrievalDuration metric.Float64Histogram
	probeResults      metric.Int64Counter
}

// InitMetrics wires an otel meter provider into a private prometheus
// registry. The registry backs the /metrics handler of the service.
func InitMetrics(ctx context.Context, serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter(serviceName)

	m := &Metrics{registry: registry}

	if m.requestDuration, err = meter.Float64Histogram(
		"reva_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.requestTotal, err = meter.Int64Counter(
		"reva_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.llmCalls, err = meter.Int64Counter(
		"reva_llm_calls_total",
		metric.WithDescription("Total LLM provider calls"),
	); err != nil {
		return nil, err
	}
	if m.llmDuration, err = meter.Float64Histogram(
		"reva_llm_call_duration_seconds",
		metric.WithDescription("LLM provider call duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.llmTokens, err = meter.Int64Counter(
		"reva_llm_tokens_total",
		metric.WithDescription("Total tokens used, labeled by direction"),
	); err != nil {
		return nil, err
	}
	if m.breakerState, err = meter.Int64Gauge(
		"reva_circuit_breaker_state",
		metric.WithDescription("Circuit breaker state per route (0=closed, 1=open, 2=half-open)"),
	); err != nil {
		return nil, err
	}
	if m.retrievalDuration, err = meter.Float64Histogram(
		"reva_retrieval_duration_seconds",
		metric.WithDescription("Retrieval search duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.probeResults, err = meter.Int64Counter(
		"reva_registry_probe_results_total",
		metric.WithDescription("Health probe results by outcome"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Handler returns the /metrics HTTP handler, or a 404 handler when
// metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Enabled reports whether metrics were initialized.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRequest records one HTTP request.
func (m *Metrics) RecordRequest(ctx context.Context, method, path string, status int, elapsed time.Duration) {
	if !m.Enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	m.requestTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordLLMCall records one provider call with its outcome.
func (m *Metrics) RecordLLMCall(ctx context.Context, modelRequested, modelUsed, provider, outcome string, elapsed time.Duration) {
	if !m.Enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model_requested", modelRequested),
		attribute.String("model_used", modelUsed),
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordTokens records token usage for one call.
func (m *Metrics) RecordTokens(ctx context.Context, provider string, prompt, completion int) {
	if !m.Enabled() {
		return
	}
	m.llmTokens.Add(ctx, int64(prompt), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("direction", "prompt"),
	))
	m.llmTokens.Add(ctx, int64(completion), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("direction", "completion"),
	))
}

// RecordBreakerState records a breaker transition as a gauge value.
func (m *Metrics) RecordBreakerState(ctx context.Context, route string, state int) {
	if !m.Enabled() {
		return
	}
	m.breakerState.Record(ctx, int64(state), metric.WithAttributes(attribute.String("route", route)))
}

// RecordRetrieval records one search call.
func (m *Metrics) RecordRetrieval(ctx context.Context, source string, elapsed time.Duration) {
	if !m.Enabled() {
		return
	}
	m.retrievalDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("source", source)))
}

// RecordProbe records one health probe outcome.
func (m *Metrics) RecordProbe(ctx context.Context, service, outcome string) {
	if !m.Enabled() {
		return
	}
	m.probeResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	))
}
