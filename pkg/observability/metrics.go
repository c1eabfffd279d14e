package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records bridge-level measurements.
type Metrics interface {
	// RecordRun records one completed run for an agent.
	RecordRun(ctx context.Context, agent string, duration time.Duration, err error)

	// RecordEvent records one emitted AG-UI event.
	RecordEvent(ctx context.Context, eventType string)

	// RecordToolExecution records one server-side tool execution.
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)

	// RecordApprovalDecision records an approval decision ("approved",
	// "rejected", "confirmed", ...).
	RecordApprovalDecision(ctx context.Context, decision string)
}

// initMetrics builds the Prometheus-backed recorder. Returns nil metrics
// and handler when disabled.
func initMetrics(cfg MetricsConfig) (*PrometheusMetrics, http.Handler, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithoutCounterSuffixes(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("aguibridge")

	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultServiceName
	}
	name := func(s string) string { return ns + "_" + s }

	runsTotal, err := meter.Int64Counter(
		name("runs_total"),
		metric.WithDescription("Total runs started"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	runErrors, err := meter.Int64Counter(
		name("run_errors_total"),
		metric.WithDescription("Total runs that ended in an error"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create run errors counter: %w", err)
	}

	runDuration, err := meter.Float64Histogram(
		name("run_duration_seconds"),
		metric.WithDescription("Run duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	eventsTotal, err := meter.Int64Counter(
		name("events_total"),
		metric.WithDescription("Total AG-UI events emitted"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create events counter: %w", err)
	}

	toolExecutions, err := meter.Int64Counter(
		name("tool_executions_total"),
		metric.WithDescription("Total server-side tool executions"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tool executions counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		name("tool_errors_total"),
		metric.WithDescription("Total tool executions that returned an error"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		name("tool_execution_duration_seconds"),
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	approvalDecisions, err := meter.Int64Counter(
		name("approval_decisions_total"),
		metric.WithDescription("Total approval decisions by outcome"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create approval decisions counter: %w", err)
	}

	m := &PrometheusMetrics{
		runsTotal:         runsTotal,
		runErrors:         runErrors,
		runDuration:       runDuration,
		eventsTotal:       eventsTotal,
		toolExecutions:    toolExecutions,
		toolErrors:        toolErrors,
		toolDuration:      toolDuration,
		approvalDecisions: approvalDecisions,
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, nil
}

// PrometheusMetrics records measurements into OTel instruments exported in
// Prometheus format. All methods are nil-safe.
type PrometheusMetrics struct {
	runsTotal   metric.Int64Counter
	runErrors   metric.Int64Counter
	runDuration metric.Float64Histogram

	eventsTotal metric.Int64Counter

	toolExecutions metric.Int64Counter
	toolErrors     metric.Int64Counter
	toolDuration   metric.Float64Histogram

	approvalDecisions metric.Int64Counter
}

func (m *PrometheusMetrics) RecordRun(ctx context.Context, agent string, duration time.Duration, err error) {
	if m == nil || m.runsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("agent", agent))
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)

	if err != nil {
		m.runErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordEvent(ctx context.Context, eventType string) {
	if m == nil || m.eventsTotal == nil {
		return
	}

	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolExecutions == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolExecutions.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)

	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordApprovalDecision(ctx context.Context, decision string) {
	if m == nil || m.approvalDecisions == nil {
		return
	}

	m.approvalDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// NoopMetrics records nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordRun(_ context.Context, _ string, _ time.Duration, _ error)           {}
func (NoopMetrics) RecordEvent(_ context.Context, _ string)                                   {}
func (NoopMetrics) RecordToolExecution(_ context.Context, _ string, _ time.Duration, _ error) {}
func (NoopMetrics) RecordApprovalDecision(_ context.Context, _ string)                        {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
