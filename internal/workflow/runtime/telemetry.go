package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/workflowcore/engine/internal/workflow"
)

const (
	tracerName = "workflowcore.engine"
	meterName  = "workflowcore.engine"
)

// Telemetry emits one OTel span per run and one per node execution,
// following station's WorkflowTelemetry (same counter/histogram set,
// trimmed to the node-kind-agnostic shape this engine dispatches on — a
// loop_body node and a plain action node both go through EndNodeSpan).
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	nodeCounter    metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	activeRuns     metric.Int64UpDownCounter
	failureCounter metric.Int64Counter

	mu       sync.RWMutex
	runSpans map[string]trace.Span
}

// InitTracing installs a process-wide SDK TracerProvider so the spans
// NewTelemetry's tracer produces are actually processed instead of landing
// on the global no-op tracer. Hosts embedding this engine alongside their
// own OTel setup should skip this and configure their own provider before
// calling NewTelemetry. The returned func shuts the provider down, flushing
// any pending spans.
func InitTracing() (func(context.Context) error, error) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewTelemetry builds a Telemetry instance against the global OTel
// providers; a host that hasn't configured OTel gets the no-op providers
// otel.Tracer/otel.Meter return by default, so this is always safe to call.
func NewTelemetry() (*Telemetry, error) {
	t := &Telemetry{
		tracer:   otel.Tracer(tracerName),
		meter:    otel.Meter(meterName),
		runSpans: make(map[string]trace.Span),
	}

	var err error
	if t.runCounter, err = t.meter.Int64Counter("workflow_runs_total",
		metric.WithDescription("Total number of workflow runs started"), metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("creating run counter: %w", err)
	}
	if t.runDuration, err = t.meter.Float64Histogram("workflow_run_duration_seconds",
		metric.WithDescription("Duration of workflow runs in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating run duration histogram: %w", err)
	}
	if t.nodeCounter, err = t.meter.Int64Counter("workflow_nodes_total",
		metric.WithDescription("Total number of graph nodes executed"), metric.WithUnit("{node}")); err != nil {
		return nil, fmt.Errorf("creating node counter: %w", err)
	}
	if t.nodeDuration, err = t.meter.Float64Histogram("workflow_node_duration_seconds",
		metric.WithDescription("Duration of graph node execution in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating node duration histogram: %w", err)
	}
	if t.activeRuns, err = t.meter.Int64UpDownCounter("workflow_runs_active",
		metric.WithDescription("Number of currently active workflow runs"), metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("creating active runs counter: %w", err)
	}
	if t.failureCounter, err = t.meter.Int64Counter("workflow_failures_total",
		metric.WithDescription("Total number of workflow/node failures"), metric.WithUnit("{failure}")); err != nil {
		return nil, fmt.Errorf("creating failure counter: %w", err)
	}
	return t, nil
}

// StartRunSpan opens the run's parent span. Safe to call on a nil
// Telemetry (a Runtime with telemetry disabled).
func (t *Telemetry) StartRunSpan(ctx context.Context, runID, workflowName string) context.Context {
	if t == nil {
		return ctx
	}
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("workflow.run.%s", workflowName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.run_id", runID),
			attribute.String("workflow.name", workflowName),
		),
	)
	t.mu.Lock()
	t.runSpans[runID] = span
	t.mu.Unlock()

	t.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.name", workflowName)))
	t.activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.name", workflowName)))
	return ctx
}

// EndRunSpan closes the run's parent span and records its outcome.
func (t *Telemetry) EndRunSpan(ctx context.Context, runID, workflowName string, duration time.Duration, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	span, ok := t.runSpans[runID]
	delete(t.runSpans, runID)
	t.mu.Unlock()
	if !ok || span == nil {
		return
	}

	span.SetAttributes(attribute.Float64("workflow.duration_seconds", duration.Seconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow.name", workflowName), attribute.String("failure.type", "run")))
	} else {
		span.SetStatus(codes.Ok, "workflow completed")
	}
	span.End()

	t.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("workflow.name", workflowName)))
	t.activeRuns.Add(ctx, -1, metric.WithAttributes(attribute.String("workflow.name", workflowName)))
}

// StartNodeSpan opens a child span for one node execution.
func (t *Telemetry) StartNodeSpan(ctx context.Context, runID string, node *workflow.Node) (context.Context, trace.Span) {
	if t == nil {
		return ctx, nil
	}
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("workflow.node.%s", node.ID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.run_id", runID),
			attribute.String("workflow.node_id", node.ID),
			attribute.String("workflow.node_kind", string(node.Kind)),
		),
	)
	t.nodeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.node_kind", string(node.Kind))))
	return ctx, span
}

// EndNodeSpan closes a node span opened by StartNodeSpan.
func (t *Telemetry) EndNodeSpan(span trace.Span, kind string, duration time.Duration, err error) {
	if t == nil || span == nil {
		return
	}
	span.SetAttributes(attribute.Float64("workflow.node_duration_seconds", duration.Seconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.failureCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("workflow.node_kind", kind), attribute.String("failure.type", "node")))
	} else {
		span.SetStatus(codes.Ok, "node completed")
	}
	span.End()

	t.nodeDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(attribute.String("workflow.node_kind", kind)))
}
