// Package telemetry holds the OpenTelemetry instruments recorded by the engine.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "policyline/engine"

type Instruments struct {
	tracer       trace.Tracer
	tasksCreated metric.Int64Counter
	transitions  metric.Int64Counter
	escalations  metric.Int64Counter
	resets       metric.Int64Counter
}

// New creates instruments on the given providers.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Instruments, error) {
	meter := mp.Meter(scope)
	in := &Instruments{tracer: tp.Tracer(scope)}
	var err error
	if in.tasksCreated, err = meter.Int64Counter("policyline.tasks.created",
		metric.WithDescription("Tasks generated by policy ingestion")); err != nil {
		return nil, fmt.Errorf("tasks.created counter: %w", err)
	}
	if in.transitions, err = meter.Int64Counter("policyline.transitions",
		metric.WithDescription("Applied task status transitions")); err != nil {
		return nil, fmt.Errorf("transitions counter: %w", err)
	}
	if in.escalations, err = meter.Int64Counter("policyline.escalations",
		metric.WithDescription("Applied task escalations")); err != nil {
		return nil, fmt.Errorf("escalations counter: %w", err)
	}
	if in.resets, err = meter.Int64Counter("policyline.ingest.resets",
		metric.WithDescription("Destructive resets performed during ingestion")); err != nil {
		return nil, fmt.Errorf("ingest.resets counter: %w", err)
	}
	return in, nil
}

// Global creates instruments on the process-wide otel providers.
func Global() (*Instruments, error) {
	return New(otel.GetMeterProvider(), otel.GetTracerProvider())
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	in, _ := New(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	return in
}

// Start opens a span for an engine operation.
func (in *Instruments) Start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
}

// End closes span, marking it failed when err is non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (in *Instruments) TasksCreated(ctx context.Context, n int, policyID string) {
	in.tasksCreated.Add(ctx, int64(n), metric.WithAttributes(attribute.String("policy_id", policyID)))
}

func (in *Instruments) Transition(ctx context.Context, from, to string) {
	in.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}

func (in *Instruments) Escalation(ctx context.Context, toRole string) {
	in.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("to_role", toRole)))
}

func (in *Instruments) Reset(ctx context.Context) {
	in.resets.Add(ctx, 1)
}
