package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds the tracer and metric instruments of the pipeline.
type Telemetry struct {
	tracer trace.Tracer

	stageDuration metric.Float64Histogram
	confidence    metric.Float64Histogram
	runs          metric.Int64Counter
}

// NewTelemetry creates the pipeline instruments on meter.
func NewTelemetry(tracer trace.Tracer, meter metric.Meter) (*Telemetry, error) {
	t := &Telemetry{tracer: tracer}
	var err error

	t.stageDuration, err = meter.Float64Histogram(
		"huntlens.pipeline.stage.duration",
		metric.WithDescription("Pipeline stage duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage duration histogram: %w", err)
	}

	t.confidence, err = meter.Float64Histogram(
		"huntlens.playbook.confidence",
		metric.WithDescription("Confidence of validated playbooks from 0.0 to 1.0"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create confidence histogram: %w", err)
	}

	t.runs, err = meter.Int64Counter(
		"huntlens.pipeline.runs",
		metric.WithDescription("Pipeline runs by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create run counter: %w", err)
	}
	return t, nil
}

var noopTelemetry = func() *Telemetry {
	t, _ := NewTelemetry(tracenoop.NewTracerProvider().Tracer("huntlens"), metricnoop.NewMeterProvider().Meter("huntlens"))
	return t
}()

func (t *Telemetry) startStage(ctx context.Context, stage State) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline."+string(stage), trace.WithAttributes(attribute.String("stage", string(stage))))
}

func (t *Telemetry) endStage(ctx context.Context, span trace.Span, tr StageTrace, err error) {
	span.SetAttributes(
		attribute.Int("stage.attempts", tr.Attempts),
		attribute.Int64("stage.duration_ms", tr.DurationMS),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	t.stageDuration.Record(ctx, float64(tr.DurationMS), metric.WithAttributes(attribute.String("stage", string(tr.Stage))))
}

func (t *Telemetry) recordRun(ctx context.Context, res Result) {
	outcome := string(res.State)
	if res.Failure != nil {
		outcome = string(res.Failure.Kind)
	}
	t.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if res.Playbook != nil {
		t.confidence.Record(ctx, res.Playbook.Confidence,
			metric.WithAttributes(attribute.String("artifact.type", res.Playbook.ArtifactType)))
	}
}
