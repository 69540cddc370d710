// Package telemetry installs the OpenTelemetry SDK tracer provider.
package telemetry

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Options selects the exporter.
type Options struct {
	ServiceName string
	Version     string
	// Exporter is "log" to write finished spans to the logger, or "none".
	Exporter string
	// SampleRatio in (0,1]; 0 samples everything.
	SampleRatio float64
}

// Provider bundles the tracer and meter handed to the pipeline.
type Provider struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	shutdown func(context.Context) error
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Setup builds the tracer provider and registers it globally. Metrics use
// the global meter provider, which stays a no-op unless the host process
// installs one.
func Setup(ctx context.Context, o Options, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := o.ServiceName
	if name == "" {
		name = "huntlens"
	}
	meter := otel.GetMeterProvider().Meter(name)

	switch strings.ToLower(o.Exporter) {
	case "", "none":
		return &Provider{Tracer: tracenoop.NewTracerProvider().Tracer(name), Meter: meter}, nil
	case "log":
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", o.Exporter)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(o.Version),
	))
	if err != nil {
		logger.Warn("failed to create resource, using default", "error", err)
		res = resource.Default()
	}

	sampler := sdktrace.AlwaysSample()
	if o.SampleRatio > 0 && o.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.SampleRatio))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogExporter(logger)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	return &Provider{Tracer: tp.Tracer(name), Meter: meter, shutdown: tp.Shutdown}, nil
}

// LogExporter writes finished spans as structured log records.
type LogExporter struct {
	logger *slog.Logger
}

func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		sc := s.SpanContext()
		tid, sid := sc.TraceID(), sc.SpanID()
		attrs := []any{
			"span", s.Name(),
			"trace_id", hex.EncodeToString(tid[:]),
			"span_id", hex.EncodeToString(sid[:]),
			"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
			"status", s.Status().Code.String(),
		}
		if p := s.Parent(); p.IsValid() {
			pid := p.SpanID()
			attrs = append(attrs, "parent_span_id", hex.EncodeToString(pid[:]))
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		if d := s.Status().Description; d != "" {
			attrs = append(attrs, "error", d)
		}
		e.logger.LogAttrs(ctx, slog.LevelDebug, "span", slog.Group("otel", attrs...))
	}
	return nil
}

func (e *LogExporter) Shutdown(ctx context.Context) error { return nil }
