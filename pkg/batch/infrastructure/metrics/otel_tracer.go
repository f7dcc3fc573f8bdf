package metrics

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

const tracerName = "github.com/tigerroll/importd/worker"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

func newSpanExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlphttp", "":
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case "otlpgrpc":
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, errors.Newf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// NewOpenTelemetryTracer creates a tracer batching spans to the configured OTLP endpoint.
func NewOpenTelemetryTracer(ctx context.Context, cfg config.TracingConfig) (*OpenTelemetryTracer, error) {
	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create OTLP span exporter")
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "importd"
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	return NewTracerFromProvider(provider), nil
}

// NewTracerFromProvider wraps an existing provider.
func NewTracerFromProvider(provider *sdktrace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{provider: provider, tracer: provider.Tracer(tracerName)}
}

// Shutdown flushes buffered spans.
func (t *OpenTelemetryTracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// StartJobSpan starts the root span of one job attempt.
func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, job *model.Job) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job."+string(job.Type), trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.attempt", job.Attempts),
	))
	return ctx, func() { span.End() }
}

func (t *OpenTelemetryTracer) StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attributes)...))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		logger.Debugf("Tracer: no active span for error in module %s: %v", module, err)
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(m map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
