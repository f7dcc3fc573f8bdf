package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
)

// OTelRecorder pushes the pipeline metrics through an OTLP metric exporter.
type OTelRecorder struct {
	provider *sdkmetric.MeterProvider

	jobDuration     metric.Float64Histogram
	jobStarted      metric.Int64Counter
	jobEnded        metric.Int64Counter
	jobRetry        metric.Int64Counter
	rows            metric.Int64Counter
	batchDuration   metric.Float64Histogram
	batchRollback   metric.Int64Counter
	entitiesCreated metric.Int64Counter
	stalled         metric.Int64Counter
	opDuration      metric.Float64Histogram

	waiting atomic.Int64
	active  atomic.Int64
}

func newMetricExporter(ctx context.Context, cfg config.MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case "otlphttp":
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "otlpgrpc":
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, errors.Newf("unsupported metrics exporter %q", cfg.Exporter)
	}
}

// NewOTelRecorder creates a recorder exporting every cfg.ExportIntervalSeconds.
func NewOTelRecorder(ctx context.Context, cfg config.MetricsConfig, serviceName string) (*OTelRecorder, error) {
	exporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create OTLP metric exporter")
	}
	interval := time.Duration(cfg.ExportIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	return NewOTelRecorderFromProvider(provider)
}

// NewOTelRecorderFromProvider creates the instruments on an existing provider.
func NewOTelRecorderFromProvider(provider *sdkmetric.MeterProvider) (*OTelRecorder, error) {
	meter := provider.Meter("github.com/tigerroll/importd")
	r := &OTelRecorder{provider: provider}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	r.jobDuration, err = meter.Float64Histogram("importd.job.duration", metric.WithUnit("s"))
	collect(err)
	r.jobStarted, err = meter.Int64Counter("importd.job.started")
	collect(err)
	r.jobEnded, err = meter.Int64Counter("importd.job.ended")
	collect(err)
	r.jobRetry, err = meter.Int64Counter("importd.job.retry")
	collect(err)
	r.rows, err = meter.Int64Counter("importd.rows")
	collect(err)
	r.batchDuration, err = meter.Float64Histogram("importd.batch.duration", metric.WithUnit("s"))
	collect(err)
	r.batchRollback, err = meter.Int64Counter("importd.batch.rollback")
	collect(err)
	r.entitiesCreated, err = meter.Int64Counter("importd.entities.created")
	collect(err)
	r.stalled, err = meter.Int64Counter("importd.queue.stalled")
	collect(err)
	r.opDuration, err = meter.Float64Histogram("importd.operation.duration", metric.WithUnit("s"))
	collect(err)
	_, err = meter.Int64ObservableGauge("importd.queue.entries",
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.waiting.Load(), metric.WithAttributes(attribute.String("state", "waiting")))
			o.Observe(r.active.Load(), metric.WithAttributes(attribute.String("state", "active")))
			return nil
		}))
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Wrap(errors.Join(errs...), "create OTel instruments")
	}
	return r, nil
}

// Shutdown flushes pending measurements and stops the exporter.
func (r *OTelRecorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}

func typeAttr(t model.JobType) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("type", string(t)))
}

func (r *OTelRecorder) RecordJobStart(ctx context.Context, job *model.Job) {
	r.jobStarted.Add(ctx, 1, typeAttr(job.Type))
}

func (r *OTelRecorder) RecordJobEnd(ctx context.Context, job *model.Job, status model.Status, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("type", string(job.Type)), attribute.String("status", status.String()))
	r.jobEnded.Add(ctx, 1, attrs)
	r.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

func (r *OTelRecorder) RecordJobRetry(ctx context.Context, jobType model.JobType, reason string) {
	r.jobRetry.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(jobType)), attribute.String("reason", reason)))
}

func (r *OTelRecorder) RecordRows(ctx context.Context, jobType model.JobType, outcome string, count int) {
	if count <= 0 {
		return
	}
	r.rows.Add(ctx, int64(count), metric.WithAttributes(attribute.String("type", string(jobType)), attribute.String("outcome", outcome)))
}

func (r *OTelRecorder) RecordBatchCommit(ctx context.Context, jobType model.JobType, rows int, duration time.Duration) {
	r.batchDuration.Record(ctx, duration.Seconds(), typeAttr(jobType))
}

func (r *OTelRecorder) RecordBatchRollback(ctx context.Context, jobType model.JobType, rows int) {
	r.batchRollback.Add(ctx, 1, typeAttr(jobType))
}

func (r *OTelRecorder) RecordEntitiesCreated(ctx context.Context, kind model.EntityKind, count int) {
	if count <= 0 {
		return
	}
	r.entitiesCreated.Add(ctx, int64(count), metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (r *OTelRecorder) RecordQueueDepth(ctx context.Context, waiting, active int64) {
	r.waiting.Store(waiting)
	r.active.Store(active)
}

func (r *OTelRecorder) RecordStalled(ctx context.Context, count int) {
	r.stalled.Add(ctx, int64(count))
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := []attribute.KeyValue{attribute.String("operation", name)}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.opDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
