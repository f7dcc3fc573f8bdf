package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
// It owns its registry, exposed through Handler.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobDurationSeconds *prometheus.HistogramVec
	jobStartedTotal    *prometheus.CounterVec
	jobEndedTotal      *prometheus.CounterVec
	jobRetryTotal      *prometheus.CounterVec

	rowsTotal            *prometheus.CounterVec
	batchDurationSeconds *prometheus.HistogramVec
	batchRollbackTotal   *prometheus.CounterVec
	entitiesCreatedTotal *prometheus.CounterVec

	queueDepth   *prometheus.GaugeVec
	stalledTotal prometheus.Counter

	operationDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder registered on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "importd_job_duration_seconds",
			Help:    "Duration of job attempts.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"type", "status"}),
		jobStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importd_job_started_total",
			Help: "Job attempts started by workers.",
		}, []string{"type"}),
		jobEndedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importd_job_ended_total",
			Help: "Job attempts ended, by resulting status.",
		}, []string{"type", "status"}),
		jobRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importd_job_retry_total",
			Help: "Failed job attempts scheduled again.",
		}, []string{"type", "reason"}),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importd_rows_total",
			Help: "Processed input rows by outcome.",
		}, []string{"type", "outcome"}),
		batchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "importd_batch_duration_seconds",
			Help:    "Duration of committed row batches.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		batchRollbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importd_batch_rollback_total",
			Help: "Row batches rolled back as a whole.",
		}, []string{"type"}),
		entitiesCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importd_entities_created_total",
			Help: "Catalog entities created by imports.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "importd_queue_entries",
			Help: "Queue entries by state.",
		}, []string{"state"}),
		stalledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importd_queue_stalled_total",
			Help: "Queue entries whose lease expired.",
		}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "importd_operation_duration_seconds",
			Help:    "Duration of pipeline operations such as download and parse.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "type"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStartedTotal,
		r.jobEndedTotal,
		r.jobRetryTotal,
		r.rowsTotal,
		r.batchDurationSeconds,
		r.batchRollbackTotal,
		r.entitiesCreatedTotal,
		r.queueDepth,
		r.stalledTotal,
		r.operationDurationSeconds,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, job *model.Job) {
	r.jobStartedTotal.WithLabelValues(string(job.Type)).Inc()
}

func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, job *model.Job, status model.Status, duration time.Duration) {
	r.jobEndedTotal.WithLabelValues(string(job.Type), status.String()).Inc()
	r.jobDurationSeconds.WithLabelValues(string(job.Type), status.String()).Observe(duration.Seconds())
	logger.Debugf("Metrics: job %s ended as %s after %.3fs.", job.ID, status, duration.Seconds())
}

func (r *PrometheusRecorder) RecordJobRetry(ctx context.Context, jobType model.JobType, reason string) {
	r.jobRetryTotal.WithLabelValues(string(jobType), reason).Inc()
}

func (r *PrometheusRecorder) RecordRows(ctx context.Context, jobType model.JobType, outcome string, count int) {
	if count <= 0 {
		return
	}
	r.rowsTotal.WithLabelValues(string(jobType), outcome).Add(float64(count))
}

func (r *PrometheusRecorder) RecordBatchCommit(ctx context.Context, jobType model.JobType, rows int, duration time.Duration) {
	r.batchDurationSeconds.WithLabelValues(string(jobType)).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) RecordBatchRollback(ctx context.Context, jobType model.JobType, rows int) {
	r.batchRollbackTotal.WithLabelValues(string(jobType)).Inc()
}

func (r *PrometheusRecorder) RecordEntitiesCreated(ctx context.Context, kind model.EntityKind, count int) {
	if count <= 0 {
		return
	}
	r.entitiesCreatedTotal.WithLabelValues(string(kind)).Add(float64(count))
}

func (r *PrometheusRecorder) RecordQueueDepth(ctx context.Context, waiting, active int64) {
	r.queueDepth.WithLabelValues("waiting").Set(float64(waiting))
	r.queueDepth.WithLabelValues("active").Set(float64(active))
}

func (r *PrometheusRecorder) RecordStalled(ctx context.Context, count int) {
	r.stalledTotal.Add(float64(count))
}

// RecordDuration observes duration under the operation label name. The "type" tag, if present, is kept.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name, tags["type"]).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
