package tracing

import (
	"context"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/listener"
)

// TracingJobListener annotates the job span started by the worker.
type TracingJobListener struct {
	tracer metrics.Tracer
}

func NewTracingJobListener(tracer metrics.Tracer) listener.JobListener {
	return &TracingJobListener{tracer: tracer}
}

func (l *TracingJobListener) BeforeJob(ctx context.Context, job *model.Job) {
	l.tracer.RecordEvent(ctx, "job.processing", map[string]interface{}{"job.id": job.ID, "job.attempt": job.Attempts})
}

func (l *TracingJobListener) AfterJob(ctx context.Context, job *model.Job, err error) {
	if err != nil {
		l.tracer.RecordError(ctx, "worker", err)
	}
	l.tracer.RecordEvent(ctx, "job.attempt.end", map[string]interface{}{
		"job.status":     job.Status.String(),
		"rows.processed": job.Progress.ProcessedRows,
	})
}

var _ listener.JobListener = (*TracingJobListener)(nil)

// TracingBatchListener adds one span event per batch.
type TracingBatchListener struct {
	tracer metrics.Tracer
}

func NewTracingBatchListener(tracer metrics.Tracer) listener.BatchListener {
	return &TracingBatchListener{tracer: tracer}
}

func (l *TracingBatchListener) AfterBatch(ctx context.Context, ev listener.BatchEvent) {
	if !ev.Committed() {
		l.tracer.RecordError(ctx, "importstep", ev.Err)
		return
	}
	l.tracer.RecordEvent(ctx, "batch.committed", map[string]interface{}{
		"batch":     ev.Batch,
		"rows.from": ev.FirstRow,
		"rows.to":   ev.LastRow,
		"succeeded": ev.Succeeded,
		"failed":    ev.Failed,
	})
}

var _ listener.BatchListener = (*TracingBatchListener)(nil)
