package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

// --- Job Listener ---

type MetricsJobListener struct {
	recorder metrics.MetricRecorder
	now      func() time.Time
}

func NewMetricsJobListener(recorder metrics.MetricRecorder) listener.JobListener {
	return &MetricsJobListener{recorder: recorder, now: time.Now}
}

func (l *MetricsJobListener) BeforeJob(ctx context.Context, job *model.Job) {
	l.recorder.RecordJobStart(ctx, job)
}

// AfterJob records the attempt end. An attempt that put the job back to pending is a retry.
func (l *MetricsJobListener) AfterJob(ctx context.Context, job *model.Job, err error) {
	var duration time.Duration
	if job.StartedAt != nil {
		duration = l.now().Sub(*job.StartedAt)
	}
	if job.Status == model.StatusPending && err != nil {
		l.recorder.RecordJobRetry(ctx, job.Type, string(exception.KindOf(err)))
	}
	l.recorder.RecordJobEnd(ctx, job, job.Status, duration)
}

var _ listener.JobListener = (*MetricsJobListener)(nil)

// --- Batch Listener ---

type MetricsBatchListener struct {
	recorder metrics.MetricRecorder
}

func NewMetricsBatchListener(recorder metrics.MetricRecorder) listener.BatchListener {
	return &MetricsBatchListener{recorder: recorder}
}

func (l *MetricsBatchListener) AfterBatch(ctx context.Context, ev listener.BatchEvent) {
	jobType := ev.Job.Type
	if !ev.Committed() {
		l.recorder.RecordBatchRollback(ctx, jobType, ev.Failed)
		l.recorder.RecordRows(ctx, jobType, metrics.OutcomeFailed, ev.Failed)
		return
	}
	l.recorder.RecordBatchCommit(ctx, jobType, ev.Succeeded+ev.Failed, ev.Duration)
	l.recorder.RecordRows(ctx, jobType, metrics.OutcomeSuccess, ev.Succeeded)
	l.recorder.RecordRows(ctx, jobType, metrics.OutcomeFailed, ev.Failed)
	for kind, n := range ev.Created {
		l.recorder.RecordEntitiesCreated(ctx, kind, n)
	}
}

var _ listener.BatchListener = (*MetricsBatchListener)(nil)
