package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder discards every measurement. Used when metrics are disabled and in tests.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordJobStart(context.Context, *model.Job) {}
func (r *NoOpMetricRecorder) RecordJobEnd(context.Context, *model.Job, model.Status, time.Duration) {
}
func (r *NoOpMetricRecorder) RecordJobRetry(context.Context, model.JobType, string)        {}
func (r *NoOpMetricRecorder) RecordRows(context.Context, model.JobType, string, int)       {}
func (r *NoOpMetricRecorder) RecordBatchRollback(context.Context, model.JobType, int)      {}
func (r *NoOpMetricRecorder) RecordEntitiesCreated(context.Context, model.EntityKind, int) {}
func (r *NoOpMetricRecorder) RecordQueueDepth(context.Context, int64, int64)               {}
func (r *NoOpMetricRecorder) RecordStalled(context.Context, int)                           {}
func (r *NoOpMetricRecorder) RecordBatchCommit(context.Context, model.JobType, int, time.Duration) {
}
func (r *NoOpMetricRecorder) RecordDuration(context.Context, string, time.Duration, map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer is a Tracer that records nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartJobSpan(ctx context.Context, _ *model.Job) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartSpan(ctx context.Context, _ string, _ map[string]interface{}) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(context.Context, string, error)                  {}
func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
