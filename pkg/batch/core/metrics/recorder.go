package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
)

// Row outcomes recorded by RecordRows.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// MetricRecorder records job pipeline metrics. Implementations must be safe for
// concurrent use by every worker goroutine.
type MetricRecorder interface {
	// RecordJobStart records that a worker began an attempt of job.
	RecordJobStart(ctx context.Context, job *model.Job)
	// RecordJobEnd records the outcome of an attempt. status is the status the attempt left the job in.
	RecordJobEnd(ctx context.Context, job *model.Job, status model.Status, duration time.Duration)
	// RecordJobRetry records that a failed attempt was scheduled again.
	RecordJobRetry(ctx context.Context, jobType model.JobType, reason string)

	// RecordRows adds count processed rows with outcome (OutcomeSuccess or OutcomeFailed).
	RecordRows(ctx context.Context, jobType model.JobType, outcome string, count int)
	// RecordBatchCommit records one committed batch of rows.
	RecordBatchCommit(ctx context.Context, jobType model.JobType, rows int, duration time.Duration)
	// RecordBatchRollback records a batch that failed as a whole.
	RecordBatchRollback(ctx context.Context, jobType model.JobType, rows int)
	// RecordEntitiesCreated adds count entities of kind created by find-or-create.
	RecordEntitiesCreated(ctx context.Context, kind model.EntityKind, count int)

	// RecordQueueDepth sets the number of waiting and active queue entries.
	RecordQueueDepth(ctx context.Context, waiting, active int64)
	// RecordStalled records entries whose lease expired.
	RecordStalled(ctx context.Context, count int)

	// RecordDuration records the duration of a named operation, e.g. "download" or "parse".
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
