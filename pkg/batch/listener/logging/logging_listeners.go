package logging

import (
	"context"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/listener"
	logger "github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// --- Job Listener ---

type LoggingJobListener struct{}

func NewLoggingJobListener() listener.JobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, job *model.Job) {
	logger.Infof("JobListener: BeforeJob - ID: %s, Type: %s, Attempt: %d, Params: %+v", job.ID, job.Type, job.Attempts, job.Params)
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, job *model.Job, err error) {
	if err != nil {
		logger.Warnf("JobListener: AfterJob - ID: %s, Status: %s, Processed: %d/%d, Error: %v",
			job.ID, job.Status, job.Progress.ProcessedRows, job.Progress.TotalRows, err)
		return
	}
	logger.Infof("JobListener: AfterJob - ID: %s, Status: %s, Succeeded: %d, Failed: %d",
		job.ID, job.Status, job.Progress.SuccessCount, job.Progress.FailedCount)
}

var _ listener.JobListener = (*LoggingJobListener)(nil)

// --- Batch Listener ---

type LoggingBatchListener struct{}

func NewLoggingBatchListener() listener.BatchListener {
	return &LoggingBatchListener{}
}

func (l *LoggingBatchListener) AfterBatch(ctx context.Context, ev listener.BatchEvent) {
	if !ev.Committed() {
		logger.Errorf("BatchListener: batch %d of job %s (rows %d-%d) rolled back: %v", ev.Batch, ev.Job.ID, ev.FirstRow, ev.LastRow, ev.Err)
		return
	}
	logger.Debugf("BatchListener: batch %d of job %s committed - rows %d-%d, Succeeded: %d, Failed: %d, Progress: %.1f%%, Duration: %s",
		ev.Batch, ev.Job.ID, ev.FirstRow, ev.LastRow, ev.Succeeded, ev.Failed, ev.Job.Progress.Percent(), ev.Duration)
}

var _ listener.BatchListener = (*LoggingBatchListener)(nil)
