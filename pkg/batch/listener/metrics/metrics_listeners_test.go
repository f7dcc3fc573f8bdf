package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/listener"
	lmetrics "github.com/tigerroll/importd/pkg/batch/listener/metrics"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

type mockRecorder struct {
	coremetrics.NoOpMetricRecorder
	mock.Mock
}

func (m *mockRecorder) RecordJobEnd(_ context.Context, job *model.Job, status model.Status, _ time.Duration) {
	m.Called(job.ID, status)
}

func (m *mockRecorder) RecordJobRetry(_ context.Context, jobType model.JobType, reason string) {
	m.Called(jobType, reason)
}

func (m *mockRecorder) RecordRows(_ context.Context, jobType model.JobType, outcome string, count int) {
	m.Called(outcome, count)
}

func (m *mockRecorder) RecordBatchCommit(_ context.Context, _ model.JobType, rows int, _ time.Duration) {
	m.Called(rows)
}

func (m *mockRecorder) RecordBatchRollback(_ context.Context, _ model.JobType, rows int) {
	m.Called(rows)
}

func (m *mockRecorder) RecordEntitiesCreated(_ context.Context, kind model.EntityKind, count int) {
	m.Called(kind, count)
}

func TestJobListenerRecordsRetries(t *testing.T) {
	rec := &mockRecorder{}
	started := time.Now().Add(-time.Second)
	job := &model.Job{ID: "j", Type: model.JobTypeBulkImport, Status: model.StatusPending, StartedAt: &started}

	rec.On("RecordJobRetry", model.JobTypeBulkImport, "download").Once()
	rec.On("RecordJobEnd", "j", model.StatusPending).Once()

	l := lmetrics.NewMetricsJobListener(rec)
	l.AfterJob(context.Background(), job, exception.NewDownloadError("read", errors.New("reset")))
	rec.AssertExpectations(t)
}

func TestBatchListener(t *testing.T) {
	rec := &mockRecorder{}
	job := &model.Job{ID: "j", Type: model.JobTypeBulkImport}
	l := lmetrics.NewMetricsBatchListener(rec)
	ctx := context.Background()

	rec.On("RecordBatchCommit", 10).Once()
	rec.On("RecordRows", coremetrics.OutcomeSuccess, 8).Once()
	rec.On("RecordRows", coremetrics.OutcomeFailed, 2).Once()
	rec.On("RecordEntitiesCreated", model.EntityBrand, 1).Once()
	l.AfterBatch(ctx, listener.BatchEvent{Job: job, Succeeded: 8, Failed: 2, Created: map[model.EntityKind]int{model.EntityBrand: 1}})

	rec.On("RecordBatchRollback", 5).Once()
	rec.On("RecordRows", coremetrics.OutcomeFailed, 5).Once()
	l.AfterBatch(ctx, listener.BatchEvent{Job: job, Failed: 5, Err: errors.New("deadlock")})

	rec.AssertExpectations(t)
}

func TestAsyncRecorderDrainsOnClose(t *testing.T) {
	rec := &mockRecorder{}
	rec.On("RecordRows", coremetrics.OutcomeSuccess, 1).Times(3)

	async := lmetrics.NewAsyncMetricRecorder(10, rec)
	for i := 0; i < 3; i++ {
		async.RecordRows(context.Background(), model.JobTypeBulkImport, coremetrics.OutcomeSuccess, 1)
	}
	async.Close()
	async.Close()
	async.RecordRows(context.Background(), model.JobTypeBulkImport, coremetrics.OutcomeSuccess, 1)

	rec.AssertExpectations(t)
	assert.Len(t, rec.Calls, 3, "events sent after Close are dropped")
}
