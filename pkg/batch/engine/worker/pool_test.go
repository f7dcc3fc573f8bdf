package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/engine/queue"
	"github.com/tigerroll/importd/pkg/batch/engine/step/retry"
	"github.com/tigerroll/importd/pkg/batch/engine/worker"
	sqlrepo "github.com/tigerroll/importd/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/test"
)

type stepFunc func(ctx context.Context, job *model.Job) error

type importRunner struct{ fn stepFunc }

func (r importRunner) Run(ctx context.Context, job *model.Job, _ *model.BulkImportParams) error {
	return r.fn(ctx, job)
}

type reportRunner struct{ fn stepFunc }

func (r reportRunner) Run(ctx context.Context, job *model.Job, _ *model.ReportGenerationParams) error {
	return r.fn(ctx, job)
}

type afterJobs struct {
	mu   sync.Mutex
	jobs []*model.Job
	errs []error
}

func (a *afterJobs) BeforeJob(context.Context, *model.Job) {}
func (a *afterJobs) AfterJob(_ context.Context, job *model.Job, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, job)
	a.errs = append(a.errs, err)
}

type fixture struct {
	db    *test.DB
	cfg   *config.Config
	jobs  repository.JobRepository
	queue *queue.Client
	after *afterJobs
	pool  *worker.Pool
}

func newFixture(t *testing.T, step stepFunc, tune func(*config.Config)) *fixture {
	t.Helper()
	db := test.NewSQLiteDB(t)
	cfg := config.NewConfig()
	cfg.Importd.Worker.Concurrency = 1
	cfg.Importd.Worker.PollIntervalMillis = 20
	cfg.Importd.Queue.Retry.InitialInterval = 60000
	if tune != nil {
		tune(cfg)
	}
	q := queue.NewClient(db.Conn, cfg)
	require.NoError(t, q.Init(context.Background()))
	jobs := sqlrepo.NewSQLJobRepository(db.Conn, db.TxManager)
	after := &afterJobs{}

	pool := worker.NewPool(worker.Params{
		Config:   cfg,
		Queue:    q,
		Jobs:     jobs,
		Imports:  importRunner{fn: step},
		Reports:  reportRunner{fn: step},
		Policy:   retry.NewPolicy(cfg),
		Listener: listener.NewMulticasterOf(after),
		Recorder: metrics.NewNoOpMetricRecorder(),
		Tracer:   metrics.NewNoOpTracer(),
	})
	return &fixture{db: db, cfg: cfg, jobs: jobs, queue: q, after: after, pool: pool}
}

func (f *fixture) submit(t *testing.T) *model.Job {
	t.Helper()
	ctx := context.Background()
	job := test.NewImportJob("imports/x.csv", nil)
	require.NoError(t, f.jobs.Create(ctx, job))
	_, err := f.queue.Enqueue(ctx, job.ID, queue.EnqueueOptions{MaxAttempts: f.cfg.Importd.Queue.Retry.MaxAttempts})
	require.NoError(t, err)
	return job
}

func (f *fixture) entry(t *testing.T, jobID string) queue.Entry {
	t.Helper()
	var e queue.Entry
	require.NoError(t, f.db.Gorm.Where("job_id = ?", jobID).First(&e).Error)
	return e
}

func (f *fixture) job(t *testing.T, id string) *model.Job {
	t.Helper()
	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestProcessNextCompletesJob(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(ctx context.Context, job *model.Job) error {
		assert.Equal(t, model.StatusProcessing, job.Status)
		assert.Equal(t, 1, job.Attempts)
		return f.jobs.Complete(ctx, job.ID, model.Results{ImportResults: &model.ImportResults{}})
	}, nil)
	job := f.submit(t)

	processed, err := f.pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, model.StatusCompleted, f.job(t, job.ID).Status)
	assert.Equal(t, queue.StatusCompleted, f.entry(t, job.ID).Status)
	require.Len(t, f.after.jobs, 1)
	assert.Equal(t, model.StatusCompleted, f.after.jobs[0].Status)
	assert.NoError(t, f.after.errs[0])

	processed, err = f.pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRetryableFailureRequeuesJob(t *testing.T) {
	f := newFixture(t, func(context.Context, *model.Job) error {
		return exception.NewDownloadError("failed to download", errors.New("connection reset by peer"))
	}, nil)
	job := f.submit(t)

	_, err := f.pool.ProcessNext(context.Background())
	require.NoError(t, err)

	got := f.job(t, job.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	require.NotEmpty(t, got.ErrorLog)
	assert.Contains(t, got.ErrorLog[len(got.ErrorLog)-1].Message, "attempt 1/3 failed")
	assert.Contains(t, got.ErrorLog[len(got.ErrorLog)-1].Message, "retrying in 1m0s")

	e := f.entry(t, job.ID)
	assert.Equal(t, queue.StatusWaiting, e.Status)
	assert.True(t, e.AvailableAt.After(time.Now().Add(30*time.Second)), "retry is delayed by the backoff")

	processed, err := f.pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestFatalFailureFailsJob(t *testing.T) {
	f := newFixture(t, func(context.Context, *model.Job) error {
		return exception.NewMappingError("missing required mappings: product_code")
	}, nil)
	job := f.submit(t)

	_, err := f.pool.ProcessNext(context.Background())
	require.NoError(t, err)

	got := f.job(t, job.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotEmpty(t, got.ErrorLog)
	assert.Contains(t, got.ErrorLog[len(got.ErrorLog)-1].Message, "product_code")
	assert.Equal(t, queue.StatusFailed, f.entry(t, job.ID).Status)
	assert.Error(t, f.after.errs[0])
}

func TestRetriesStopAtMaxAttempts(t *testing.T) {
	f := newFixture(t, func(context.Context, *model.Job) error {
		return context.DeadlineExceeded
	}, func(cfg *config.Config) { cfg.Importd.Queue.Retry.MaxAttempts = 1 })
	job := f.submit(t)

	_, err := f.pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, f.job(t, job.ID).Status)
}

func TestCancelledJobIsSkipped(t *testing.T) {
	called := false
	f := newFixture(t, func(context.Context, *model.Job) error {
		called = true
		return nil
	}, nil)
	job := f.submit(t)
	_, err := f.jobs.Cancel(context.Background(), job.ID, "Job cancellation requested by user")
	require.NoError(t, err)

	processed, err := f.pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.False(t, called)
	assert.Equal(t, queue.StatusCompleted, f.entry(t, job.ID).Status)
}

func TestCancellationDuringRunIsAcknowledged(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(ctx context.Context, job *model.Job) error {
		_, err := f.jobs.Cancel(ctx, job.ID, "Job cancellation requested by user")
		require.NoError(t, err)
		return errors.Wrap(exception.ErrCancellationRequested, "checkpoint")
	}, nil)
	job := f.submit(t)

	_, err := f.pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, f.job(t, job.ID).Status)
	assert.Equal(t, queue.StatusCompleted, f.entry(t, job.ID).Status)
}

func TestCancelJobInterruptsRunningAttempt(t *testing.T) {
	started := make(chan string, 1)
	f := newFixture(t, func(ctx context.Context, job *model.Job) error {
		started <- job.ID
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	job := f.submit(t)

	go func() {
		id := <-started
		_, err := f.jobs.Cancel(context.Background(), id, "Job cancellation requested by user")
		assert.NoError(t, err)
		assert.True(t, f.pool.CancelJob(id))
	}()

	_, err := f.pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, f.job(t, job.ID).Status)
	assert.Equal(t, queue.StatusCompleted, f.entry(t, job.ID).Status)
	assert.False(t, f.pool.CancelJob(job.ID), "attempt is unregistered once settled")
}

func TestReapRequeuesThenFailsStalledJobs(t *testing.T) {
	f := newFixture(t, nil, func(cfg *config.Config) { cfg.Importd.Worker.MaxStalledCount = 1 })
	job := f.submit(t)
	ctx := context.Background()

	stall := func() {
		e, err := f.queue.Claim(ctx, "crashed-worker", -time.Second)
		require.NoError(t, err)
		require.NotNil(t, e)
		_, err = f.jobs.MarkProcessing(ctx, job.ID)
		require.NoError(t, err)
	}

	stall()
	require.NoError(t, f.pool.Reap(ctx))
	assert.Equal(t, model.StatusPending, f.job(t, job.ID).Status)
	assert.Equal(t, queue.StatusWaiting, f.entry(t, job.ID).Status)

	stall()
	require.NoError(t, f.pool.Reap(ctx))
	got := f.job(t, job.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, queue.StalledMessage(1), got.ErrorLog[len(got.ErrorLog)-1].Message)
	assert.Equal(t, queue.StatusFailed, f.entry(t, job.ID).Status)
}

func TestStopRequeuesInterruptedJob(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, job *model.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	job := f.submit(t)

	require.NoError(t, f.pool.Start(context.Background()))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.pool.Stop(ctx))

	got := f.job(t, job.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Contains(t, got.ErrorLog[len(got.ErrorLog)-1].Message, "worker shutdown")
	e := f.entry(t, job.ID)
	assert.Equal(t, queue.StatusWaiting, e.Status)
	assert.Equal(t, 0, e.Attempts, "released attempts are not counted")
}
