// Package worker runs queued jobs. A Pool claims entries from the durable queue,
// dispatches each job to the step of its type and settles the outcome on both the
// job record and the queue entry.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/fx"

	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/engine/queue"
	"github.com/tigerroll/importd/pkg/batch/engine/step/retry"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

const module = "worker"

const (
	minErrorBackoff = time.Second
	maxErrorBackoff = 30 * time.Second
	settleTimeout   = 15 * time.Second
)

// ImportRunner executes bulk-import jobs.
type ImportRunner interface {
	Run(ctx context.Context, job *model.Job, params *model.BulkImportParams) error
}

// ReportRunner executes report-generation jobs.
type ReportRunner interface {
	Run(ctx context.Context, job *model.Job, params *model.ReportGenerationParams) error
}

// errShutdown is the cancel cause of attempts interrupted by Stop.
var errShutdown = errors.New("worker pool is shutting down")

// errJobCancelled is the cancel cause of attempts interrupted by CancelJob.
var errJobCancelled = errors.Wrap(exception.ErrCancellationRequested, "job cancelled while running")

// Pool is a set of worker goroutines sharing one queue.
type Pool struct {
	cfg        config.WorkerConfig
	retain     time.Duration
	queue      *queue.Client
	jobs       repository.JobRepository
	imports    ImportRunner
	reports    ReportRunner
	policy     retry.RetryPolicy
	listener   listener.JobListener
	recorder   metrics.MetricRecorder
	tracer     metrics.Tracer
	workerID   string
	maxStalled int

	// active holds the cancel functions of running attempts, by job ID.
	active map[string]context.CancelCauseFunc
	mu     sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Params are the dependencies of Pool.
type Params struct {
	fx.In

	Config   *config.Config
	Queue    *queue.Client
	Jobs     repository.JobRepository
	Imports  ImportRunner
	Reports  ReportRunner
	Policy   retry.RetryPolicy
	Listener *listener.Multicaster `optional:"true"`
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// NewPool creates a Pool with a random worker ID.
func NewPool(p Params) *Pool {
	var l listener.JobListener = listener.NewMulticasterOf()
	if p.Listener != nil {
		l = p.Listener
	}
	maxStalled := p.Config.Importd.Worker.MaxStalledCount
	if maxStalled <= 0 {
		maxStalled = 2
	}
	return &Pool{
		cfg:        p.Config.Importd.Worker,
		retain:     p.Config.Importd.Queue.RetainCompleted(),
		queue:      p.Queue,
		jobs:       p.Jobs,
		imports:    p.Imports,
		reports:    p.Reports,
		policy:     p.Policy,
		listener:   l,
		recorder:   p.Recorder,
		tracer:     p.Tracer,
		workerID:   "worker-" + uuid.NewString(),
		maxStalled: maxStalled,
		active:     make(map[string]context.CancelCauseFunc),
	}
}

// WorkerID returns the ID written to claimed entries.
func (p *Pool) WorkerID() string { return p.workerID }

// Start launches the worker goroutines and the reaper. It returns immediately.
func (p *Pool) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	n := p.cfg.Concurrency
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
	p.wg.Add(1)
	go p.reaper(ctx)

	logger.Infof("Worker pool %s started with %d workers (lease %s, poll %s).", p.workerID, n, p.cfg.Lease(), p.cfg.PollInterval())
	return nil
}

// Stop cancels running attempts and waits for the workers to settle them.
// Interrupted jobs are requeued.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.mu.Lock()
	for _, cancel := range p.active {
		cancel(errShutdown)
	}
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infof("Worker pool %s stopped.", p.workerID)
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "worker pool %s did not stop in time", p.workerID)
	}
}

// CancelJob interrupts the running attempt of jobID in this process, if any.
// The job record must already be cancelled; the step stops without waiting for the next batch.
func (p *Pool) CancelJob(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.active[jobID]
	if ok {
		cancel(errJobCancelled)
		logger.Debugf("Worker %s: interrupted running attempt of job %s.", p.workerID, jobID)
	}
	return ok
}

func (p *Pool) register(jobID string, cancel context.CancelCauseFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[jobID] = cancel
}

func (p *Pool) unregister(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, jobID)
}

func (p *Pool) loop(ctx context.Context, n int) {
	defer p.wg.Done()
	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.ProcessNext(ctx)
		var wait time.Duration
		switch {
		case err != nil && ctx.Err() == nil:
			backoff = nextBackoff(backoff)
			wait = backoff
			logger.Errorf("Worker %s/%d: claim failed, retrying in %s: %v", p.workerID, n, wait, err)
		case processed:
			backoff = 0
			continue
		default:
			backoff = 0
			wait = p.cfg.PollInterval()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current < minErrorBackoff {
		return minErrorBackoff
	}
	if next := current * 2; next < maxErrorBackoff {
		return next
	}
	return maxErrorBackoff
}

// ProcessNext claims one due entry and runs it to completion.
// It reports false when nothing was due.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	e, err := p.queue.Claim(ctx, p.workerID, p.cfg.Lease())
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	p.handle(ctx, e)
	return true, nil
}

// settleContext outlives the pool context so that interrupted attempts can still be recorded.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func (p *Pool) handle(ctx context.Context, e *queue.Entry) {
	job, ok := p.claimJob(ctx, e)
	if !ok {
		return
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	p.register(job.ID, cancel)
	defer p.unregister(job.ID)

	runCtx, endSpan := p.tracer.StartJobSpan(runCtx, job)
	defer endSpan()
	p.recorder.RecordJobStart(runCtx, job)
	p.listener.BeforeJob(runCtx, job)
	logger.Infof("Worker %s: running %s job %s (attempt %d/%d).", p.workerID, job.Type, job.ID, e.Attempts, maxAttempts(e))

	stopHeartbeat := p.heartbeat(runCtx, e, cancel)
	err := p.dispatch(runCtx, job)
	stopHeartbeat()
	if err != nil {
		p.tracer.RecordError(runCtx, module, err)
	}

	sctx, cancelSettle := settleContext(ctx)
	defer cancelSettle()
	cause := context.Cause(runCtx)
	if cause != nil && ctx.Err() != nil && !errors.Is(cause, queue.ErrLeaseLost) && !exception.IsCancellation(cause) {
		cause = errShutdown
	}
	p.settle(sctx, e, job, err, cause)

	final, ferr := p.jobs.FindByID(sctx, job.ID)
	if ferr != nil {
		logger.Warnf("Worker %s: failed to reload job %s: %v", p.workerID, job.ID, ferr)
		final = job
	}
	p.listener.AfterJob(sctx, final, err)
}

// claimJob loads the job of e and moves it to processing. Entries whose job is gone,
// cancelled or finished are acknowledged without running anything.
func (p *Pool) claimJob(ctx context.Context, e *queue.Entry) (*model.Job, bool) {
	sctx, cancel := settleContext(ctx)
	defer cancel()
	job, err := p.jobs.FindByID(ctx, e.JobID)
	if errors.Is(err, exception.ErrJobNotFound) {
		logger.Warnf("Worker %s: job %s of entry %d no longer exists; dropping entry.", p.workerID, e.JobID, e.ID)
		p.ack(sctx, e)
		return nil, false
	}
	if err != nil {
		p.retryEntry(sctx, e, err)
		return nil, false
	}
	if job.Status.IsTerminal() {
		logger.Infof("Worker %s: job %s is %s; skipping entry %d.", p.workerID, job.ID, job.Status, e.ID)
		p.ack(sctx, e)
		return nil, false
	}
	if job.Status == model.StatusProcessing {
		// The previous holder lost its lease before the job was requeued.
		if err := p.jobs.Requeue(sctx, job.ID, model.NewErrorEntry("previous attempt was interrupted; job requeued")); err != nil && !errors.Is(err, exception.ErrInvalidTransition) {
			p.retryEntry(sctx, e, err)
			return nil, false
		}
	}

	claimed, err := p.jobs.MarkProcessing(ctx, job.ID)
	if errors.Is(err, exception.ErrInvalidTransition) {
		if claimed != nil {
			job = claimed
		}
		logger.Infof("Worker %s: job %s changed to %s before it started; skipping entry %d.", p.workerID, job.ID, job.Status, e.ID)
		p.ack(sctx, e)
		return nil, false
	}
	if err != nil {
		p.retryEntry(sctx, e, err)
		return nil, false
	}
	return claimed, true
}

// dispatch runs the step matching the params variant of job.
func (p *Pool) dispatch(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Worker %s: job %s panicked: %v\n%s", p.workerID, job.ID, r, debug.Stack())
			err = exception.NewBatchError(module, fmt.Sprintf("job panicked: %v", r), nil, false, false)
		}
	}()
	switch params := job.Params.(type) {
	case *model.BulkImportParams:
		return p.imports.Run(ctx, job, params)
	case *model.ReportGenerationParams:
		return p.reports.Run(ctx, job, params)
	default:
		return exception.NewBatchError(module, fmt.Sprintf("no step for job type %s (params %T)", job.Type, job.Params), nil, false, false)
	}
}

// heartbeat extends the lease of e until the returned stop function is called.
// Losing the lease cancels the attempt.
func (p *Pool) heartbeat(ctx context.Context, e *queue.Entry, cancel context.CancelCauseFunc) func() {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval())
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := p.queue.Heartbeat(ctx, e, p.cfg.Lease())
				if errors.Is(err, queue.ErrLeaseLost) {
					logger.Warnf("Worker %s: lost lease of entry %d (job %s); abandoning attempt.", p.workerID, e.ID, e.JobID)
					cancel(err)
					return
				}
				if err != nil && ctx.Err() == nil {
					logger.Warnf("Worker %s: heartbeat of entry %d failed: %v", p.workerID, e.ID, err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
		ticker.Stop()
	}
}

// settle records the outcome of an attempt on the job and on its entry.
func (p *Pool) settle(ctx context.Context, e *queue.Entry, job *model.Job, err, cause error) {
	switch {
	case err == nil:
		p.ack(ctx, e)
		logger.Infof("Worker %s: job %s completed.", p.workerID, job.ID)

	case errors.Is(cause, queue.ErrLeaseLost):
		// The reaper owns the entry now.
		logger.Warnf("Worker %s: attempt of job %s abandoned after losing its lease.", p.workerID, job.ID)

	case exception.IsCancellation(err) || exception.IsCancellation(cause) || p.isCancelled(ctx, job.ID):
		p.ack(ctx, e)
		logger.Infof("Worker %s: job %s stopped after cancellation.", p.workerID, job.ID)

	case errors.Is(cause, errShutdown):
		if rerr := p.queue.Release(ctx, e); rerr != nil {
			logger.Errorf("Worker %s: failed to release entry %d: %v", p.workerID, e.ID, rerr)
		}
		p.requeueJob(ctx, job.ID, model.NewErrorEntry(fmt.Sprintf("attempt %d interrupted by worker shutdown; job requeued", e.Attempts)))

	case p.policy.ShouldRetry(err) && e.Attempts < maxAttempts(e):
		delay := p.policy.GetBackoffInterval(e.Attempts)
		msg := exception.ExtractErrorMessage(err)
		entry := model.NewErrorEntry(fmt.Sprintf("attempt %d/%d failed: %s; retrying in %s", e.Attempts, maxAttempts(e), msg, delay))
		p.requeueJob(ctx, job.ID, entry)
		if qerr := p.queue.Retry(ctx, e, delay, msg); qerr != nil {
			logger.Errorf("Worker %s: failed to schedule retry of entry %d: %v", p.workerID, e.ID, qerr)
		}
		logger.Warnf("Worker %s: job %s attempt %d failed, retrying in %s: %v", p.workerID, job.ID, e.Attempts, delay, err)

	default:
		msg := exception.ExtractErrorMessage(err)
		if ferr := p.jobs.Fail(ctx, job.ID, model.NewErrorEntry(msg)); ferr != nil {
			logger.Errorf("Worker %s: failed to mark job %s failed: %v", p.workerID, job.ID, ferr)
		}
		if qerr := p.queue.Fail(ctx, e, msg); qerr != nil {
			logger.Errorf("Worker %s: failed to fail entry %d: %v", p.workerID, e.ID, qerr)
		}
		logger.Errorf("Worker %s: job %s failed after %d attempt(s): %v", p.workerID, job.ID, e.Attempts, err)
	}
}

func (p *Pool) isCancelled(ctx context.Context, jobID string) bool {
	status, err := p.jobs.FindStatus(ctx, jobID)
	return err == nil && status == model.StatusCancelled
}

func (p *Pool) requeueJob(ctx context.Context, jobID string, entry model.ErrorEntry) {
	if err := p.jobs.Requeue(ctx, jobID, entry); err != nil {
		logger.Errorf("Worker %s: failed to requeue job %s: %v", p.workerID, jobID, err)
	}
}

func (p *Pool) ack(ctx context.Context, e *queue.Entry) {
	if err := p.queue.Complete(ctx, e); err != nil {
		logger.Errorf("Worker %s: failed to complete entry %d: %v", p.workerID, e.ID, err)
	}
}

// retryEntry puts e back after a failure that happened before the job started.
func (p *Pool) retryEntry(ctx context.Context, e *queue.Entry, cause error) {
	delay := p.policy.GetBackoffInterval(1)
	logger.Warnf("Worker %s: could not start job %s, entry %d retried in %s: %v", p.workerID, e.JobID, e.ID, delay, cause)
	if err := p.queue.Retry(ctx, e, delay, exception.ExtractErrorMessage(cause)); err != nil {
		logger.Errorf("Worker %s: failed to retry entry %d: %v", p.workerID, e.ID, err)
	}
}

func maxAttempts(e *queue.Entry) int {
	if e.MaxAttempts < 1 {
		return 1
	}
	return e.MaxAttempts
}
