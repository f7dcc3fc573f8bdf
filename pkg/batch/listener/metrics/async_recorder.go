package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// MetricEvent represents a metric event to be recorded asynchronously.
type MetricEvent struct {
	Type     string
	Job      *model.Job
	JobType  model.JobType
	Status   model.Status
	Kind     model.EntityKind
	Name     string
	Outcome  string
	Count    int
	Waiting  int64
	Active   int64
	Duration time.Duration
	Tags     map[string]string
}

// Metric event type constants
const (
	MetricEventTypeJobStart        = "job_start"
	MetricEventTypeJobEnd          = "job_end"
	MetricEventTypeJobRetry        = "job_retry"
	MetricEventTypeRows            = "rows"
	MetricEventTypeBatchCommit     = "batch_commit"
	MetricEventTypeBatchRollback   = "batch_rollback"
	MetricEventTypeEntitiesCreated = "entities_created"
	MetricEventTypeQueueDepth      = "queue_depth"
	MetricEventTypeStalled         = "stalled"
	MetricEventTypeRecordDuration  = "record_duration"
)

// AsyncMetricRecorder asynchronously records metrics by pushing events to a channel
// and processing them in a separate goroutine.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder creates a new asynchronous metric recorder.
// A bufferSize of 0 or less selects the default of 100.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			// Drain what was queued before the stop signal.
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := context.Background()
	switch event.Type {
	case MetricEventTypeJobStart:
		r.syncRecorder.RecordJobStart(ctx, event.Job)
	case MetricEventTypeJobEnd:
		r.syncRecorder.RecordJobEnd(ctx, event.Job, event.Status, event.Duration)
	case MetricEventTypeJobRetry:
		r.syncRecorder.RecordJobRetry(ctx, event.JobType, event.Name)
	case MetricEventTypeRows:
		r.syncRecorder.RecordRows(ctx, event.JobType, event.Outcome, event.Count)
	case MetricEventTypeBatchCommit:
		r.syncRecorder.RecordBatchCommit(ctx, event.JobType, event.Count, event.Duration)
	case MetricEventTypeBatchRollback:
		r.syncRecorder.RecordBatchRollback(ctx, event.JobType, event.Count)
	case MetricEventTypeEntitiesCreated:
		r.syncRecorder.RecordEntitiesCreated(ctx, event.Kind, event.Count)
	case MetricEventTypeQueueDepth:
		r.syncRecorder.RecordQueueDepth(ctx, event.Waiting, event.Active)
	case MetricEventTypeStalled:
		r.syncRecorder.RecordStalled(ctx, event.Count)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.Name, event.Duration, event.Tags)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops the recorder after processing the events already queued.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		logger.Debugf("AsyncMetricRecorder: Sending shutdown signal...")
		close(r.stopCh)
		r.wg.Wait()
		logger.Debugf("AsyncMetricRecorder: Shutdown complete.")
	})
}

// sendEvent queues an event, discarding it with a warning when the queue is full.
func (r *AsyncMetricRecorder) sendEvent(event MetricEvent) {
	select {
	case <-r.stopCh:
		return
	default:
	}
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s). Event discarded.", event.Type)
	}
}

func (r *AsyncMetricRecorder) RecordJobStart(ctx context.Context, job *model.Job) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeJobStart, Job: job})
}

func (r *AsyncMetricRecorder) RecordJobEnd(ctx context.Context, job *model.Job, status model.Status, duration time.Duration) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeJobEnd, Job: job, Status: status, Duration: duration})
}

func (r *AsyncMetricRecorder) RecordJobRetry(ctx context.Context, jobType model.JobType, reason string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeJobRetry, JobType: jobType, Name: reason})
}

func (r *AsyncMetricRecorder) RecordRows(ctx context.Context, jobType model.JobType, outcome string, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRows, JobType: jobType, Outcome: outcome, Count: count})
}

func (r *AsyncMetricRecorder) RecordBatchCommit(ctx context.Context, jobType model.JobType, rows int, duration time.Duration) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeBatchCommit, JobType: jobType, Count: rows, Duration: duration})
}

func (r *AsyncMetricRecorder) RecordBatchRollback(ctx context.Context, jobType model.JobType, rows int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeBatchRollback, JobType: jobType, Count: rows})
}

func (r *AsyncMetricRecorder) RecordEntitiesCreated(ctx context.Context, kind model.EntityKind, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeEntitiesCreated, Kind: kind, Count: count})
}

func (r *AsyncMetricRecorder) RecordQueueDepth(ctx context.Context, waiting, active int64) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeQueueDepth, Waiting: waiting, Active: active})
}

func (r *AsyncMetricRecorder) RecordStalled(ctx context.Context, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeStalled, Count: count})
}

func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRecordDuration, Name: name, Duration: duration, Tags: tags})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)

// NewAsyncMetricRecorderWrapper is used with fx.Decorate. It wraps the provided recorder
// and closes the wrapper on shutdown.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg *config.Config, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	asyncRecorder := NewAsyncMetricRecorder(cfg.Importd.Metrics.AsyncBufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}
