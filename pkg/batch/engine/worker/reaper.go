package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/engine/queue"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

func (p *Pool) reaper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.StallCheckInterval())
	defer ticker.Stop()
	for {
		if err := p.Reap(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("Worker %s: stall check failed: %v", p.workerID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reap requeues entries whose lease expired and moves their jobs back to pending,
// or fails them once they stalled too often. It also prunes old finished entries
// and records the queue depth.
func (p *Pool) Reap(ctx context.Context) error {
	stalled, err := p.queue.RequeueStalled(ctx, p.maxStalled)
	for _, s := range stalled {
		p.settleStalled(ctx, s)
	}
	if len(stalled) > 0 {
		p.recorder.RecordStalled(ctx, len(stalled))
	}
	if err != nil {
		return err
	}

	if p.retain > 0 {
		n, err := p.queue.Prune(ctx, p.retain)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Debugf("Worker %s: pruned %d finished queue entries.", p.workerID, n)
		}
	}

	stats, err := p.queue.Stats(ctx)
	if err != nil {
		return err
	}
	p.recorder.RecordQueueDepth(ctx, stats.Waiting, stats.Active)
	return nil
}

func (p *Pool) settleStalled(ctx context.Context, s queue.Stalled) {
	var err error
	if s.Exhausted {
		err = p.jobs.Fail(ctx, s.JobID, model.NewErrorEntry(queue.StalledMessage(p.maxStalled)))
	} else {
		err = p.jobs.Requeue(ctx, s.JobID, model.NewErrorEntry(
			fmt.Sprintf("attempt %d stalled (lease expired); job requeued", s.Attempts)))
	}
	// A job cancelled or deleted meanwhile keeps its state.
	if err != nil && !errors.Is(err, exception.ErrInvalidTransition) && !errors.Is(err, exception.ErrJobNotFound) {
		logger.Errorf("Worker %s: failed to settle stalled job %s: %v", p.workerID, s.JobID, err)
	}
}
