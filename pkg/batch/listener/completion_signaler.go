package listener

import (
	"context"
	"sync"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// CompletionSignaler closes a per-job channel once an attempt leaves the job in a terminal status.
type CompletionSignaler struct {
	mu   sync.Mutex
	done map[string]chan struct{}
}

// NewCompletionSignaler creates a CompletionSignaler.
func NewCompletionSignaler() *CompletionSignaler {
	return &CompletionSignaler{done: map[string]chan struct{}{}}
}

// Done returns a channel closed when an attempt leaves jobID in a terminal status.
// Only attempts finishing after the call are observed.
func (s *CompletionSignaler) Done(jobID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.done[jobID]
	if !ok {
		ch = make(chan struct{})
		s.done[jobID] = ch
	}
	return ch
}

func (s *CompletionSignaler) BeforeJob(ctx context.Context, job *model.Job) {}

// AfterJob closes the channel of job when its status is terminal.
// Jobs nobody waits for are ignored.
func (s *CompletionSignaler) AfterJob(ctx context.Context, job *model.Job, err error) {
	if job == nil || !job.Status.IsTerminal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.done[job.ID]
	if !ok {
		return
	}
	delete(s.done, job.ID)
	logger.Debugf("CompletionSignaler: job %s finished as %s.", job.ID, job.Status)
	close(ch)
}

var _ JobListener = (*CompletionSignaler)(nil)
