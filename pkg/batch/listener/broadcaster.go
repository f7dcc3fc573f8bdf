package listener

import (
	"context"
	"sync"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
)

// Broadcaster publishes job snapshots to in-process watchers.
//
// Each subscription holds at most one pending snapshot; a newer one replaces it, so a
// slow watcher sees the latest state rather than every intermediate one.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan *model.Job]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[string]map[chan *model.Job]struct{}{}}
}

// Subscribe registers a watcher of jobID. The returned function unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(jobID string) (<-chan *model.Job, func()) {
	ch := make(chan *model.Job, 1)
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = map[chan *model.Job]struct{}{}
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			close(ch)
		})
	}
}

// Watchers returns the number of subscriptions of jobID.
func (b *Broadcaster) Watchers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// Publish delivers job to the watchers of job.ID without blocking.
func (b *Broadcaster) Publish(job *model.Job) {
	if job == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[job.ID] {
		select {
		case <-ch:
		default:
		}
		ch <- job
	}
}

func (b *Broadcaster) BeforeJob(ctx context.Context, job *model.Job) { b.Publish(job) }

func (b *Broadcaster) AfterJob(ctx context.Context, job *model.Job, err error) { b.Publish(job) }

func (b *Broadcaster) AfterBatch(ctx context.Context, event BatchEvent) { b.Publish(event.Job) }

var (
	_ JobListener   = (*Broadcaster)(nil)
	_ BatchListener = (*Broadcaster)(nil)
)
