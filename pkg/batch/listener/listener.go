// Package listener defines the observers notified while a job runs and fans events out to them.
package listener

import (
	"context"
	"time"

	"go.uber.org/fx"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// BatchEvent describes one batch of an import after its transaction ended.
type BatchEvent struct {
	// Job is a snapshot taken after the batch. Progress and Results are current.
	Job *model.Job
	// Batch is the zero-based batch number within the file.
	Batch int
	// FirstRow and LastRow are the spreadsheet rows covered by the batch.
	FirstRow  int
	LastRow   int
	Succeeded int
	Failed    int
	// Created counts the entities first created by this batch.
	Created  map[model.EntityKind]int
	Duration time.Duration
	// Err is set when the batch was rolled back as a whole.
	Err error
}

// Committed reports whether the batch transaction committed.
func (e BatchEvent) Committed() bool {
	return e.Err == nil
}

// JobListener observes job attempts.
type JobListener interface {
	// BeforeJob is called once the job is processing.
	BeforeJob(ctx context.Context, job *model.Job)
	// AfterJob is called with the job as persisted after the attempt; err is the attempt error, if any.
	AfterJob(ctx context.Context, job *model.Job, err error)
}

// BatchListener observes import batches.
type BatchListener interface {
	AfterBatch(ctx context.Context, event BatchEvent)
}

// BatchListenerFunc adapts a function to BatchListener.
type BatchListenerFunc func(ctx context.Context, event BatchEvent)

func (f BatchListenerFunc) AfterBatch(ctx context.Context, event BatchEvent) { f(ctx, event) }

// Multicaster forwards every event to all registered listeners in order.
// A panicking listener is logged and does not affect the others or the job.
type Multicaster struct {
	jobs    []JobListener
	batches []BatchListener
}

// MulticasterParams collects the listeners contributed to the fx groups.
type MulticasterParams struct {
	fx.In

	JobListeners   []JobListener   `group:"job_listeners"`
	BatchListeners []BatchListener `group:"batch_listeners"`
}

// NewMulticaster creates a Multicaster from the fx listener groups.
func NewMulticaster(p MulticasterParams) *Multicaster {
	return &Multicaster{jobs: p.JobListeners, batches: p.BatchListeners}
}

// NewMulticasterOf creates a Multicaster from explicit listeners. A listener implementing
// both interfaces is registered for both.
func NewMulticasterOf(listeners ...interface{}) *Multicaster {
	m := &Multicaster{}
	for _, l := range listeners {
		if jl, ok := l.(JobListener); ok {
			m.jobs = append(m.jobs, jl)
		}
		if bl, ok := l.(BatchListener); ok {
			m.batches = append(m.batches, bl)
		}
	}
	return m
}

func (m *Multicaster) BeforeJob(ctx context.Context, job *model.Job) {
	for _, l := range m.jobs {
		safely("BeforeJob", func() { l.BeforeJob(ctx, job) })
	}
}

func (m *Multicaster) AfterJob(ctx context.Context, job *model.Job, err error) {
	for _, l := range m.jobs {
		safely("AfterJob", func() { l.AfterJob(ctx, job, err) })
	}
}

func (m *Multicaster) AfterBatch(ctx context.Context, event BatchEvent) {
	for _, l := range m.batches {
		safely("AfterBatch", func() { l.AfterBatch(ctx, event) })
	}
}

func safely(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Listener: %s panicked: %v", hook, r)
		}
	}()
	fn()
}

var (
	_ JobListener   = (*Multicaster)(nil)
	_ BatchListener = (*Multicaster)(nil)
)
