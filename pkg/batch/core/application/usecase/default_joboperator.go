package usecase

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	"github.com/tigerroll/importd/pkg/batch/engine/queue"
	exception "github.com/tigerroll/importd/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// CancelMessage is appended to the error log of a job cancelled through the API.
const CancelMessage = "Job cancellation requested by user"

// OperatorParams are the dependencies of DefaultJobOperator.
type OperatorParams struct {
	fx.In

	Config    *config.Config
	Jobs      repository.JobRepository
	Queue     *queue.Client
	Store     storage.BlobStore
	Canceller AttemptCanceller `optional:"true"`
}

// DefaultJobOperator is the default implementation of the JobOperator interface.
// It only writes status and the error log; progress belongs to the worker.
type DefaultJobOperator struct {
	jobs      repository.JobRepository
	queue     *queue.Client
	store     storage.BlobStore
	canceller AttemptCanceller
	blocked   []model.Status
}

var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator creates a new instance of DefaultJobOperator.
func NewDefaultJobOperator(p OperatorParams) *DefaultJobOperator {
	blocked := make([]model.Status, 0, len(p.Config.Importd.Jobs.DeleteBlockedStatuses))
	for _, s := range p.Config.Importd.Jobs.DeleteBlockedStatuses {
		if model.IsValidStatus(s) {
			blocked = append(blocked, model.Status(s))
		} else {
			logger.Warnf("Ignoring unknown status %q in jobs.delete_blocked_statuses.", s)
		}
	}
	op := &DefaultJobOperator{
		jobs:    p.Jobs,
		queue:   p.Queue,
		store:   p.Store,
		blocked: blocked,
	}
	if p.Config.Importd.Worker.InterruptOnCancel {
		op.canceller = p.Canceller
	}
	return op
}

// Cancel implements JobOperator.
func (o *DefaultJobOperator) Cancel(ctx context.Context, id string) (*model.Job, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	job, err := o.jobs.Cancel(ctx, id, CancelMessage)
	if err != nil {
		if errors.Is(err, exception.ErrInvalidTransition) && job != nil {
			return job, errors.Wrapf(err, "job is already %s", job.Status)
		}
		return nil, err
	}
	if n, err := o.queue.Remove(ctx, id); err != nil {
		logger.Warnf("Job %s cancelled but its queue entry was not removed: %v", id, err)
	} else if n > 0 {
		logger.Debugf("Removed %d waiting queue entries of cancelled job %s.", n, id)
	}
	o.interrupt(id)
	return job, nil
}

// Delete implements JobOperator.
func (o *DefaultJobOperator) Delete(ctx context.Context, id string) (*model.Job, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	job, err := o.jobs.Delete(ctx, id, o.blocked)
	if err != nil {
		if errors.Is(err, exception.ErrInvalidTransition) && job != nil {
			return job, errors.Wrapf(err, "cannot delete a %s job", job.Status)
		}
		return nil, err
	}

	var cleanup *multierror.Error
	if _, err := o.queue.Purge(ctx, id); err != nil {
		cleanup = multierror.Append(cleanup, err)
	}
	prefixes := []string{storage.ResultsPrefix(id), storage.ReportsPrefix(id)}
	for _, prefix := range prefixes {
		if _, err := o.store.DeletePrefix(ctx, prefix); err != nil {
			cleanup = multierror.Append(cleanup, err)
		}
	}
	if p := job.BulkImportParams(); p != nil && p.FilePath != "" {
		if err := o.store.Delete(ctx, p.FilePath); err != nil && !storage.IsNotFound(err) {
			cleanup = multierror.Append(cleanup, err)
		}
	}
	if err := cleanup.ErrorOrNil(); err != nil {
		logger.Warnf("Job %s deleted with incomplete cleanup: %v", id, err)
	}
	logger.Infof("Job %s (%s, %s) deleted.", id, job.Type, job.Status)
	return job, nil
}

// OverrideStatus implements JobOperator.
func (o *DefaultJobOperator) OverrideStatus(ctx context.Context, id string, status string, note string) (*model.Job, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if !model.IsValidStatus(status) {
		return nil, errors.Wrapf(ErrInvalidRequest, "invalid status %q", status)
	}
	next := model.Status(status)
	job, err := o.jobs.OverrideStatus(ctx, id, next, note)
	if err != nil {
		return nil, err
	}
	if next.IsTerminal() {
		if _, err := o.queue.Remove(ctx, id); err != nil {
			logger.Warnf("Job %s set to %s but its queue entry was not removed: %v", id, next, err)
		}
		o.interrupt(id)
	}
	return job, nil
}

func (o *DefaultJobOperator) interrupt(id string) {
	if o.canceller != nil && o.canceller.CancelJob(id) {
		logger.Infof("Job %s: interrupted the running attempt on this instance.", id)
	}
}
