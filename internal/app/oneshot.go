package app

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// RunImport runs a single bulk import in-process: it starts the worker, submits req and
// blocks until the job reaches a terminal status or ctx is done. The API is never served.
func RunImport(ctx context.Context, o Options, req usecase.ImportRequest) (*model.Job, error) {
	enabled := true
	o.Worker = &enabled
	o.ServeAPI = false

	var (
		launcher usecase.JobLauncher
		explorer usecase.JobExplorer
		signaler *listener.CompletionSignaler
	)
	app := fx.New(Build(o), fx.Populate(&launcher, &explorer, &signaler))
	if err := app.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to build application")
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return nil, errors.Wrap(err, "failed to start application")
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancelStop()
		if err := app.Stop(stopCtx); err != nil {
			logger.Warnf("Application did not stop cleanly: %v", err)
		}
	}()

	job, err := launcher.StartImport(ctx, req)
	if err != nil {
		return nil, err
	}
	done := signaler.Done(job.ID)
	logger.Infof("Import job %s submitted, waiting for completion.", job.ID)

	// The attempt may have finished before Done was registered.
	if current, err := explorer.Get(ctx, job.ID); err == nil && current.Status.IsTerminal() {
		return current, nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return job, errors.Wrapf(ctx.Err(), "waiting for job %s", job.ID)
	}
	return explorer.Get(context.WithoutCancel(ctx), job.ID)
}
