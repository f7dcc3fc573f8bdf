// Package importstep runs a bulk-import job: download, parse, map and persist rows in batches.
package importstep

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	"github.com/tigerroll/importd/pkg/batch/component/processor/mapping"
	"github.com/tigerroll/importd/pkg/batch/component/reader/tabular"
	"github.com/tigerroll/importd/pkg/batch/component/writer/artifact"
	"github.com/tigerroll/importd/pkg/batch/component/writer/catalog"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

const module = "importstep"

// Step executes bulk-import jobs.
type Step struct {
	jobs      repository.JobRepository
	catalog   repository.CatalogRepository
	writer    *catalog.Writer
	txManager tx.TransactionManager
	store     storage.BlobStore
	listener  listener.BatchListener
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
	batchSize int
	tempDir   string
}

// Params are the dependencies of Step.
type Params struct {
	fx.In

	Config    *config.Config
	Jobs      repository.JobRepository
	Catalog   repository.CatalogRepository
	Writer    *catalog.Writer
	TxManager tx.TransactionManager
	Store     storage.BlobStore
	Listener  *listener.Multicaster
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
}

// New creates a Step.
func New(p Params) *Step {
	batchSize := p.Config.Importd.Worker.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	tempDir := p.Config.Importd.Worker.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	var l listener.BatchListener = listener.NewMulticasterOf()
	if p.Listener != nil {
		l = p.Listener
	}
	return &Step{
		jobs:      p.Jobs,
		catalog:   p.Catalog,
		writer:    p.Writer,
		txManager: p.TxManager,
		store:     p.Store,
		listener:  l,
		recorder:  p.Recorder,
		tracer:    p.Tracer,
		batchSize: batchSize,
		tempDir:   tempDir,
	}
}

// BatchSize returns the number of rows per batch transaction.
func (s *Step) BatchSize() int {
	return s.batchSize
}

// run holds the mutable state of one attempt.
type run struct {
	job      *model.Job
	params   *model.BulkImportParams
	progress model.Progress
	results  model.ImportResults
	// base holds the counters persisted before this attempt.
	base  model.ImportResults
	scope *catalog.Scope
}

// Run imports the file of job. It resumes after the rows a previous attempt committed
// and completes the job once every row has been processed.
func (s *Step) Run(ctx context.Context, job *model.Job, params *model.BulkImportParams) error {
	if err := mapping.Validate(params.Mapping); err != nil {
		return err
	}
	ctx, end := s.tracer.StartSpan(ctx, "import", map[string]interface{}{"job.id": job.ID, "file": params.OriginalFileName})
	defer end()

	table, err := s.load(ctx, job, params)
	if err != nil {
		return err
	}
	total := len(table.Rows)
	if total == 0 {
		return exception.NewParseError("no data rows found in file", nil)
	}
	if err := s.jobs.StartRun(ctx, job.ID, total); err != nil {
		return err
	}

	r := &run{
		job:      job,
		params:   params,
		progress: job.Progress,
		base:     *job.ImportResults(),
		scope:    catalog.NewScope(),
	}
	r.progress.TotalRows = total
	r.results = r.base
	if r.progress.ProcessedRows > 0 {
		logger.Infof("Job %s resumes after %d of %d rows.", job.ID, r.progress.ProcessedRows, total)
	}

	for start := r.progress.ProcessedRows; start < total; start += s.batchSize {
		stop := start + s.batchSize
		if stop > total {
			stop = total
		}
		if err := s.checkStatus(ctx, job.ID); err != nil {
			return err
		}
		batch := start / s.batchSize
		ev, err := s.runBatch(ctx, r, batch, table.Rows[start:stop], start)
		if err != nil {
			if exception.IsCancellation(err) || ctx.Err() != nil {
				return err
			}
			logger.Errorf("Job %s: batch %d failed and was rolled back: %v", job.ID, batch, err)
			if ferr := s.recordBatchFailure(ctx, r, start, stop, err); ferr != nil {
				return ferr
			}
			ev.Job = r.snapshot()
		}
		s.listener.AfterBatch(ctx, ev)
	}

	return s.finish(ctx, r)
}

// checkStatus is the per-batch cancellation check-point.
func (s *Step) checkStatus(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status, err := s.jobs.FindStatus(ctx, id)
	if err != nil {
		return err
	}
	switch status {
	case model.StatusProcessing:
		return nil
	case model.StatusCancelled:
		return errors.Wrapf(exception.ErrCancellationRequested, "job %s", id)
	default:
		return errors.Wrapf(exception.ErrJobNotProcessing, "job %s is %s", id, status)
	}
}

// load downloads the upload into the worker temp dir and parses it. The temp copy is
// removed before returning; the blob itself is kept.
func (s *Step) load(ctx context.Context, job *model.Job, params *model.BulkImportParams) (*tabular.Table, error) {
	started := time.Now()
	rc, err := s.store.Get(ctx, params.FilePath)
	if err != nil {
		return nil, exception.NewDownloadError(fmt.Sprintf("failed to download %s", params.FilePath), err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(s.tempDir, "import-"+job.ID+"-*"+filepath.Ext(params.OriginalFileName))
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to create temp file", err, false, true)
	}
	defer func() {
		_ = tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warnf("Job %s: failed to remove temp file %s: %v", job.ID, tmp.Name(), rmErr)
		}
	}()
	size, err := io.Copy(tmp, rc)
	if err != nil {
		return nil, exception.NewDownloadError(fmt.Sprintf("failed to download %s", params.FilePath), err)
	}
	s.recorder.RecordDuration(ctx, "download", time.Since(started), map[string]string{"type": string(job.Type)})
	logger.Debugf("Job %s: downloaded %s (%d bytes) to %s.", job.ID, params.FilePath, size, tmp.Name())

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, exception.NewDownloadError("failed to read temp copy", err)
	}
	started = time.Now()
	table, err := tabular.Parse(data, params.OriginalFileName)
	if err != nil {
		return nil, err
	}
	s.recorder.RecordDuration(ctx, "parse", time.Since(started), map[string]string{"type": string(job.Type)})
	return table, nil
}

// runBatch processes rows in one transaction. Each row runs under its own savepoint;
// a failing row is rolled back to it and logged in the same transaction.
func (s *Step) runBatch(ctx context.Context, r *run, batch int, rows [][]string, offset int) (listener.BatchEvent, error) {
	started := time.Now()
	ev := listener.BatchEvent{
		Batch:    batch,
		FirstRow: mapping.RowIndex(offset),
		LastRow:  mapping.RowIndex(offset + len(rows) - 1),
	}
	batchScope := r.scope.Child()
	progress := r.progress
	var results model.ImportResults

	err := tx.Run(ctx, s.txManager, func(t tx.Tx) error {
		for i, raw := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec := mapping.Resolve(r.params.Mapping, raw, mapping.RowIndex(offset+i))
			rowScope := batchScope.Child()
			werr := tx.WithSavepoint(t, fmt.Sprintf("row_%d", rec.RowIndex), func() error {
				_, err := s.writer.WriteRow(ctx, t, r.job, r.params, rec, rowScope)
				return err
			})
			if werr == nil {
				rowScope.Commit()
				ev.Succeeded++
				continue
			}
			if !exception.IsKind(werr, exception.KindRow) {
				return werr
			}
			ev.Failed++
			entry := model.NewRowErrorEntry(rec.RowIndex, exception.ExtractErrorMessage(werr), rec.Data())
			if err := s.jobs.AppendErrors(ctx, t, r.job.ID, entry); err != nil {
				return err
			}
		}

		progress.ProcessedRows += len(rows)
		progress.SuccessCount += ev.Succeeded
		progress.FailedCount += ev.Failed
		var committed model.ImportResults
		r.scope.ApplyTo(&committed, r.base)
		batchScope.ApplyTo(&results, committed)
		results.SuccessfulEntriesPath = r.results.SuccessfulEntriesPath
		return s.jobs.SaveProgress(ctx, t, r.job.ID, progress, model.Results{ImportResults: &results})
	})
	ev.Duration = time.Since(started)
	if err != nil {
		ev.Err = err
		ev.Succeeded, ev.Failed = 0, len(rows)
		return ev, err
	}

	ev.Created = map[model.EntityKind]int{}
	for _, kind := range []model.EntityKind{model.EntityCategory, model.EntityBrand, model.EntityVendor, model.EntityKeyword} {
		if n := batchScope.Created(kind); n > 0 {
			ev.Created[kind] = n
		}
	}
	batchScope.Commit()
	r.progress = progress
	r.results = results
	ev.Job = r.snapshot()
	return ev, nil
}

// recordBatchFailure logs a rolled back batch in a fresh transaction and counts its rows as failed.
func (s *Step) recordBatchFailure(ctx context.Context, r *run, start, stop int, cause error) error {
	n := stop - start
	progress := r.progress
	progress.ProcessedRows += n
	progress.FailedCount += n

	entry := model.NewErrorEntry(fmt.Sprintf("batch rows %d-%d failed: %s",
		mapping.RowIndex(start), mapping.RowIndex(stop-1), exception.ExtractErrorMessage(cause)))
	entry.Data = map[string]interface{}{"rowsAffected": n}

	results := r.results
	err := tx.Run(ctx, s.txManager, func(t tx.Tx) error {
		if err := s.jobs.AppendErrors(ctx, t, r.job.ID, entry); err != nil {
			return err
		}
		return s.jobs.SaveProgress(ctx, t, r.job.ID, progress, model.Results{ImportResults: &results})
	})
	if err != nil {
		return errors.Wrapf(err, "record failure of batch rows %d-%d", mapping.RowIndex(start), mapping.RowIndex(stop-1))
	}
	r.progress = progress
	return nil
}

// finish uploads the successful-entries artifact and completes the job.
func (s *Step) finish(ctx context.Context, r *run) error {
	entries, err := s.catalog.ListImportedEntries(ctx, r.job.ID)
	if err != nil {
		return err
	}
	objectPath, err := artifact.StoreSuccessfulEntries(ctx, s.store, r.job.ID, entries)
	if err != nil {
		return err
	}
	r.results.SuccessfulEntriesPath = objectPath

	if err := s.jobs.Complete(ctx, r.job.ID, model.Results{ImportResults: &r.results}); err != nil {
		return err
	}
	logger.Infof("Job %s imported %d rows: %d succeeded, %d failed.",
		r.job.ID, r.progress.ProcessedRows, r.progress.SuccessCount, r.progress.FailedCount)
	return nil
}

func (r *run) snapshot() *model.Job {
	job := *r.job
	job.Status = model.StatusProcessing
	job.Progress = r.progress
	results := r.results
	job.Results = model.Results{ImportResults: &results}
	job.ErrorLog = nil
	return &job
}
