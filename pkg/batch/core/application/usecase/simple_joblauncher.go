package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	"github.com/tigerroll/importd/pkg/batch/component/processor/mapping"
	"github.com/tigerroll/importd/pkg/batch/component/reader/tabular"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	"github.com/tigerroll/importd/pkg/batch/engine/queue"
	"github.com/tigerroll/importd/pkg/batch/engine/step/reportstep"
	exception "github.com/tigerroll/importd/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// LauncherParams are the dependencies of SimpleJobLauncher.
type LauncherParams struct {
	fx.In

	Config *config.Config
	Jobs   repository.JobRepository
	Queue  *queue.Client
	Store  storage.BlobStore
}

// SimpleJobLauncher creates jobs in the job store and enqueues them on the shared queue.
type SimpleJobLauncher struct {
	jobs        repository.JobRepository
	queue       *queue.Client
	store       storage.BlobStore
	maxAttempts int
	previewRows int
	now         func() time.Time
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher creates a new SimpleJobLauncher.
func NewSimpleJobLauncher(p LauncherParams) *SimpleJobLauncher {
	previewRows := p.Config.Importd.Jobs.PreviewRows
	if previewRows <= 0 {
		previewRows = 5
	}
	return &SimpleJobLauncher{
		jobs:        p.Jobs,
		queue:       p.Queue,
		store:       p.Store,
		maxAttempts: p.Config.Importd.Queue.Retry.MaxAttempts,
		previewRows: previewRows,
		now:         time.Now,
	}
}

// StartImport implements JobLauncher.
func (l *SimpleJobLauncher) StartImport(ctx context.Context, req ImportRequest) (*model.Job, error) {
	if req.File == nil || req.FileName == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "no file uploaded")
	}
	if err := mapping.Validate(req.Mapping); err != nil {
		return nil, err
	}
	if _, err := tabular.SupportedFormat(req.FileName); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	filePath := storage.UploadPath(l.now(), id, req.FileName)
	if err := l.store.Put(ctx, filePath, req.File, req.ContentType); err != nil {
		return nil, exception.NewUploadError(fmt.Sprintf("failed to store %s", req.FileName), err)
	}

	job := &model.Job{
		ID:     id,
		Type:   model.JobTypeBulkImport,
		Status: model.StatusPending,
		Params: &model.BulkImportParams{
			FilePath:         filePath,
			OriginalFileName: req.FileName,
			Mapping:          req.Mapping,
			DefaultBrand:     req.DefaultBrand,
		},
		ErrorLog: []model.ErrorEntry{},
		UserID:   req.UserID,
	}
	if err := l.jobs.Create(ctx, job); err != nil {
		if delErr := l.store.Delete(ctx, filePath); delErr != nil && !storage.IsNotFound(delErr) {
			logger.Warnf("Failed to remove upload %s of unsaved job %s: %v", filePath, id, delErr)
		}
		return nil, err
	}
	if err := l.enqueue(ctx, job); err != nil {
		return nil, err
	}
	logger.Infof("Job %s created for %s (%d mapped columns).", id, req.FileName, len(req.Mapping))
	return job, nil
}

// StartReport implements JobLauncher.
func (l *SimpleJobLauncher) StartReport(ctx context.Context, req ReportRequest) (*model.Job, error) {
	switch req.ReportType {
	case model.ReportTypeProducts:
	case model.ReportTypeJobErrors:
		if _, err := uuid.Parse(req.Filters[reportstep.FilterJobID]); err != nil {
			return nil, errors.Wrapf(ErrInvalidRequest, "%s report requires a valid %s filter", req.ReportType, reportstep.FilterJobID)
		}
	default:
		return nil, errors.Wrapf(ErrInvalidRequest, "unknown report type %q", req.ReportType)
	}
	if req.Format == "" {
		req.Format = model.ReportFormatXLSX
	}
	if !req.Format.IsValid() {
		return nil, errors.Wrapf(ErrInvalidRequest, "unsupported report format %q", req.Format)
	}

	job := &model.Job{
		ID:     uuid.NewString(),
		Type:   model.JobTypeReportGeneration,
		Status: model.StatusPending,
		Params: &model.ReportGenerationParams{
			ReportType: req.ReportType,
			Format:     req.Format,
			Filters:    req.Filters,
		},
		ErrorLog: []model.ErrorEntry{},
		UserID:   req.UserID,
	}
	if err := l.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := l.enqueue(ctx, job); err != nil {
		return nil, err
	}
	logger.Infof("Job %s created for %s report as %s.", job.ID, req.ReportType, req.Format)
	return job, nil
}

// enqueue hands job to the queue. A job that cannot be queued is failed so it never sits pending forever.
func (l *SimpleJobLauncher) enqueue(ctx context.Context, job *model.Job) error {
	if _, err := l.queue.Enqueue(ctx, job.ID, queue.EnqueueOptions{MaxAttempts: l.maxAttempts}); err != nil {
		entry := model.NewErrorEntry("failed to enqueue job: " + exception.ExtractErrorMessage(err))
		if failErr := l.jobs.Fail(context.WithoutCancel(ctx), job.ID, entry); failErr != nil {
			logger.Errorf("Job %s could not be enqueued nor failed: %v", job.ID, failErr)
		}
		return err
	}
	return nil
}

// Preview implements JobLauncher.
func (l *SimpleJobLauncher) Preview(_ context.Context, fileName string, data []byte) (*tabular.PreviewResult, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "no file uploaded")
	}
	return tabular.Preview(data, fileName, l.previewRows)
}
