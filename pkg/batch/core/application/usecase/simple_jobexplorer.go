package usecase

import (
	"context"
	"fmt"
	"path"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	"github.com/tigerroll/importd/pkg/batch/component/writer/artifact"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

// MaxPageSize caps the limit of a list query.
const MaxPageSize = 100

// SimpleJobExplorer is a read-only view over the job store and its artifacts.
type SimpleJobExplorer struct {
	jobs  repository.JobRepository
	store storage.BlobStore
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a new SimpleJobExplorer.
func NewSimpleJobExplorer(jobs repository.JobRepository, store storage.BlobStore) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobs: jobs, store: store}
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.Wrapf(ErrInvalidRequest, "invalid job id %q", id)
	}
	return nil
}

// Get implements JobExplorer.
func (e *SimpleJobExplorer) Get(ctx context.Context, id string) (*model.Job, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return e.jobs.FindByID(ctx, id)
}

// List implements JobExplorer.
func (e *SimpleJobExplorer) List(ctx context.Context, q repository.ListQuery) ([]*model.Job, int64, error) {
	if q.Status != "" && !model.IsValidStatus(string(q.Status)) {
		return nil, 0, errors.Wrapf(ErrInvalidRequest, "invalid status %q", q.Status)
	}
	if q.Type != "" && !q.Type.IsValid() {
		return nil, 0, errors.Wrapf(ErrInvalidRequest, "invalid job type %q", q.Type)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	return e.jobs.List(ctx, q)
}

// SuccessfulEntries implements JobExplorer.
func (e *SimpleJobExplorer) SuccessfulEntries(ctx context.Context, id string) (*Artifact, error) {
	job, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r := job.Results.ImportResults
	if r == nil || r.SuccessfulEntriesPath == "" {
		return nil, errors.Wrapf(ErrArtifactNotFound, "job %s has no successful entries", id)
	}
	return e.open(ctx, r.SuccessfulEntriesPath, fmt.Sprintf("successful-entries-%s.json", id))
}

// Report implements JobExplorer.
func (e *SimpleJobExplorer) Report(ctx context.Context, id string) (*Artifact, error) {
	job, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r := job.Results.ReportResults
	if r == nil || r.ReportPath == "" {
		return nil, errors.Wrapf(ErrArtifactNotFound, "job %s has no report", id)
	}
	return e.open(ctx, r.ReportPath, fmt.Sprintf("report-%s%s", id, path.Ext(r.ReportPath)))
}

func (e *SimpleJobExplorer) open(ctx context.Context, objectPath, fileName string) (*Artifact, error) {
	body, err := e.store.Get(ctx, objectPath)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, errors.Wrapf(ErrArtifactNotFound, "%s is missing from the blob store", objectPath)
		}
		return nil, exception.NewStorageError(fmt.Sprintf("failed to open %s", objectPath), err, true)
	}
	return &Artifact{Body: body, FileName: fileName, ContentType: artifact.ContentTypeForPath(objectPath)}, nil
}
