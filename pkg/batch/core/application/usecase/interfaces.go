package usecase

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/tigerroll/importd/pkg/batch/component/reader/tabular"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
)

// ErrInvalidRequest marks a request rejected before any state change.
var ErrInvalidRequest = errors.New("invalid request")

// ErrArtifactNotFound is returned when a job has no artifact of the requested kind.
var ErrArtifactNotFound = errors.New("artifact not found")

// ImportRequest is an uploaded file together with its column mapping.
type ImportRequest struct {
	FileName     string
	ContentType  string
	File         io.Reader
	Mapping      model.ColumnMapping
	DefaultBrand string
	UserID       *string
}

// ReportRequest describes a report to generate.
type ReportRequest struct {
	ReportType model.ReportType
	Format     model.ReportFormat
	Filters    map[string]string
	UserID     *string
}

// Artifact is an open job artifact. The caller closes Body.
type Artifact struct {
	Body        io.ReadCloser
	FileName    string
	ContentType string
}

// JobLauncher creates jobs and hands them to the queue.
type JobLauncher interface {
	// StartImport uploads the file, creates a pending bulk-import job and enqueues it.
	// No job is created when the upload fails.
	StartImport(ctx context.Context, req ImportRequest) (*model.Job, error)
	// StartReport creates a pending report-generation job and enqueues it.
	StartReport(ctx context.Context, req ReportRequest) (*model.Job, error)
	// Preview parses an upload without storing it.
	Preview(ctx context.Context, fileName string, data []byte) (*tabular.PreviewResult, error)
}

// JobOperator changes the status of existing jobs.
type JobOperator interface {
	// Cancel marks a non-terminal job cancelled. A running attempt stops at its next batch.
	Cancel(ctx context.Context, id string) (*model.Job, error)
	// Delete removes a job, its queue entries and its blobs.
	Delete(ctx context.Context, id string) (*model.Job, error)
	// OverrideStatus applies a manual status change with an optional note.
	OverrideStatus(ctx context.Context, id string, status string, note string) (*model.Job, error)
}

// JobExplorer reads jobs and their artifacts.
type JobExplorer interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, q repository.ListQuery) ([]*model.Job, int64, error)
	SuccessfulEntries(ctx context.Context, id string) (*Artifact, error)
	Report(ctx context.Context, id string) (*Artifact, error)
}

// AttemptCanceller interrupts the in-process attempt of a job, if there is one.
type AttemptCanceller interface {
	CancelJob(jobID string) bool
}
