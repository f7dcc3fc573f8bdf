// Package repository defines the persistence ports of importd.
// Methods taking a tx.Tx run inside the caller's transaction; a nil tx runs on the connection.
package repository

import (
	"context"
	"errors"

	"github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/core/tx"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate entity")

// ErrNotFound is returned when a catalog lookup matches nothing.
var ErrNotFound = errors.New("entity not found")

// SortOrder is the direction of a list query.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// ListQuery filters, sorts and paginates job listings.
type ListQuery struct {
	Page      int
	Limit     int
	Status    model.Status
	Type      model.JobType
	UserID    string
	SortBy    string // createdAt, updatedAt, completedAt, status, type
	SortOrder SortOrder
}

// JobRepository persists jobs and their append-only error log.
// Every status write is conditional on the allowed source statuses, so terminal jobs never change.
type JobRepository interface {
	// Create inserts a new pending job.
	Create(ctx context.Context, job *model.Job) error
	// FindByID loads a job and its full error log. Returns exception.ErrJobNotFound if absent.
	FindByID(ctx context.Context, id string) (*model.Job, error)
	// FindStatus loads only the status column.
	FindStatus(ctx context.Context, id string) (model.Status, error)
	// List returns one page of jobs, without error logs, and the total match count.
	List(ctx context.Context, q ListQuery) ([]*model.Job, int64, error)

	// MarkProcessing moves a pending job to processing and counts the attempt.
	// A job in any other status is returned unchanged together with exception.ErrInvalidTransition.
	MarkProcessing(ctx context.Context, id string) (*model.Job, error)
	// StartRun records the total row count of a processing job.
	StartRun(ctx context.Context, id string, totalRows int) error
	// SaveProgress writes counters and results of a processing job inside t.
	// It never lowers processed_rows. If the job left processing it returns
	// exception.ErrCancellationRequested (cancelled) or exception.ErrJobNotProcessing.
	SaveProgress(ctx context.Context, t tx.Tx, id string, progress model.Progress, results model.Results) error
	// AppendErrors appends entries to the error log inside t, or standalone when t is nil.
	AppendErrors(ctx context.Context, t tx.Tx, id string, entries ...model.ErrorEntry) error

	// Requeue moves a processing job back to pending and appends entry.
	Requeue(ctx context.Context, id string, entry model.ErrorEntry) error
	// Complete moves a processing job to completed with its final results.
	Complete(ctx context.Context, id string, results model.Results) error
	// Fail moves a pending or processing job to failed and appends entry.
	Fail(ctx context.Context, id string, entry model.ErrorEntry) error
	// Cancel moves a pending or processing job to cancelled and appends a log entry.
	Cancel(ctx context.Context, id string, message string) (*model.Job, error)
	// OverrideStatus applies an operator status change. A non-empty note is appended to the error log.
	OverrideStatus(ctx context.Context, id string, status model.Status, note string) (*model.Job, error)
	// Delete removes a job and its error log unless its status is in blocked.
	Delete(ctx context.Context, id string, blocked []model.Status) (*model.Job, error)
}

// CatalogRepository persists the catalog entities written by imports and read by reports.
type CatalogRepository interface {
	// FindEntityID looks up a catalog entity by exact name. Returns ErrNotFound if absent.
	FindEntityID(ctx context.Context, t tx.Tx, kind model.EntityKind, name string) (uint64, error)
	// FindCommittedEntityID is FindEntityID with a locking read that also sees rows committed
	// by other transactions after t's snapshot. Used after CreateEntity returned ErrDuplicate.
	FindCommittedEntityID(ctx context.Context, t tx.Tx, kind model.EntityKind, name string) (uint64, error)
	// CreateEntity inserts an entity. Returns ErrDuplicate on a uniqueness violation.
	CreateEntity(ctx context.Context, t tx.Tx, e model.NewEntity) (uint64, error)

	// FindProductByCode returns the product with code. Returns ErrNotFound if absent.
	FindProductByCode(ctx context.Context, t tx.Tx, code string) (*model.Product, error)
	// CreateProduct inserts a product. Returns ErrDuplicate on a uniqueness violation.
	CreateProduct(ctx context.Context, t tx.Tx, p *model.Product) error
	// LinkKeywords links keywords to a product, ignoring existing links.
	LinkKeywords(ctx context.Context, t tx.Tx, productID uint64, keywordIDs []uint64) error

	// ListImportedEntries returns the products created by an import job in row order.
	ListImportedEntries(ctx context.Context, jobID string) ([]model.SuccessfulEntry, error)
	// ListProductReport returns report rows matching filter, ordered by product code.
	ListProductReport(ctx context.Context, filter model.ProductFilter) ([]model.ProductReportRow, error)
}
