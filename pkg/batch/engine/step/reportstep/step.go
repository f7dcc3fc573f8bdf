// Package reportstep renders catalog and job-error reports as downloadable artifacts.
package reportstep

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	"github.com/tigerroll/importd/pkg/batch/component/writer/artifact"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

const module = "reportstep"

// Filter keys accepted by the reports.
const (
	FilterCategory = "category"
	FilterBrand    = "brand"
	FilterVendor   = "vendor"
	FilterStatus   = "status"
	FilterJobID    = "jobId"
)

var productColumns = []string{
	"product_code", "name", "category", "brand", "vendor",
	"quantity", "alert_quantity", "tax", "status", "is_featured",
}

var errorColumns = []string{"timestamp", "row", "message", "data"}

// Step executes report-generation jobs.
type Step struct {
	jobs        repository.JobRepository
	catalog     repository.CatalogRepository
	store       storage.BlobStore
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer
	compression string
}

// Params are the dependencies of Step.
type Params struct {
	fx.In

	Config   *config.Config
	Jobs     repository.JobRepository
	Catalog  repository.CatalogRepository
	Store    storage.BlobStore
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// New creates a Step.
func New(p Params) *Step {
	return &Step{
		jobs:        p.Jobs,
		catalog:     p.Catalog,
		store:       p.Store,
		recorder:    p.Recorder,
		tracer:      p.Tracer,
		compression: p.Config.Importd.Jobs.ReportCompression,
	}
}

// ProductFilter builds the catalog filter of a products report.
func ProductFilter(filters map[string]string) model.ProductFilter {
	return model.ProductFilter{
		Category: filters[FilterCategory],
		Brand:    filters[FilterBrand],
		Vendor:   filters[FilterVendor],
		Status:   filters[FilterStatus],
	}
}

// Run renders the report of job, uploads it and completes the job.
func (s *Step) Run(ctx context.Context, job *model.Job, params *model.ReportGenerationParams) error {
	if !params.Format.IsValid() {
		return exception.NewBatchError(module, fmt.Sprintf("unsupported report format %q", params.Format), nil, false, false)
	}
	ctx, end := s.tracer.StartSpan(ctx, "report", map[string]interface{}{
		"job.id": job.ID, "report.type": string(params.ReportType), "report.format": string(params.Format),
	})
	defer end()

	started := time.Now()
	objectPath := artifact.ReportPath(job.ID, params.Format)
	var rows int
	var err error
	switch params.ReportType {
	case model.ReportTypeProducts:
		rows, err = s.products(ctx, job, params, objectPath)
	case model.ReportTypeJobErrors:
		rows, err = s.jobErrors(ctx, job, params, objectPath)
	default:
		return exception.NewBatchError(module, fmt.Sprintf("unknown report type %q", params.ReportType), nil, false, false)
	}
	if err != nil {
		return err
	}
	s.recorder.RecordDuration(ctx, "report", time.Since(started), map[string]string{"type": string(job.Type)})

	results := model.Results{ReportResults: &model.ReportResults{
		ReportPath:   objectPath,
		ReportFormat: string(params.Format),
		ReportRows:   rows,
	}}
	progress := model.Progress{TotalRows: rows, ProcessedRows: rows, SuccessCount: rows}
	if err := s.jobs.SaveProgress(ctx, nil, job.ID, progress, results); err != nil {
		return err
	}
	if err := s.jobs.Complete(ctx, job.ID, results); err != nil {
		return err
	}
	logger.Infof("Job %s wrote %s report with %d rows to %s.", job.ID, params.ReportType, rows, objectPath)
	return nil
}

func (s *Step) products(ctx context.Context, job *model.Job, params *model.ReportGenerationParams, objectPath string) (int, error) {
	items, err := s.catalog.ListProductReport(ctx, ProductFilter(params.Filters))
	if err != nil {
		return 0, err
	}
	if err := s.jobs.StartRun(ctx, job.ID, len(items)); err != nil {
		return 0, err
	}
	return len(items), artifact.Store(ctx, s.store, objectPath, params.Format, artifact.Dataset[model.ProductReportRow]{
		Sheet:   "Products",
		Columns: productColumns,
		Cells: func(r model.ProductReportRow) []interface{} {
			return []interface{}{
				r.ProductCode, r.Name, r.Category, r.Brand, r.Vendor,
				r.Quantity, r.AlertQuantity, r.Tax, r.Status, r.IsFeatured,
			}
		},
		Items:       items,
		Compression: s.compression,
	})
}

func (s *Step) jobErrors(ctx context.Context, job *model.Job, params *model.ReportGenerationParams, objectPath string) (int, error) {
	sourceID := params.Filters[FilterJobID]
	if sourceID == "" {
		return 0, exception.NewBatchError(module, "job-errors report requires a jobId filter", nil, false, false)
	}
	source, err := s.jobs.FindByID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, exception.ErrJobNotFound) {
			return 0, exception.NewBatchError(module, fmt.Sprintf("job %s not found", sourceID), err, false, false)
		}
		return 0, err
	}
	items := ErrorRows(source.ErrorLog)
	if err := s.jobs.StartRun(ctx, job.ID, len(items)); err != nil {
		return 0, err
	}
	return len(items), artifact.Store(ctx, s.store, objectPath, params.Format, artifact.Dataset[model.ErrorReportRow]{
		Sheet:   "Errors",
		Columns: errorColumns,
		Cells: func(r model.ErrorReportRow) []interface{} {
			return []interface{}{r.Timestamp, r.Row, r.Message, r.Data}
		},
		Items:       items,
		Compression: s.compression,
	})
}

// ErrorRows flattens an error log into report rows. Row data is rendered as JSON text.
func ErrorRows(log []model.ErrorEntry) []model.ErrorReportRow {
	rows := make([]model.ErrorReportRow, 0, len(log))
	for _, e := range log {
		r := model.ErrorReportRow{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Message:   e.Message,
		}
		if e.Row != nil {
			n := int32(*e.Row)
			r.Row = &n
		}
		if len(e.Data) > 0 {
			if b, err := json.Marshal(e.Data); err == nil {
				r.Data = string(b)
			}
		}
		rows = append(rows, r)
	}
	return rows
}
