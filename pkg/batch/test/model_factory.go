package test

import (
	"github.com/google/uuid"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
)

// DefaultMapping maps name and product_code from the first two columns.
func DefaultMapping() model.ColumnMapping {
	return model.ColumnMapping{0: "name", 1: "product_code"}
}

// NewImportJob returns an unsaved pending bulk-import job.
func NewImportJob(filePath string, mapping model.ColumnMapping) *model.Job {
	if mapping == nil {
		mapping = DefaultMapping()
	}
	return &model.Job{
		ID:     uuid.NewString(),
		Type:   model.JobTypeBulkImport,
		Status: model.StatusPending,
		Params: &model.BulkImportParams{
			FilePath:         filePath,
			OriginalFileName: "products.csv",
			Mapping:          mapping,
		},
		ErrorLog: []model.ErrorEntry{},
	}
}

// NewReportJob returns an unsaved pending report-generation job.
func NewReportJob(reportType model.ReportType, format model.ReportFormat) *model.Job {
	return &model.Job{
		ID:       uuid.NewString(),
		Type:     model.JobTypeReportGeneration,
		Status:   model.StatusPending,
		Params:   &model.ReportGenerationParams{ReportType: reportType, Format: format},
		ErrorLog: []model.ErrorEntry{},
	}
}
