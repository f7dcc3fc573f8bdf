package reportstep_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
	"github.com/tigerroll/importd/pkg/batch/engine/step/reportstep"
	sqlrepo "github.com/tigerroll/importd/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/test"
)

type fixture struct {
	db    *test.DB
	jobs  repository.JobRepository
	store storage.BlobStore
	step  *reportstep.Step
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := test.NewSQLiteDB(t)
	jobs := sqlrepo.NewSQLJobRepository(db.Conn, db.TxManager)
	cat := sqlrepo.NewSQLCatalogRepository(db.Conn)
	store := test.NewLocalBlobStore(t)

	db.InTx(t, func(tt tx.Tx) error {
		ctx := context.Background()
		brand, err := cat.CreateEntity(ctx, tt, model.NewEntity{Kind: model.EntityBrand, Name: "Acme"})
		if err != nil {
			return err
		}
		tax := 0.1
		for _, p := range []*model.Product{
			{ProductCode: "B-2", Name: "Bolt", Status: model.ProductStatusActive, Quantity: 5, BrandID: &brand, Tax: &tax},
			{ProductCode: "A-1", Name: "Anvil", Status: model.ProductStatusActive, Quantity: 1, BrandID: &brand},
			{ProductCode: "C-3", Name: "Clamp", Status: model.ProductStatusOutOfStock},
		} {
			if err := cat.CreateProduct(ctx, tt, p); err != nil {
				return err
			}
		}
		return nil
	})

	step := reportstep.New(reportstep.Params{
		Config:   config.NewConfig(),
		Jobs:     jobs,
		Catalog:  cat,
		Store:    store,
		Recorder: metrics.NewNoOpMetricRecorder(),
		Tracer:   metrics.NewNoOpTracer(),
	})
	return &fixture{db: db, jobs: jobs, store: store, step: step}
}

func (f *fixture) claim(t *testing.T, job *model.Job) *model.Job {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.jobs.Create(ctx, job))
	claimed, err := f.jobs.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	return claimed
}

func TestProductsReportAsJSON(t *testing.T) {
	f := newFixture(t)
	job := test.NewReportJob(model.ReportTypeProducts, model.ReportFormatJSON)
	params := job.Params.(*model.ReportGenerationParams)
	params.Filters = map[string]string{reportstep.FilterBrand: "Acme"}
	job = f.claim(t, job)
	ctx := context.Background()

	require.NoError(t, f.step.Run(ctx, job, params))

	got, err := f.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.Results.ReportResults)
	assert.Equal(t, "reports/"+job.ID+"/report.json", got.Results.ReportPath)
	assert.Equal(t, 2, got.Results.ReportRows)
	assert.Equal(t, model.Progress{TotalRows: 2, ProcessedRows: 2, SuccessCount: 2}, got.Progress)

	var rows []model.ProductReportRow
	require.NoError(t, json.Unmarshal(test.ReadObject(t, f.store, got.Results.ReportPath), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "A-1", rows[0].ProductCode, "ordered by product code")
	assert.Equal(t, "Acme", rows[1].Brand)
}

func TestProductsReportAsXLSX(t *testing.T) {
	f := newFixture(t)
	job := f.claim(t, test.NewReportJob(model.ReportTypeProducts, model.ReportFormatXLSX))
	ctx := context.Background()

	require.NoError(t, f.step.Run(ctx, job, job.Params.(*model.ReportGenerationParams)))

	data := test.ReadObject(t, f.store, "reports/"+job.ID+"/report.xlsx")
	x, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer x.Close()
	rows, err := x.GetRows("Products")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "product_code", rows[0][0])
}

func TestJobErrorsReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	source := f.claim(t, test.NewImportJob("imports/x.csv", nil))
	require.NoError(t, f.jobs.AppendErrors(ctx, nil, source.ID,
		model.NewRowErrorEntry(3, "missing required field(s): name", map[string]interface{}{"product_code": "X-1"}),
		model.NewErrorEntry("batch rows 4-5 failed: timeout"),
	))

	job := test.NewReportJob(model.ReportTypeJobErrors, model.ReportFormatParquet)
	params := job.Params.(*model.ReportGenerationParams)
	params.Filters = map[string]string{reportstep.FilterJobID: source.ID}
	job = f.claim(t, job)

	require.NoError(t, f.step.Run(ctx, job, params))

	got, err := f.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Results.ReportRows)
	assert.NotEmpty(t, test.ReadObject(t, f.store, got.Results.ReportPath))
}

func TestJobErrorsReportNeedsAnExistingJob(t *testing.T) {
	f := newFixture(t)
	job := test.NewReportJob(model.ReportTypeJobErrors, model.ReportFormatJSON)
	params := job.Params.(*model.ReportGenerationParams)
	job = f.claim(t, job)

	err := f.step.Run(context.Background(), job, params)
	require.Error(t, err)
	assert.False(t, exception.IsTemporary(err))

	params.Filters = map[string]string{reportstep.FilterJobID: "00000000-0000-0000-0000-000000000000"}
	err = f.step.Run(context.Background(), job, params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestErrorRows(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := 7
	rows := reportstep.ErrorRows([]model.ErrorEntry{
		{Timestamp: ts, Message: "bad tax", Row: &row, Data: map[string]interface{}{"tax": "abc"}},
		{Timestamp: ts, Message: "stalled"},
	})

	require.Len(t, rows, 2)
	assert.Equal(t, "2026-03-01T12:00:00Z", rows[0].Timestamp)
	require.NotNil(t, rows[0].Row)
	assert.EqualValues(t, 7, *rows[0].Row)
	assert.JSONEq(t, `{"tax":"abc"}`, rows[0].Data)
	assert.Nil(t, rows[1].Row)
	assert.Empty(t, rows[1].Data)
}
