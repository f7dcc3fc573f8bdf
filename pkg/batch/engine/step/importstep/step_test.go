package importstep_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	"github.com/tigerroll/importd/pkg/batch/component/writer/catalog"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
	"github.com/tigerroll/importd/pkg/batch/engine/step/importstep"
	sqlrepo "github.com/tigerroll/importd/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/test"
)

const header = "name,product_code,brand\n"

type harness struct {
	db    *test.DB
	jobs  repository.JobRepository
	store storage.BlobStore
	step  *importstep.Step
}

func newHarness(t *testing.T, batchSize int, wrap func(repository.JobRepository) repository.JobRepository, listeners ...interface{}) *harness {
	t.Helper()
	db := test.NewSQLiteDB(t)
	var jobs repository.JobRepository = sqlrepo.NewSQLJobRepository(db.Conn, db.TxManager)
	if wrap != nil {
		jobs = wrap(jobs)
	}
	cat := sqlrepo.NewSQLCatalogRepository(db.Conn)
	store := test.NewLocalBlobStore(t)

	cfg := config.NewConfig()
	cfg.Importd.Worker.BatchSize = batchSize
	cfg.Importd.Worker.TempDir = t.TempDir()

	step := importstep.New(importstep.Params{
		Config:    cfg,
		Jobs:      jobs,
		Catalog:   cat,
		Writer:    catalog.NewWriter(cat, catalog.NewResolver(cat)),
		TxManager: db.TxManager,
		Store:     store,
		Listener:  listener.NewMulticasterOf(listeners...),
		Recorder:  metrics.NewNoOpMetricRecorder(),
		Tracer:    metrics.NewNoOpTracer(),
	})
	return &harness{db: db, jobs: jobs, store: store, step: step}
}

// start uploads csv, creates the job and claims it the way a worker does.
func (h *harness) start(t *testing.T, csv string, m model.ColumnMapping) *model.Job {
	t.Helper()
	ctx := context.Background()
	job := test.NewImportJob("", m)
	params := job.BulkImportParams()
	params.FilePath = storage.UploadPath(time.Now(), job.ID, params.OriginalFileName)
	test.PutObject(t, h.store, params.FilePath, []byte(csv))

	require.NoError(t, h.jobs.Create(ctx, job))
	claimed, err := h.jobs.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	return claimed
}

func brandMapping() model.ColumnMapping {
	return model.ColumnMapping{0: "name", 1: "product_code", 2: "brand"}
}

type batchLog struct {
	mu     sync.Mutex
	events []listener.BatchEvent
}

func (l *batchLog) AfterBatch(_ context.Context, ev listener.BatchEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func TestImportCommitsBatchesAndIsolatesRowErrors(t *testing.T) {
	log := &batchLog{}
	h := newHarness(t, 2, nil, log)
	csv := header +
		"Anvil,A-1,Acme\n" +
		"Bolt,B-2,Acme\n" +
		",C-3,Acme\n" +
		"Drill,D-4,Bosch\n" +
		"Eyelet,E-5,\n"
	job := h.start(t, csv, brandMapping())
	ctx := context.Background()

	require.NoError(t, h.step.Run(ctx, job, job.BulkImportParams()))

	require.Len(t, log.events, 3)
	last := 0
	for _, ev := range log.events {
		assert.True(t, ev.Committed())
		assert.GreaterOrEqual(t, ev.Job.Progress.ProcessedRows, last, "progress never goes backwards")
		last = ev.Job.Progress.ProcessedRows
	}
	assert.Equal(t, 4, log.events[1].FirstRow)
	assert.Equal(t, 5, log.events[1].LastRow)
	assert.Equal(t, 1, log.events[1].Failed)

	got, err := h.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.Progress{TotalRows: 5, ProcessedRows: 5, SuccessCount: 4, FailedCount: 1}, got.Progress)
	assert.Equal(t, 2, got.ImportResults().NewBrandsCount)

	require.Len(t, got.ErrorLog, 1)
	require.NotNil(t, got.ErrorLog[0].Row)
	assert.Equal(t, 4, *got.ErrorLog[0].Row)
	assert.Contains(t, got.ErrorLog[0].Message, "name")

	assert.EqualValues(t, 4, h.db.Count(t, "products"))
	require.NotEmpty(t, got.ImportResults().SuccessfulEntriesPath)
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(test.ReadObject(t, h.store, got.ImportResults().SuccessfulEntriesPath), &entries))
	assert.Len(t, entries, 4)
}

func TestRepeatedProductCodeInOneFileFailsTheRow(t *testing.T) {
	h := newHarness(t, 10, nil)
	job := h.start(t, header+"Tap,TP-1,\nOther Tap,TP-1,\nSink,SK-2,\n", nil)
	ctx := context.Background()

	require.NoError(t, h.step.Run(ctx, job, job.BulkImportParams()))

	got, err := h.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.Progress{TotalRows: 3, ProcessedRows: 3, SuccessCount: 2, FailedCount: 1}, got.Progress)
	require.Len(t, got.ErrorLog, 1)
	require.NotNil(t, got.ErrorLog[0].Row)
	assert.Equal(t, 3, *got.ErrorLog[0].Row)
	assert.Contains(t, got.ErrorLog[0].Message, "TP-1")
	assert.EqualValues(t, 2, h.db.Count(t, "products"))

	first, err := sqlrepo.NewSQLCatalogRepository(h.db.Conn).FindProductByCode(ctx, nil, "TP-1")
	require.NoError(t, err)
	assert.Equal(t, "Tap", first.Name)
}

func TestInvalidMappingFailsBeforeDownload(t *testing.T) {
	h := newHarness(t, 10, nil)
	job := h.start(t, header+"Anvil,A-1,Acme\n", model.ColumnMapping{0: "name"})
	job.BulkImportParams().FilePath = "uploads/missing/file.csv"

	err := h.step.Run(context.Background(), job, job.BulkImportParams())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindMapping), "got %v", err)
	assert.Contains(t, err.Error(), "product_code")
}

func TestMissingUploadIsADownloadError(t *testing.T) {
	h := newHarness(t, 10, nil)
	job := h.start(t, header+"Anvil,A-1,Acme\n", nil)
	job.BulkImportParams().FilePath = "uploads/missing/file.csv"

	err := h.step.Run(context.Background(), job, job.BulkImportParams())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindDownload), "got %v", err)
}

func TestFileWithoutDataRows(t *testing.T) {
	h := newHarness(t, 10, nil)
	job := h.start(t, header, nil)

	err := h.step.Run(context.Background(), job, job.BulkImportParams())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindParse), "got %v", err)
}

func TestCancellationStopsAtNextBatch(t *testing.T) {
	var h *harness
	cancelAfterFirst := listener.BatchListenerFunc(func(ctx context.Context, ev listener.BatchEvent) {
		if ev.Batch == 0 {
			_, err := h.jobs.Cancel(ctx, ev.Job.ID, "Job cancelled by user")
			require.NoError(t, err)
		}
	})
	h = newHarness(t, 2, nil, cancelAfterFirst)
	job := h.start(t, header+"A,A-1,\nB,B-2,\nC,C-3,\nD,D-4,\n", nil)
	ctx := context.Background()

	err := h.step.Run(ctx, job, job.BulkImportParams())
	require.Error(t, err)
	assert.True(t, exception.IsCancellation(err), "got %v", err)

	got, err := h.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, 2, got.Progress.ProcessedRows, "committed batch is kept")
	assert.EqualValues(t, 2, h.db.Count(t, "products"))
}

// failingProgress fails the first SaveProgress call, rolling back the whole batch.
type failingProgress struct {
	repository.JobRepository
	once sync.Once
}

func (f *failingProgress) SaveProgress(ctx context.Context, t tx.Tx, id string, p model.Progress, r model.Results) error {
	var err error
	f.once.Do(func() { err = errors.New("deadlock detected") })
	if err != nil {
		return err
	}
	return f.JobRepository.SaveProgress(ctx, t, id, p, r)
}

func TestBatchFailureIsLoggedAndImportContinues(t *testing.T) {
	log := &batchLog{}
	h := newHarness(t, 2, func(r repository.JobRepository) repository.JobRepository {
		return &failingProgress{JobRepository: r}
	}, log)
	job := h.start(t, header+"A,A-1,\nB,B-2,\nC,C-3,\n", nil)
	ctx := context.Background()

	require.NoError(t, h.step.Run(ctx, job, job.BulkImportParams()))

	require.Len(t, log.events, 2)
	assert.False(t, log.events[0].Committed())
	assert.Equal(t, 2, log.events[0].Job.Progress.FailedCount)

	got, err := h.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.Progress{TotalRows: 3, ProcessedRows: 3, SuccessCount: 1, FailedCount: 2}, got.Progress)
	require.Len(t, got.ErrorLog, 1)
	assert.True(t, strings.HasPrefix(got.ErrorLog[0].Message, "batch rows 2-3 failed:"), got.ErrorLog[0].Message)
	assert.EqualValues(t, 2, got.ErrorLog[0].Data["rowsAffected"])
	assert.EqualValues(t, 1, h.db.Count(t, "products"), "rolled back rows are not persisted")
}

func TestRetriedAttemptResumesAfterCommittedRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopAfterFirst := listener.BatchListenerFunc(func(_ context.Context, ev listener.BatchEvent) {
		if ev.Batch == 0 {
			cancel()
		}
	})
	h := newHarness(t, 2, nil, stopAfterFirst)
	job := h.start(t, header+"A,A-1,X\nB,B-2,Y\nC,C-3,X\nD,D-4,Z\n", brandMapping())

	err := h.step.Run(ctx, job, job.BulkImportParams())
	require.ErrorIs(t, err, context.Canceled)

	bg := context.Background()
	require.NoError(t, h.jobs.Requeue(bg, job.ID, model.NewErrorEntry("worker stopped")))
	again, err := h.jobs.MarkProcessing(bg, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Progress.ProcessedRows)

	require.NoError(t, h.step.Run(bg, again, again.BulkImportParams()))

	got, err := h.jobs.FindByID(bg, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.Progress{TotalRows: 4, ProcessedRows: 4, SuccessCount: 4}, got.Progress)
	assert.Equal(t, 3, got.ImportResults().NewBrandsCount, "counts of the first attempt are carried over")
	assert.EqualValues(t, 4, h.db.Count(t, "products"))
}
