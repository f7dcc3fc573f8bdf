package sql_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/importd/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/test"
)

func newJobRepository(t *testing.T) (*sqlrepo.SQLJobRepository, *test.DB) {
	t.Helper()
	db := test.NewSQLiteDB(t)
	return sqlrepo.NewSQLJobRepository(db.Conn, db.TxManager), db
}

func createProcessing(t *testing.T, repo *sqlrepo.SQLJobRepository) *model.Job {
	t.Helper()
	ctx := context.Background()
	job := test.NewImportJob("imports/2026/01/x-products.csv", nil)
	require.NoError(t, repo.Create(ctx, job))
	started, err := repo.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	return started
}

func TestCreateAndFindByID(t *testing.T) {
	ctx := context.Background()
	repo, _ := newJobRepository(t)

	user := "user-7"
	job := test.NewImportJob("imports/2026/01/x-products.csv", nil)
	job.UserID = &user
	require.NoError(t, repo.Create(ctx, job))

	found, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, found.Status)
	assert.Equal(t, model.JobTypeBulkImport, found.Type)
	assert.Equal(t, job.Params, found.Params)
	assert.Equal(t, &user, found.UserID)
	assert.Empty(t, found.ErrorLog)
	assert.Nil(t, found.CompletedAt)

	status, err := repo.FindStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, status)

	_, err = repo.FindByID(ctx, "missing")
	assert.True(t, errors.Is(err, exception.ErrJobNotFound))
	_, err = repo.FindStatus(ctx, "missing")
	assert.True(t, errors.Is(err, exception.ErrJobNotFound))
}

func TestListFiltersSortsAndPaginates(t *testing.T) {
	ctx := context.Background()
	repo, _ := newJobRepository(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	alice := "alice"
	var ids []string
	for i := 0; i < 5; i++ {
		job := test.NewImportJob("f.csv", nil)
		if i == 4 {
			job = test.NewReportJob(model.ReportTypeProducts, model.ReportFormatJSON)
		}
		job.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if i%2 == 0 {
			job.UserID = &alice
		}
		require.NoError(t, repo.Create(ctx, job))
		ids = append(ids, job.ID)
	}

	jobs, total, err := repo.List(ctx, repository.ListQuery{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[4], jobs[0].ID, "newest first by default")
	assert.Equal(t, ids[3], jobs[1].ID)

	jobs, _, err = repo.List(ctx, repository.ListQuery{Page: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, ids[0], jobs[0].ID)

	jobs, total, err = repo.List(ctx, repository.ListQuery{SortBy: "createdAt", SortOrder: repository.SortAsc, UserID: alice})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, []string{ids[0], ids[2], ids[4]}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})

	_, total, err = repo.List(ctx, repository.ListQuery{Type: model.JobTypeReportGeneration})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, err = repo.List(ctx, repository.ListQuery{Status: model.StatusCompleted, SortBy: "bogus"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestMarkProcessingCountsAttempts(t *testing.T) {
	ctx := context.Background()
	repo, _ := newJobRepository(t)

	job := createProcessing(t, repo)
	assert.Equal(t, model.StatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.StartedAt)

	again, err := repo.MarkProcessing(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrInvalidTransition))
	assert.Equal(t, model.StatusProcessing, again.Status)
	assert.Equal(t, 1, again.Attempts)
}

func TestProgressWrites(t *testing.T) {
	ctx := context.Background()
	repo, db := newJobRepository(t)
	job := createProcessing(t, repo)

	require.NoError(t, repo.StartRun(ctx, job.ID, 20))

	results := model.Results{ImportResults: &model.ImportResults{NewBrandsCount: 1}}
	db.InTx(t, func(txn tx.Tx) error {
		if err := repo.SaveProgress(ctx, txn, job.ID, model.Progress{ProcessedRows: 10, SuccessCount: 9, FailedCount: 1}, results); err != nil {
			return err
		}
		return repo.AppendErrors(ctx, txn, job.ID, model.NewRowErrorEntry(4, "Missing product code", map[string]interface{}{"name": "Anvil"}))
	})

	found, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Progress{TotalRows: 20, ProcessedRows: 10, SuccessCount: 9, FailedCount: 1}, found.Progress)
	assert.Equal(t, 1, found.Results.ImportResults.NewBrandsCount)
	require.Len(t, found.ErrorLog, 1)
	assert.Equal(t, "Missing product code", found.ErrorLog[0].Message)
	assert.Equal(t, 4, *found.ErrorLog[0].Row)
	assert.Equal(t, "Anvil", found.ErrorLog[0].Data["name"])

	err = repo.SaveProgress(ctx, nil, job.ID, model.Progress{ProcessedRows: 5}, results)
	assert.True(t, errors.Is(err, exception.ErrOptimisticLockingFailure))

	_, err = repo.Cancel(ctx, job.ID, "Job cancelled by user")
	require.NoError(t, err)
	err = repo.SaveProgress(ctx, nil, job.ID, model.Progress{ProcessedRows: 15}, results)
	assert.True(t, exception.IsCancellation(err))
	err = repo.StartRun(ctx, job.ID, 30)
	assert.True(t, exception.IsCancellation(err))
}

func TestCompleteAndFail(t *testing.T) {
	ctx := context.Background()
	repo, _ := newJobRepository(t)

	job := createProcessing(t, repo)
	results := model.Results{ImportResults: &model.ImportResults{SuccessfulEntriesPath: "results/x/successful-entries.json"}}
	require.NoError(t, repo.Complete(ctx, job.ID, results))

	found, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, found.Status)
	assert.NotNil(t, found.CompletedAt)
	assert.Equal(t, "results/x/successful-entries.json", found.Results.ImportResults.SuccessfulEntriesPath)

	// Terminal jobs never change.
	err = repo.Fail(ctx, job.ID, model.NewErrorEntry("late failure"))
	assert.True(t, errors.Is(err, exception.ErrInvalidTransition))
	found, err = repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, found.Status)
	assert.Empty(t, found.ErrorLog)

	failed := createProcessing(t, repo)
	require.NoError(t, repo.Fail(ctx, failed.ID, model.NewErrorEntry("Import failed: bad file")))
	found, err = repo.FindByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, found.Status)
	require.Len(t, found.ErrorLog, 1)
	assert.Equal(t, "Import failed: bad file", found.ErrorLog[0].Message)
}

func TestRequeue(t *testing.T) {
	ctx := context.Background()
	repo, _ := newJobRepository(t)

	job := createProcessing(t, repo)
	require.NoError(t, repo.Requeue(ctx, job.ID, model.NewErrorEntry("Attempt 1 failed: timeout")))

	found, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, found.Status)
	assert.Nil(t, found.CompletedAt)
	assert.Len(t, found.ErrorLog, 1)

	again, err := repo.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Attempts)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	repo, _ := newJobRepository(t)

	job := test.NewImportJob("f.csv", nil)
	require.NoError(t, repo.Create(ctx, job))
	cancelled, err := repo.Cancel(ctx, job.ID, "Job cancelled by user")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	require.Len(t, cancelled.ErrorLog, 1)
	assert.Equal(t, "Job cancelled by user", cancelled.ErrorLog[0].Message)

	unchanged, err := repo.Cancel(ctx, job.ID, "again")
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrInvalidTransition))
	require.NotNil(t, unchanged)
	assert.Len(t, unchanged.ErrorLog, 1)

	_, err = repo.Cancel(ctx, "missing", "x")
	assert.True(t, errors.Is(err, exception.ErrJobNotFound))
}

func TestOverrideStatus(t *testing.T) {
	ctx := context.Background()
	repo, _ := newJobRepository(t)
	job := createProcessing(t, repo)

	_, err := repo.OverrideStatus(ctx, job.ID, model.StatusPending, "retry")
	assert.True(t, errors.Is(err, exception.ErrInvalidTransition))

	overridden, err := repo.OverrideStatus(ctx, job.ID, model.StatusFailed, "worker lost")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, overridden.Status)
	assert.NotNil(t, overridden.CompletedAt)
	require.Len(t, overridden.ErrorLog, 1)
	assert.Equal(t, "Status manually changed to failed: worker lost", overridden.ErrorLog[0].Message)

	_, err = repo.OverrideStatus(ctx, job.ID, model.StatusCancelled, "")
	assert.True(t, errors.Is(err, exception.ErrInvalidTransition))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo, db := newJobRepository(t)
	blocked := []model.Status{model.StatusProcessing, model.StatusCompleted}

	running := createProcessing(t, repo)
	job, err := repo.Delete(ctx, running.ID, blocked)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrInvalidTransition))
	require.NotNil(t, job)
	assert.Equal(t, model.StatusProcessing, job.Status)

	pending := test.NewImportJob("f.csv", nil)
	require.NoError(t, repo.Create(ctx, pending))
	_, err = repo.Cancel(ctx, pending.ID, "Job cancelled by user")
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, pending.ID, blocked)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, deleted.ID)
	assert.EqualValues(t, 1, db.Count(t, "jobs"))
	assert.Zero(t, db.Count(t, "job_error_entries"))

	_, err = repo.Delete(ctx, pending.ID, blocked)
	assert.True(t, errors.Is(err, exception.ErrJobNotFound))
}
