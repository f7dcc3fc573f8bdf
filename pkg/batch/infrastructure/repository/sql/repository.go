// Package sql implements the importd repositories on top of a GORM connection.
// Job status writes are conditional UPDATEs guarded by the allowed source statuses,
// so a terminal job is never modified.
package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// sortColumns whitelists the sortable columns of List.
var sortColumns = map[string]string{
	"createdAt":   "created_at",
	"updatedAt":   "updated_at",
	"completedAt": "completed_at",
	"status":      "status",
	"type":        "type",
}

// SQLJobRepository implements repository.JobRepository.
type SQLJobRepository struct {
	conn database.DBConnection
	// TxManager runs the multi-statement writes (status change plus log entry).
	TxManager tx.TransactionManager
	now       func() time.Time
}

// NewSQLJobRepository creates a new instance of SQLJobRepository.
func NewSQLJobRepository(conn database.DBConnection, txManager tx.TransactionManager) *SQLJobRepository {
	return &SQLJobRepository{
		conn:      conn,
		TxManager: txManager,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// session returns the GORM session of t, or of the connection when t is nil.
func (r *SQLJobRepository) session(ctx context.Context, t tx.Tx) (*gorm.DB, error) {
	if t != nil {
		db, err := gormadapter.TxDB(t)
		if err != nil {
			return nil, err
		}
		return db.WithContext(ctx), nil
	}
	return gormadapter.GormDB(ctx, r.conn)
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func jobNotFound(id string) error {
	return errors.Wrapf(exception.ErrJobNotFound, "job %s", id)
}

// Create inserts a new job row. The error log of job is not written.
func (r *SQLJobRepository) Create(ctx context.Context, job *model.Job) error {
	const op = "SQLJobRepository.Create"
	now := r.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.StatusPending
	}

	entity, err := fromDomainJob(job)
	if err != nil {
		return err
	}
	db, err := r.session(ctx, nil)
	if err != nil {
		return err
	}
	if err := db.Create(entity).Error; err != nil {
		return exception.NewDatabaseError(fmt.Sprintf("%s: failed to insert job %s", op, job.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) findEntity(db *gorm.DB, id string) (*JobEntity, error) {
	var entity JobEntity
	err := db.Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, jobNotFound(id)
	}
	if err != nil {
		return nil, exception.NewDatabaseError(fmt.Sprintf("failed to load job %s", id), err)
	}
	return &entity, nil
}

func (r *SQLJobRepository) loadErrorLog(db *gorm.DB, id string) ([]model.ErrorEntry, error) {
	var entities []JobErrorEntryEntity
	if err := db.Where("job_id = ?", id).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, exception.NewDatabaseError(fmt.Sprintf("failed to load error log of job %s", id), err)
	}
	entries := make([]model.ErrorEntry, 0, len(entities))
	for i := range entities {
		e, err := toDomainErrorEntry(&entities[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *SQLJobRepository) findJob(db *gorm.DB, id string) (*model.Job, error) {
	entity, err := r.findEntity(db, id)
	if err != nil {
		return nil, err
	}
	job, err := toDomainJob(entity)
	if err != nil {
		return nil, err
	}
	if job.ErrorLog, err = r.loadErrorLog(db, id); err != nil {
		return nil, err
	}
	return job, nil
}

// FindByID loads a job with its error log. Returns ErrJobNotFound if absent.
func (r *SQLJobRepository) FindByID(ctx context.Context, id string) (*model.Job, error) {
	db, err := r.session(ctx, nil)
	if err != nil {
		return nil, err
	}
	return r.findJob(db, id)
}

// FindStatus reads only the status column of a job.
func (r *SQLJobRepository) FindStatus(ctx context.Context, id string) (model.Status, error) {
	db, err := r.session(ctx, nil)
	if err != nil {
		return "", err
	}
	return r.findStatus(db, id)
}

func (r *SQLJobRepository) findStatus(db *gorm.DB, id string) (model.Status, error) {
	var statuses []string
	if err := db.Model(&JobEntity{}).Where("id = ?", id).Limit(1).Pluck("status", &statuses).Error; err != nil {
		return "", exception.NewDatabaseError(fmt.Sprintf("failed to read status of job %s", id), err)
	}
	if len(statuses) == 0 {
		return "", jobNotFound(id)
	}
	return model.Status(statuses[0]), nil
}

// List returns one page of jobs matching q and the total number of matches.
func (r *SQLJobRepository) List(ctx context.Context, q repository.ListQuery) ([]*model.Job, int64, error) {
	db, err := r.session(ctx, nil)
	if err != nil {
		return nil, 0, err
	}

	query := db.Model(&JobEntity{})
	if q.Status != "" {
		query = query.Where("status = ?", string(q.Status))
	}
	if q.Type != "" {
		query = query.Where("type = ?", string(q.Type))
	}
	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, exception.NewDatabaseError("failed to count jobs", err)
	}

	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = "created_at"
	}
	desc := q.SortOrder != repository.SortAsc
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var entities []JobEntity
	err = query.
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc}).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, 0, exception.NewDatabaseError("failed to list jobs", err)
	}

	jobs := make([]*model.Job, 0, len(entities))
	for i := range entities {
		job, err := toDomainJob(&entities[i])
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, nil
}

// transition applies a conditional status UPDATE. It returns the number of rows changed.
func (r *SQLJobRepository) transition(db *gorm.DB, id string, to model.Status, extra map[string]interface{}) (int64, error) {
	now := r.now()
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": now,
	}
	if to.IsTerminal() {
		updates["completed_at"] = now
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := db.Model(&JobEntity{}).
		Where("id = ? AND status IN ?", id, statusStrings(model.SourcesFor(to))).
		Updates(updates)
	if res.Error != nil {
		return 0, exception.NewDatabaseError(fmt.Sprintf("failed to set job %s to %s", id, to), res.Error)
	}
	return res.RowsAffected, nil
}

// transitionMiss explains a transition that matched no row.
func (r *SQLJobRepository) transitionMiss(db *gorm.DB, id string, to model.Status) error {
	current, err := r.findStatus(db, id)
	if err != nil {
		return err
	}
	return errors.Wrapf(exception.ErrInvalidTransition, "job %s: %s -> %s", id, current, to)
}

// MarkProcessing moves a pending job to processing and counts the attempt.
// On a guard miss the current job is returned with ErrInvalidTransition.
func (r *SQLJobRepository) MarkProcessing(ctx context.Context, id string) (*model.Job, error) {
	db, err := r.session(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := r.now()
	res := db.Model(&JobEntity{}).
		Where("id = ? AND status IN ?", id, statusStrings(model.SourcesFor(model.StatusProcessing))).
		Updates(map[string]interface{}{
			"status":     string(model.StatusProcessing),
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, exception.NewDatabaseError(fmt.Sprintf("failed to mark job %s processing", id), res.Error)
	}

	job, err := r.findJob(db, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return job, errors.Wrapf(exception.ErrInvalidTransition, "job %s: %s -> %s", id, job.Status, model.StatusProcessing)
	}
	return job, nil
}

// processingMiss explains a progress write that matched no row.
func (r *SQLJobRepository) processingMiss(db *gorm.DB, id string) error {
	current, err := r.findStatus(db, id)
	if err != nil {
		return err
	}
	switch current {
	case model.StatusCancelled:
		return errors.Wrapf(exception.ErrCancellationRequested, "job %s", id)
	case model.StatusProcessing:
		return errors.Wrapf(exception.ErrOptimisticLockingFailure, "job %s: processed rows would decrease", id)
	default:
		return errors.Wrapf(exception.ErrJobNotProcessing, "job %s is %s", id, current)
	}
}

// StartRun records the row count of the file being processed.
func (r *SQLJobRepository) StartRun(ctx context.Context, id string, totalRows int) error {
	db, err := r.session(ctx, nil)
	if err != nil {
		return err
	}
	res := db.Model(&JobEntity{}).
		Where("id = ? AND status = ?", id, string(model.StatusProcessing)).
		Updates(map[string]interface{}{"total_rows": totalRows, "updated_at": r.now()})
	if res.Error != nil {
		return exception.NewDatabaseError(fmt.Sprintf("failed to start run of job %s", id), res.Error)
	}
	if res.RowsAffected == 0 {
		return r.processingMiss(db, id)
	}
	return nil
}

// SaveProgress writes counters and results of a committed batch. The write only applies
// while the job is processing and processed rows do not decrease.
func (r *SQLJobRepository) SaveProgress(ctx context.Context, t tx.Tx, id string, progress model.Progress, results model.Results) error {
	db, err := r.session(ctx, t)
	if err != nil {
		return err
	}
	encoded, err := fromDomainJob(&model.Job{Results: results})
	if err != nil {
		return err
	}
	res := db.Model(&JobEntity{}).
		Where("id = ? AND status = ? AND processed_rows <= ?", id, string(model.StatusProcessing), progress.ProcessedRows).
		Updates(map[string]interface{}{
			"processed_rows": progress.ProcessedRows,
			"success_count":  progress.SuccessCount,
			"failed_count":   progress.FailedCount,
			"results":        encoded.Results,
			"updated_at":     r.now(),
		})
	if res.Error != nil {
		return exception.NewDatabaseError(fmt.Sprintf("failed to save progress of job %s", id), res.Error)
	}
	if res.RowsAffected == 0 {
		return r.processingMiss(db, id)
	}
	return nil
}

// AppendErrors adds entries to the error log of a job.
func (r *SQLJobRepository) AppendErrors(ctx context.Context, t tx.Tx, id string, entries ...model.ErrorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	db, err := r.session(ctx, t)
	if err != nil {
		return err
	}
	return r.appendErrors(db, id, entries...)
}

func (r *SQLJobRepository) appendErrors(db *gorm.DB, id string, entries ...model.ErrorEntry) error {
	rows := make([]*JobErrorEntryEntity, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = r.now()
		}
		entity, err := fromDomainErrorEntry(id, e)
		if err != nil {
			return err
		}
		rows = append(rows, entity)
	}
	if err := db.CreateInBatches(rows, 100).Error; err != nil {
		return exception.NewDatabaseError(fmt.Sprintf("failed to append %d error entries to job %s", len(rows), id), err)
	}
	return nil
}

// transitionWithEntry changes the status and appends entry in one transaction.
func (r *SQLJobRepository) transitionWithEntry(ctx context.Context, id string, to model.Status, extra map[string]interface{}, entry *model.ErrorEntry) error {
	return tx.Run(ctx, r.TxManager, func(t tx.Tx) error {
		db, err := r.session(ctx, t)
		if err != nil {
			return err
		}
		n, err := r.transition(db, id, to, extra)
		if err != nil {
			return err
		}
		if n == 0 {
			return r.transitionMiss(db, id, to)
		}
		if entry != nil {
			return r.appendErrors(db, id, *entry)
		}
		return nil
	})
}

// Requeue moves a processing job back to pending and logs entry.
func (r *SQLJobRepository) Requeue(ctx context.Context, id string, entry model.ErrorEntry) error {
	return r.transitionWithEntry(ctx, id, model.StatusPending, nil, &entry)
}

// Complete marks a processing job completed with its final results.
func (r *SQLJobRepository) Complete(ctx context.Context, id string, results model.Results) error {
	encoded, err := fromDomainJob(&model.Job{Results: results})
	if err != nil {
		return err
	}
	return r.transitionWithEntry(ctx, id, model.StatusCompleted, map[string]interface{}{"results": encoded.Results}, nil)
}

// Fail marks a job failed and logs entry.
func (r *SQLJobRepository) Fail(ctx context.Context, id string, entry model.ErrorEntry) error {
	return r.transitionWithEntry(ctx, id, model.StatusFailed, nil, &entry)
}

// Cancel marks a non-terminal job cancelled and logs message. A terminal job is
// returned unchanged together with ErrInvalidTransition.
func (r *SQLJobRepository) Cancel(ctx context.Context, id string, message string) (*model.Job, error) {
	entry := model.NewErrorEntry(message)
	if err := r.transitionWithEntry(ctx, id, model.StatusCancelled, nil, &entry); err != nil {
		if errors.Is(err, exception.ErrInvalidTransition) {
			job, findErr := r.FindByID(ctx, id)
			if findErr == nil {
				return job, err
			}
		}
		return nil, err
	}
	logger.Infof("Job %s cancelled: %s", id, message)
	return r.FindByID(ctx, id)
}

// OverrideStatus sets the status by hand, logging note when it is not empty.
func (r *SQLJobRepository) OverrideStatus(ctx context.Context, id string, status model.Status, note string) (*model.Job, error) {
	err := tx.Run(ctx, r.TxManager, func(t tx.Tx) error {
		db, err := r.session(ctx, t)
		if err != nil {
			return err
		}
		current, err := r.findStatus(db, id)
		if err != nil {
			return err
		}
		if !current.CanOverrideTo(status) {
			return errors.Wrapf(exception.ErrInvalidTransition, "job %s: %s -> %s", id, current, status)
		}

		now := r.now()
		updates := map[string]interface{}{"status": string(status), "updated_at": now}
		if status.IsTerminal() {
			updates["completed_at"] = now
		}
		// Compare-and-set on the status read above.
		res := db.Model(&JobEntity{}).Where("id = ? AND status = ?", id, string(current)).Updates(updates)
		if res.Error != nil {
			return exception.NewDatabaseError(fmt.Sprintf("failed to override status of job %s", id), res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(exception.ErrOptimisticLockingFailure, "job %s changed status concurrently", id)
		}
		if note != "" {
			return r.appendErrors(db, id, model.NewErrorEntry(fmt.Sprintf("Status manually changed to %s: %s", status, note)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("Job %s status manually changed to %s", id, status)
	return r.FindByID(ctx, id)
}

// Delete removes a job and its error log unless its status is in blocked.
func (r *SQLJobRepository) Delete(ctx context.Context, id string, blocked []model.Status) (*model.Job, error) {
	var deleted *model.Job
	err := tx.Run(ctx, r.TxManager, func(t tx.Tx) error {
		db, err := r.session(ctx, t)
		if err != nil {
			return err
		}
		job, err := r.findJob(db, id)
		if err != nil {
			return err
		}
		for _, s := range blocked {
			if job.Status == s {
				deleted = job
				return errors.Wrapf(exception.ErrInvalidTransition, "job %s is %s and cannot be deleted", id, job.Status)
			}
		}
		if err := db.Where("job_id = ?", id).Delete(&JobErrorEntryEntity{}).Error; err != nil {
			return exception.NewDatabaseError(fmt.Sprintf("failed to delete error log of job %s", id), err)
		}
		res := db.Where("id = ? AND status = ?", id, string(job.Status)).Delete(&JobEntity{})
		if res.Error != nil {
			return exception.NewDatabaseError(fmt.Sprintf("failed to delete job %s", id), res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(exception.ErrOptimisticLockingFailure, "job %s changed status concurrently", id)
		}
		deleted = job
		return nil
	})
	if err != nil {
		return deleted, err
	}
	return deleted, nil
}
