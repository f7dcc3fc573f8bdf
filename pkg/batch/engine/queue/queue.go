// Package queue implements the durable job queue on the queue_entries table.
//
// Every state change is a conditional UPDATE, so several worker processes can share
// one queue without a broker: a claim only succeeds against a still-waiting row, and
// lease-holding operations only succeed for the worker named on the row.
package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// EntryStatus is the state of a queue entry.
type EntryStatus string

const (
	StatusWaiting   EntryStatus = "waiting"
	StatusActive    EntryStatus = "active"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

var (
	// ErrLeaseLost is returned when the entry is no longer held by the calling worker.
	ErrLeaseLost = errors.New("queue lease lost")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("queue client is closed")
)

// claimRaceAttempts bounds how often Claim retries after losing a row to another worker.
const claimRaceAttempts = 3

// Entry is one queued execution request of a job.
type Entry struct {
	ID             uint64      `gorm:"primaryKey;autoIncrement"`
	Queue          string      `gorm:"size:64;not null"`
	JobID          string      `gorm:"size:36;not null"`
	Status         EntryStatus `gorm:"size:16;not null"`
	Attempts       int         `gorm:"not null"`
	MaxAttempts    int         `gorm:"not null"`
	StalledCount   int         `gorm:"not null"`
	AvailableAt    time.Time   `gorm:"not null"`
	LeaseExpiresAt *time.Time
	HeartbeatAt    *time.Time
	WorkerID       *string `gorm:"size:128"`
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
}

func (Entry) TableName() string { return "queue_entries" }

// EnqueueOptions controls a new entry.
type EnqueueOptions struct {
	// MaxAttempts is informational for the worker's retry decision. Zero means 1.
	MaxAttempts int
	// Delay postpones the first claim.
	Delay time.Duration
}

// Stats counts entries per status.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Client is the queue handle shared by the API and the worker pool.
type Client struct {
	conn   database.DBConnection
	name   string
	now    func() time.Time
	closed atomic.Bool
}

// NewClient creates a queue client for the queue named in cfg.
func NewClient(conn database.DBConnection, cfg *config.Config) *Client {
	return &Client{
		conn: conn,
		name: cfg.Importd.Queue.Name,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Name returns the queue name.
func (c *Client) Name() string { return c.name }

func (c *Client) db(ctx context.Context) (*gorm.DB, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return gormadapter.GormDB(ctx, c.conn)
}

func queueError(op string, err error) error {
	return exception.NewDatabaseError(fmt.Sprintf("queue %s failed", op), err)
}

// Init pings the database and verifies that the queue table exists.
func (c *Client) Init(ctx context.Context) error {
	if err := c.conn.RefreshConnection(ctx); err != nil {
		return errors.Wrap(err, "queue: database is unreachable")
	}
	db, err := c.db(ctx)
	if err != nil {
		return err
	}
	if !db.Migrator().HasTable(&Entry{}) {
		return errors.Newf("queue: table %s does not exist; run `importd migrate up`", Entry{}.TableName())
	}
	logger.Infof("Queue '%s' initialized.", c.name)
	return nil
}

// Close makes every further operation fail with ErrClosed. The connection is owned elsewhere.
func (c *Client) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		logger.Infof("Queue '%s' closed.", c.name)
	}
	return nil
}

// Enqueue adds a waiting entry for jobID.
func (c *Client) Enqueue(ctx context.Context, jobID string, opts EnqueueOptions) (*Entry, error) {
	db, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	now := c.now()
	e := &Entry{
		Queue:       c.name,
		JobID:       jobID,
		Status:      StatusWaiting,
		MaxAttempts: opts.MaxAttempts,
		AvailableAt: now.Add(opts.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(e).Error; err != nil {
		return nil, queueError("enqueue", err)
	}
	logger.Debugf("Enqueued job %s as entry %d on '%s'.", jobID, e.ID, c.name)
	return e, nil
}

// Claim leases the oldest due waiting entry to workerID. It returns nil when nothing is due.
func (c *Client) Claim(ctx context.Context, workerID string, lease time.Duration) (*Entry, error) {
	db, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	for i := 0; i < claimRaceAttempts; i++ {
		now := c.now()
		var candidate Entry
		err := db.Where("queue = ? AND status = ? AND available_at <= ?", c.name, StatusWaiting, now).
			Order("available_at ASC, id ASC").
			Take(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, queueError("claim", err)
		}

		expires := now.Add(lease)
		res := db.Model(&Entry{}).
			Where("id = ? AND status = ?", candidate.ID, StatusWaiting).
			Updates(map[string]interface{}{
				"status":           StatusActive,
				"attempts":         gorm.Expr("attempts + 1"),
				"lease_expires_at": expires,
				"heartbeat_at":     now,
				"worker_id":        workerID,
				"updated_at":       now,
			})
		if res.Error != nil {
			return nil, queueError("claim", res.Error)
		}
		if res.RowsAffected == 0 {
			logger.Debugf("Worker %s lost entry %d to another worker; retrying claim.", workerID, candidate.ID)
			continue
		}

		candidate.Status = StatusActive
		candidate.Attempts++
		candidate.LeaseExpiresAt = &expires
		candidate.HeartbeatAt = &now
		candidate.WorkerID = &workerID
		candidate.UpdatedAt = now
		return &candidate, nil
	}
	return nil, nil
}

// held scopes an update to an entry still leased by its worker.
func held(db *gorm.DB, e *Entry) *gorm.DB {
	workerID := ""
	if e.WorkerID != nil {
		workerID = *e.WorkerID
	}
	return db.Model(&Entry{}).Where("id = ? AND status = ? AND worker_id = ?", e.ID, StatusActive, workerID)
}

func (c *Client) updateHeld(ctx context.Context, op string, e *Entry, values map[string]interface{}) error {
	db, err := c.db(ctx)
	if err != nil {
		return err
	}
	values["updated_at"] = c.now()
	res := held(db, e).Updates(values)
	if res.Error != nil {
		return queueError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrLeaseLost, "%s entry %d", op, e.ID)
	}
	return nil
}

// Heartbeat extends the lease of e. It returns ErrLeaseLost when e is no longer held.
func (c *Client) Heartbeat(ctx context.Context, e *Entry, lease time.Duration) error {
	now := c.now()
	expires := now.Add(lease)
	if err := c.updateHeld(ctx, "heartbeat", e, map[string]interface{}{
		"lease_expires_at": expires,
		"heartbeat_at":     now,
	}); err != nil {
		return err
	}
	e.LeaseExpiresAt = &expires
	e.HeartbeatAt = &now
	return nil
}

// Complete marks e completed.
func (c *Client) Complete(ctx context.Context, e *Entry) error {
	return c.updateHeld(ctx, "complete", e, map[string]interface{}{
		"status":           StatusCompleted,
		"finished_at":      c.now(),
		"lease_expires_at": nil,
	})
}

// Retry puts e back to waiting after delay, keeping its attempt count.
func (c *Client) Retry(ctx context.Context, e *Entry, delay time.Duration, reason string) error {
	return c.updateHeld(ctx, "retry", e, map[string]interface{}{
		"status":           StatusWaiting,
		"available_at":     c.now().Add(delay),
		"last_error":       reason,
		"lease_expires_at": nil,
		"worker_id":        nil,
	})
}

// Fail marks e failed.
func (c *Client) Fail(ctx context.Context, e *Entry, reason string) error {
	return c.updateHeld(ctx, "fail", e, map[string]interface{}{
		"status":           StatusFailed,
		"last_error":       reason,
		"finished_at":      c.now(),
		"lease_expires_at": nil,
	})
}

// Release returns e to waiting without counting the attempt. Used on worker shutdown.
func (c *Client) Release(ctx context.Context, e *Entry) error {
	return c.updateHeld(ctx, "release", e, map[string]interface{}{
		"status":           StatusWaiting,
		"attempts":         gorm.Expr("CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END"),
		"available_at":     c.now(),
		"lease_expires_at": nil,
		"worker_id":        nil,
	})
}

// Remove deletes the waiting entries of jobID and returns how many were removed.
func (c *Client) Remove(ctx context.Context, jobID string) (int64, error) {
	db, err := c.db(ctx)
	if err != nil {
		return 0, err
	}
	res := db.Where("queue = ? AND job_id = ? AND status = ?", c.name, jobID, StatusWaiting).Delete(&Entry{})
	if res.Error != nil {
		return 0, queueError("remove", res.Error)
	}
	return res.RowsAffected, nil
}

// Purge deletes every entry of jobID that no worker holds.
func (c *Client) Purge(ctx context.Context, jobID string) (int64, error) {
	db, err := c.db(ctx)
	if err != nil {
		return 0, err
	}
	res := db.Where("queue = ? AND job_id = ? AND status <> ?", c.name, jobID, StatusActive).Delete(&Entry{})
	if res.Error != nil {
		return 0, queueError("purge", res.Error)
	}
	return res.RowsAffected, nil
}

// Stalled is an entry whose lease expired without a heartbeat.
type Stalled struct {
	Entry
	// Exhausted is set when the entry exceeded the stall limit and was failed.
	Exhausted bool
}

// RequeueStalled returns expired leases to waiting, or fails them once their stall
// count would exceed maxStalled.
func (c *Client) RequeueStalled(ctx context.Context, maxStalled int) ([]Stalled, error) {
	db, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now()
	var expired []Entry
	if err := db.Where("queue = ? AND status = ? AND lease_expires_at < ?", c.name, StatusActive, now).
		Order("id ASC").Find(&expired).Error; err != nil {
		return nil, queueError("stall check", err)
	}

	var out []Stalled
	for _, e := range expired {
		values := map[string]interface{}{
			"stalled_count":    gorm.Expr("stalled_count + 1"),
			"lease_expires_at": nil,
			"worker_id":        nil,
			"updated_at":       now,
		}
		exhausted := e.StalledCount+1 > maxStalled
		if exhausted {
			values["status"] = StatusFailed
			values["finished_at"] = now
			values["last_error"] = StalledMessage(maxStalled)
		} else {
			values["status"] = StatusWaiting
			values["available_at"] = now
		}
		// A heartbeat that landed after the select extended the lease; leave such rows alone.
		res := db.Model(&Entry{}).
			Where("id = ? AND status = ? AND lease_expires_at = ?", e.ID, StatusActive, e.LeaseExpiresAt).
			Updates(values)
		if res.Error != nil {
			return out, queueError("stall requeue", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		e.StalledCount++
		out = append(out, Stalled{Entry: e, Exhausted: exhausted})
		logger.Warnf("Queue entry %d of job %s stalled (count %d, exhausted=%t).", e.ID, e.JobID, e.StalledCount, exhausted)
	}
	return out, nil
}

// StalledMessage is the failure reason of an entry that exceeded the stall limit.
func StalledMessage(maxStalled int) string {
	return fmt.Sprintf("job stalled more than %d times", maxStalled)
}

// Prune deletes finished entries older than olderThan.
func (c *Client) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	db, err := c.db(ctx)
	if err != nil {
		return 0, err
	}
	res := db.Where("queue = ? AND status IN ? AND finished_at < ?", c.name, []EntryStatus{StatusCompleted, StatusFailed}, c.now().Add(-olderThan)).
		Delete(&Entry{})
	if res.Error != nil {
		return 0, queueError("prune", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats counts the entries of the queue per status.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	db, err := c.db(ctx)
	if err != nil {
		return Stats{}, err
	}
	var rows []struct {
		Status EntryStatus
		N      int64
	}
	if err := db.Model(&Entry{}).Select("status, COUNT(*) AS n").Where("queue = ?", c.name).Group("status").Scan(&rows).Error; err != nil {
		return Stats{}, queueError("stats", err)
	}
	var s Stats
	for _, r := range rows {
		switch r.Status {
		case StatusWaiting:
			s.Waiting = r.N
		case StatusActive:
			s.Active = r.N
		case StatusCompleted:
			s.Completed = r.N
		case StatusFailed:
			s.Failed = r.N
		}
	}
	return s, nil
}
