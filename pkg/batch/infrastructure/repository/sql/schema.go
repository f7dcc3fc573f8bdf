package sql

import (
	"time"
)

// JobEntity is the persisted row of a job.
type JobEntity struct {
	ID            string `gorm:"primaryKey;size:36"`
	Type          string
	Params        string
	Status        string
	TotalRows     int
	ProcessedRows int
	SuccessCount  int
	FailedCount   int
	Results       string
	UserID        *string
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

func (JobEntity) TableName() string {
	return "jobs"
}

// JobErrorEntryEntity is one row of the append-only job error log.
// The auto-increment id orders entries of a job.
type JobErrorEntryEntity struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	JobID    string
	LoggedAt time.Time
	Message  string
	RowIndex *int
	Data     *string
}

func (JobErrorEntryEntity) TableName() string {
	return "job_error_entries"
}
