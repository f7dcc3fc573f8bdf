package model

import (
	"time"
)

// JobType identifies the kind of work a job performs.
type JobType string

const (
	JobTypeBulkImport       JobType = "bulk-import"
	JobTypeReportGeneration JobType = "report-generation"
)

// IsValid reports whether t is a known job type.
func (t JobType) IsValid() bool {
	return t == JobTypeBulkImport || t == JobTypeReportGeneration
}

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}

// String returns the string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// IsValidStatus reports whether s names a known status.
func IsValidStatus(s string) bool {
	for _, st := range AllStatuses {
		if string(st) == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled, StatusPending},
}

// CanTransitionTo reports whether the state machine allows s -> next.
// processing -> pending is only used internally to requeue a job for another attempt.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanOverrideTo reports whether an operator may set next manually.
// Manual overrides only move a job forward.
func (s Status) CanOverrideTo(next Status) bool {
	if s == StatusProcessing && next == StatusPending {
		return false
	}
	return s.CanTransitionTo(next)
}

// SourcesFor returns every status that may transition to next.
func SourcesFor(next Status) []Status {
	var sources []Status
	for _, from := range AllStatuses {
		if from.CanTransitionTo(next) {
			sources = append(sources, from)
		}
	}
	return sources
}

// Progress holds the row counters of a job. ProcessedRows = SuccessCount + FailedCount
// and never exceeds TotalRows once TotalRows is known.
type Progress struct {
	TotalRows     int `json:"totalRows"`
	ProcessedRows int `json:"processedRows"`
	SuccessCount  int `json:"successCount"`
	FailedCount   int `json:"failedCount"`
}

// Percent returns completion in the range [0,100].
func (p Progress) Percent() float64 {
	if p.TotalRows <= 0 {
		return 0
	}
	pct := float64(p.ProcessedRows) * 100 / float64(p.TotalRows)
	if pct > 100 {
		return 100
	}
	return pct
}

// ImportResults holds the outcome counters of a bulk import.
type ImportResults struct {
	NewCategoriesCount    int    `json:"newCategoriesCount"`
	NewBrandsCount        int    `json:"newBrandsCount"`
	NewVendorsCount       int    `json:"newVendorsCount"`
	NewKeywordsCount      int    `json:"newKeywordsCount"`
	SuccessfulEntriesPath string `json:"successfulEntriesJsonPath,omitempty"`
}

// ReportResults holds the artifact produced by a report generation job.
type ReportResults struct {
	ReportPath   string `json:"reportPath,omitempty"`
	ReportFormat string `json:"reportFormat,omitempty"`
	ReportRows   int    `json:"reportRows"`
}

// Results is the type-specific outcome of a job. Only the part matching the job type is set.
type Results struct {
	*ImportResults
	*ReportResults
}

// ErrorEntry is one append-only record of the job error log.
type ErrorEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message"`
	Row       *int                   `json:"row,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewErrorEntry creates an entry stamped with the current UTC time.
func NewErrorEntry(message string) ErrorEntry {
	return ErrorEntry{Timestamp: time.Now().UTC(), Message: message}
}

// NewRowErrorEntry creates an entry for a failed input row.
func NewRowErrorEntry(row int, message string, data map[string]interface{}) ErrorEntry {
	e := NewErrorEntry(message)
	e.Row = &row
	e.Data = data
	return e
}

// Job is the persisted record of one asynchronous unit of work.
type Job struct {
	ID          string       `json:"id"`
	Type        JobType      `json:"type"`
	Params      Params       `json:"params"`
	Status      Status       `json:"status"`
	Progress    Progress     `json:"progress"`
	Results     Results      `json:"results"`
	ErrorLog    []ErrorEntry `json:"errorLog"`
	UserID      *string      `json:"userId"`
	Attempts    int          `json:"attempts"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt"`
}

// BulkImportParams returns the params as *BulkImportParams, or nil for other job types.
func (j *Job) BulkImportParams() *BulkImportParams {
	p, _ := j.Params.(*BulkImportParams)
	return p
}

// ImportResults returns the import results, allocating them on first use.
func (j *Job) ImportResults() *ImportResults {
	if j.Results.ImportResults == nil {
		j.Results.ImportResults = &ImportResults{}
	}
	return j.Results.ImportResults
}
