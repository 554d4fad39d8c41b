// Package analysis runs the asynchronous budget analysis job: one full
// classification pass over all stored transactions, AI assistance for the
// ones the mapping rules left unresolved, and an atomic snapshot publish.
package analysis

import (
	"errors"
	"time"

	"github.com/driesdb/budget-engine/internal/domain"
)

// JobStatus represents the current status of an analysis job.
type JobStatus string

const (
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusDone indicates the job completed and published a snapshot.
	JobStatusDone JobStatus = "done"
	// JobStatusFailed indicates the job failed; no snapshot was published.
	JobStatusFailed JobStatus = "failed"
)

// ErrJobRunning is returned when a start request arrives while another
// analysis job is still running. Only one job runs at a time.
var ErrJobRunning = errors.New("analysis: a job is already running")

// ErrJobNotFound is returned when no job has the given id.
var ErrJobNotFound = errors.New("analysis: job not found")

// Job is the pollable state of one analysis run. Processed and Total only
// ever grow during a run, so a poller never sees progress move backwards.
type Job struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`

	// Processed counts transactions with a final category; Total is the
	// run's full transaction count, fixed once the input is loaded.
	Processed int `json:"processed"`
	Total     int `json:"total"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result is the published snapshot once Status is done.
	Result *domain.BudgetSnapshot `json:"result,omitempty"`

	// Error contains failure details when Status is failed.
	Error string `json:"error,omitempty"`
}
