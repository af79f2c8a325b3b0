package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/mdximport/internal/shared"
)

// JobStatus is where an import job is in the server's queue.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobComplete  JobStatus = "complete"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobComplete || s == JobFailed || s == JobCancelled
}

func (s JobStatus) valid() bool {
	switch s {
	case JobQueued, JobRunning, JobComplete, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job records one import accepted by the server. Its ID is the session id handed to the client.
type Job struct {
	id           string
	sequence     int
	filename     string
	username     string
	status       JobStatus
	titlesTotal  int
	titlesDone   int
	errorMessage string
	createdAt    time.Time
	updatedAt    time.Time
	finishedAt   *time.Time
}

// NewJob creates a queued job for the given upload.
func NewJob(id, filename, username string, titles int) *Job {
	now := time.Now()
	return &Job{
		id:          id,
		filename:    filename,
		username:    username,
		status:      JobQueued,
		titlesTotal: titles,
		createdAt:   now,
		updatedAt:   now,
	}
}

func (j *Job) ID() string             { return j.id }
func (j *Job) Sequence() int          { return j.sequence }
func (j *Job) Filename() string       { return j.filename }
func (j *Job) Username() string       { return j.username }
func (j *Job) Status() JobStatus      { return j.status }
func (j *Job) TitlesTotal() int       { return j.titlesTotal }
func (j *Job) TitlesDone() int        { return j.titlesDone }
func (j *Job) ErrorMessage() string   { return j.errorMessage }
func (j *Job) CreatedAt() time.Time   { return j.createdAt }
func (j *Job) UpdatedAt() time.Time   { return j.updatedAt }
func (j *Job) FinishedAt() *time.Time { return j.finishedAt }

func (j *Job) SetID(id string)            { j.id = id }
func (j *Job) SetSequence(seq int)        { j.sequence = seq }
func (j *Job) SetCreatedAt(t time.Time)   { j.createdAt = t }
func (j *Job) SetUpdatedAt(t time.Time)   { j.updatedAt = t }
func (j *Job) SetFinishedAt(t *time.Time) { j.finishedAt = t }
func (j *Job) SetErrorMessage(msg string) { j.errorMessage = msg }
func (j *Job) SetTitlesTotal(n int)       { j.titlesTotal = n }
func (j *Job) SetStatus(status JobStatus) { j.status = status }
func (j *Job) SetTitlesDone(done int)     { j.titlesDone = done }

// Finish moves the job to a terminal status and stamps the finish time.
func (j *Job) Finish(status JobStatus, errMsg string) {
	now := time.Now()
	j.status = status
	j.errorMessage = errMsg
	j.finishedAt = &now
	j.updatedAt = now
}

// Percent is how much of the list has been processed, 0-100.
func (j *Job) Percent() int {
	if j.titlesTotal <= 0 {
		return 0
	}
	return min(100, j.titlesDone*100/j.titlesTotal)
}

// Validate checks required fields and counters.
func (j *Job) Validate() error {
	if j.id == "" {
		return fmt.Errorf("%w: job id is required", shared.ErrInvalidInput)
	}
	if j.filename == "" {
		return fmt.Errorf("%w: filename is required", shared.ErrInvalidInput)
	}
	if !j.status.valid() {
		return fmt.Errorf("%w: unknown job status %q", shared.ErrInvalidInput, j.status)
	}
	if j.titlesTotal < 0 || j.titlesDone < 0 || j.titlesDone > j.titlesTotal {
		return fmt.Errorf("%w: titles done %d of %d", shared.ErrInvalidInput, j.titlesDone, j.titlesTotal)
	}
	return nil
}

// MarshalJSON exposes the job's fields for `mdx jobs --json`.
func (j *Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID           string     `json:"id"`
		Sequence     int        `json:"sequence"`
		Filename     string     `json:"filename"`
		Username     string     `json:"username"`
		Status       JobStatus  `json:"status"`
		TitlesTotal  int        `json:"titles_total"`
		TitlesDone   int        `json:"titles_done"`
		ErrorMessage string     `json:"error_message,omitempty"`
		CreatedAt    time.Time  `json:"created_at"`
		UpdatedAt    time.Time  `json:"updated_at"`
		FinishedAt   *time.Time `json:"finished_at,omitempty"`
	}{
		ID:           j.id,
		Sequence:     j.sequence,
		Filename:     j.filename,
		Username:     j.username,
		Status:       j.status,
		TitlesTotal:  j.titlesTotal,
		TitlesDone:   j.titlesDone,
		ErrorMessage: j.errorMessage,
		CreatedAt:    j.createdAt,
		UpdatedAt:    j.updatedAt,
		FinishedAt:   j.finishedAt,
	})
}
