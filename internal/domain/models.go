package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

type JobType string

const (
	JobTypeSingleSong JobType = "single_song"
	JobTypePlaylist   JobType = "playlist"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no automatic worker may move the job further.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether the job is waiting for or owned by a worker.
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Job represents one requested download in the queue
type Job struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Request    Request
	ID         string
	Type       JobType
	URL        string
	Status     JobStatus
	Message    string
	LastError  string
	Progress   int
	ErrorCount int
	MaxRetries int
}

// CanCancel reports whether cancel_job is legal from the current status.
func (j *Job) CanCancel() bool {
	return j.Status.IsActive()
}

// CanRetry reports whether a manual retry is legal from the current status.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed
}

// RetriesUsed is the number of automatic retries already consumed.
func (j *Job) RetriesUsed() int {
	if j.ErrorCount == 0 {
		return 0
	}
	return j.ErrorCount - 1
}

// CanAutoRetry reports whether a failed attempt may be rescheduled.
func (j *Job) CanAutoRetry() bool {
	return j.RetriesUsed() < j.MaxRetries
}

// Clone returns a copy safe to mutate independently.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}

// JobUpdate is a partial update; nil fields are left unchanged.
type JobUpdate struct {
	Status   *JobStatus `json:"status,omitempty"`
	Progress *int       `json:"progress,omitempty"`
	Message  *string    `json:"message,omitempty"`
	Error    *string    `json:"error,omitempty"`
}

// Apply mutates job in place. UpdatedAt is always refreshed and an error
// increments ErrorCount.
func (u JobUpdate) Apply(job *Job, now time.Time) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = clampProgress(*u.Progress)
	}
	if u.Message != nil {
		job.Message = *u.Message
	}
	if u.Error != nil {
		job.LastError = *u.Error
		job.ErrorCount++
	}
	job.UpdatedAt = now
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "success"
	HistoryFailed  HistoryStatus = "failed"
	HistoryError   HistoryStatus = "error"
)

// HistoryEntry is the immutable summary of a job's final outcome
type HistoryEntry struct {
	Created   time.Time
	Completed time.Time
	Request   Request
	JobID     string
	Type      JobType
	URL       string
	Status    HistoryStatus
	Message   string
}

// NewHistoryEntry summarizes job as it stands at completion time.
func NewHistoryEntry(job *Job, status HistoryStatus, completed time.Time) HistoryEntry {
	return HistoryEntry{
		JobID:     job.ID,
		Type:      job.Type,
		URL:       job.URL,
		Status:    status,
		Created:   job.CreatedAt,
		Completed: completed,
		Request:   job.Request,
		Message:   job.Message,
	}
}

// Stats summarizes the live job table and the history log
type Stats struct {
	ActiveJobs          int     `json:"active_jobs"`
	FailedJobs          int     `json:"failed_jobs"`
	TotalDownloads      int     `json:"total_downloads"`
	SuccessfulDownloads int     `json:"successful_downloads"`
	TodayDownloads      int     `json:"today_downloads"`
	SuccessRate         float64 `json:"success_rate"`
}
