// Package async provides the in-memory job store, the dispatch queue and the
// single sequential worker behind scribe's media jobs.
package async

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions can occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// rank orders statuses along queued -> processing -> {completed|failed}.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a job may move from one status to another.
// Same-status updates are allowed for non-terminal states (progress ticks
// while processing). Terminal states accept nothing.
func CanTransition(from, to JobStatus) bool {
	if from.IsTerminal() || to.rank() < 0 {
		return false
	}
	if from == to {
		return true
	}
	if from == JobStatusQueued && to.IsTerminal() {
		// A job must be picked up before it can finish.
		return false
	}
	return to.rank() > from.rank()
}

// Job is one media-processing request and its tracked lifecycle.
type Job struct {
	ID         string     `json:"id"`
	Source     string     `json:"source,omitempty"` // original filename or URL
	Status     JobStatus  `json:"status"`
	Progress   float64    `json:"progress"`
	Log        []string   `json:"log"`
	ResultPath string     `json:"result_path,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// Clone returns an independent deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Log = append([]string(nil), j.Log...)
	if j.StartedAt != nil {
		started := *j.StartedAt
		c.StartedAt = &started
	}
	return &c
}

// NewJobID returns a 32-character lowercase hex identifier.
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// JobUpdate carries the subset of fields to change in Store.Update.
// Nil fields are left untouched.
type JobUpdate struct {
	Status     *JobStatus
	Progress   *float64
	ResultPath *string
	Error      *string
}

// WithStatus sets the target status.
func (u JobUpdate) WithStatus(s JobStatus) JobUpdate {
	u.Status = &s
	return u
}

// WithProgress sets the progress value.
func (u JobUpdate) WithProgress(p float64) JobUpdate {
	u.Progress = &p
	return u
}

// WithResultPath sets the result artifact path.
func (u JobUpdate) WithResultPath(path string) JobUpdate {
	u.ResultPath = &path
	return u
}

// WithError sets the failure message.
func (u JobUpdate) WithError(msg string) JobUpdate {
	u.Error = &msg
	return u
}

// ClampProgress bounds p to [0, 1]. NaN becomes 0.
func ClampProgress(p float64) float64 {
	if p != p || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
