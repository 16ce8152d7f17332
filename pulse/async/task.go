package async

import (
	"github.com/teranos/scribe/errors"
)

// TaskSpec is the unit moved through the dispatch queue: a job id and exactly
// one source. Build it with NewUploadTask or NewURLTask.
type TaskSpec struct {
	JobID           string `json:"job_id"`
	LocalSourcePath string `json:"local_source_path,omitempty"`
	SourceURL       string `json:"source_url,omitempty"`
}

// NewUploadTask describes a job whose source was written to path.
func NewUploadTask(jobID, path string) TaskSpec {
	return TaskSpec{JobID: jobID, LocalSourcePath: path}
}

// NewURLTask describes a job whose source must be fetched from rawURL.
func NewURLTask(jobID, rawURL string) TaskSpec {
	return TaskSpec{JobID: jobID, SourceURL: rawURL}
}

// IsRemote reports whether the source must be fetched.
func (t TaskSpec) IsRemote() bool {
	return t.SourceURL != ""
}

// Validate checks that the task names a job and exactly one source.
func (t TaskSpec) Validate() error {
	if t.JobID == "" {
		return errors.NewInvalidRequestError("task has no job id")
	}
	hasPath := t.LocalSourcePath != ""
	hasURL := t.SourceURL != ""
	if hasPath == hasURL {
		return errors.NewInvalidRequestError("task for job %s must have exactly one source", t.JobID)
	}
	return nil
}
