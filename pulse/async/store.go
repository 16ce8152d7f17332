package async

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/history"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/redact"
)

// maxProgressBeforeCompletion keeps progress below 1.0 until the job is
// completed, so that progress == 1.0 exactly when status == completed.
const maxProgressBeforeCompletion = 0.99

// subscriberBuffer is the channel capacity for store subscribers.
const subscriberBuffer = 64

// Store holds live jobs in memory. All operations are safe for concurrent use;
// one mutex serializes mutation and snapshot reads of the whole map.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	logDir    string
	sanitizer *redact.Sanitizer
	now       func() time.Time
	logger    *zap.SugaredLogger

	fileMu sync.Mutex // orders log file appends

	subMu       sync.RWMutex
	subscribers []chan *Job
}

// NewStore creates a job store mirroring log lines into logDir/{id}.log.
// An empty logDir disables the file mirror.
func NewStore(logDir string, sanitizer *redact.Sanitizer, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		jobs:      make(map[string]*Job),
		logDir:    logDir,
		sanitizer: sanitizer,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    log,
	}
}

// timestamp returns now, never earlier than floor.
func (s *Store) timestamp(floor time.Time) time.Time {
	now := s.now()
	if now.Before(floor) {
		return floor
	}
	return now
}

// Register creates a queued job with zero progress and an empty log.
func (s *Store) Register(id, source string) (*Job, error) {
	if id == "" {
		return nil, errors.NewInvalidRequestError("job id is required")
	}

	s.mu.Lock()
	if _, exists := s.jobs[id]; exists {
		s.mu.Unlock()
		err := errors.Wrap(errors.ErrConflict, "job already registered")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	now := s.now()
	job := &Job{
		ID:        id,
		Source:    source,
		Status:    JobStatusQueued,
		Progress:  0,
		Log:       []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[id] = job
	snapshot := job.Clone()
	s.notify(snapshot)
	s.mu.Unlock()

	return snapshot, nil
}

// Update applies the non-nil fields of upd and refreshes updated_at.
// Status changes must follow queued -> processing -> {completed|failed};
// anything else returns ErrInvalidTransition and leaves the job untouched.
// Progress is clamped to [0,1] and held below 1.0 until completion.
func (s *Store) Update(id string, upd JobUpdate) (*Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NewNotFoundError("job %s", id)
	}

	if job.Status.IsTerminal() {
		s.mu.Unlock()
		target := job.Status
		if upd.Status != nil {
			target = *upd.Status
		}
		err := errors.NewInvalidTransitionError(string(job.Status), string(target))
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	if upd.Status != nil && !CanTransition(job.Status, *upd.Status) {
		s.mu.Unlock()
		err := errors.NewInvalidTransitionError(string(job.Status), string(*upd.Status))
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}

	now := s.timestamp(job.UpdatedAt)
	if upd.Status != nil {
		if *upd.Status == JobStatusProcessing && job.StartedAt == nil {
			started := now
			job.StartedAt = &started
		}
		job.Status = *upd.Status
	}
	if upd.Progress != nil {
		job.Progress = ClampProgress(*upd.Progress)
	}
	if upd.ResultPath != nil {
		job.ResultPath = *upd.ResultPath
	}
	if upd.Error != nil {
		job.Error = s.sanitizer.Sanitize(*upd.Error)
	}

	if job.Status == JobStatusCompleted {
		job.Progress = 1
	} else if job.Progress > maxProgressBeforeCompletion {
		job.Progress = maxProgressBeforeCompletion
	}
	job.UpdatedAt = now

	snapshot := job.Clone()
	s.notify(snapshot)
	s.mu.Unlock()

	return snapshot, nil
}

// AppendLog sanitizes line and stores each of its lines as a separate
// "[timestamp] text" entry, mirrored one per line to the job's log file.
// File errors are logged, not returned.
func (s *Store) AppendLog(id, line string) error {
	lines := splitLogLines(s.sanitizer.Sanitize(line))

	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return errors.NewNotFoundError("job %s", id)
	}
	now := s.timestamp(job.UpdatedAt)
	stamp := now.Format(history.TimeLayout)
	for _, l := range lines {
		job.Log = append(job.Log, fmt.Sprintf("[%s] %s", stamp, l))
	}
	job.UpdatedAt = now
	s.notify(job.Clone())
	s.mu.Unlock()

	if err := s.mirrorLog(id, lines); err != nil {
		s.logger.Warnw("Failed to mirror job log line", logger.FieldJobID, id, logger.FieldError, err)
	}
	return nil
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// splitLogLines breaks multi-line output into entries, dropping blank lines.
// Input with no text yields one empty entry.
func splitLogLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(lineBreaks.Replace(s), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimRight(l, " \t"))
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

func (s *Store) mirrorLog(id string, lines []string) error {
	if s.logDir == "" {
		return nil
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	f, err := os.OpenFile(s.LogPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open job log file")
	}
	defer f.Close()

	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		return errors.Wrap(err, "failed to write job log file")
	}
	return nil
}

// LogPath returns the per-job log file path, or "" when mirroring is off.
func (s *Store) LogPath(id string) string {
	if s.logDir == "" {
		return ""
	}
	return filepath.Join(s.logDir, id+".log")
}

// Snapshot returns an independent deep copy of the job.
func (s *Store) Snapshot(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	return job.Clone(), nil
}

// Remove deletes the job. Returns false if it was not present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// List returns snapshots of all jobs, oldest first.
func (s *Store) List() []*Job {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// IDs returns the ids of all live jobs.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Expired returns snapshots of terminal jobs last updated before cutoff.
func (s *Store) Expired(cutoff time.Time) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*Job
	for _, job := range s.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			expired = append(expired, job.Clone())
		}
	}
	return expired
}

// Counts returns the number of jobs per status.
func (s *Store) Counts() map[JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[JobStatus]int, 4)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}

// Subscribe returns a channel receiving a snapshot after every mutation, in
// mutation order. Slow subscribers miss updates rather than block the store.
func (s *Store) Subscribe() <-chan *Job {
	ch := make(chan *Job, subscriberBuffer)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (s *Store) Unsubscribe(ch <-chan *Job) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// notify must be called with mu held so snapshots go out in mutation order.
func (s *Store) notify(job *Job) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subscribers {
		select {
		case sub <- job.Clone():
		default:
		}
	}
}
