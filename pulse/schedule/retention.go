// Package schedule runs periodic maintenance next to the dispatch worker.
package schedule

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/pulse/async"
)

// Defaults for RetentionConfig.
const (
	DefaultRetentionWindow   = 7 * 24 * time.Hour
	DefaultRetentionInterval = 6 * time.Hour
)

// HistoryPruner keeps only history records whose id is in keepIDs.
type HistoryPruner interface {
	Prune(ctx context.Context, keepIDs []string) error
}

// RetentionConfig controls eviction of finished jobs.
type RetentionConfig struct {
	Window    time.Duration // jobs idle longer than this are evicted
	Interval  time.Duration // how often to sweep
	UploadDir string
	ResultDir string
}

// CleanupReport summarizes one sweep.
type CleanupReport struct {
	Cutoff       time.Time `json:"cutoff"`
	Removed      []string  `json:"removed"`
	FilesDeleted int       `json:"files_deleted"`
	Pruned       bool      `json:"pruned"`
}

// Retention evicts terminal jobs whose updated_at is older than the window,
// together with their upload, result and log files. Queued and processing
// jobs are never touched.
type Retention struct {
	store   *async.Store
	history HistoryPruner
	config  RetentionConfig

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger

	runMu sync.Mutex // one sweep at a time (ticker vs manual Cleanup)

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	started         bool
}

// NewRetention creates the scheduler. hist may be nil.
func NewRetention(ctx context.Context, store *async.Store, hist HistoryPruner, cfg RetentionConfig, log *zap.SugaredLogger) *Retention {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Window < 0 {
		cfg.Window = 0
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetentionInterval
	}
	retCtx, cancel := context.WithCancel(ctx)
	return &Retention{
		store:    store,
		history:  hist,
		config:   cfg,
		ctx:      retCtx,
		cancel:   cancel,
		logger:   log,
		pulseLog: logger.AddPulseSymbol(log),
	}
}

// Start begins the sweep loop. The first sweep happens one interval after
// Start.
func (r *Retention) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run()
	r.pulseLog.Infow("Retention scheduler started", "interval", r.config.Interval, "window", r.config.Window)
}

// Stop cancels the loop and waits for an in-progress sweep to return.
func (r *Retention) Stop() {
	r.cancel()
	r.wg.Wait()
	r.pulseLog.Infow("Retention scheduler stopped")
}

func (r *Retention) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case tickTime := <-ticker.C:
			r.mu.Lock()
			r.lastTickAt = tickTime
			r.ticksSinceStart++
			ticks := r.ticksSinceStart
			r.mu.Unlock()

			if _, err := r.RunOnce(r.ctx, tickTime.UTC()); err != nil {
				r.pulseLog.Warnw("Retention tick error", "error", err, "tick", ticks)
			}
		}
	}
}

// LastTick returns the time of the most recent scheduled sweep.
func (r *Retention) LastTick() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTickAt
}

// RunOnce performs a single sweep as of now. File removal errors are
// collected and returned after the sweep finishes; a job whose files could
// not all be deleted is still evicted from the store.
func (r *Retention) RunOnce(ctx context.Context, now time.Time) (CleanupReport, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	report := CleanupReport{Cutoff: now.Add(-r.config.Window)}
	expired := r.store.Expired(report.Cutoff)
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })

	var errs error
	for _, job := range expired {
		if err := ctx.Err(); err != nil {
			return report, errors.CombineErrors(errs, err)
		}
		deleted, err := r.deleteFiles(job)
		report.FilesDeleted += deleted
		if err != nil {
			errs = errors.CombineErrors(errs, err)
		}
		if r.store.Remove(job.ID) {
			report.Removed = append(report.Removed, job.ID)
		}
	}

	if len(report.Removed) > 0 {
		r.pulseLog.Infow("Evicted expired jobs",
			logger.FieldCount, len(report.Removed),
			"files_deleted", report.FilesDeleted,
			"cutoff", report.Cutoff.Format(time.RFC3339),
		)
		if r.history != nil {
			if err := r.history.Prune(ctx, r.store.IDs()); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to prune history"))
			} else {
				report.Pruned = true
			}
		}
	}
	return report, errs
}

// deleteFiles removes the result, every upload for the job and its log.
func (r *Retention) deleteFiles(job *async.Job) (int, error) {
	var paths []string
	if job.ResultPath != "" {
		paths = append(paths, job.ResultPath)
	}
	if r.config.ResultDir != "" {
		paths = append(paths, filepath.Join(r.config.ResultDir, job.ID+".txt"))
	}
	if r.config.UploadDir != "" {
		matches, err := filepath.Glob(filepath.Join(r.config.UploadDir, job.ID+"_*"))
		if err != nil {
			return 0, errors.Wrapf(err, "failed to list uploads for job %s", job.ID)
		}
		paths = append(paths, matches...)
	}
	if logPath := r.store.LogPath(job.ID); logPath != "" {
		paths = append(paths, logPath)
	}

	deleted := 0
	seen := make(map[string]struct{}, len(paths))
	var errs error
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		err := os.Remove(p)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, os.ErrNotExist):
		default:
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "failed to delete %s", p))
		}
	}
	return deleted, errs
}
