package async

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/scribe/engine"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/fetch"
	"github.com/teranos/scribe/history"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/sym"
)

// Progress reported when the worker accepts a job.
const acceptedProgress = 0.05

// HistoryRecorder receives one record per finished job.
type HistoryRecorder interface {
	Append(ctx context.Context, rec history.Record) error
}

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.Pulse+" "+msg, keysAndValues...)
}

// WorkerConfig locates the per-job directories under the data dir.
type WorkerConfig struct {
	UploadDir string
	ResultDir string
}

// Worker drains the queue one job at a time. Ordering across jobs is the
// queue's FIFO order; a failed job never stops the loop.
type Worker struct {
	queue   *Queue
	store   *Store
	engine  engine.Engine
	fetcher fetch.Fetcher
	history HistoryRecorder
	config  WorkerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger pulseLogger

	mu      sync.Mutex
	current string // id of the job being executed, "" when idle
	started bool
	done    int
}

// NewWorker wires a worker. The worker context derives from ctx and is what
// the engine sees; cancelling it abandons the in-flight job.
func NewWorker(ctx context.Context, queue *Queue, store *Store, eng engine.Engine, fetcher fetch.Fetcher, hist HistoryRecorder, cfg WorkerConfig, log *zap.SugaredLogger) *Worker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	workerCtx, cancel := context.WithCancel(ctx)
	return &Worker{
		queue:   queue,
		store:   store,
		engine:  eng,
		fetcher: fetcher,
		history: hist,
		config:  cfg,
		ctx:     workerCtx,
		cancel:  cancel,
		logger:  pulseLogger{log.Named("worker")},
	}
}

// Start launches the worker goroutine. Calling it twice is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Starting("Worker started", "engine", w.engine.Name())
	w.wg.Add(1)
	go w.run()
}

// Stop closes the queue and waits for the current job to finish. If ctx
// expires first, the worker context is cancelled and ctx.Err() returned.
func (w *Worker) Stop(ctx context.Context) error {
	w.queue.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		w.logger.Pulse("Worker stopped", "jobs_processed", w.Processed())
		return nil
	case <-ctx.Done():
		w.cancel()
		w.logger.Closing("Worker stop deadline reached, abandoning in-flight job", logger.FieldJobID, w.Current())
		return ctx.Err()
	}
}

// Current returns the id of the job being executed, or "".
func (w *Worker) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Processed returns how many jobs reached a terminal state on this worker.
func (w *Worker) Processed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		spec, err := w.queue.Next(w.ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				w.logger.Warnw("Worker queue wait failed", logger.FieldError, err)
			}
			return
		}
		w.execute(spec)
	}
}

func (w *Worker) setCurrent(id string) {
	w.mu.Lock()
	w.current = id
	if id == "" {
		w.done++
	}
	w.mu.Unlock()
}

// execute runs one job to a terminal state.
func (w *Worker) execute(spec TaskSpec) {
	w.setCurrent(spec.JobID)
	defer w.setCurrent("")

	log := w.logger.With(logger.FieldJobID, spec.JobID)
	start := time.Now()

	upd := JobUpdate{}.WithStatus(JobStatusProcessing).WithProgress(acceptedProgress)
	if _, err := w.store.Update(spec.JobID, upd); err != nil {
		// The job vanished or was already finished; nothing to run.
		log.Warnw("Skipping job that cannot enter processing", logger.FieldError, err)
		return
	}
	w.appendLog(spec.JobID, "Job accepted by worker")

	stage, artifact, err := w.process(spec)
	if err != nil {
		w.fail(spec.JobID, stage, err, start)
		return
	}

	done := JobUpdate{}.WithStatus(JobStatusCompleted).WithProgress(1).WithResultPath(artifact)
	job, uerr := w.store.Update(spec.JobID, done)
	if uerr != nil {
		log.Errorw("Failed to mark job completed", logger.FieldError, uerr)
		return
	}
	w.appendLog(spec.JobID, "Job completed successfully")
	log.Infow(sym.Pulse+" Job completed", logger.FieldStatus, job.Status, logger.FieldDurationMS, time.Since(start).Milliseconds())
	w.record(job)
}

// process resolves the source and runs the engine, reporting the stage in
// which any failure happened.
func (w *Worker) process(spec TaskSpec) (stage string, artifact string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stage = StageEngine
			err = errors.Newf("engine panic: %v", r)
		}
	}()

	source, err := w.resolveSource(spec)
	if err != nil {
		if spec.IsRemote() {
			return StageFetch, "", err
		}
		return StageSource, "", err
	}

	w.appendLog(spec.JobID, "Starting transcription pipeline")
	dest := filepath.Join(w.config.ResultDir, spec.JobID+".txt")
	outcome := w.engine.Transcribe(w.ctx, engine.Request{
		JobID:       spec.JobID,
		Source:      source,
		Destination: dest,
		OnProgress: func(p float64) {
			if _, err := w.store.Update(spec.JobID, JobUpdate{}.WithProgress(p)); err != nil {
				w.logger.Debugw("Dropped progress update", logger.FieldJobID, spec.JobID, logger.FieldProgress, p, logger.FieldError, err)
			}
		},
		OnLog: func(line string) { w.appendLog(spec.JobID, line) },
	})
	if !outcome.OK() {
		return StageEngine, "", outcome.Err()
	}
	if _, err := os.Stat(outcome.Artifact); err != nil {
		return StageEngine, "", errors.Wrapf(err, "engine reported artifact %s but it is missing", outcome.Artifact)
	}
	return "", outcome.Artifact, nil
}

func (w *Worker) resolveSource(spec TaskSpec) (string, error) {
	if !spec.IsRemote() {
		if _, err := os.Stat(spec.LocalSourcePath); err != nil {
			return "", errors.Wrapf(err, "source file %s not found", filepath.Base(spec.LocalSourcePath))
		}
		return spec.LocalSourcePath, nil
	}

	if w.fetcher == nil {
		return "", errors.Wrap(errors.ErrServiceUnavailable, "no fetcher configured for remote sources")
	}
	name := fetch.FileName(spec.SourceURL)
	dst := filepath.Join(w.config.UploadDir, spec.JobID+"_"+name)
	w.appendLog(spec.JobID, "Downloading media from "+spec.SourceURL)
	if err := w.fetcher.Fetch(w.ctx, spec.SourceURL, dst); err != nil {
		return "", err
	}
	w.appendLog(spec.JobID, "Download finished: "+name)
	return dst, nil
}

func (w *Worker) fail(id, stage string, cause error, start time.Time) {
	ectx := ClassifyError(stage, cause)
	msg := strings.TrimSpace(cause.Error())
	if msg == "" {
		msg = fmt.Sprintf("%s failed (%s)", ectx.Stage, ectx.Code)
	}

	job, err := w.store.Update(id, JobUpdate{}.WithStatus(JobStatusFailed).WithError(msg))
	if err != nil {
		w.logger.Errorw("Failed to mark job failed", logger.FieldJobID, id, logger.FieldError, err)
		return
	}
	// Read back the stored error so the log line carries the sanitized text.
	w.appendLog(id, fmt.Sprintf("Job failed: %s", job.Error))
	w.logger.Warnw(sym.Pulse+" Job failed",
		logger.FieldJobID, id,
		logger.FieldStage, ectx.Stage,
		logger.FieldErrorCode, ectx.Code,
		logger.FieldError, job.Error,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	w.record(job)
}

func (w *Worker) appendLog(id, line string) {
	if err := w.store.AppendLog(id, line); err != nil {
		w.logger.Debugw("Dropped job log line", logger.FieldJobID, id, logger.FieldError, err)
	}
}

// record appends a history entry. Failures are logged and swallowed.
func (w *Worker) record(job *Job) {
	if w.history == nil {
		return
	}
	if err := w.history.Append(context.Background(), HistoryRecord(job)); err != nil {
		w.logger.Warnw("Failed to append job history", logger.FieldJobID, job.ID, logger.FieldError, err)
	}
}

// HistoryRecord converts a terminal job into its history entry. Failed jobs
// carry no result path.
func HistoryRecord(job *Job) history.Record {
	rec := history.Record{
		ID:        job.ID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		CreatedAt: history.NewTimestamp(job.CreatedAt),
		UpdatedAt: history.NewTimestamp(job.UpdatedAt),
	}
	if job.Status == JobStatusCompleted && job.ResultPath != "" {
		path := job.ResultPath
		rec.ResultPath = &path
	}
	return rec
}
