// Package pulse wires the job store, dispatch queue, worker and retention
// scheduler into the Dispatcher that every caller submits media through.
package pulse

import (
	"context"
	"net/url"
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
	"github.com/teranos/scribe/pulse/async"
	"github.com/teranos/scribe/pulse/schedule"
	"github.com/teranos/scribe/redact"
)

// Subdirectories of the data dir.
const (
	UploadsDir      = "uploads"
	ResultsDir      = "results"
	LogsDir         = "logs"
	HistoryJSONFile = "history.json"
	HistoryDBFile   = "history.db"
)

// fallbackUploadName is used when a client sends no usable filename.
const fallbackUploadName = "upload"

// Options configure a Dispatcher. Zero values pick the defaults noted.
type Options struct {
	DataDir           string        // default "data"
	RetentionWindow   time.Duration // default 7 days when <= 0
	RetentionInterval time.Duration // default 6 hours
	// EvictImmediately sets a zero retention window: every terminal job is
	// evicted on the next sweep. RetentionWindow is ignored.
	EvictImmediately bool

	Engine  engine.Engine      // default placeholder
	Fetcher fetch.Fetcher      // default fetch.New(Fetch)
	Fetch   fetch.Config       // used only when Fetcher is nil
	History history.Repository // default built from HistoryBackend
	// HistoryBackend is "json" (default) or "sqlite"; HistoryPath overrides
	// the file location inside DataDir.
	HistoryBackend string
	HistoryPath    string

	Secrets []string
	Logger  *zap.SugaredLogger
}

// urlValidator is implemented by fetchers that can vet a URL up front.
type urlValidator interface {
	Validate(rawURL string) error
}

// Dispatcher accepts media jobs, runs them one at a time and answers state
// queries. Create it with New, call Start, and Shutdown when done.
type Dispatcher struct {
	dataDir   string
	sanitizer *redact.Sanitizer
	store     *async.Store
	queue     *async.Queue
	worker    *async.Worker
	retention *schedule.Retention
	history   history.Repository
	fetcher   fetch.Fetcher
	engine    engine.Engine
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// New builds a Dispatcher and creates the data directory layout. Nothing
// runs until Start.
func New(opts Options) (*Dispatcher, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("dispatcher")

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	for _, sub := range []string{UploadsDir, ResultsDir, LogsDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create %s directory", sub)
		}
	}

	hist := opts.History
	if hist == nil {
		path := opts.HistoryPath
		if path == "" {
			path = filepath.Join(dataDir, HistoryJSONFile)
			if opts.HistoryBackend == history.BackendSQLite {
				path = filepath.Join(dataDir, HistoryDBFile)
			}
		}
		repo, err := history.Open(opts.HistoryBackend, path, logger.AddDBSymbol(log))
		if err != nil {
			return nil, errors.Wrap(err, "failed to open job history")
		}
		hist = repo
	}

	eng := opts.Engine
	if eng == nil {
		eng = engine.NewPlaceholder()
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(opts.Fetch, logger.AddIXSymbol(log))
	}

	window := opts.RetentionWindow
	switch {
	case opts.EvictImmediately:
		window = 0
	case window <= 0:
		window = schedule.DefaultRetentionWindow
	}

	sanitizer := redact.New(opts.Secrets...)
	store := async.NewStore(filepath.Join(dataDir, LogsDir), sanitizer, log)
	queue := async.NewQueue()

	d := &Dispatcher{
		dataDir:   dataDir,
		sanitizer: sanitizer,
		store:     store,
		queue:     queue,
		history:   hist,
		fetcher:   fetcher,
		engine:    eng,
		logger:    log,
	}
	d.worker = async.NewWorker(context.Background(), queue, store, eng, fetcher, hist, async.WorkerConfig{
		UploadDir: d.UploadDir(),
		ResultDir: d.ResultDir(),
	}, log)
	d.retention = schedule.NewRetention(context.Background(), store, hist, schedule.RetentionConfig{
		Window:    window,
		Interval:  opts.RetentionInterval,
		UploadDir: d.UploadDir(),
		ResultDir: d.ResultDir(),
	}, log)
	return d, nil
}

// UploadDir is where submitted and downloaded media is stored.
func (d *Dispatcher) UploadDir() string { return filepath.Join(d.dataDir, UploadsDir) }

// ResultDir is where transcripts are written.
func (d *Dispatcher) ResultDir() string { return filepath.Join(d.dataDir, ResultsDir) }

// DataDir returns the root of the persisted layout.
func (d *Dispatcher) DataDir() string { return d.dataDir }

// Start launches the worker and the retention scheduler. It is idempotent.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shutdown {
		return errors.Wrap(errors.ErrServiceUnavailable, "dispatcher already shut down")
	}
	if d.started {
		return nil
	}
	d.started = true
	d.worker.Start()
	d.retention.Start()
	d.logger.Infow("Dispatcher started", "data_dir", d.dataDir, "engine", d.engine.Name())
	return nil
}

// Shutdown stops accepting work, stops the scheduler and waits for the
// in-flight job until ctx is done, after which that job is abandoned.
// Jobs still queued stay in the queued state.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return nil
	}
	d.shutdown = true
	d.mu.Unlock()

	d.retention.Stop()
	workerErr := d.worker.Stop(ctx)
	if workerErr != nil {
		d.logger.Warnw("Worker did not finish before shutdown deadline", "error", workerErr)
	}
	if err := d.history.Close(); err != nil {
		workerErr = errors.CombineErrors(workerErr, errors.Wrap(err, "failed to close history"))
	}
	d.logger.Infow("Dispatcher stopped", "pending", d.queue.Len())
	return workerErr
}

func (d *Dispatcher) accepting() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown {
		return errors.Wrap(errors.ErrServiceUnavailable, "dispatcher is shutting down")
	}
	return nil
}

// CreateJobFromUpload stores data as the job's source and queues the job.
// Only the base name of filename is kept.
func (d *Dispatcher) CreateJobFromUpload(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.NewInvalidRequestError("uploaded file is empty")
	}
	if err := d.accepting(); err != nil {
		return "", err
	}

	name := safeBaseName(filename)
	id := async.NewJobID()
	path := filepath.Join(d.UploadDir(), id+"_"+name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to store upload for job %s", id)
	}

	if err := d.submit(ctx, id, name, async.NewUploadTask(id, path)); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return id, nil
}

// CreateJobFromURL queues a job whose media is downloaded by the worker.
func (d *Dispatcher) CreateJobFromURL(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.NewInvalidRequestError("url is required")
	}
	if err := d.validateURL(rawURL); err != nil {
		return "", err
	}
	if err := d.accepting(); err != nil {
		return "", err
	}

	id := async.NewJobID()
	if err := d.submit(ctx, id, rawURL, async.NewURLTask(id, rawURL)); err != nil {
		return "", err
	}
	return id, nil
}

func (d *Dispatcher) validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.NewInvalidRequestError("url %q is not a valid http(s) URL", d.sanitizer.Sanitize(rawURL))
	}
	if v, ok := d.fetcher.(urlValidator); ok {
		if err := v.Validate(rawURL); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, id, source string, spec async.TaskSpec) error {
	if _, err := d.store.Register(id, d.sanitizer.Sanitize(source)); err != nil {
		return err
	}
	if err := d.queue.Enqueue(spec); err != nil {
		d.store.Remove(id)
		return errors.Wrapf(err, "failed to queue job %s", id)
	}
	logger.FromContext(logger.WithJobID(ctx, id), d.logger).Infow("Job queued",
		"source", d.sanitizer.Sanitize(source),
		logger.FieldDepth, d.queue.Len(),
	)
	return nil
}

// GetJobState returns a snapshot of the job or ErrNotFound.
func (d *Dispatcher) GetJobState(id string) (*async.Job, error) {
	return d.store.Snapshot(id)
}

// GetJobResult returns the transcript path of a completed job whose file
// still exists; anything else is ErrNotFound.
func (d *Dispatcher) GetJobResult(id string) (string, error) {
	job, err := d.store.Snapshot(id)
	if err != nil {
		return "", err
	}
	if job.Status != async.JobStatusCompleted || job.ResultPath == "" {
		return "", errors.NewNotFoundError("result for job %s", id)
	}
	if _, err := os.Stat(job.ResultPath); err != nil {
		return "", errors.NewNotFoundError("result file for job %s", id)
	}
	return job.ResultPath, nil
}

// ListJobs returns all live jobs, oldest first.
func (d *Dispatcher) ListJobs() []*async.Job {
	return d.store.List()
}

// History returns the finished-job records.
func (d *Dispatcher) History(ctx context.Context) ([]history.Record, error) {
	return d.history.List(ctx)
}

// Cleanup runs one retention sweep now.
func (d *Dispatcher) Cleanup(ctx context.Context) (schedule.CleanupReport, error) {
	return d.retention.RunOnce(ctx, time.Now().UTC())
}

// Subscribe streams job snapshots after every change.
func (d *Dispatcher) Subscribe() <-chan *async.Job { return d.store.Subscribe() }

// Unsubscribe ends a Subscribe stream.
func (d *Dispatcher) Unsubscribe(ch <-chan *async.Job) { d.store.Unsubscribe(ch) }

// SetSecrets replaces the values masked in logs and errors.
func (d *Dispatcher) SetSecrets(secrets ...string) {
	d.sanitizer.SetSecrets(secrets...)
}

// QueueDepth returns the number of jobs waiting for the worker.
func (d *Dispatcher) QueueDepth() int { return d.queue.Len() }

// Metrics returns a health snapshot of the dispatcher.
func (d *Dispatcher) Metrics() async.SystemMetrics {
	return async.CollectMetrics(d.queue, d.store, d.worker)
}

func safeBaseName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallbackUploadName
	}
	return name
}
