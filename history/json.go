package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
)

// JSONRepository keeps history as one JSON array in a single file. Every
// write is a full read-modify-write under one lock: safe for concurrent
// writers in one process, not across processes (use SQLRepository for that).
type JSONRepository struct {
	path   string
	mu     sync.Mutex
	logger *zap.SugaredLogger
}

// NewJSONRepository opens path, creating it as an empty array if missing.
func NewJSONRepository(path string, log *zap.SugaredLogger) (*JSONRepository, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create history directory for %s", path)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, errors.Wrapf(err, "failed to initialize history file %s", path)
		}
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to stat history file %s", path)
	}

	return &JSONRepository{path: path, logger: logger.AddDBSymbol(log)}, nil
}

// Path returns the history file location.
func (r *JSONRepository) Path() string {
	return r.path
}

// Append adds record to the end of the file.
func (r *JSONRepository) Append(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return err
	}
	records = append(records, record)
	if err := r.write(records); err != nil {
		return err
	}

	r.logger.Debugw("History record appended", logger.FieldJobID, record.ID, logger.FieldStatus, record.Status)
	return nil
}

// Prune rewrites the file keeping only records whose id is in keepIDs.
func (r *JSONRepository) Prune(_ context.Context, keepIDs []string) error {
	keep := keepSet(keepIDs)

	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return err
	}
	filtered := make([]Record, 0, len(records))
	for _, rec := range records {
		if _, ok := keep[rec.ID]; ok {
			filtered = append(filtered, rec)
		}
	}
	if err := r.write(filtered); err != nil {
		return err
	}

	r.logger.Infow("History pruned", "kept", len(filtered), "removed", len(records)-len(filtered))
	return nil
}

// List returns all records.
func (r *JSONRepository) List(_ context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

// Close is a no-op; the file is not held open.
func (r *JSONRepository) Close() error {
	return nil
}

func (r *JSONRepository) read() ([]Record, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read history file %s", r.path)
	}

	records := []Record{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, "failed to parse history file %s", r.path)
	}
	return records, nil
}

// write replaces the file atomically via a temp file and rename.
func (r *JSONRepository) write(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode history")
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".history-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temp history file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to write temp history file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to close temp history file")
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to replace history file %s", r.path)
	}
	return nil
}
