// Package engine defines the transcription engine boundary and its
// implementations.
package engine

import (
	"context"

	"github.com/teranos/scribe/errors"
)

// Request is one transcription run.
type Request struct {
	JobID       string
	Source      string // resolved local media path
	Destination string // where the final transcript must be written
	OnProgress  func(float64)
	OnLog       func(string)
}

func (r Request) progress(p float64) {
	if r.OnProgress != nil {
		r.OnProgress(p)
	}
}

func (r Request) log(line string) {
	if r.OnLog != nil {
		r.OnLog(line)
	}
}

// Outcome is the explicit result of a run: an artifact on success or a cause
// on failure, never both.
type Outcome struct {
	Artifact string
	Cause    error
}

// Succeeded returns an outcome carrying the artifact path.
func Succeeded(artifact string) Outcome {
	return Outcome{Artifact: artifact}
}

// Failed returns an outcome carrying the cause. A nil cause is replaced so
// the outcome still reads as a failure.
func Failed(cause error) Outcome {
	if cause == nil {
		cause = errors.New("transcription failed without a cause")
	}
	return Outcome{Cause: cause}
}

// OK reports whether the run produced an artifact.
func (o Outcome) OK() bool {
	return o.Cause == nil && o.Artifact != ""
}

// Err returns the failure cause, or an error describing a success that
// produced no artifact.
func (o Outcome) Err() error {
	if o.Cause != nil {
		return o.Cause
	}
	if o.Artifact == "" {
		return errors.New("transcription reported success without an artifact")
	}
	return nil
}

// Engine turns a media file into a transcript.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request) Outcome
}

// Kind names accepted by New.
const (
	KindPlaceholder = "placeholder"
	KindWhisper     = "whisper"
)

// Config selects and configures an engine.
type Config struct {
	Kind        string
	FFmpegPath  string
	WhisperPath string
	ModelPath   string
	Language    string
	ExtraArgs   string // shell-quoted, appended to the whisper command line
}

// New builds the engine named by cfg.Kind.
func New(cfg Config) (Engine, error) {
	switch cfg.Kind {
	case "", KindPlaceholder:
		return NewPlaceholder(), nil
	case KindWhisper:
		return NewWhisper(cfg)
	default:
		return nil, errors.NewInvalidRequestError("unknown engine kind %q", cfg.Kind)
	}
}
