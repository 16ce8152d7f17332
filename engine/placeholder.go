package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/teranos/scribe/errors"
)

// Placeholder simulates a transcription: it reports progress, writes a short
// transcript naming the source and finishes. Useful for wiring and demos
// where no speech model is installed.
type Placeholder struct {
	now func() time.Time
}

// NewPlaceholder returns the simulated engine.
func NewPlaceholder() *Placeholder {
	return &Placeholder{now: time.Now}
}

// Name implements Engine.
func (p *Placeholder) Name() string { return KindPlaceholder }

// Transcribe implements Engine.
func (p *Placeholder) Transcribe(ctx context.Context, req Request) Outcome {
	if err := ctx.Err(); err != nil {
		return Failed(errors.Wrap(err, "transcription cancelled"))
	}
	if req.Destination == "" {
		return Failed(errors.New("destination path is required"))
	}

	req.log(fmt.Sprintf("Loading media from %s", filepath.Base(req.Source)))
	req.progress(0.2)

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0o755); err != nil {
		return Failed(errors.Wrapf(err, "cannot create output directory for %s", req.Destination))
	}

	transcript := fmt.Sprintf(
		"Simulated transcript for %s\nGenerated at %s\n",
		filepath.Base(req.Source),
		p.now().UTC().Format(time.RFC3339),
	)
	if err := os.WriteFile(req.Destination, []byte(transcript), 0o644); err != nil {
		return Failed(errors.Wrapf(err, "failed to write transcript %s", req.Destination))
	}

	req.progress(1.0)
	req.log("Transcription finished.")
	return Succeeded(req.Destination)
}
