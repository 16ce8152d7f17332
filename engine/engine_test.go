package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scribe/errors"
)

func TestOutcome(t *testing.T) {
	ok := Succeeded("/tmp/a.txt")
	assert.True(t, ok.OK())
	assert.NoError(t, ok.Err())

	cause := errors.New("model crashed")
	failed := Failed(cause)
	assert.False(t, failed.OK())
	assert.Equal(t, cause, failed.Err())

	assert.Error(t, Failed(nil).Err())
	assert.Error(t, Outcome{}.Err(), "success without artifact is still a failure")
}

func TestNew(t *testing.T) {
	eng, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, KindPlaceholder, eng.Name())

	eng, err = New(Config{Kind: KindWhisper, ExtraArgs: `--threads 4 --prompt "two words"`})
	require.NoError(t, err)
	assert.Equal(t, []string{"--threads", "4", "--prompt", "two words"}, eng.(*Whisper).extraArgs)

	_, err = New(Config{Kind: KindWhisper, ExtraArgs: `--prompt "unterminated`})
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = New(Config{Kind: "sphinx"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestPlaceholder_WritesTranscript(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "results", "job1.txt")

	var progress []float64
	var logs []string
	p := NewPlaceholder()
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	out := p.Transcribe(context.Background(), Request{
		Source:      filepath.Join(dir, "job1_clip.wav"),
		Destination: dest,
		OnProgress:  func(v float64) { progress = append(progress, v) },
		OnLog:       func(s string) { logs = append(logs, s) },
	})

	require.True(t, out.OK(), "unexpected failure: %v", out.Cause)
	assert.Equal(t, dest, out.Artifact)
	assert.Equal(t, []float64{0.2, 1.0}, progress)
	assert.Equal(t, "Transcription finished.", logs[len(logs)-1])

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "job1_clip.wav")
	assert.Contains(t, string(data), "2026-01-02T03:04:05Z")
}

func TestPlaceholder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewPlaceholder().Transcribe(ctx, Request{Destination: filepath.Join(t.TempDir(), "x.txt")})
	assert.False(t, out.OK())
	assert.ErrorIs(t, out.Err(), context.Canceled)
}
