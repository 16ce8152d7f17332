// Package command runs external tools such as ffmpeg, whisper.cpp and
// yt-dlp behind an interface that tests can replace.
package command

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/teranos/scribe/errors"
)

// Result is the captured output of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command and waits for it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec runs commands with os/exec. ExitCode is -1 when the process never
// produced one.
type Exec struct{}

// Run implements Runner.
func (Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// Tail returns at most the last n bytes of the trimmed output, prefixed with
// "..." when cut. The cut never splits a UTF-8 sequence.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
