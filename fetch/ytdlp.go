package fetch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/internal/command"
	"github.com/teranos/scribe/logger"
)

// DefaultPageTimeout bounds one yt-dlp extraction and download.
const DefaultPageTimeout = 10 * time.Minute

// maxStderrInError bounds how much yt-dlp stderr is carried in an error.
const maxStderrInError = 500

// YTDLPFetcher extracts the best audio stream of a media page (YouTube and
// similar) with the yt-dlp CLI.
type YTDLPFetcher struct {
	binary  string
	timeout time.Duration
	runner  command.Runner
	logger  *zap.SugaredLogger
}

// NewYTDLPFetcher builds a page fetcher running binary ("yt-dlp" if empty).
func NewYTDLPFetcher(binary string, timeout time.Duration, log *zap.SugaredLogger) *YTDLPFetcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = DefaultPageTimeout
	}
	return &YTDLPFetcher{
		binary:  binary,
		timeout: timeout,
		runner:  command.Exec{},
		logger:  log,
	}
}

// Fetch implements Fetcher. yt-dlp picks the container extension, so the
// download goes to "{dst}.ytdlp.{ext}" and is renamed to dst afterwards.
func (f *YTDLPFetcher) Fetch(ctx context.Context, rawURL, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "failed to create download directory")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	template := dst + ".ytdlp.%(ext)s"
	res, err := f.runner.Run(ctx, f.binary, buildYTDLPArgs(template, rawURL)...)
	if err != nil {
		f.removePartials(dst)
		if tail := command.Tail(res.Stderr, maxStderrInError); tail != "" {
			return errors.Wrapf(err, "yt-dlp failed (exit %d): %s", res.ExitCode, tail)
		}
		return errors.Wrapf(err, "yt-dlp failed (exit %d)", res.ExitCode)
	}

	downloaded := lastLine(res.Stdout)
	if downloaded == "" {
		f.removePartials(dst)
		return errors.New("yt-dlp reported no downloaded file")
	}
	if err := os.Rename(downloaded, dst); err != nil {
		f.removePartials(dst)
		return errors.Wrapf(err, "failed to move yt-dlp output %s", filepath.Base(downloaded))
	}

	f.logger.Debugw("Fetched media page audio",
		logger.FieldBinary, f.binary,
		logger.FieldFile, dst,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return nil
}

// removePartials deletes leftovers of an aborted download.
func (f *YTDLPFetcher) removePartials(dst string) {
	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		return
	}
	prefix := filepath.Base(dst) + ".ytdlp."
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			_ = os.Remove(filepath.Join(filepath.Dir(dst), entry.Name()))
		}
	}
}

func buildYTDLPArgs(template, rawURL string) []string {
	return []string{
		"--no-playlist",
		"--no-progress",
		"--no-simulate",
		"-f", "bestaudio/best",
		"-o", template,
		"--print", "after_move:filepath",
		"--", rawURL,
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
