// Package fetch downloads remote media into the upload directory.
package fetch

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/internal/httpclient"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/version"
)

// DefaultFileName is used when a URL has no usable last path segment.
const DefaultFileName = "downloaded_media"

// DefaultTimeout bounds a single download.
const DefaultTimeout = 30 * time.Second

// Fetcher retrieves rawURL into the local file dst.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dst string) error
}

// FileName derives the stored name of a download from the last path
// segment of rawURL, falling back to DefaultFileName.
func FileName(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return DefaultFileName
	}
	if u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return DefaultFileName
	}
	name := path.Base(u.Path)
	if name == "." || name == ".." {
		return DefaultFileName
	}
	return name
}

// Config controls the fetchers built by New.
type Config struct {
	Timeout      time.Duration
	AllowPrivate bool
	MaxRedirects int

	// PageHosts go through yt-dlp; empty disables page extraction.
	PageHosts   []string
	YTDLPPath   string
	PageTimeout time.Duration
}

// GetterFetcher downloads over HTTP(S) with go-getter in single-file mode.
// Only the http and https getters are registered and archive
// decompression is disabled, so a URL always lands as one opaque file.
type GetterFetcher struct {
	client  *httpclient.SaferClient
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewGetterFetcher builds a fetcher on an SSRF-guarded HTTP client.
func NewGetterFetcher(cfg Config, log *zap.SugaredLogger) *GetterFetcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GetterFetcher{
		client: httpclient.New(httpclient.Options{
			Timeout:      timeout,
			AllowPrivate: cfg.AllowPrivate,
			MaxRedirects: cfg.MaxRedirects,
		}),
		timeout: timeout,
		logger:  log,
	}
}

// Validate checks rawURL without fetching it.
func (f *GetterFetcher) Validate(rawURL string) error {
	_, err := f.client.ValidateURL(rawURL)
	return err
}

// Fetch implements Fetcher. A partial file is removed on failure.
func (f *GetterFetcher) Fetch(ctx context.Context, rawURL, dst string) error {
	u, err := f.client.ValidateURL(rawURL)
	if err != nil {
		return errors.Wrapf(err, "refusing to fetch %s", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	httpGetter := &getter.HttpGetter{
		Client:                f.client.Client,
		XTerraformGetDisabled: true,
		Header:                http.Header{"User-Agent": []string{version.UserAgent()}},
	}
	client := &getter.Client{
		Ctx:  ctx,
		Src:  u.String(),
		Dst:  dst,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"http":  httpGetter,
			"https": httpGetter,
		},
		Decompressors: map[string]getter.Decompressor{},
	}

	start := time.Now()
	if err := client.Get(); err != nil {
		_ = os.Remove(dst)
		return errors.Wrapf(err, "failed to download %s", u.Redacted())
	}

	info, err := os.Stat(dst)
	if err != nil {
		return errors.Wrap(err, "download produced no file")
	}
	f.logger.Debugw("Fetched remote media",
		logger.FieldURL, u.Redacted(),
		logger.FieldFile, dst,
		logger.FieldSize, info.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
