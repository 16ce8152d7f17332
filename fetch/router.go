package fetch

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
)

// DefaultPageHosts are sent to yt-dlp instead of being downloaded directly.
var DefaultPageHosts = []string{"youtube.com", "youtu.be"}

// Router sends URLs on page hosts to yt-dlp and everything else to the
// direct HTTP fetcher. Both paths are vetted by the direct fetcher's
// address checks first.
type Router struct {
	direct *GetterFetcher
	pages  Fetcher
	hosts  []string
}

// New builds the fetcher for cfg: a Router when cfg.PageHosts is non-empty,
// otherwise a plain GetterFetcher.
func New(cfg Config, log *zap.SugaredLogger) Fetcher {
	direct := NewGetterFetcher(cfg, log)
	if len(cfg.PageHosts) == 0 {
		return direct
	}
	return NewRouter(direct, NewYTDLPFetcher(cfg.YTDLPPath, cfg.PageTimeout, log), cfg.PageHosts)
}

// NewRouter routes hosts (and their subdomains) to pages.
func NewRouter(direct *GetterFetcher, pages Fetcher, hosts []string) *Router {
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.Trim(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	return &Router{direct: direct, pages: pages, hosts: normalized}
}

// Validate implements the dispatcher's up-front URL check.
func (r *Router) Validate(rawURL string) error {
	return r.direct.Validate(rawURL)
}

// IsPage reports whether rawURL is handled by the page fetcher.
func (r *Router) IsPage(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range r.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, rawURL, dst string) error {
	if !r.IsPage(rawURL) {
		return r.direct.Fetch(ctx, rawURL, dst)
	}
	if err := r.direct.Validate(rawURL); err != nil {
		return errors.Wrapf(err, "refusing to fetch %s", rawURL)
	}
	return r.pages.Fetch(ctx, rawURL, dst)
}
