package am

import (
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/teranos/scribe/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir cannot be empty")
	}

	// Retention window: 0 = evict terminal jobs on every tick, negative = invalid
	if c.Retention.Window < 0 {
		return errors.Newf("retention.window must be >= 0, got %s", c.Retention.Window)
	}
	if c.Retention.Interval <= 0 {
		return errors.Newf("retention.interval must be > 0, got %s", c.Retention.Interval)
	}

	switch c.History.Backend {
	case HistoryBackendJSON, HistoryBackendSQLite:
	default:
		return errors.Newf("history.backend must be %q or %q, got %q", HistoryBackendJSON, HistoryBackendSQLite, c.History.Backend)
	}

	switch c.Engine.Kind {
	case EngineKindPlaceholder:
	case EngineKindWhisper:
		if c.Engine.ModelPath == "" {
			return errors.New("engine.model_path cannot be empty when engine.kind is whisper")
		}
	default:
		return errors.Newf("engine.kind must be %q or %q, got %q", EngineKindPlaceholder, EngineKindWhisper, c.Engine.Kind)
	}

	if c.Fetch.Timeout <= 0 {
		return errors.Newf("fetch.timeout must be > 0, got %s", c.Fetch.Timeout)
	}
	if c.Fetch.MaxRedirects < 0 {
		return errors.Newf("fetch.max_redirects must be >= 0, got %d", c.Fetch.MaxRedirects)
	}
	if len(c.Fetch.PageHosts) > 0 && c.Fetch.PageTimeout <= 0 {
		return errors.Newf("fetch.page_timeout must be > 0 when fetch.page_hosts is set, got %s", c.Fetch.PageTimeout)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.Newf("server.max_upload_bytes must be > 0, got %d", c.Server.MaxUploadBytes)
	}
	// 0 = unlimited submissions
	if c.Server.SubmitRatePerMinute < 0 {
		return errors.Newf("server.submit_rate_per_minute must be >= 0, got %d", c.Server.SubmitRatePerMinute)
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.Newf("server.shutdown_timeout must be >= 0, got %s", c.Server.ShutdownTimeout)
	}

	if c.Diagnostics.MinFreeBytes < 0 {
		return errors.Newf("diagnostics.min_free_bytes must be >= 0, got %d", c.Diagnostics.MinFreeBytes)
	}

	return nil
}

// UnknownKeys decodes a TOML file strictly against Config and returns the
// keys it sets that scribe does not recognise, sorted. Viper silently drops
// such keys, so typos like "retention.windw" would otherwise go unnoticed.
func UnknownKeys(path string) ([]string, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	var unknown []string
	for _, key := range md.Undecoded() {
		unknown = append(unknown, key.String())
	}
	sort.Strings(unknown)
	return unknown, nil
}
