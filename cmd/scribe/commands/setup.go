package commands

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/diagnostics"
	"github.com/teranos/scribe/engine"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/fetch"
	"github.com/teranos/scribe/history"
	"github.com/teranos/scribe/pulse"
)

// loadConfig loads and validates the active configuration
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// dispatcherOptions translates configuration into dispatcher options
func dispatcherOptions(cfg *am.Config, log *zap.SugaredLogger) (pulse.Options, error) {
	eng, err := engine.New(engine.Config{
		Kind:        cfg.Engine.Kind,
		FFmpegPath:  cfg.Engine.FFmpegPath,
		WhisperPath: cfg.Engine.WhisperPath,
		ModelPath:   cfg.Engine.ModelPath,
		Language:    cfg.Engine.Language,
		ExtraArgs:   cfg.Engine.ExtraArgs,
	})
	if err != nil {
		return pulse.Options{}, errors.Wrap(err, "failed to build transcription engine")
	}

	historyPath := ""
	if cfg.History.Backend == history.BackendSQLite {
		historyPath = cfg.History.SQLitePath
	}

	return pulse.Options{
		DataDir:           cfg.DataDir,
		RetentionWindow:   cfg.Retention.Window,
		EvictImmediately:  cfg.Retention.Window == 0,
		RetentionInterval: cfg.Retention.Interval,
		Engine:            eng,
		Fetch: fetch.Config{
			Timeout:      cfg.Fetch.Timeout,
			AllowPrivate: cfg.Fetch.AllowPrivate,
			MaxRedirects: cfg.Fetch.MaxRedirects,
			PageHosts:    cfg.Fetch.PageHosts,
			YTDLPPath:    cfg.Fetch.YTDLPPath,
			PageTimeout:  cfg.Fetch.PageTimeout,
		},
		HistoryBackend: cfg.History.Backend,
		HistoryPath:    historyPath,
		Secrets:        cfg.SecretValues(),
		Logger:         log,
	}, nil
}

// diagnosticsSettings selects the checks for doctor and /health
func diagnosticsSettings(cfg *am.Config) diagnostics.Settings {
	minFree := uint64(0)
	if cfg.Diagnostics.MinFreeBytes > 0 {
		minFree = uint64(cfg.Diagnostics.MinFreeBytes)
	}
	return diagnostics.Settings{
		Binaries:     cfg.Diagnostics.Binaries,
		DataDir:      cfg.DataDir,
		MinFreeBytes: minFree,
		ModelPath:    cfg.Engine.ModelPath,
		CheckModel:   cfg.Engine.Kind == am.EngineKindWhisper,
	}
}

// openHistory opens the history repository read-side, without a dispatcher
func openHistory(cfg *am.Config, log *zap.SugaredLogger) (history.Repository, error) {
	path := filepath.Join(cfg.DataDir, pulse.HistoryJSONFile)
	if cfg.History.Backend == history.BackendSQLite {
		path = cfg.History.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, pulse.HistoryDBFile)
		}
	}
	return history.Open(cfg.History.Backend, path, log)
}
