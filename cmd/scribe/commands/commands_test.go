package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/engine"
	"github.com/teranos/scribe/history"
	"github.com/teranos/scribe/version"
)

func testConfig(t *testing.T) *am.Config {
	t.Helper()
	return &am.Config{
		DataDir:   t.TempDir(),
		Retention: am.RetentionConfig{Window: time.Hour, Interval: time.Minute},
		History:   am.HistoryConfig{Backend: am.HistoryBackendJSON},
		Secrets:   am.SecretsConfig{HFToken: "hf_secret", Extra: []string{" ", "other"}},
		Engine:    am.EngineConfig{Kind: am.EngineKindPlaceholder},
		Fetch: am.FetchConfig{
			Timeout:      5 * time.Second,
			MaxRedirects: 3,
			PageHosts:    []string{"youtu.be"},
			YTDLPPath:    "/opt/bin/yt-dlp",
			PageTimeout:  time.Minute,
		},
		Diagnostics: am.DiagnosticsConfig{
			Binaries:     []string{"ffmpeg"},
			MinFreeBytes: 1024,
		},
	}
}

func TestDispatcherOptions(t *testing.T) {
	cfg := testConfig(t)

	opts, err := dispatcherOptions(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, cfg.DataDir, opts.DataDir)
	assert.Equal(t, time.Hour, opts.RetentionWindow)
	assert.False(t, opts.EvictImmediately)
	assert.Equal(t, time.Minute, opts.RetentionInterval)
	assert.Equal(t, 5*time.Second, opts.Fetch.Timeout)
	assert.Equal(t, 3, opts.Fetch.MaxRedirects)
	assert.Equal(t, []string{"youtu.be"}, opts.Fetch.PageHosts)
	assert.Equal(t, "/opt/bin/yt-dlp", opts.Fetch.YTDLPPath)
	assert.Equal(t, time.Minute, opts.Fetch.PageTimeout)
	assert.Empty(t, opts.HistoryPath)
	assert.ElementsMatch(t, []string{"hf_secret", "other"}, opts.Secrets)
	assert.IsType(t, &engine.Placeholder{}, opts.Engine)
}

func TestDispatcherOptions_ZeroWindowEvictsImmediately(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Window = 0

	opts, err := dispatcherOptions(cfg, nil)
	require.NoError(t, err)
	assert.True(t, opts.EvictImmediately, "zero must not fall back to the 7 day default")
}

func TestDispatcherOptions_HistoryPathOnlyForSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.SQLitePath = filepath.Join(cfg.DataDir, "custom.db")

	opts, err := dispatcherOptions(cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, opts.HistoryPath)

	cfg.History.Backend = am.HistoryBackendSQLite
	opts, err = dispatcherOptions(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.History.SQLitePath, opts.HistoryPath)
}

func TestDispatcherOptions_UnknownEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.Kind = "vosk"

	_, err := dispatcherOptions(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcription engine")
}

func TestDiagnosticsSettings(t *testing.T) {
	cfg := testConfig(t)

	s := diagnosticsSettings(cfg)
	assert.Equal(t, []string{"ffmpeg"}, s.Binaries)
	assert.Equal(t, cfg.DataDir, s.DataDir)
	assert.Equal(t, uint64(1024), s.MinFreeBytes)
	assert.False(t, s.CheckModel)

	cfg.Engine.Kind = am.EngineKindWhisper
	cfg.Engine.ModelPath = "/models/ggml-base.bin"
	cfg.Diagnostics.MinFreeBytes = -5
	s = diagnosticsSettings(cfg)
	assert.True(t, s.CheckModel)
	assert.Equal(t, "/models/ggml-base.bin", s.ModelPath)
	assert.Equal(t, uint64(0), s.MinFreeBytes)
}

func TestOpenHistory(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		cfg := testConfig(t)
		repo, err := openHistory(cfg, nil)
		require.NoError(t, err)
		defer repo.Close()

		assert.FileExists(t, filepath.Join(cfg.DataDir, "history.json"))
		records, err := repo.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("sqlite default path", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.History.Backend = am.HistoryBackendSQLite
		repo, err := openHistory(cfg, nil)
		require.NoError(t, err)
		defer repo.Close()

		assert.FileExists(t, filepath.Join(cfg.DataDir, "history.db"))
	})
}

func sampleRecords() []history.Record {
	result := "data/results/abc.txt"
	created := history.NewTimestamp(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return []history.Record{
		{ID: "abc", Status: "completed", Progress: 1, ResultPath: &result, CreatedAt: created, UpdatedAt: created},
		{ID: "def", Status: "failed", Progress: 0.4, CreatedAt: created, UpdatedAt: created},
	}
}

func TestWriteRecords(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecords(&buf, sampleRecords(), "json"))

		var decoded []map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, "abc", decoded[0]["id"])
		assert.Nil(t, decoded[1]["result_path"])
	})

	t.Run("json empty is an array", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecords(&buf, nil, "json"))
		assert.JSONEq(t, "[]", buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecords(&buf, sampleRecords(), "yaml"))

		var decoded []map[string]interface{}
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, "failed", decoded[1]["status"])
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecords(&buf, sampleRecords(), "table"))
		out := buf.String()
		assert.Contains(t, out, "abc")
		assert.Contains(t, out, "40%")
		assert.Contains(t, out, "data/results/abc.txt")
	})

	t.Run("table empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecords(&buf, nil, "table"))
		assert.Contains(t, buf.String(), "No finished jobs")
	})

	t.Run("unsupported", func(t *testing.T) {
		assert.Error(t, writeRecords(&bytes.Buffer{}, nil, "csv"))
	})
}

func TestWriteSettings(t *testing.T) {
	settings := map[string]interface{}{
		"data_dir": "data",
		"server":   map[string]interface{}{"port": 8000},
		"secrets":  map[string]interface{}{"hf_token": am.MaskedValue},
	}

	for _, format := range []string{"toml", "json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeSettings(&buf, settings, format))
			assert.Contains(t, buf.String(), "8000")
			assert.Contains(t, buf.String(), am.MaskedValue)
		})
	}
	assert.Error(t, writeSettings(&bytes.Buffer{}, settings, "ini"))
}

func TestLookupNested(t *testing.T) {
	settings := map[string]interface{}{
		"server": map[string]interface{}{"port": 8000},
		"data":   "x",
	}
	assert.Equal(t, 8000, lookupNested(settings, "server.port"))
	assert.Equal(t, "x", lookupNested(settings, "data"))
	assert.Nil(t, lookupNested(settings, "data.nested"))
	assert.Nil(t, lookupNested(settings, "missing"))
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	VersionCmd.SetOut(&buf)
	VersionCmd.SetArgs([]string{"--json"})
	t.Cleanup(func() {
		VersionCmd.SetOut(nil)
		VersionCmd.SetArgs(nil)
	})
	require.NoError(t, VersionCmd.Execute())

	var info version.Info
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
}
