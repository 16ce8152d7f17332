// Package am loads scribe's configuration ("am" = as-modified) from layered
// TOML files, environment variables and a local .env file.
package am

import (
	"strings"
	"time"
)

// Config represents the scribe configuration
type Config struct {
	DataDir     string            `mapstructure:"data_dir" toml:"data_dir"`
	Retention   RetentionConfig   `mapstructure:"retention" toml:"retention"`
	History     HistoryConfig     `mapstructure:"history" toml:"history"`
	Secrets     SecretsConfig     `mapstructure:"secrets" toml:"secrets"`
	Engine      EngineConfig      `mapstructure:"engine" toml:"engine"`
	Fetch       FetchConfig       `mapstructure:"fetch" toml:"fetch"`
	Server      ServerConfig      `mapstructure:"server" toml:"server"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" toml:"diagnostics"`
}

// RetentionConfig controls how long finished jobs and their files are kept.
type RetentionConfig struct {
	Window   time.Duration `mapstructure:"window" toml:"window"`     // 0 evicts every terminal job on the next tick
	Interval time.Duration `mapstructure:"interval" toml:"interval"` // time between cleanup ticks
}

// HistoryConfig selects the history backend
type HistoryConfig struct {
	Backend    string `mapstructure:"backend" toml:"backend"`         // "json" or "sqlite"
	SQLitePath string `mapstructure:"sqlite_path" toml:"sqlite_path"` // empty = {data_dir}/history.db
}

// SecretsConfig holds values that must never appear in logs or job state.
type SecretsConfig struct {
	HFToken string   `mapstructure:"hf_token" toml:"hf_token"`
	Extra   []string `mapstructure:"extra" toml:"extra"`
}

// EngineConfig selects and configures the transcription engine
type EngineConfig struct {
	Kind        string `mapstructure:"kind" toml:"kind"` // "placeholder" or "whisper"
	FFmpegPath  string `mapstructure:"ffmpeg_path" toml:"ffmpeg_path"`
	WhisperPath string `mapstructure:"whisper_path" toml:"whisper_path"`
	ModelPath   string `mapstructure:"model_path" toml:"model_path"` // model file or directory of .bin/.gguf files
	Language    string `mapstructure:"language" toml:"language"`
	ExtraArgs   string `mapstructure:"extra_args" toml:"extra_args"` // shell-quoted
}

// FetchConfig configures URL downloads
type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" toml:"timeout"`
	AllowPrivate bool          `mapstructure:"allow_private" toml:"allow_private"` // permit loopback and private networks
	MaxRedirects int           `mapstructure:"max_redirects" toml:"max_redirects"`
	PageHosts    []string      `mapstructure:"page_hosts" toml:"page_hosts"` // hosts downloaded through yt-dlp; empty disables
	YTDLPPath    string        `mapstructure:"ytdlp_path" toml:"ytdlp_path"`
	PageTimeout  time.Duration `mapstructure:"page_timeout" toml:"page_timeout"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host                string        `mapstructure:"host" toml:"host"`
	Port                int           `mapstructure:"port" toml:"port"`
	MaxUploadBytes      int64         `mapstructure:"max_upload_bytes" toml:"max_upload_bytes"`
	SubmitRatePerMinute int           `mapstructure:"submit_rate_per_minute" toml:"submit_rate_per_minute"` // 0 = unlimited
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DiagnosticsConfig configures the environment checks run by doctor and /health
type DiagnosticsConfig struct {
	Binaries     []string `mapstructure:"binaries" toml:"binaries"`
	MinFreeBytes int64    `mapstructure:"min_free_bytes" toml:"min_free_bytes"`
}

// Defaults
const (
	DefaultDataDir        = "data"
	DefaultServerHost     = "127.0.0.1"
	DefaultServerPort     = 8000
	DefaultMaxUploadBytes = 500 << 20
	DefaultMinFreeBytes   = 2 << 30

	HistoryBackendJSON   = "json"
	HistoryBackendSQLite = "sqlite"

	EngineKindPlaceholder = "placeholder"
	EngineKindWhisper     = "whisper"
)

// DefaultDirPermissions is used for directories created by the config layer
const DefaultDirPermissions = 0o755

// SecretValues returns every non-empty configured secret.
func (c *Config) SecretValues() []string {
	var out []string
	if s := strings.TrimSpace(c.Secrets.HFToken); s != "" {
		out = append(out, s)
	}
	for _, extra := range c.Secrets.Extra {
		if s := strings.TrimSpace(extra); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Address returns host:port for the HTTP listener.
func (c *ServerConfig) Address() string {
	return joinHostPort(c.Host, c.Port)
}
