package am

import (
	"net"
	"strconv"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir)

	// Retention: one week, swept every six hours
	v.SetDefault("retention.window", "168h")
	v.SetDefault("retention.interval", "6h")

	v.SetDefault("history.backend", HistoryBackendJSON)
	v.SetDefault("history.sqlite_path", "")

	v.SetDefault("secrets.hf_token", "")
	v.SetDefault("secrets.extra", []string{})

	v.SetDefault("engine.kind", EngineKindPlaceholder)
	v.SetDefault("engine.ffmpeg_path", "ffmpeg")
	v.SetDefault("engine.whisper_path", "whisper-cli")
	v.SetDefault("engine.model_path", "")
	v.SetDefault("engine.language", "")
	v.SetDefault("engine.extra_args", "")

	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.allow_private", false)
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.page_hosts", []string{"youtube.com", "youtu.be"})
	v.SetDefault("fetch.ytdlp_path", "yt-dlp")
	v.SetDefault("fetch.page_timeout", "10m")

	v.SetDefault("server.host", DefaultServerHost)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.max_upload_bytes", DefaultMaxUploadBytes)
	v.SetDefault("server.submit_rate_per_minute", 60)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("diagnostics.binaries", []string{"ffmpeg", "yt-dlp"})
	v.SetDefault("diagnostics.min_free_bytes", DefaultMinFreeBytes)
}

// BindSensitiveEnvVars binds secrets to their conventional environment
// variables in addition to the SCRIBE_ prefixed form.
func BindSensitiveEnvVars(v *viper.Viper) {
	// First name wins: SCRIBE_SECRETS_HF_TOKEN, then SCRIBE_HF_TOKEN, then HF_TOKEN
	v.BindEnv("secrets.hf_token", EnvPrefix+"_SECRETS_HF_TOKEN", EnvPrefix+"_HF_TOKEN", "HF_TOKEN")
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
