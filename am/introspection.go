package am

import (
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/scribe/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/scribe/am.toml
	SourceUser        ConfigSource = "user"        // ~/.scribe/am.toml
	SourceProject     ConfigSource = "project"     // project am.toml
	SourceEnvironment ConfigSource = "environment" // SCRIBE_* env vars
)

// MaskedValue replaces secret values in introspection output
const MaskedValue = "***"

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key" yaml:"key"`
	Value      interface{}  `json:"value" yaml:"value"`
	Source     ConfigSource `json:"source" yaml:"source"`
	SourcePath string       `json:"source_path,omitempty" yaml:"source_path,omitempty"` // File path or env var name
}

// ConfigIntrospection provides metadata about the active configuration
type ConfigIntrospection struct {
	ConfigFile string        `json:"config_file" yaml:"config_file"`
	Settings   []SettingInfo `json:"settings" yaml:"settings"`
}

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or environment variable name
}

// GetConfigIntrospection returns every effective setting with its source.
// Secret values are masked.
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	if _, err := Load(); err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}
	v := GetViper()

	loadMu.Lock()
	sources := make(map[string]SourceInfo, len(ConfigSources))
	for k, si := range ConfigSources {
		sources[k] = si
	}
	file := activeFile
	loadMu.Unlock()

	introspection := &ConfigIntrospection{
		ConfigFile: file,
		Settings:   make([]SettingInfo, 0),
	}
	flattenSettingsWithSources(MaskedSettings(v), "", introspection, sources)
	return introspection, nil
}

// MaskedSettings returns v.AllSettings() with secret values replaced.
func MaskedSettings(v *viper.Viper) map[string]interface{} {
	settings := v.AllSettings()
	secrets, ok := settings["secrets"].(map[string]interface{})
	if !ok {
		return settings
	}
	for key, value := range secrets {
		secrets[key] = maskValue(value)
	}
	return settings
}

func maskValue(value interface{}) interface{} {
	switch val := value.(type) {
	case string:
		if val == "" {
			return val
		}
		return MaskedValue
	case []string:
		masked := make([]string, len(val))
		for i := range masked {
			masked[i] = MaskedValue
		}
		return masked
	case []interface{}:
		masked := make([]interface{}, len(val))
		for i := range masked {
			masked[i] = MaskedValue
		}
		return masked
	default:
		return MaskedValue
	}
}

// flattenSettingsWithSources flattens settings and assigns sources from sourceMap
func flattenSettingsWithSources(settings map[string]interface{}, prefix string, introspection *ConfigIntrospection, sourceMap map[string]SourceInfo) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nestedMap, ok := value.(map[string]interface{}); ok {
			flattenSettingsWithSources(nestedMap, fullKey, introspection, sourceMap)
			continue
		}

		sourceInfo := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sourceMap[fullKey]; ok {
			sourceInfo = si
		}
		if envKey, ok := envOverride(fullKey); ok {
			sourceInfo = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		introspection.Settings = append(introspection.Settings, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     sourceInfo.Source,
			SourcePath: sourceInfo.Path,
		})
	}
}

// envOverride reports the environment variable overriding key, if any.
func envOverride(key string) (string, bool) {
	candidates := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
	if key == "secrets.hf_token" {
		candidates = append(candidates, EnvPrefix+"_HF_TOKEN", "HF_TOKEN")
	}
	for _, name := range candidates {
		if os.Getenv(name) != "" {
			return name, true
		}
	}
	return "", false
}

// GetConfigSummary returns the number of settings per source
func GetConfigSummary() map[string]interface{} {
	summary := map[string]interface{}{
		"config_file": "",
		"sources":     map[string]int{},
	}

	introspection, err := GetConfigIntrospection()
	if err != nil {
		return summary
	}
	summary["config_file"] = introspection.ConfigFile

	sources := summary["sources"].(map[string]int)
	for _, setting := range introspection.Settings {
		sources[string(setting.Source)]++
	}
	return summary
}
