package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/teranos/scribe/errors"
)

// EnvPrefix prefixes every environment override (SCRIBE_DATA_DIR, ...)
const EnvPrefix = "SCRIBE"

// ConfigFileName is the file name searched for in each config location
const ConfigFileName = "am.toml"

var (
	loadMu        sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
	activeFile    string

	// ConfigSources records which file set each key during the last load.
	// Keys not present fall back to their default.
	ConfigSources = map[string]SourceInfo{}

	// Overridable for tests
	systemConfigPath = filepath.Join("/etc", "scribe", ConfigFileName)
	dotEnvPath       = ".env"
)

// Load reads the scribe configuration using Viper. The result is cached
// until Reset.
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViperLocked()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	loadMu.Lock()
	defer loadMu.Unlock()
	return initViperLocked()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path, on top of
// defaults but without environment overrides.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}
	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()

	globalConfig = nil
	viperInstance = nil
	activeFile = ""
	ConfigSources = map[string]SourceInfo{}
}

// ActiveConfigFile returns the highest-precedence config file merged by the
// last load, or "" when only defaults and environment were used.
func ActiveConfigFile() string {
	loadMu.Lock()
	defer loadMu.Unlock()
	initViperLocked()
	return activeFile
}

func initViperLocked() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	loadDotEnv(dotEnvPath)

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)

	// system -> user -> project, env vars still win over all of them
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// loadDotEnv exports variables from a .env file without overriding values
// already present in the environment. A missing file is not an error.
func loadDotEnv(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		// Malformed .env files are reported on stderr; config still loads
		fmt.Fprintf(os.Stderr, "scribe: ignoring %s: %v\n", path, err)
	}
}

// UserConfigDir returns ~/.scribe, or "" when the home directory is unknown.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".scribe")
}

// UserConfigPath returns ~/.scribe/am.toml
func UserConfigPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, ConfigFileName)
}

// findProjectConfig walks up from the working directory looking for am.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// mergeConfigFiles deep-merges config files into viper's config layer, so a
// file that sets one key of a section keeps the defaults of its siblings and
// environment variables still take precedence.
// Precedence (lowest to highest): system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	type layer struct {
		path   string
		source ConfigSource
	}
	layers := []layer{{systemConfigPath, SourceSystem}}
	if user := UserConfigPath(); user != "" {
		layers = append(layers, layer{user, SourceUser})
	}
	if project := findProjectConfig(); project != "" && project != UserConfigPath() {
		layers = append(layers, layer{project, SourceProject})
	}

	for _, l := range layers {
		if _, err := os.Stat(l.path); err != nil {
			continue
		}
		fileViper := viper.New()
		fileViper.SetConfigFile(l.path)
		fileViper.SetConfigType("toml")
		if err := fileViper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "scribe: skipping unreadable config %s: %v\n", l.path, err)
			continue
		}

		if err := v.MergeConfigMap(fileViper.AllSettings()); err != nil {
			fmt.Fprintf(os.Stderr, "scribe: failed to merge config %s: %v\n", l.path, err)
			continue
		}
		for _, key := range fileViper.AllKeys() {
			ConfigSources[key] = SourceInfo{Source: l.source, Path: l.path}
		}
		activeFile = l.path
	}
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	return GetViper().Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return GetViper().GetString(key)
}

// GetBool returns a configuration value as bool using dot notation
func GetBool(key string) bool {
	return GetViper().GetBool(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	return GetViper().GetInt(key)
}
