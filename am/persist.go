package am

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/teranos/scribe/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	// .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to delete old backup %s: %v\n", back3, err)
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, 0o600); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// SetValue writes key = raw into the TOML file at configPath, creating it if
// needed. The raw string is converted to the type of the key's default
// (bool, integer, string list or string). The file is only replaced when the
// resulting configuration validates; the previous version is kept as .back1.
func SetValue(configPath, key, raw string) error {
	defaults := viper.New()
	SetDefaults(defaults)
	if !defaults.IsSet(key) || isSection(defaults, key) {
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown config key %q", key)
	}

	value, err := convertValue(defaults.Get(key), raw)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "%s: %v", key, err)
	}

	doc := make(map[string]interface{})
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &doc); err != nil {
			return errors.Wrapf(err, "failed to parse %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to read %s", configPath)
	}
	setNested(doc, strings.Split(key, "."), value)

	data, err := toml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := validateDocument(data); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}

func isSection(v *viper.Viper, key string) bool {
	_, ok := v.Get(key).(map[string]interface{})
	return ok
}

func convertValue(def interface{}, raw string) (interface{}, error) {
	switch def.(type) {
	case bool:
		return strconv.ParseBool(raw)
	case int, int64:
		return strconv.ParseInt(raw, 10, 64)
	case []string:
		if strings.TrimSpace(raw) == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return raw, nil
	}
}

func setNested(doc map[string]interface{}, path []string, value interface{}) {
	for _, part := range path[:len(path)-1] {
		next, ok := doc[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			doc[part] = next
		}
		doc = next
	}
	doc[path[len(path)-1]] = value
}

// validateDocument decodes a TOML document over the defaults and validates it.
func validateDocument(data []byte) error {
	v := viper.New()
	v.SetConfigType("toml")
	SetDefaults(v)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return errors.Wrap(err, "failed to parse updated config")
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.WithSecondaryError(errors.Wrap(errors.ErrInvalidRequest, err.Error()), err)
	}
	return nil
}
