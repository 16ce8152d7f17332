package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage scribe configuration",
	Long: sym.AM + ` am — Manage scribe configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/scribe/am.toml)
3. User config (~/.scribe/am.toml)
4. Project config (./am.toml, searched upwards)
5. Environment variables (SCRIBE_* prefix, HF_TOKEN, .env)

Secrets are always masked in output.

Examples:
  scribe am show                    # Show current configuration
  scribe am show --format json      # Show configuration in JSON format
  scribe am get server.port         # Get a specific value
  scribe am where                   # Show where each value comes from
  scribe am set server.port 9000    # Persist a value to ~/.scribe/am.toml
  scribe am validate                # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the merged configuration from all sources with secrets masked",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a configuration value using dot notation (e.g., server.port, retention.window)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate the merged configuration and report unknown keys in the active config file",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each configuration value comes from",
	RunE:  runAmWhere,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Long: `Write a single value to the user config file (or ./am.toml with --project).

The value is converted to the key's type, and the resulting file must
validate before it is written. The previous file is kept as .back1..3.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var (
	configFormat string
	setProject   bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amSetCmd.Flags().BoolVar(&setProject, "project", false, "Write to ./am.toml instead of the user config")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amSetCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	return writeSettings(cmd.OutOrStdout(), am.MaskedSettings(am.GetViper()), configFormat)
}

func writeSettings(w io.Writer, settings map[string]interface{}, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(w, string(data))

	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(w, "# scribe configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(w, "# scribe configuration\n%s", string(data))

	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	v := am.GetViper()
	if !v.IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}

	// Route through the masked view so secrets never reach the terminal
	value := lookupNested(am.MaskedSettings(v), key)
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	if path := am.ActiveConfigFile(); path != "" {
		unknown, err := am.UnknownKeys(path)
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", path)
		}
		for _, key := range unknown {
			pterm.Warning.Printfln("Unknown key %q in %s", key, path)
		}
	}

	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return errors.Wrap(err, "failed to get config introspection")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Configuration cascade (later overrides earlier):")
	fmt.Fprintln(w, "  1. [DEFAULT]  Built-in defaults")
	fmt.Fprintln(w, "  2. [SYSTEM]   /etc/scribe/am.toml")
	fmt.Fprintf(w, "  3. [USER]     %s\n", am.UserConfigPath())
	fmt.Fprintln(w, "  4. [PROJECT]  ./am.toml (searches up directories)")
	fmt.Fprintln(w, "  5. [ENV]      SCRIBE_* environment variables")
	fmt.Fprintln(w)

	settings := append([]am.SettingInfo(nil), intro.Settings...)
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })

	data := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range settings {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func runAmSet(cmd *cobra.Command, args []string) error {
	path := am.UserConfigPath()
	if setProject {
		wd, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "failed to resolve working directory")
		}
		path = filepath.Join(wd, am.ConfigFileName)
	}

	if err := am.SetValue(path, args[0], args[1]); err != nil {
		return err
	}
	am.Reset()
	pterm.Success.Printfln("Set %s in %s", args[0], path)
	return nil
}

// lookupNested resolves a dotted key in a nested settings map
func lookupNested(settings map[string]interface{}, key string) interface{} {
	var current interface{} = settings
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
