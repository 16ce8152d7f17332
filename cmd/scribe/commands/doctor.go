package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/scribe/diagnostics"
	"github.com/teranos/scribe/errors"
)

// DoctorCmd validates the host environment
var DoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check external tools and the data directory",
	Long: `Run the environment checks also reported by GET /health:
configured binaries on PATH, the whisper model (whisper engine only), and a
writable data directory with at least diagnostics.min_free_bytes free.

Exits non-zero when any check fails.`,
	RunE: runDoctor,
}

var doctorJSON bool

func init() {
	DoctorCmd.Flags().BoolVarP(&doctorJSON, "json", "j", false, "Output the report as JSON")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	report := diagnostics.NewChecker().Run(diagnosticsSettings(cfg))
	if doctorJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal report")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else if err := renderReport(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	if report.HasFailures {
		return errors.New("environment checks failed")
	}
	return nil
}

func renderReport(w io.Writer, report diagnostics.Report) error {
	data := pterm.TableData{{"Check", "Status", "Details", "Hint"}}
	for _, item := range report.Items {
		data = append(data, []string{item.Name, statusLabel(item.Status), item.Message, item.Hint})
	}
	return pterm.DefaultTable.
		WithHasHeader().
		WithData(data).
		WithWriter(w).
		Render()
}

func statusLabel(s diagnostics.Status) string {
	switch s {
	case diagnostics.StatusPass:
		return pterm.Green("✓ pass")
	case diagnostics.StatusWarn:
		return pterm.Yellow("! warn")
	default:
		return pterm.Red("✗ fail")
	}
}
