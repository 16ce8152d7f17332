package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/history"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/sym"
)

// HistoryCmd lists finished-job records
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: sym.AX + " List finished jobs",
	Long: sym.AX + ` history — List finished jobs

Reads the history repository configured by history.backend without starting
a dispatcher. Records are shown in insertion order.

Examples:
  scribe history                 # Table output
  scribe history --format json   # JSON array
  scribe history --limit 10      # Last 10 records`,
	RunE: runHistory,
}

var (
	historyFormat string
	historyLimit  int
)

func init() {
	HistoryCmd.Flags().StringVar(&historyFormat, "format", "table", "Output format: table, json, yaml")
	HistoryCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show only the most recent N records (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openHistory(cfg, logger.AddDBSymbol(logger.Logger))
	if err != nil {
		return errors.Wrap(err, "failed to open history")
	}
	defer repo.Close()

	records, err := repo.List(context.Background())
	if err != nil {
		return errors.Wrap(err, "failed to read history")
	}
	if historyLimit > 0 && len(records) > historyLimit {
		records = records[len(records)-historyLimit:]
	}

	return writeRecords(cmd.OutOrStdout(), records, historyFormat)
}

func writeRecords(w io.Writer, records []history.Record, format string) error {
	if records == nil {
		records = []history.Record{}
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal history to JSON")
		}
		fmt.Fprintln(w, string(data))
		return nil

	case "yaml":
		data, err := yaml.Marshal(records)
		if err != nil {
			return errors.Wrap(err, "failed to marshal history to YAML")
		}
		_, err = w.Write(data)
		return err

	case "table":
		if len(records) == 0 {
			fmt.Fprintln(w, "No finished jobs")
			return nil
		}
		data := pterm.TableData{{"ID", "Status", "Progress", "Result", "Finished"}}
		for _, r := range records {
			result := "-"
			if r.ResultPath != nil {
				result = *r.ResultPath
			}
			data = append(data, []string{
				r.ID,
				r.Status,
				strconv.FormatFloat(r.Progress*100, 'f', 0, 64) + "%",
				result,
				r.UpdatedAt.String(),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()

	default:
		return errors.Newf("unsupported format: %s (supported: table, json, yaml)", format)
	}
}
