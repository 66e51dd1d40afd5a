package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show migration run history",
	Long:  "Displays every recorded load and run with its status, duration and rows written.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("load"); err != nil {
			return err
		}

		pool, err := openDestination(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		runs := runlog.New(pool)
		if kind, _ := cmd.Flags().GetString("last"); kind != "" {
			at, err := runs.LastSuccess(ctx, kind)
			if err != nil {
				return eris.Wrap(err, "runs")
			}
			formatLastSuccess(os.Stdout, kind, at)
			return nil
		}

		entries, err := runs.ListAll(ctx)
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if len(entries) == 0 {
			zap.L().Info("no runs found, run 'crm-migrate run' or 'crm-migrate load' first")
			return nil
		}

		formatRunEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	runsCmd.Flags().String("last", "", "only show when the last successful run of this kind (load, run) started")
	rootCmd.AddCommand(runsCmd)
}

func formatLastSuccess(out io.Writer, kind string, at *time.Time) {
	if at == nil {
		_, _ = fmt.Fprintf(out, "no successful %s run\n", kind)
		return
	}
	_, _ = fmt.Fprintf(out, "last successful %s run: %s\n", kind, at.UTC().Format(time.RFC3339))
}

// formatRunEntries writes a tabular representation of run log entries to w.
func formatRunEntries(out io.Writer, entries []runlog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t----\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID,
			e.Kind,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.RowsWritten,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
