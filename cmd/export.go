package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/dump"
	"github.com/sells-group/crm-migrate/internal/extract"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Extract contacts and ledgers to JSON files",
	Long:  "Runs the extraction pipeline against the source database and writes one JSON file per collection to output.dir.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		applyLimitFlag(cmd)
		if err := cfg.Validate("extract"); err != nil {
			return err
		}

		src, err := openSource(ctx)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		ds, err := extract.Extract(ctx, src, extract.OptionsFromConfig(cfg))
		if err != nil {
			return eris.Wrap(err, "export")
		}

		m := dump.NewManifest(ds, cfg.Source.Driver, cfg.Extract.Limit)
		if err := dump.Write(cfg.Output.Dir, ds, m); err != nil {
			return eris.Wrap(err, "export")
		}

		zap.L().Info("export complete", zap.String("dir", cfg.Output.Dir), zap.String("run_id", m.RunID))
		return nil
	},
}

// applyLimitFlag overrides extract.limit when --limit was given.
func applyLimitFlag(cmd *cobra.Command) {
	if cmd.Flags().Changed("limit") {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg.Extract.Limit = limit
	}
}

func init() {
	exportCmd.Flags().Int("limit", 0, "cap the number of extracted contacts (0 = all)")
	rootCmd.AddCommand(exportCmd)
}
