package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-migrate/internal/dump"
	"github.com/sells-group/crm-migrate/internal/extract"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract from the source and load into the destination",
	Long:  "Runs the full migration: extraction, an optional JSON export, destination migrations and the load.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		applyLimitFlag(cmd)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		src, err := openSource(ctx)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		pool, err := openDestination(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		ds, err := extract.Extract(ctx, src, extract.OptionsFromConfig(cfg))
		if err != nil {
			return eris.Wrap(err, "run")
		}

		if save, _ := cmd.Flags().GetBool("save"); save {
			if err := dump.Write(cfg.Output.Dir, ds, dump.NewManifest(ds, cfg.Source.Driver, cfg.Extract.Limit)); err != nil {
				return eris.Wrap(err, "run")
			}
		}

		return loadDataset(ctx, pool, "run", ds)
	},
}

func init() {
	runCmd.Flags().Int("limit", 0, "cap the number of extracted contacts (0 = all)")
	runCmd.Flags().Bool("save", false, "also write the extracted collections to output.dir")
	rootCmd.AddCommand(runCmd)
}
