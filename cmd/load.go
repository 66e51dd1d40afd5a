package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/db"
	"github.com/sells-group/crm-migrate/internal/dump"
	"github.com/sells-group/crm-migrate/internal/load"
	"github.com/sells-group/crm-migrate/internal/migrate"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/runlog"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a previous export into the destination",
	Long:  "Reads the JSON collections written by export, applies destination migrations and upserts every collection.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("load"); err != nil {
			return err
		}

		dir, _ := cmd.Flags().GetString("from")
		if dir == "" {
			dir = cfg.Output.Dir
		}
		ds, m, err := dump.Read(dir)
		if err != nil {
			return eris.Wrap(err, "load")
		}
		zap.L().Info("loaded export", zap.String("dir", dir), zap.String("run_id", m.RunID))

		pool, err := openDestination(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		return loadDataset(ctx, pool, "load", ds)
	},
}

// loadDataset migrates the destination, then loads ds with the run recorded
// in the run log whether it succeeds or fails.
func loadDataset(ctx context.Context, pool db.Pool, kind string, ds *model.Dataset) error {
	log := zap.L().With(zap.String("component", "cmd.load"))

	if err := migrate.Migrate(ctx, pool); err != nil {
		return eris.Wrap(err, kind)
	}

	runs := runlog.New(pool)
	runID, err := runs.Start(ctx, kind)
	if err != nil {
		return err
	}

	w := load.NewWriter(pool, load.Options{
		PledgePercentageField: cfg.Policy.PledgePercentageField,
		JoiningDateField:      cfg.Policy.JoiningDateField,
	})
	res, err := w.Load(ctx, ds)
	if err != nil {
		if failErr := runs.Fail(ctx, runID, err.Error()); failErr != nil {
			log.Warn("failed to record run failure", zap.Int64("run_id", runID), zap.Error(failErr))
		}
		return eris.Wrap(err, kind)
	}

	if err := runs.Complete(ctx, runID, res.Counts); err != nil {
		return err
	}
	log.Info("load complete", zap.Int64("run_id", runID), zap.Int64("rows", res.Total()))
	return nil
}

func init() {
	loadCmd.Flags().String("from", "", "export directory to load (default output.dir)")
	rootCmd.AddCommand(loadCmd)
}
