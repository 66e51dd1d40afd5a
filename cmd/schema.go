package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-migrate/internal/extract"
	"github.com/sells-group/crm-migrate/internal/query"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the discovered custom-field schema and contact query",
	Long:  "Discovers extension tables, assembles the contact query and prints it with its output columns. No contacts are fetched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("extract"); err != nil {
			return err
		}

		src, err := openSource(ctx)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		plan, err := extract.Plan(ctx, src, extract.OptionsFromConfig(cfg))
		if err != nil {
			return eris.Wrap(err, "schema")
		}

		printPlan(os.Stdout, plan)
		return nil
	},
}

func printPlan(out io.Writer, plan *query.Assembled) {
	_, _ = fmt.Fprintln(out, plan.SQL)
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "%d columns:\n", len(plan.Aliases))
	for _, alias := range plan.Aliases {
		if owner, ok := plan.Owner[alias]; ok {
			_, _ = fmt.Fprintf(out, "  %s (%s)\n", alias, owner)
			continue
		}
		_, _ = fmt.Fprintf(out, "  %s\n", alias)
	}
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
