// Package extract runs the extraction half of a migration: discover the
// extension schema, assemble and run the contact query, resolve reference
// codes and split the ledgers.
package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/config"
	"github.com/sells-group/crm-migrate/internal/ledger"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/query"
	"github.com/sells-group/crm-migrate/internal/reference"
	"github.com/sells-group/crm-migrate/internal/schema"
	"github.com/sells-group/crm-migrate/internal/source"
)

// Options configures one extraction run.
type Options struct {
	ExtensionPrefix string
	Filter          query.Filter
	Limit           int
	Offset          int
	Ledger          ledger.Options
	// JoiningDateField is read by the pledge load step.
	JoiningDateField string
}

// OptionsFromConfig maps configuration onto extraction options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ExtensionPrefix: cfg.Source.ExtensionPrefix,
		Filter: query.Filter{
			Column:    "contact_type",
			Equals:    cfg.Extract.ContactType,
			AnyTruthy: cfg.Extract.MemberFlags,
		},
		Limit:  cfg.Extract.Limit,
		Offset: cfg.Extract.SampleOffset,
		Ledger: ledger.Options{
			LedgerField: cfg.Extract.LedgerField,
			Sentinel:    cfg.Extract.LedgerSentinel,
			DateFields:  cfg.Extract.DateFields,
			Policy: ledger.Policy{
				FiscalMonth:             cfg.Policy.FiscalYear.Month,
				FiscalDay:               cfg.Policy.FiscalYear.Day,
				DefaultPledgePercentage: cfg.Policy.DefaultPledgePercentage,
				CoreMemberFlag:          cfg.Policy.CoreMemberFlag,
				PledgePercentageField:   cfg.Policy.PledgePercentageField,
				IncomeOffsetMs:          cfg.Policy.IncomeOffsetMs,
			},
		},
		JoiningDateField: cfg.Policy.JoiningDateField,
	}
}

// Plan discovers the extension schema and assembles the contact query
// without fetching any contacts. Every field the business rules read must be
// produced by the query.
func Plan(ctx context.Context, q source.Querier, opts Options) (*query.Assembled, error) {
	ext, err := schema.Discover(ctx, q, opts.ExtensionPrefix)
	if err != nil {
		return nil, err
	}

	assembled, err := query.Build(query.ContactSpec(opts.Filter, opts.Limit, opts.Offset), ext, q.Dialect())
	if err != nil {
		return nil, err
	}

	pol := opts.Ledger.Policy
	if err := assembled.Require(
		opts.Ledger.LedgerField,
		pol.PledgePercentageField,
		pol.CoreMemberFlag,
		opts.JoiningDateField,
	); err != nil {
		return nil, err
	}
	return assembled, nil
}

// Extract runs every extraction stage in order. Each stage consumes only the
// previous stage's output.
func Extract(ctx context.Context, q source.Querier, opts Options) (*model.Dataset, error) {
	log := zap.L().With(zap.String("component", "extract"))

	stage := func(name string, fn func() error) error {
		start := time.Now()
		if err := fn(); err != nil {
			log.Error("extract: stage failed", zap.String("stage", name), zap.Error(err))
			return err
		}
		log.Info("extract: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	var assembled *query.Assembled
	if err := stage("plan", func() (err error) {
		assembled, err = Plan(ctx, q, opts)
		return err
	}); err != nil {
		return nil, err
	}

	var rows []model.Record
	if err := stage("query", func() (err error) {
		rows, err = q.Query(ctx, assembled.SQL)
		if err != nil {
			return eris.Wrap(err, "extract: contact query")
		}
		log.Info("extract: contacts fetched", zap.Int("rows", len(rows)))
		return nil
	}); err != nil {
		return nil, err
	}

	var resolved []model.Record
	if err := stage("resolve", func() error {
		lookups, err := reference.Load(ctx, q)
		if err != nil {
			return err
		}
		resolved = lookups.Apply(rows)
		return nil
	}); err != nil {
		return nil, err
	}

	var ds *model.Dataset
	if err := stage("normalize", func() (err error) {
		ds, err = ledger.New(opts.Ledger).Normalize(resolved)
		return err
	}); err != nil {
		return nil, err
	}
	return ds, nil
}
