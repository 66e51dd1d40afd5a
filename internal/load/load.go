// Package load writes an extracted dataset to the destination schema in
// dependency order, inside a single transaction.
package load

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/db"
	"github.com/sells-group/crm-migrate/internal/model"
)

// Destination tables.
const (
	TablePerson            = "people.person"
	TableProfile           = "people.profile"
	TableAddress           = "people.address"
	TablePledge            = "pledges.pledge"
	TableOrganization      = "organizations.organization"
	TableCurrency          = "pledges.currency"
	TableReportedDonation  = "pledges.reported_donation"
	TableRecurringDonation = "pledges.recurring_donation"
	TableIncome            = "pledges.income"
)

// Options names the contact fields the pledge step reads.
type Options struct {
	PledgePercentageField string
	JoiningDateField      string
}

// Writer loads datasets into the destination pool.
type Writer struct {
	pool db.Pool
	opts Options
}

// NewWriter creates a Writer.
func NewWriter(pool db.Pool, opts Options) *Writer {
	return &Writer{pool: pool, opts: opts}
}

// Result reports rows written per destination table.
type Result struct {
	Counts map[string]int64
}

// Total returns the sum of all table counts.
func (r *Result) Total() int64 {
	var n int64
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Load writes ds. Any failure rolls back every write of the run.
func (w *Writer) Load(ctx context.Context, ds *model.Dataset) (*Result, error) {
	log := zap.L().With(zap.String("component", "load"))
	start := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res := &Result{Counts: make(map[string]int64)}
	record := func(table string, n int64) {
		res.Counts[table] = n
		log.Info("load: table written", zap.String("table", table), zap.Int64("rows", n))
	}

	people, err := upsertPeople(ctx, tx, ds.Contacts)
	if err != nil {
		return nil, err
	}
	record(TablePerson, int64(len(people)))

	perPerson := []struct {
		table string
		cfg   db.UpsertConfig
		rows  func() [][]any
	}{
		{TableProfile, profileUpsert, func() [][]any { return profileRows(ds.Contacts, people) }},
		{TableAddress, addressUpsert, func() [][]any { return addressRows(ds.Contacts, people) }},
		{TablePledge, pledgeUpsert, func() [][]any { return w.pledgeRows(ds.Contacts, people) }},
	}
	for _, step := range perPerson {
		n, err := db.BulkUpsert(ctx, tx, step.cfg, step.rows())
		if err != nil {
			return nil, eris.Wrapf(err, "load: %s", step.table)
		}
		record(step.table, n)
	}

	orgs, err := upsertOrganizations(ctx, tx, ds.Charities)
	if err != nil {
		return nil, err
	}
	record(TableOrganization, int64(len(orgs)))

	n, err := db.BulkUpsert(ctx, tx, currencyUpsert, currencyRows(ds.CurrencyCodes))
	if err != nil {
		return nil, eris.Wrap(err, "load: currencies")
	}
	record(TableCurrency, n)

	links := &linkage{people: people, orgs: orgs}
	children := []struct {
		table string
		cfg   db.UpsertConfig
		rows  func() ([][]any, error)
	}{
		{TableReportedDonation, donationUpsert, func() ([][]any, error) { return donationRows(ds.Donations, links) }},
		{TableRecurringDonation, recurringUpsert, func() ([][]any, error) { return recurringRows(ds.RecurringDonations, links) }},
		{TableIncome, incomeUpsert, func() ([][]any, error) { return incomeRows(ds.ReportedIncome, links) }},
	}
	for _, step := range children {
		rows, err := step.rows()
		if err != nil {
			return nil, err
		}
		n, err := db.BulkUpsert(ctx, tx, step.cfg, rows)
		if err != nil {
			return nil, eris.Wrapf(err, "load: %s", step.table)
		}
		record(step.table, n)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "load: commit")
	}
	log.Info("load: complete",
		zap.Int64("rows", res.Total()),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}
