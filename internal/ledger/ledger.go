// Package ledger splits the embedded donation ledger of each contact into
// donation, recurring donation and income collections.
package ledger

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/fault"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/schema"
)

// Ledger-level scalars copied back onto the contact, keyed by payload field.
var scalarFields = []string{
	"defaultcurrency",
	"yearstartdate",
	"yearstartmonth",
	"lastupdated",
	"public",
}

// Policy holds the heuristics applied while deriving income records.
type Policy struct {
	// FiscalMonth and FiscalDay anchor the income year when the ledger carries
	// no anchor of its own. FiscalMonth is 1-based.
	FiscalMonth int
	FiscalDay   int
	// DefaultPledgePercentage applies to core members without a pledge.
	DefaultPledgePercentage float64
	CoreMemberFlag          string
	PledgePercentageField   string
	// IncomeOffsetMs is multiplied by the contact id and added to each income
	// period start so contacts sharing an anchor get distinct instants.
	IncomeOffsetMs int64
}

// Options configures a Normalizer.
type Options struct {
	LedgerField string
	Sentinel    string
	DateFields  []string
	Policy      Policy
}

// Normalizer turns resolved contact rows into a Dataset.
type Normalizer struct {
	opts         Options
	scalarPrefix string
}

// New returns a Normalizer for opts.
func New(opts Options) *Normalizer {
	short, _, _ := strings.Cut(opts.LedgerField, schema.Separator)
	return &Normalizer{opts: opts, scalarPrefix: short + schema.Separator}
}

// payload is the decoded ledger. Entries stay raw so the donation hash is
// computed over the entry exactly as stored.
type payload struct {
	Scalars   map[string]any
	Donations []json.RawMessage
	Recurring []json.RawMessage
	Income    map[string]json.RawMessage
}

// Normalize processes rows in order. Inputs are not modified. A ledger that
// cannot be parsed, or a repeated donation hash, aborts the whole run.
func (n *Normalizer) Normalize(rows []model.Record) (*model.Dataset, error) {
	log := zap.L().With(zap.String("component", "ledger.normalize"))
	run := newRunState()

	ds := &model.Dataset{Contacts: make([]model.Record, 0, len(rows))}
	withLedger := 0
	for _, row := range rows {
		contact, err := n.contact(row, run, ds)
		if err != nil {
			return nil, err
		}
		if contact.hadLedger {
			withLedger++
		}
		ds.Contacts = append(ds.Contacts, contact.rec)
	}

	ds.Charities = run.targets.charities()
	ds.CurrencyCodes = run.currencies.codes()

	log.Info("ledgers normalized",
		zap.Int("contacts", len(ds.Contacts)),
		zap.Int("ledgers", withLedger),
		zap.Int("donations", len(ds.Donations)),
		zap.Int("recurring_donations", len(ds.RecurringDonations)),
		zap.Int("income", len(ds.ReportedIncome)),
		zap.Int("charities", len(ds.Charities)),
		zap.Int("currencies", len(ds.CurrencyCodes)),
	)
	return ds, nil
}

type normalized struct {
	rec       model.Record
	hadLedger bool
}

func (n *Normalizer) contact(row model.Record, run *runState, ds *model.Dataset) (normalized, error) {
	rec := row.Clone()

	id, ok := rec.Int64(schema.PrimaryKey)
	if !ok {
		return normalized{}, fault.Schema(model.AsString(rec[schema.PrimaryKey]), schema.PrimaryKey, "contact row has no integer id")
	}

	for _, f := range n.opts.DateFields {
		rec[f] = NormalizeDate(rec[f])
	}

	raw := rec[n.opts.LedgerField]
	delete(rec, n.opts.LedgerField)
	for _, f := range scalarFields {
		rec[n.scalarPrefix+f] = nil
	}

	text := strings.TrimSpace(model.AsString(raw))
	if raw == nil || text == "" || text == n.opts.Sentinel {
		return normalized{rec: rec}, nil
	}

	p, err := parse(text)
	if err != nil {
		return normalized{}, fault.Ledger(model.AsString(rec[schema.PrimaryKey]), model.AsString(raw), err)
	}
	for _, f := range scalarFields {
		rec[n.scalarPrefix+f] = p.Scalars[f]
	}

	entity := model.AsString(rec[schema.PrimaryKey])
	donations, err := n.donations(id, p, run)
	if err != nil {
		return normalized{}, corrupt(entity, raw, err)
	}
	income, err := n.income(id, row, p, run)
	if err != nil {
		return normalized{}, corrupt(entity, raw, err)
	}
	recurring, err := n.recurring(id, p, run)
	if err != nil {
		return normalized{}, corrupt(entity, raw, err)
	}

	ds.Donations = append(ds.Donations, donations...)
	ds.ReportedIncome = append(ds.ReportedIncome, income...)
	ds.RecurringDonations = append(ds.RecurringDonations, recurring...)
	return normalized{rec: rec, hadLedger: true}, nil
}

// corrupt classifies an entry error as ledger corruption unless it already
// carries a fatal kind.
func corrupt(entity string, raw any, err error) error {
	if _, ok := fault.KindOf(err); ok {
		return err
	}
	return fault.Ledger(entity, model.AsString(raw), err)
}

func parse(text string) (*payload, error) {
	var doc struct {
		Donations          json.RawMessage `json:"donations"`
		RecurringDonations json.RawMessage `json:"recurringdonations"`
		Income             json.RawMessage `json:"income"`
	}
	if err := decode(text, &doc); err != nil {
		return nil, err
	}
	var scalars map[string]any
	if err := decode(text, &scalars); err != nil {
		return nil, err
	}

	p := &payload{Scalars: make(map[string]any, len(scalarFields))}
	for _, f := range scalarFields {
		p.Scalars[f] = scalars[f]
	}

	var err error
	if p.Donations, err = rawList(doc.Donations, "donations"); err != nil {
		return nil, err
	}
	if p.Recurring, err = rawList(doc.RecurringDonations, "recurringdonations"); err != nil {
		return nil, err
	}
	if p.Income, err = rawObject(doc.Income, "income"); err != nil {
		return nil, err
	}
	return p, nil
}

// decode unmarshals exactly one JSON value, keeping numbers as json.Number.
func decode(text string, v any) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return eris.Wrap(err, "ledger: decode")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return eris.New("ledger: trailing data after ledger")
	}
	return nil
}

func rawList(raw json.RawMessage, name string) ([]json.RawMessage, error) {
	if isNull(raw) {
		return nil, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrapf(err, "ledger: %s is not a list", name)
	}
	return out, nil
}

// rawObject accepts an object keyed by year. An empty list is treated as an
// empty object since PHP encodes empty maps that way.
func rawObject(raw json.RawMessage, name string) (map[string]json.RawMessage, error) {
	if isNull(raw) || bytes.Equal(bytes.TrimSpace(raw), []byte("[]")) {
		return nil, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrapf(err, "ledger: %s is not an object", name)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// entry decodes one positional ledger entry.
func entry(raw json.RawMessage) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out []any
	if err := dec.Decode(&out); err != nil {
		return nil, eris.Wrap(err, "ledger: entry is not a list")
	}
	return out, nil
}

func at(e []any, i int) any {
	if i < len(e) {
		return e[i]
	}
	return nil
}

func target(e []any, i int) (string, error) {
	s, ok := at(e, i).(string)
	if !ok {
		return "", eris.Errorf("ledger: entry target at position %d is not a string", i)
	}
	return strings.TrimSpace(s), nil
}

func float(v any) *float64 {
	if f, ok := model.AsFloat64(v); ok {
		return &f
	}
	return nil
}
