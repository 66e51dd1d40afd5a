package load

import (
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/crm-migrate/internal/db"
	"github.com/sells-group/crm-migrate/internal/fault"
	"github.com/sells-group/crm-migrate/internal/model"
)

var (
	profileUpsert = db.UpsertConfig{
		Table:        TableProfile,
		Columns:      []string{"person_id", "first_name", "last_name", "job_title", "phone", "birth_date"},
		ConflictKeys: []string{"person_id"},
	}
	addressUpsert = db.UpsertConfig{
		Table:        TableAddress,
		Columns:      []string{"person_id", "address_1", "address_2", "address_3", "city", "postal_code", "region", "country_code"},
		ConflictKeys: []string{"person_id", "address_1", "city", "postal_code"},
	}
	pledgeUpsert = db.UpsertConfig{
		Table:        TablePledge,
		Columns:      []string{"person_id", "start_date", "pledge_percentage"},
		ConflictKeys: []string{"person_id", "start_date"},
	}
	currencyUpsert = db.UpsertConfig{
		Table:        TableCurrency,
		Columns:      []string{"code"},
		ConflictKeys: []string{"code"},
	}
	donationUpsert = db.UpsertConfig{
		Table:        TableReportedDonation,
		Columns:      []string{"person_id", "organization_id", "timestamp", "amount", "currency_code", "source_hash"},
		ConflictKeys: []string{"person_id", "organization_id", "timestamp", "amount"},
	}
	recurringUpsert = db.UpsertConfig{
		Table: TableRecurringDonation,
		Columns: []string{"person_id", "organization_id", "start_timestamp", "end_timestamp",
			"frequency_unit", "frequency", "amount", "currency_code"},
		ConflictKeys: []string{"person_id", "organization_id", "start_timestamp", "amount"},
	}
	incomeUpsert = db.UpsertConfig{
		Table:        TableIncome,
		Columns:      []string{"person_id", "start_date", "end_date", "amount", "currency_code", "pledge_percentage"},
		ConflictKeys: []string{"person_id", "start_date", "end_date", "currency_code"},
	}
)

func profileRows(contacts []model.Record, people map[int64]int64) [][]any {
	rows := make([][]any, 0, len(contacts))
	for _, c := range contacts {
		id, _ := c.Int64(fieldID)
		rows = append(rows, []any{
			people[id],
			text(c[fieldFirstName]),
			text(c[fieldLastName]),
			text(c[fieldJobTitle]),
			text(c[fieldPhone]),
			date(c[fieldBirthDate]),
		})
	}
	return rows
}

// addressRows skips contacts with no address parts at all.
func addressRows(contacts []model.Record, people map[int64]int64) [][]any {
	var rows [][]any
	for _, c := range contacts {
		id, _ := c.Int64(fieldID)
		row := []any{
			people[id],
			text(c[fieldStreet]),
			text(c[fieldStreet2]),
			text(c[fieldStreet3]),
			text(c[fieldCity]),
			text(c[fieldPostalCode]),
			text(c[fieldRegion]),
			text(c[fieldCountryCode]),
		}
		empty := true
		for _, v := range row[1:] {
			if v != nil {
				empty = false
				break
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows
}

// pledgeRows writes a pledge for each contact with a positive percentage,
// starting on the joining date.
func (w *Writer) pledgeRows(contacts []model.Record, people map[int64]int64) [][]any {
	if w.opts.PledgePercentageField == "" {
		return nil
	}
	var rows [][]any
	for _, c := range contacts {
		pct, ok := c.Float64(w.opts.PledgePercentageField)
		if !ok || pct <= 0 {
			continue
		}
		id, _ := c.Int64(fieldID)
		var start any
		if w.opts.JoiningDateField != "" {
			start = instant(c[w.opts.JoiningDateField])
		}
		rows = append(rows, []any{people[id], start, pct})
	}
	return rows
}

func currencyRows(codes []model.CurrencyCode) [][]any {
	rows := make([][]any, 0, len(codes))
	for _, c := range codes {
		if c.Code != "" {
			rows = append(rows, []any{c.Code})
		}
	}
	return rows
}

// linkage holds the destination ids assigned earlier in the run.
type linkage struct {
	people map[int64]int64
	orgs   map[string]int64
}

func (l *linkage) person(contactID int64, table string) (int64, error) {
	id, ok := l.people[contactID]
	if !ok {
		return 0, fault.Integrity(strconv.FormatInt(contactID, 10), table, "record refers to a contact that was not loaded")
	}
	return id, nil
}

func (l *linkage) org(contactID int64, name, table string) (int64, error) {
	id, ok := l.orgs[name]
	if !ok {
		return 0, fault.Integrity(strconv.FormatInt(contactID, 10), name, "target of "+table+" record is not a loaded organization")
	}
	return id, nil
}

func donationRows(donations []model.Donation, l *linkage) ([][]any, error) {
	rows := make([][]any, 0, len(donations))
	for _, d := range donations {
		person, err := l.person(d.ContactID, TableReportedDonation)
		if err != nil {
			return nil, err
		}
		org, err := l.org(d.ContactID, d.Target, TableReportedDonation)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{person, org, d.Timestamp.TimeOrNil(), number(d.Amount), text(d.Currency), d.ID})
	}
	return rows, nil
}

func recurringRows(recurring []model.RecurringDonation, l *linkage) ([][]any, error) {
	rows := make([][]any, 0, len(recurring))
	for _, r := range recurring {
		person, err := l.person(r.ContactID, TableRecurringDonation)
		if err != nil {
			return nil, err
		}
		org, err := l.org(r.ContactID, r.Target, TableRecurringDonation)
		if err != nil {
			return nil, err
		}
		var freq any
		if r.Frequency != nil {
			freq = *r.Frequency
		}
		rows = append(rows, []any{
			person, org,
			r.StartTimestamp.TimeOrNil(), r.EndTimestamp.TimeOrNil(),
			text(r.FrequencyUnit), freq,
			number(r.Amount), text(r.Currency),
		})
	}
	return rows, nil
}

func incomeRows(income []model.Income, l *linkage) ([][]any, error) {
	rows := make([][]any, 0, len(income))
	for _, inc := range income {
		person, err := l.person(inc.ContactID, TableIncome)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{
			person,
			inc.StartDate.TimeOrNil(), inc.EndDate.TimeOrNil(),
			number(inc.Amount), text(inc.Currency),
			inc.PledgePercentage,
		})
	}
	return rows, nil
}

// text returns nil for absent or blank values.
func text(v any) any {
	s := strings.TrimSpace(model.AsString(v))
	if s == "" {
		return nil
	}
	return s
}

func number(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// instant parses a canonical timestamp field.
func instant(v any) any {
	s := model.AsString(v)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return t.UTC()
}

// date truncates a canonical timestamp field to its calendar day.
func date(v any) any {
	t, ok := instant(v).(time.Time)
	if !ok {
		return nil
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
