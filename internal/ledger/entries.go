package ledger

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/fault"
	"github.com/sells-group/crm-migrate/internal/model"
)

// Donation entry: [epochSeconds, target, currency, amount].
const (
	donationEpoch = iota
	donationTarget
	donationCurrency
	donationAmount
)

// Recurring entry: [startEpochSeconds, end, frequencyUnit, frequency, target, currency, amount].
const (
	recurringStart = iota
	recurringEnd
	recurringUnit
	recurringFrequency
	recurringTarget
	recurringCurrency
	recurringAmount
)

// Income entry: [currency, amount], keyed by year.
const (
	incomeCurrency = iota
	incomeAmount
)

func (n *Normalizer) donations(id int64, p *payload, run *runState) ([]model.Donation, error) {
	out := make([]model.Donation, 0, len(p.Donations))
	for i, raw := range p.Donations {
		e, err := entry(raw)
		if err != nil {
			return nil, err
		}
		name, err := target(e, donationTarget)
		if err != nil {
			return nil, err
		}

		hash, err := donationHash(id, raw)
		if err != nil {
			return nil, err
		}
		if !run.hashes.add(hash) {
			return nil, fault.Integrity(strconv.FormatInt(id, 10), hash, "donation hash is not unique")
		}

		var ts *model.Timestamp
		if ms, ok := epochMillis(at(e, donationEpoch)); ok {
			// counter starts at 1 so entries sharing an epoch second stay ordered
			if ms += int64(i + 1); model.InRange(ms) {
				ts = model.FromUnixMilli(ms)
			}
		}

		cur := model.AsString(at(e, donationCurrency))
		run.targets.add(name)
		run.currencies.add(cur)

		out = append(out, model.Donation{
			ID:        hash,
			ContactID: id,
			Timestamp: ts,
			Target:    name,
			Currency:  cur,
			Amount:    float(at(e, donationAmount)),
		})
	}
	return out, nil
}

// donationHash fingerprints the compact JSON form of the raw entry together
// with the owning contact id.
func donationHash(id int64, raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", eris.Wrap(err, "ledger: compact donation entry")
	}
	sum := md5.Sum(buf.Bytes())
	return strconv.FormatInt(id, 10) + "-" + hex.EncodeToString(sum[:]), nil
}

func (n *Normalizer) recurring(id int64, p *payload, run *runState) ([]model.RecurringDonation, error) {
	out := make([]model.RecurringDonation, 0, len(p.Recurring))
	for _, raw := range p.Recurring {
		e, err := entry(raw)
		if err != nil {
			return nil, err
		}
		name, err := target(e, recurringTarget)
		if err != nil {
			return nil, err
		}

		rd := model.RecurringDonation{
			ContactID:      id,
			StartTimestamp: epochSeconds(at(e, recurringStart)),
			EndTimestamp:   endSeconds(at(e, recurringEnd)),
			FrequencyUnit:  model.AsString(at(e, recurringUnit)),
			Target:         name,
			Currency:       model.AsString(at(e, recurringCurrency)),
			Amount:         float(at(e, recurringAmount)),
		}
		if f, ok := model.AsInt64(at(e, recurringFrequency)); ok {
			rd.Frequency = &f
		}

		run.targets.add(name)
		run.currencies.add(rd.Currency)
		out = append(out, rd)
	}
	return out, nil
}

// epochMillis reads epoch seconds as milliseconds. Unparseable or
// out-of-range values report false.
func epochMillis(v any) (int64, bool) {
	sec, ok := model.AsFloat64(v)
	if !ok {
		return 0, false
	}
	return model.MilliFromSeconds(sec)
}

func epochSeconds(v any) *model.Timestamp {
	ms, ok := epochMillis(v)
	if !ok {
		return nil
	}
	return model.FromUnixMilli(ms)
}

// endSeconds is epochSeconds with 0 meaning an open-ended commitment.
func endSeconds(v any) *model.Timestamp {
	if sec, ok := model.AsFloat64(v); ok && sec == 0 {
		return nil
	}
	return epochSeconds(v)
}

func (n *Normalizer) income(id int64, row model.Record, p *payload, run *runState) ([]model.Income, error) {
	if len(p.Income) == 0 {
		return nil, nil
	}

	type yearEntry struct {
		year int
		raw  json.RawMessage
	}
	years := make([]yearEntry, 0, len(p.Income))
	for key, raw := range p.Income {
		y, err := strconv.Atoi(key)
		if err != nil {
			return nil, eris.Errorf("ledger: income year %q is not an integer", key)
		}
		years = append(years, yearEntry{year: y, raw: raw})
	}
	sort.Slice(years, func(i, j int) bool { return years[i].year < years[j].year })

	month, day := n.anchor(p)
	pledge := n.pledgePercentage(row)
	offset := time.Duration(id*n.opts.Policy.IncomeOffsetMs) * time.Millisecond

	out := make([]model.Income, 0, len(years))
	for _, y := range years {
		e, err := entry(y.raw)
		if err != nil {
			return nil, eris.Wrapf(err, "ledger: income %d", y.year)
		}
		inc := model.Income{
			ContactID:        id,
			Currency:         model.AsString(at(e, incomeCurrency)),
			Amount:           float(at(e, incomeAmount)),
			PledgePercentage: pledge,
		}
		if start, ok := periodStart(y.year, month, day); ok {
			start = start.Add(offset)
			inc.StartDate = model.NewTimestamp(start)
			inc.EndDate = model.NewTimestamp(start.AddDate(1, 0, 0).AddDate(0, 0, -1))
		}
		run.currencies.add(inc.Currency)
		out = append(out, inc)
	}
	return out, nil
}

// anchor returns the 1-based fiscal month and day. The ledger stores a
// 0-based month; the configured fiscal year fills in whatever it lacks.
func (n *Normalizer) anchor(p *payload) (int, int) {
	month, day := n.opts.Policy.FiscalMonth, n.opts.Policy.FiscalDay
	if m, ok := model.AsInt64(p.Scalars["yearstartmonth"]); ok {
		month = int(m) + 1
	}
	if d, ok := model.AsInt64(p.Scalars["yearstartdate"]); ok {
		day = int(d)
	}
	return month, day
}

// periodStart rejects anchors that do not name a real calendar day.
func periodStart(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func (n *Normalizer) pledgePercentage(row model.Record) float64 {
	pol := n.opts.Policy
	if pol.PledgePercentageField != "" {
		if v, ok := row.Float64(pol.PledgePercentageField); ok && v != 0 {
			return v
		}
	}
	if pol.CoreMemberFlag != "" && row.Truthy(pol.CoreMemberFlag) {
		return pol.DefaultPledgePercentage
	}
	return 0
}
