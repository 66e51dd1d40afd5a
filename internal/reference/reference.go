// Package reference resolves coded region and country foreign keys against
// the source lookup tables.
package reference

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/source"
)

const (
	regionQuery  = `SELECT id, name FROM civicrm_state_province`
	countryQuery = `SELECT id, iso_code FROM civicrm_country`
)

// Field pairs a coded input column with the column that receives its
// resolved value.
type Field struct {
	Code     string
	Resolved string
}

var (
	Region  = Field{Code: "state_province_id", Resolved: "state_province"}
	Country = Field{Code: "country_id", Resolved: "country"}
)

// Lookups maps codes, keyed by their decimal string form, to display values.
type Lookups struct {
	Regions   map[string]string
	Countries map[string]string
}

// Load reads both lookup tables concurrently.
func Load(ctx context.Context, q source.Querier) (*Lookups, error) {
	l := &Lookups{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := loadTable(gctx, q, regionQuery, "name")
		if err != nil {
			return eris.Wrap(err, "reference: load regions")
		}
		l.Regions = m
		return nil
	})
	g.Go(func() error {
		m, err := loadTable(gctx, q, countryQuery, "iso_code")
		if err != nil {
			return eris.Wrap(err, "reference: load countries")
		}
		l.Countries = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Debug("reference: loaded lookups",
		zap.Int("regions", len(l.Regions)),
		zap.Int("countries", len(l.Countries)),
	)
	return l, nil
}

func loadTable(ctx context.Context, q source.Querier, query, valueCol string) (map[string]string, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		id := model.AsString(r["id"])
		if id == "" {
			continue
		}
		out[id] = model.AsString(r[valueCol])
	}
	return out, nil
}

// Apply returns new records with region and country codes replaced by their
// resolved values. Unknown or null codes resolve to nil. Input records are
// not modified.
func (l *Lookups) Apply(rows []model.Record) []model.Record {
	out := make([]model.Record, len(rows))
	unresolved := 0
	for i, r := range rows {
		rec := r.Clone()
		if !resolve(rec, Region, l.Regions) {
			unresolved++
		}
		if !resolve(rec, Country, l.Countries) {
			unresolved++
		}
		out[i] = rec
	}
	if unresolved > 0 {
		zap.L().Debug("reference: unresolved codes", zap.Int("count", unresolved))
	}
	return out
}

// resolve reports false only when a non-null code has no lookup entry.
func resolve(rec model.Record, f Field, table map[string]string) bool {
	code := model.AsString(rec[f.Code])
	delete(rec, f.Code)
	if v, ok := table[code]; ok && v != "" {
		rec[f.Resolved] = v
		return true
	}
	rec[f.Resolved] = nil
	return code == ""
}
