// Package schema discovers the custom-field extension tables of the source
// database and names their columns.
package schema

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-migrate/internal/fault"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/source"
)

// PrimaryKey is the extension table column that is never selected.
const PrimaryKey = "id"

// EntityReference is the extension column that points back at the contact.
const EntityReference = "entity_id"

// lookupConcurrency bounds the number of in-flight column lookups.
const lookupConcurrency = 4

// Table is one extension table and its selectable columns.
type Table struct {
	Name    string
	Short   string
	Columns []string
}

// Extension maps extension table names to their ordered columns. It is built
// once per run and never modified.
type Extension struct {
	prefix string
	tables []Table
	byName map[string]int
}

// NewExtension builds an Extension from a table→columns map. Tables are
// ordered by name; the primary key column is dropped. Two tables with the
// same short name are a schema inconsistency.
func NewExtension(prefix string, columns map[string][]string) (*Extension, error) {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	ext := &Extension{prefix: prefix, byName: make(map[string]int, len(names))}
	shortOwner := make(map[string]string, len(names))
	for _, name := range names {
		short := ShortTableName(prefix, name)
		if short == "" {
			return nil, fault.Schema(name, short, "extension table has an empty short name")
		}
		if other, ok := shortOwner[short]; ok {
			return nil, fault.Schema(name, short, "extension tables "+other+" and "+name+" share a short name")
		}
		shortOwner[short] = name

		var cols []string
		for _, c := range columns[name] {
			if c != PrimaryKey {
				cols = append(cols, c)
			}
		}
		ext.byName[name] = len(ext.tables)
		ext.tables = append(ext.tables, Table{Name: name, Short: short, Columns: cols})
	}
	return ext, nil
}

// Prefix returns the naming prefix of extension tables.
func (e *Extension) Prefix() string {
	return e.prefix
}

// Tables returns a copy of the tables, ordered by name.
func (e *Extension) Tables() []Table {
	out := make([]Table, len(e.tables))
	for i, t := range e.tables {
		out[i] = Table{Name: t.Name, Short: t.Short, Columns: slices.Clone(t.Columns)}
	}
	return out
}

// Columns returns the selectable columns of table, or nil if unknown.
func (e *Extension) Columns(table string) []string {
	i, ok := e.byName[table]
	if !ok {
		return nil
	}
	return slices.Clone(e.tables[i].Columns)
}

// Len returns the number of extension tables.
func (e *Extension) Len() int {
	return len(e.tables)
}

// Discover lists the catalog tables named with prefix and looks up their
// columns concurrently. Results are keyed by table name, so arrival order of
// the lookups never matters. Zero matching tables is a valid, empty schema.
func Discover(ctx context.Context, q source.Querier, prefix string) (*Extension, error) {
	log := zap.L().With(zap.String("component", "schema.discover"))
	dialect := q.Dialect()

	rows, err := q.Query(ctx, dialect.TablesQuery())
	if err != nil {
		return nil, eris.Wrap(err, "schema: list tables")
	}

	var tables []string
	for _, r := range rows {
		name, ok := r.String("table_name")
		if ok && strings.HasPrefix(name, prefix) {
			tables = append(tables, name)
		}
	}

	var mu sync.Mutex
	columns := make(map[string][]string, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for _, table := range tables {
		g.Go(func() error {
			query, args := dialect.ColumnsQuery(table)
			colRows, err := q.Query(gctx, query, args...)
			if err != nil {
				return eris.Wrapf(err, "schema: columns of %s", table)
			}
			cols := columnNames(colRows)

			mu.Lock()
			columns[table] = cols
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ext, err := NewExtension(prefix, columns)
	if err != nil {
		return nil, err
	}

	log.Info("discovered extension schema", zap.Int("tables", ext.Len()))
	return ext, nil
}

func columnNames(rows []model.Record) []string {
	cols := make([]string, 0, len(rows))
	for _, r := range rows {
		if name, ok := r.String("column_name"); ok {
			cols = append(cols, name)
		}
	}
	return cols
}
