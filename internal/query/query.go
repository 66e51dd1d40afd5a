// Package query assembles the single wide contact query from a core table,
// single-valued child groups and the discovered extension schema.
package query

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/fault"
	"github.com/sells-group/crm-migrate/internal/schema"
	"github.com/sells-group/crm-migrate/internal/source"
)

// Core is the primary subject table.
type Core struct {
	Table   string
	Alias   string
	Key     string
	Columns []string
}

// Group is a related table contributing at most one row per subject, chosen
// by Predicate and left-joined so missing rows yield nulls.
type Group struct {
	Table     string
	Alias     string
	Key       string // column referencing the core key
	Columns   []string
	Predicate string // raw SQL condition on the group alias, e.g. "is_primary = 1"
}

// Filter restricts the subject population: Column must equal Equals and at
// least one of the AnyTruthy namespaced flags must equal TruthyValue.
type Filter struct {
	Column      string
	Equals      string
	AnyTruthy   []string
	TruthyValue string
}

// Spec describes the query to assemble.
type Spec struct {
	Core   Core
	Groups []Group
	Filter Filter
	Limit  int // 0 means no cap
	Offset int // applied only together with Limit
}

// Assembled is the query text plus the namespaced output columns.
type Assembled struct {
	SQL     string
	Aliases []string
	// Owner maps each extension alias to the short table name that provides it.
	Owner map[string]string
}

// Has reports whether alias is an output column.
func (a *Assembled) Has(alias string) bool {
	for _, x := range a.Aliases {
		if x == alias {
			return true
		}
	}
	return false
}

// Require fails with a schema inconsistency for the first field that is not
// an output column. Business rules address extension fields by literal
// alias, so they must be checked before any data is fetched.
func (a *Assembled) Require(fields ...string) error {
	for _, f := range fields {
		if f == "" {
			continue
		}
		if !a.Has(f) {
			return fault.Schema(f, f, "field referenced by business rules is not in the source schema")
		}
	}
	return nil
}

// Build renders the query. It is a pure function of its inputs.
func Build(spec Spec, ext *schema.Extension, d source.Dialect) (*Assembled, error) {
	if spec.Core.Table == "" || spec.Core.Alias == "" || spec.Core.Key == "" {
		return nil, eris.New("query: core table, alias and key are required")
	}
	if ext == nil {
		return nil, eris.New("query: extension schema is required")
	}

	out := &Assembled{Owner: make(map[string]string)}
	seen := make(map[string]string)
	claim := func(alias, owner string) error {
		if prev, ok := seen[alias]; ok {
			return fault.Schema(owner, alias, fmt.Sprintf("output column %s is produced by both %s and %s", alias, prev, owner))
		}
		seen[alias] = owner
		out.Aliases = append(out.Aliases, alias)
		return nil
	}

	var selects []string
	for _, c := range spec.Core.Columns {
		if err := claim(c, spec.Core.Table); err != nil {
			return nil, err
		}
		selects = append(selects, qualify(d, spec.Core.Alias, c))
	}
	for _, g := range spec.Groups {
		for _, c := range g.Columns {
			if c == g.Key {
				continue
			}
			if err := claim(c, g.Table); err != nil {
				return nil, err
			}
			selects = append(selects, qualify(d, g.Alias, c))
		}
	}

	tables := ext.Tables()
	for _, t := range tables {
		for _, c := range t.Columns {
			alias := schema.Alias(ext.Prefix(), t.Name, c)
			if err := claim(alias, t.Name); err != nil {
				return nil, err
			}
			out.Owner[alias] = t.Short
			selects = append(selects, qualify(d, t.Short, alias))
		}
	}
	if len(selects) == 0 {
		return nil, eris.New("query: no columns to select")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	fmt.Fprintf(&b, "\nFROM %s %s", d.Quote(spec.Core.Table), d.Quote(spec.Core.Alias))

	coreKey := qualify(d, spec.Core.Alias, spec.Core.Key)
	for _, g := range spec.Groups {
		cols := make([]string, 0, len(g.Columns)+1)
		cols = append(cols, qualify(d, g.Alias, g.Key))
		for _, c := range g.Columns {
			if c != g.Key {
				cols = append(cols, qualify(d, g.Alias, c))
			}
		}
		fmt.Fprintf(&b, "\nLEFT OUTER JOIN (SELECT %s FROM %s %s", strings.Join(cols, ", "), d.Quote(g.Table), d.Quote(g.Alias))
		if g.Predicate != "" {
			fmt.Fprintf(&b, " WHERE %s.%s", d.Quote(g.Alias), g.Predicate)
		}
		fmt.Fprintf(&b, ") %s ON %s = %s", d.Quote(g.Alias), coreKey, qualify(d, g.Alias, g.Key))
	}

	for _, t := range tables {
		hasRef := false
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			if c == schema.EntityReference {
				hasRef = true
			}
			cols = append(cols, fmt.Sprintf("%s AS %s", qualify(d, t.Short, c), d.Quote(schema.Alias(ext.Prefix(), t.Name, c))))
		}
		if !hasRef {
			return nil, fault.Schema(t.Name, schema.EntityReference, "extension table has no entity reference column")
		}
		ref := schema.Alias(ext.Prefix(), t.Name, schema.EntityReference)
		fmt.Fprintf(&b, "\nLEFT OUTER JOIN (SELECT %s FROM %s %s) %s ON %s = %s",
			strings.Join(cols, ", "), d.Quote(t.Name), d.Quote(t.Short), d.Quote(t.Short), coreKey, qualify(d, t.Short, ref))
	}

	where, err := buildFilter(spec, out, d)
	if err != nil {
		return nil, err
	}
	if where != "" {
		b.WriteString("\nWHERE ")
		b.WriteString(where)
	}

	fmt.Fprintf(&b, "\nORDER BY %s", coreKey)
	if spec.Limit > 0 {
		fmt.Fprintf(&b, "\nLIMIT %d OFFSET %d", spec.Limit, spec.Offset)
	}

	out.SQL = b.String()
	return out, nil
}

func buildFilter(spec Spec, out *Assembled, d source.Dialect) (string, error) {
	var parts []string
	f := spec.Filter
	if f.Column != "" {
		parts = append(parts, fmt.Sprintf("%s = %s", qualify(d, spec.Core.Alias, f.Column), literal(f.Equals)))
	}
	if len(f.AnyTruthy) > 0 {
		truthy := f.TruthyValue
		if truthy == "" {
			truthy = "1"
		}
		var flags []string
		for _, alias := range f.AnyTruthy {
			owner, ok := out.Owner[alias]
			if !ok {
				return "", fault.Schema(alias, alias, "filter flag is not an extension column")
			}
			flags = append(flags, fmt.Sprintf("%s = %s", qualify(d, owner, alias), literal(truthy)))
		}
		parts = append(parts, "("+strings.Join(flags, " OR ")+")")
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func qualify(d source.Dialect, table, column string) string {
	return d.Quote(table) + "." + d.Quote(column)
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
