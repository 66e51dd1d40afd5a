package source

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Dialect captures the SQL differences between supported source stores.
type Dialect interface {
	// Name returns the driver name.
	Name() string
	// Quote quotes an identifier.
	Quote(ident string) string
	// TablesQuery lists every table in the current database as a "table_name" column.
	TablesQuery() string
	// ColumnsQuery lists the columns of one table, in ordinal order, as a
	// "column_name" column. The table name is bound as the only argument
	// where the dialect supports it.
	ColumnsQuery(table string) (string, []any)
}

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL{}, nil
	case "sqlite":
		return SQLite{}, nil
	default:
		return nil, eris.Errorf("source: unsupported driver %q", driver)
	}
}

// MySQL is the dialect of the legacy CiviCRM database.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// Aliases are spelled out because MySQL 8 returns information_schema
// column names in upper case.
func (MySQL) TablesQuery() string {
	return `SELECT table_name AS table_name FROM information_schema.tables WHERE table_schema = DATABASE()`
}

func (MySQL) ColumnsQuery(table string) (string, []any) {
	return `SELECT column_name AS column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position`, []any{table}
}

// SQLite reads snapshot copies of the source database.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) TablesQuery() string {
	return `SELECT name AS table_name FROM sqlite_master WHERE type = 'table' ORDER BY name`
}

func (SQLite) ColumnsQuery(table string) (string, []any) {
	return `SELECT name AS column_name FROM pragma_table_info(?) ORDER BY cid`, []any{table}
}
