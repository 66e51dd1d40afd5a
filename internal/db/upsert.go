package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "people.person")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

func (cfg UpsertConfig) validate() error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

// BulkUpsert performs a bulk upsert through a temp table on q, which is
// normally a transaction owned by the caller:
//  1. creates a temp table shaped like the target
//  2. COPYs rows into it
//  3. INSERT INTO target SELECT DISTINCT ON (keys) ... ON CONFLICT (keys) DO UPDATE
//  4. drops the temp table
//
// Rows repeating a conflict key within one batch collapse to one row.
func BulkUpsert(ctx context.Context, q Querier, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tmp, err := stage(ctx, q, cfg, rows)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, upsertSQL(cfg, tmp, nil))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	if err := drop(ctx, q, cfg, tmp); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BulkUpsertReturning is BulkUpsert with a RETURNING clause. One row comes
// back per distinct conflict key, whether it was inserted or updated.
func BulkUpsertReturning(ctx context.Context, q Querier, cfg UpsertConfig, rows [][]any, returning []string) ([][]any, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(returning) == 0 {
		return nil, eris.New("db: upsert: no returning columns specified")
	}

	tmp, err := stage(ctx, q, cfg, rows)
	if err != nil {
		return nil, err
	}

	result, err := q.Query(ctx, upsertSQL(cfg, tmp, returning))
	if err != nil {
		return nil, eris.Wrapf(err, "db: upsert: INSERT RETURNING for %s", cfg.Table)
	}
	var out [][]any
	for result.Next() {
		vals, err := result.Values()
		if err != nil {
			result.Close()
			return nil, eris.Wrapf(err, "db: upsert: scan returned row for %s", cfg.Table)
		}
		out = append(out, vals)
	}
	result.Close()
	if err := result.Err(); err != nil {
		return nil, eris.Wrapf(err, "db: upsert: INSERT RETURNING for %s", cfg.Table)
	}

	if err := drop(ctx, q, cfg, tmp); err != nil {
		return nil, err
	}
	return out, nil
}

func tempTableName(table string) string {
	return fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(table, ".", "_"))
}

func stage(ctx context.Context, q Querier, cfg UpsertConfig, rows [][]any) (string, error) {
	tmp := tempTableName(cfg.Table)
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tmp}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := q.Exec(ctx, createSQL); err != nil {
		return "", eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}
	if _, err := CopyFrom(ctx, q, tmp, cfg.Columns, rows); err != nil {
		return "", eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}
	return tmp, nil
}

func drop(ctx context.Context, q Querier, cfg UpsertConfig, tmp string) error {
	if _, err := q.Exec(ctx, "DROP TABLE "+pgx.Identifier{tmp}.Sanitize()); err != nil {
		return eris.Wrapf(err, "db: upsert: drop temp table for %s", cfg.Table)
	}
	return nil
}

func upsertSQL(cfg UpsertConfig, tmp string, returning []string) string {
	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}
	// DO UPDATE needs at least one assignment for RETURNING to see existing rows.
	if len(updateCols) == 0 {
		updateCols = cfg.ConflictKeys
	}

	setClauses := make([]string, len(updateCols))
	for i, col := range updateCols {
		id := pgx.Identifier{col}.Sanitize()
		setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
	}

	colList := quoteAndJoin(cfg.Columns)
	conflictList := quoteAndJoin(cfg.ConflictKeys)
	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT DISTINCT ON (%s) %s FROM %s ORDER BY %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		colList,
		conflictList,
		colList,
		pgx.Identifier{tmp}.Sanitize(),
		conflictList,
		conflictList,
		strings.Join(setClauses, ", "),
	)
	if len(returning) > 0 {
		sql += " RETURNING " + quoteAndJoin(returning)
	}
	return sql
}

// sanitizeTable handles schema-qualified table names like "people.person".
func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
