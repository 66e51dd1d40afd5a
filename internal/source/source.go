// Package source reads rows from the legacy CRM database.
package source

import (
	"context"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/resilience"
)

// Querier runs read-only queries against the source and exposes its dialect.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) ([]model.Record, error)
	Dialect() Dialect
}

// Options tunes the source connection pool.
type Options struct {
	MaxOpenConns int
	ConnMaxLife  time.Duration
	Retry        resilience.RetryConfig
}

// DB wraps a pooled sqlx.DB connection to the source store.
type DB struct {
	db      *sqlx.DB
	dialect Dialect
}

// Open connects to the source database and pings it, retrying transient
// connection failures.
func Open(ctx context.Context, driver, dsn string, opts Options) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, eris.New("source: dsn is required")
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", driver)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLife)
	}

	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("source", "ping")
	}
	if err := resilience.Do(ctx, retry, db.PingContext); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "source: ping %s", driver)
	}

	zap.L().Info("connected to source database", zap.String("driver", driver))
	return &DB{db: db, dialect: dialect}, nil
}

// Dialect returns the SQL dialect of the connection.
func (s *DB) Dialect() Dialect {
	return s.dialect
}

// Close releases the underlying connection pool.
func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Exec runs a statement. Only tests and snapshot tooling write to a source.
func (s *DB) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return eris.Wrap(err, "source: exec")
	}
	return nil
}

// Query runs query and returns every row keyed by column alias, in result order.
func (s *DB) Query(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "source: query")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Record
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, eris.Wrap(err, "source: scan row")
		}
		out = append(out, normalizeRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate rows")
	}
	return out, nil
}

// normalizeRow converts driver byte slices to strings so records serialize
// as text and compare by value.
func normalizeRow(row map[string]any) model.Record {
	rec := make(model.Record, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			rec[k] = string(b)
			continue
		}
		rec[k] = v
	}
	return rec
}
