// Package runlog records migration runs in migration.run_log.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/db"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Entry represents a row in migration.run_log.
type Entry struct {
	ID          int64            `json:"id"`
	Kind        string           `json:"kind"`
	Status      string           `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	RowsWritten int64            `json:"rows_written"`
	Error       string           `json:"error,omitempty"`
	Counts      map[string]int64 `json:"counts,omitempty"`
}

// Log provides read/write access to migration.run_log. It writes through the
// pool, outside any load transaction, so failed runs stay recorded.
type Log struct {
	pool db.Querier
}

// New creates a Log backed by the given pool.
func New(pool db.Querier) *Log {
	return &Log{pool: pool}
}

// Start records the beginning of a run and returns its ID.
func (l *Log) Start(ctx context.Context, kind string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO migration.run_log (kind, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		kind,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", kind)
	}
	return id, nil
}

// Complete marks a run as successfully completed with per-table row counts.
func (l *Log) Complete(ctx context.Context, id int64, counts map[string]int64) error {
	var total int64
	for _, n := range counts {
		total += n
	}

	var countsJSON []byte
	if counts != nil {
		var err error
		countsJSON, err = json.Marshal(counts)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal counts")
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE migration.run_log
		 SET status = 'complete', completed_at = now(), rows_written = $1, counts = $2
		 WHERE id = $3`,
		total, countsJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", id)
	}
	return nil
}

// Fail marks a run as failed with an error message.
func (l *Log) Fail(ctx context.Context, id int64, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE migration.run_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", id)
	}
	return nil
}

// LastSuccess returns the start time of the most recent complete run of kind,
// or nil if there is none.
func (l *Log) LastSuccess(ctx context.Context, kind string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM migration.run_log
		 WHERE kind = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		kind,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", kind)
	}
	return &t, nil
}

// ListAll returns all run log entries ordered by most recent first.
func (l *Log) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, kind, status, started_at, completed_at, rows_written, error, counts
		 FROM migration.run_log ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list all")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errStr *string
		var countsJSON []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.Status, &e.StartedAt, &e.CompletedAt, &e.RowsWritten, &errStr, &countsJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if countsJSON != nil {
			_ = json.Unmarshal(countsJSON, &e.Counts)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
