package schema

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/fault"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/source"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeQuerier answers catalog queries from a fixed table map. Column lookups
// for the first table are delayed so they complete after the others.
type fakeQuerier struct {
	tables  map[string][]string
	order   []string
	slow    string
	failOn  string
	lookups atomic.Int32
}

func (f *fakeQuerier) Dialect() source.Dialect { return source.MySQL{} }

func (f *fakeQuerier) Query(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	if len(args) == 0 {
		var rows []model.Record
		for _, name := range f.order {
			rows = append(rows, model.Record{"table_name": name})
		}
		return rows, nil
	}
	f.lookups.Add(1)
	table := args[0].(string)
	if table == f.failOn {
		return nil, errors.New("lost connection")
	}
	if table == f.slow {
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var rows []model.Record
	for _, c := range f.tables[table] {
		rows = append(rows, model.Record{"column_name": c})
	}
	return rows, nil
}

func TestDiscover_KeyedByTableName(t *testing.T) {
	q := &fakeQuerier{
		tables: map[string][]string{
			"civicrm_value_membership_status_3": {"id", "entity_id", "giving_what_we_can_member_12"},
			"civicrm_value_dates_4":             {"id", "entity_id", "joining_date_21"},
		},
		order: []string{"civicrm_contact", "civicrm_value_membership_status_3", "civicrm_value_dates_4", "civicrm_email"},
		slow:  "civicrm_value_membership_status_3",
	}

	ext, err := Discover(context.Background(), q, prefix)
	require.NoError(t, err)

	assert.Equal(t, int32(2), q.lookups.Load())
	require.Equal(t, 2, ext.Len())

	tables := ext.Tables()
	assert.Equal(t, "civicrm_value_dates_4", tables[0].Name)
	assert.Equal(t, "dates", tables[0].Short)
	assert.Equal(t, []string{"entity_id", "joining_date_21"}, tables[0].Columns)
	assert.Equal(t, []string{"entity_id", "giving_what_we_can_member_12"}, ext.Columns("civicrm_value_membership_status_3"))
	assert.Nil(t, ext.Columns("civicrm_contact"))
}

func TestDiscover_ZeroTables(t *testing.T) {
	q := &fakeQuerier{order: []string{"civicrm_contact"}}
	ext, err := Discover(context.Background(), q, prefix)
	require.NoError(t, err)
	assert.Equal(t, 0, ext.Len())
	assert.Empty(t, ext.Tables())
}

func TestDiscover_LookupError(t *testing.T) {
	q := &fakeQuerier{
		tables: map[string][]string{"civicrm_value_dates_4": {"id"}},
		order:  []string{"civicrm_value_dates_4"},
		failOn: "civicrm_value_dates_4",
	}
	_, err := Discover(context.Background(), q, prefix)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema: columns of civicrm_value_dates_4")
}

func TestNewExtension_ShortNameCollision(t *testing.T) {
	_, err := NewExtension(prefix, map[string][]string{
		"civicrm_value_dates_4": {"id", "entity_id"},
		"civicrm_value_dates_9": {"id", "entity_id"},
	})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.SchemaInconsistency))
	assert.Contains(t, err.Error(), "share a short name")
}

func TestExtension_CopiesAreIndependent(t *testing.T) {
	ext, err := NewExtension(prefix, map[string][]string{"civicrm_value_dates_4": {"id", "entity_id"}})
	require.NoError(t, err)

	tables := ext.Tables()
	tables[0].Columns[0] = "mutated"
	cols := ext.Columns("civicrm_value_dates_4")
	cols[0] = "mutated"

	assert.Equal(t, []string{"entity_id"}, ext.Columns("civicrm_value_dates_4"))
}

func TestDiscover_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := source.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "civicrm.db"), source.Options{MaxOpenConns: 4})
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	require.NoError(t, db.Exec(ctx, `CREATE TABLE civicrm_contact (id INTEGER PRIMARY KEY)`))
	require.NoError(t, db.Exec(ctx, `CREATE TABLE civicrm_value_membership_status_3 (id INTEGER PRIMARY KEY, entity_id INTEGER, giving_what_we_can_member_12 INTEGER, trying_out_giving_13 INTEGER)`))
	require.NoError(t, db.Exec(ctx, `CREATE TABLE civicrm_value_pledged_amounts_7 (id INTEGER PRIMARY KEY, entity_id INTEGER, pledge_percentage_30 REAL)`))

	ext, err := Discover(ctx, db, prefix)
	require.NoError(t, err)
	require.Equal(t, 2, ext.Len())
	assert.Equal(t, []string{"entity_id", "giving_what_we_can_member_12", "trying_out_giving_13"}, ext.Columns("civicrm_value_membership_status_3"))
	assert.Equal(t, []string{"entity_id", "pledge_percentage_30"}, ext.Columns("civicrm_value_pledged_amounts_7"))
}
