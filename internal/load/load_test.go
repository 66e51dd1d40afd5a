package load

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/db"
	"github.com/sells-group/crm-migrate/internal/fault"
	"github.com/sells-group/crm-migrate/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testOptions = Options{
	PledgePercentageField: "pledgedamounts__pledge_percentage",
	JoiningDateField:      "dates__joining_date",
}

func tmpName(table string) string {
	return "_tmp_upsert_" + strings.ReplaceAll(table, ".", "_")
}

func qualified(table string) string {
	s, t, _ := strings.Cut(table, ".")
	return regexp.QuoteMeta("INSERT INTO " + pgx.Identifier{s, t}.Sanitize())
}

func expectStage(mock pgxmock.PgxPoolIface, cfg db.UpsertConfig, n int64) {
	mock.ExpectExec("CREATE TEMP TABLE " + regexp.QuoteMeta(pgx.Identifier{tmpName(cfg.Table)}.Sanitize())).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{tmpName(cfg.Table)}, cfg.Columns).WillReturnResult(n)
}

func expectDrop(mock pgxmock.PgxPoolIface, cfg db.UpsertConfig) {
	mock.ExpectExec("DROP TABLE " + regexp.QuoteMeta(pgx.Identifier{tmpName(cfg.Table)}.Sanitize())).
		WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
}

func expectUpsert(mock pgxmock.PgxPoolIface, cfg db.UpsertConfig, n int64) {
	expectStage(mock, cfg, n)
	mock.ExpectExec(qualified(cfg.Table)).WillReturnResult(pgxmock.NewResult("INSERT", n))
	expectDrop(mock, cfg)
}

func expectReturning(mock pgxmock.PgxPoolIface, cfg db.UpsertConfig, rows *pgxmock.Rows, staged int64) {
	expectStage(mock, cfg, staged)
	mock.ExpectQuery(qualified(cfg.Table)).WillReturnRows(rows)
	expectDrop(mock, cfg)
}

func sampleDataset() *model.Dataset {
	amount := 50.0
	income := 30000.0
	return &model.Dataset{
		Contacts: []model.Record{
			{
				"id": int64(1), "email": "ada@example.org", "first_name": "Ada", "birth_date": "1815-12-10T00:00:00.000Z",
				"street_address": "1 High St", "city": "Oxford", "country": "GB",
				"pledgedamounts__pledge_percentage": 10.0, "dates__joining_date": "2010-11-14T00:00:00.000Z",
			},
			{"id": int64(2), "email": "bob@example.org", "first_name": "Bob"},
		},
		Donations: []model.Donation{{
			ID: "1-abc", ContactID: 1, Timestamp: model.FromUnixMilli(1000000000001),
			Target: "Oxfam", Currency: "GBP", Amount: &amount,
		}},
		ReportedIncome: []model.Income{{
			ContactID: 1, StartDate: model.FromUnixMilli(1577836800001), EndDate: model.FromUnixMilli(1609286400001),
			Currency: "GBP", Amount: &income, PledgePercentage: 10,
		}},
		Charities:     []model.Charity{{Name: "Oxfam", Type: model.UnknownCharityType}},
		CurrencyCodes: []model.CurrencyCode{{Code: "GBP"}},
	}
}

// expectSampleLoad expects one full transaction for sampleDataset. Conflicting
// rows come back from RETURNING with their existing ids, so a repeated load
// sees the same results.
func expectSampleLoad(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	// returned out of input order; mapping is by email
	expectReturning(mock, personUpsert, pgxmock.NewRows([]string{"id", "email"}).
		AddRow(int64(102), "bob@example.org").
		AddRow(int64(101), "ada@example.org"), 2)
	expectUpsert(mock, profileUpsert, 2)
	expectUpsert(mock, addressUpsert, 1)
	expectUpsert(mock, pledgeUpsert, 1)
	expectReturning(mock, organizationUpsert, pgxmock.NewRows([]string{"id", "name"}).AddRow(int64(7), "Oxfam"), 1)
	expectUpsert(mock, currencyUpsert, 1)
	expectUpsert(mock, donationUpsert, 1)
	expectUpsert(mock, incomeUpsert, 1)
	mock.ExpectCommit()
}

func TestLoad_HappyPath(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSampleLoad(mock)

	res, err := NewWriter(mock, testOptions).Load(context.Background(), sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Counts[TablePerson])
	assert.Equal(t, int64(1), res.Counts[TableAddress])
	assert.Equal(t, int64(1), res.Counts[TableOrganization])
	assert.Equal(t, int64(0), res.Counts[TableRecurringDonation])
	assert.Equal(t, int64(10), res.Total())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_RepeatedLoadIsIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSampleLoad(mock)
	expectSampleLoad(mock)

	w := NewWriter(mock, testOptions)
	first, err := w.Load(context.Background(), sampleDataset())
	require.NoError(t, err)
	second, err := w.Load(context.Background(), sampleDataset())
	require.NoError(t, err)

	assert.Equal(t, first.Counts, second.Counts)
	assert.Equal(t, first.Total(), second.Total())
	// both runs issued the same statement sequence, each ending in a commit
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_PeopleCountMismatchIsFatal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ds := sampleDataset()
	ds.Contacts = append(ds.Contacts, model.Record{"id": int64(3), "email": "cy@example.org"})

	mock.ExpectBegin()
	expectReturning(mock, personUpsert, pgxmock.NewRows([]string{"id", "email"}).
		AddRow(int64(101), "ada@example.org").
		AddRow(int64(102), "bob@example.org"), 3)
	mock.ExpectRollback()

	_, err = NewWriter(mock, testOptions).Load(context.Background(), ds)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.IntegrityViolation))
	assert.Contains(t, err.Error(), "3 contacts, 2 ids")
	// no profile, address, pledge, organization or donation writes were expected
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_DuplicateEmailIsFatal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ds := sampleDataset()
	ds.Contacts[1]["email"] = "ada@example.org"

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = NewWriter(mock, testOptions).Load(context.Background(), ds)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.IntegrityViolation))
	assert.Contains(t, err.Error(), "contacts share an email")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_MissingEmailIsFatal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ds := sampleDataset()
	ds.Contacts[1]["email"] = nil

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = NewWriter(mock, testOptions).Load(context.Background(), ds)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.IntegrityViolation))
	assert.Contains(t, err.Error(), "entity=2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_StepErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	expectReturning(mock, personUpsert, pgxmock.NewRows([]string{"id", "email"}).
		AddRow(int64(101), "ada@example.org").
		AddRow(int64(102), "bob@example.org"), 2)
	expectStage(mock, profileUpsert, 2)
	mock.ExpectExec(qualified(TableProfile)).WillReturnError(fmt.Errorf("deadlock detected"))
	mock.ExpectRollback()

	_, err = NewWriter(mock, testOptions).Load(context.Background(), sampleDataset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load: people.profile")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("too many connections"))

	_, err = NewWriter(mock, testOptions).Load(context.Background(), sampleDataset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load: begin tx")
}

func TestLoad_EmptyDataset(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	res, err := NewWriter(mock, testOptions).Load(context.Background(), &model.Dataset{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Total())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRows_UseDestinationIDs(t *testing.T) {
	people := map[int64]int64{1: 101, 2: 102}
	rows := profileRows(sampleDataset().Contacts, people)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(101), rows[0][0])
	assert.Equal(t, "Ada", rows[0][1])
	assert.Nil(t, rows[0][2])
	assert.Equal(t, time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC), rows[0][5])
	assert.Equal(t, int64(102), rows[1][0])
	assert.Nil(t, rows[1][5])
}

func TestAddressRows_SkipsEmpty(t *testing.T) {
	rows := addressRows(sampleDataset().Contacts, map[int64]int64{1: 101, 2: 102})
	require.Len(t, rows, 1)
	assert.Equal(t, []any{int64(101), "1 High St", nil, nil, "Oxford", nil, nil, "GB"}, rows[0])
}

func TestPledgeRows(t *testing.T) {
	w := NewWriter(nil, testOptions)
	rows := w.pledgeRows(sampleDataset().Contacts, map[int64]int64{1: 101, 2: 102})
	require.Len(t, rows, 1)
	assert.Equal(t, int64(101), rows[0][0])
	assert.Equal(t, time.Date(2010, 11, 14, 0, 0, 0, 0, time.UTC), rows[0][1])
	assert.InDelta(t, 10, rows[0][2], 0.0001)
}

func TestDonationRows_UnknownTargetIsFatal(t *testing.T) {
	ds := sampleDataset()
	ds.Donations[0].Target = "Unlisted"
	_, err := donationRows(ds.Donations, &linkage{people: map[int64]int64{1: 101}, orgs: map[string]int64{"Oxfam": 7}})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.IntegrityViolation))
	assert.Contains(t, err.Error(), "Unlisted")
}

func TestIncomeRows_UnknownContactIsFatal(t *testing.T) {
	_, err := incomeRows(sampleDataset().ReportedIncome, &linkage{people: map[int64]int64{}, orgs: map[string]int64{}})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.IntegrityViolation))
}

func TestRecurringRows(t *testing.T) {
	freq := int64(1)
	amount := 25.0
	rows, err := recurringRows([]model.RecurringDonation{{
		ContactID: 1, StartTimestamp: model.FromUnixMilli(1000000000000), FrequencyUnit: "month",
		Frequency: &freq, Target: "Oxfam", Currency: "USD", Amount: &amount,
	}}, &linkage{people: map[int64]int64{1: 101}, orgs: map[string]int64{"Oxfam": 7}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(101), rows[0][0])
	assert.Equal(t, int64(7), rows[0][1])
	assert.Nil(t, rows[0][3])
	assert.Equal(t, int64(1), rows[0][5])
	assert.Equal(t, 25.0, rows[0][6])
}
