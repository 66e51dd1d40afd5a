package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-migrate/internal/fault"
	"github.com/sells-group/crm-migrate/internal/schema"
	"github.com/sells-group/crm-migrate/internal/source"
)

const prefix = "civicrm_value_"

func testExtension(t *testing.T) *schema.Extension {
	t.Helper()
	ext, err := schema.NewExtension(prefix, map[string][]string{
		"civicrm_value_membership_status_3": {"id", "entity_id", "giving_what_we_can_member_12", "trying_out_giving_13"},
		"civicrm_value_donations_7":         {"id", "entity_id", "dashboard_data_40"},
	})
	require.NoError(t, err)
	return ext
}

func memberFilter() Filter {
	return Filter{
		Column:    "contact_type",
		Equals:    "Individual",
		AnyTruthy: []string{"membershipstatus__giving_what_we_can_member", "membershipstatus__trying_out_giving"},
	}
}

func TestBuild_ContactQuery(t *testing.T) {
	a, err := Build(ContactSpec(memberFilter(), 0, 0), testExtension(t), source.MySQL{})
	require.NoError(t, err)

	assert.Contains(t, a.SQL, "FROM `civicrm_contact` `contact`")
	assert.Contains(t, a.SQL, "LEFT OUTER JOIN (SELECT `email`.`contact_id`, `email`.`email` FROM `civicrm_email` `email` WHERE `email`.is_primary = 1) `email` ON `contact`.`id` = `email`.`contact_id`")
	assert.Contains(t, a.SQL, "`membershipstatus`.`giving_what_we_can_member_12` AS `membershipstatus__giving_what_we_can_member`")
	assert.Contains(t, a.SQL, "ON `contact`.`id` = `membershipstatus`.`membershipstatus__entity_id`")
	assert.Contains(t, a.SQL, "WHERE (`contact`.`contact_type` = 'Individual' AND (`membershipstatus`.`membershipstatus__giving_what_we_can_member` = '1' OR `membershipstatus`.`membershipstatus__trying_out_giving` = '1'))")
	assert.True(t, strings.HasSuffix(a.SQL, "ORDER BY `contact`.`id`"))
	assert.NotContains(t, a.SQL, "LIMIT")

	assert.True(t, a.Has("email"))
	assert.True(t, a.Has("country_id"))
	assert.True(t, a.Has("donations__dashboard_data"))
	assert.False(t, a.Has("contact_id"))
	assert.Equal(t, "donations", a.Owner["donations__dashboard_data"])
}

func TestBuild_Deterministic(t *testing.T) {
	ext := testExtension(t)
	first, err := Build(ContactSpec(memberFilter(), 10, 300), ext, source.SQLite{})
	require.NoError(t, err)
	second, err := Build(ContactSpec(memberFilter(), 10, 300), ext, source.SQLite{})
	require.NoError(t, err)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, first.Aliases, second.Aliases)
	assert.True(t, strings.HasSuffix(first.SQL, "LIMIT 10 OFFSET 300"))
}

func TestBuild_EmptyExtension(t *testing.T) {
	ext, err := schema.NewExtension(prefix, nil)
	require.NoError(t, err)

	a, err := Build(ContactSpec(Filter{Column: "contact_type", Equals: "Individual"}, 0, 0), ext, source.SQLite{})
	require.NoError(t, err)
	assert.NotContains(t, a.SQL, "__")
	assert.Contains(t, a.SQL, `WHERE ("contact"."contact_type" = 'Individual')`)
}

func TestBuild_AliasCollision(t *testing.T) {
	ext, err := schema.NewExtension(prefix, map[string][]string{
		"civicrm_value_dates_4": {"id", "entity_id", "joining_date_21", "joining_date_22"},
	})
	require.NoError(t, err)

	_, err = Build(ContactSpec(Filter{}, 0, 0), ext, source.MySQL{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.SchemaInconsistency))
	assert.Contains(t, err.Error(), "dates__joining_date")
}

func TestBuild_CoreAndGroupCollision(t *testing.T) {
	spec := ContactSpec(Filter{}, 0, 0)
	spec.Groups = append(spec.Groups, Group{Table: "civicrm_website", Alias: "website", Key: "contact_id", Columns: []string{"email"}})

	_, err := Build(spec, testExtension(t), source.MySQL{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.SchemaInconsistency))
}

func TestBuild_UnknownFilterFlag(t *testing.T) {
	f := memberFilter()
	f.AnyTruthy = append(f.AnyTruthy, "membershipstatus__my_giving_user")

	_, err := Build(ContactSpec(f, 0, 0), testExtension(t), source.MySQL{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.SchemaInconsistency))
	assert.Contains(t, err.Error(), "membershipstatus__my_giving_user")
}

func TestBuild_MissingEntityReference(t *testing.T) {
	ext, err := schema.NewExtension(prefix, map[string][]string{
		"civicrm_value_orphan_9": {"id", "note_3"},
	})
	require.NoError(t, err)

	_, err = Build(ContactSpec(Filter{}, 0, 0), ext, source.MySQL{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.SchemaInconsistency))
}

func TestBuild_RequiresCore(t *testing.T) {
	_, err := Build(Spec{}, testExtension(t), source.MySQL{})
	require.Error(t, err)
}

func TestAssembled_Require(t *testing.T) {
	a, err := Build(ContactSpec(memberFilter(), 0, 0), testExtension(t), source.MySQL{})
	require.NoError(t, err)

	assert.NoError(t, a.Require("donations__dashboard_data", "", "membershipstatus__giving_what_we_can_member"))

	err = a.Require("donations__dashboard_data", "pledgedamounts__pledge_percentage")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.SchemaInconsistency))
	assert.Contains(t, err.Error(), "pledgedamounts__pledge_percentage")
}

func TestLiteral_EscapesQuotes(t *testing.T) {
	assert.Equal(t, "'O''Brien'", literal("O'Brien"))
}
