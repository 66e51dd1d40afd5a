package schema

import (
	"strings"
)

// Separator joins a short table name and a column name in an alias.
const Separator = "__"

// ShortTableName strips prefix and a trailing numeric instance token from an
// extension table name and joins the remaining tokens without separators:
// "civicrm_value_membership_status_3" becomes "membershipstatus".
func ShortTableName(prefix, table string) string {
	name := strings.TrimPrefix(table, prefix)
	tokens := strings.Split(name, "_")
	if len(tokens) > 1 && isNumeric(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, "")
}

// ColumnName drops one trailing purely numeric token that the source schema
// uses to tell duplicate field definitions apart:
// "giving_what_we_can_member_12" becomes "giving_what_we_can_member".
func ColumnName(column string) string {
	tokens := strings.Split(column, "_")
	if len(tokens) > 1 && isNumeric(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, "_")
}

// Alias is the output name of an extension column: <short table>__<column>.
func Alias(prefix, table, column string) string {
	return ShortTableName(prefix, table) + Separator + ColumnName(column)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
