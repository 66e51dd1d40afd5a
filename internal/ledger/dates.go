package ledger

import (
	"strings"
	"time"

	"github.com/sells-group/crm-migrate/internal/model"
)

// dateLayouts are tried in order. MySQL returns DATE and DATETIME columns
// as text unless the DSN sets parseTime.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102150405",
	"20060102",
}

// NormalizeDate returns v as a canonical timestamp string, or nil if it is
// absent or cannot be parsed. It never fails.
func NormalizeDate(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return model.FormatTimestamp(t)
	case *model.Timestamp:
		if t == nil {
			return nil
		}
		return t.String()
	}

	s := strings.TrimSpace(model.AsString(v))
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return model.FormatTimestamp(parsed)
		}
	}
	return nil
}
