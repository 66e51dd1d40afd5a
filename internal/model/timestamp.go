package model

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// TimestampLayout is the canonical timestamp form written to every collection:
// UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the canonical form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Timestamp is a time.Time that marshals in the canonical form.
type Timestamp struct {
	time.Time
}

// NewTimestamp returns a pointer to a canonical timestamp for t.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t.UTC()}
}

// The canonical form has a four-digit year.
var (
	minUnixMilli = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	maxUnixMilli = time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC).UnixMilli()
)

// InRange reports whether ms falls in years 0000 through 9999.
func InRange(ms int64) bool {
	return ms >= minUnixMilli && ms <= maxUnixMilli
}

// MilliFromSeconds converts fractional epoch seconds to whole milliseconds.
// ok is false for NaN, infinities and instants outside InRange.
func MilliFromSeconds(sec float64) (int64, bool) {
	ms := math.Round(sec * 1000)
	if math.IsNaN(ms) || ms < float64(minUnixMilli) || ms > float64(maxUnixMilli) {
		return 0, false
	}
	return int64(ms), true
}

// FromUnixMilli returns the timestamp for milliseconds since the epoch.
func FromUnixMilli(ms int64) *Timestamp {
	return NewTimestamp(time.UnixMilli(ms))
}

func (t Timestamp) String() string {
	return FormatTimestamp(t.Time)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "model: timestamp is not a string")
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return eris.Wrapf(err, "model: parse timestamp %q", s)
	}
	t.Time = parsed.UTC()
	return nil
}

// TimeOrNil returns the wrapped time for database writes, or nil.
func (t *Timestamp) TimeOrNil() any {
	if t == nil {
		return nil
	}
	return t.Time
}
