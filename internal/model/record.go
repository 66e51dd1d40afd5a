// Package model defines the records that flow between extraction and load.
package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one source row keyed by column alias. Extension columns are only
// known at run time, so contacts stay dynamic instead of a fixed struct.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// String returns the value at key as a string. ok is false for absent or nil values.
func (r Record) String(key string) (string, bool) {
	v, present := r[key]
	if !present || v == nil {
		return "", false
	}
	return AsString(v), true
}

// Int64 returns the value at key as an integer.
func (r Record) Int64(key string) (int64, bool) {
	return AsInt64(r[key])
}

// Float64 returns the value at key as a float.
func (r Record) Float64(key string) (float64, bool) {
	return AsFloat64(r[key])
}

// Truthy reports whether the value at key is a set boolean-like flag
// ("1", 1, true, "yes").
func (r Record) Truthy(key string) bool {
	return IsTruthy(r[key])
}

// AsString renders a scalar the way the source store would print it.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return FormatTimestamp(t)
	default:
		return fmt.Sprint(t)
	}
}

// AsInt64 converts numeric and numeric-string values to int64.
func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		return floatToInt(t.String())
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		return floatToInt(s)
	case []byte:
		return AsInt64(string(t))
	default:
		return 0, false
	}
}

func floatToInt(s string) (int64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// AsFloat64 converts numeric and numeric-string values to float64. NaN and
// infinities are rejected.
func AsFloat64(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case json.Number:
		var err error
		if f, err = t.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(t), 64); err != nil {
			return 0, false
		}
	case []byte:
		return AsFloat64(string(t))
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IsTruthy reports whether v is a set flag.
func IsTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string, []byte, json.Number:
		s := strings.ToLower(strings.TrimSpace(AsString(t)))
		switch s {
		case "true", "yes", "y":
			return true
		}
		f, err := strconv.ParseFloat(s, 64)
		return err == nil && f != 0
	default:
		f, ok := AsFloat64(t)
		return ok && f != 0
	}
}
