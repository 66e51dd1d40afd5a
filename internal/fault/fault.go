// Package fault classifies the fatal conditions that abort a migration run.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of fatal error.
type Kind string

const (
	// SchemaInconsistency covers namespacing collisions and business-rule
	// fields that are missing from the discovered source schema.
	SchemaInconsistency Kind = "schema_inconsistency"
	// LedgerCorruption covers embedded ledgers that cannot be parsed.
	LedgerCorruption Kind = "ledger_corruption"
	// IntegrityViolation covers duplicate donation hashes and identifier
	// mapping failures during load.
	IntegrityViolation Kind = "integrity_violation"
)

// Error is a fatal error carrying the context needed to locate the bad data.
type Error struct {
	Kind   Kind
	Entity string // owning entity id, table, or field the error is about
	Key    string // offending key: hash, alias, natural key, count
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Detail)
	if e.Entity != "" {
		fmt.Fprintf(&b, " (entity=%s)", e.Entity)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " (key=%s)", e.Key)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Schema returns a SchemaInconsistency error.
func Schema(entity, key, detail string) *Error {
	return &Error{Kind: SchemaInconsistency, Entity: entity, Key: key, Detail: detail}
}

// Ledger returns a LedgerCorruption error. The raw payload is kept in Key so
// operators can find the damaged row.
func Ledger(entity, payload string, err error) *Error {
	return &Error{Kind: LedgerCorruption, Entity: entity, Key: payload, Detail: "ledger could not be parsed", Err: err}
}

// Integrity returns an IntegrityViolation error.
func Integrity(entity, key, detail string) *Error {
	return &Error{Kind: IntegrityViolation, Entity: entity, Key: key, Detail: detail}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err carries a fatal error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
