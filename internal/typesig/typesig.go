// Package typesig renders a column's catalog metadata as a type signature
// that can be substituted literally into an ALTER COLUMN statement.
package typesig

import (
	"fmt"
	"strings"
)

// Facts is the raw metadata the database reports for one column.
type Facts struct {
	DataType          string
	CharMaxLength     *int64
	NumericPrecision  *int64
	NumericScale      *int64
	DatetimePrecision *int64
}

// Rules tells Build which base types take which size facts. Type names are
// stored uppercased.
type Rules struct {
	// Character types render as TYPE(length).
	Character map[string]bool
	// Decimal types render as TYPE(precision,scale).
	Decimal map[string]bool
	// Datetime types with fractional precision render as TYPE(precision).
	Datetime map[string]bool
	// Textual types store collatable text.
	Textual map[string]bool
	// MaxSentinel is the length value that means unbounded (TYPE(MAX)).
	// Zero disables the sentinel.
	MaxSentinel int64
}

// Set builds a lookup set from type names, uppercasing them.
func Set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[strings.ToUpper(n)] = true
	}
	return m
}

// Build returns the canonical signature for f under r.
func Build(r Rules, f Facts) string {
	base := strings.ToUpper(strings.TrimSpace(f.DataType))

	switch {
	case r.Character[base]:
		if f.CharMaxLength == nil {
			return base
		}
		if r.MaxSentinel != 0 && *f.CharMaxLength == r.MaxSentinel {
			return base + "(MAX)"
		}
		return fmt.Sprintf("%s(%d)", base, *f.CharMaxLength)

	case r.Decimal[base]:
		if f.NumericPrecision == nil {
			return base
		}
		var scale int64
		if f.NumericScale != nil {
			scale = *f.NumericScale
		}
		return fmt.Sprintf("%s(%d,%d)", base, *f.NumericPrecision, scale)

	case r.Datetime[base]:
		if f.DatetimePrecision == nil {
			return base
		}
		return fmt.Sprintf("%s(%d)", base, *f.DatetimePrecision)
	}

	return base
}

// BaseType returns the uppercased type name of sig without its size suffix.
func BaseType(sig string) string {
	if i := strings.IndexByte(sig, '('); i >= 0 {
		sig = sig[:i]
	}
	return strings.ToUpper(strings.TrimSpace(sig))
}

// IsTextual reports whether sig names a collatable text type under r.
func IsTextual(r Rules, sig string) bool {
	return r.Textual[BaseType(sig)]
}
