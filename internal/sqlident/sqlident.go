// Package sqlident guards identifiers and type strings that have to be
// interpolated into statement text because they cannot be bound as parameters.
package sqlident

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidIdentifier is returned for table, column or schema names that
	// fail the identifier pattern.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidType is returned for column type signatures that cannot be
	// safely re-applied in an ALTER statement.
	ErrInvalidType = errors.New("invalid column type")
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// typeRe matches re-appliable type signatures:
//
//	WORD                     NVARCHAR, INT, TEXT, TIMESTAMP WITH TIME ZONE
//	WORD(digits|MAX)         NVARCHAR(50), VARBINARY(MAX), DATETIME2(7)
//	WORD(digits,digits)      DECIMAL(18,2)
//	WORD[]                   INTEGER[]
var typeRe = regexp.MustCompile(`(?i)^[A-Z_][A-Z0-9_ ]*(?:\(\s*(?:\d+|MAX)\s*(?:,\s*\d+\s*)?\))?(?:\[\])?$`)

const (
	maxIdentifierLen = 128
	maxTypeLen       = 64
)

// ValidateIdentifier checks that name is non-empty, at most 128 characters
// and matches [A-Za-z_][A-Za-z0-9_]*.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidIdentifier)
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidIdentifier, name, maxIdentifierLen)
	}
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("%w: %q must match [A-Za-z_][A-Za-z0-9_]*", ErrInvalidIdentifier, name)
	}
	return nil
}

// Valid reports whether name passes ValidateIdentifier.
func Valid(name string) bool {
	return ValidateIdentifier(name) == nil
}

// ValidateType checks that sig is a plain type signature: a type name,
// optionally followed by (length), (MAX) or (precision,scale).
func ValidateType(sig string) error {
	if strings.TrimSpace(sig) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidType)
	}
	if len(sig) > maxTypeLen {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidType, sig, maxTypeLen)
	}
	if strings.ContainsAny(sig, ";-'\"\\") {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidType, sig)
	}
	if !typeRe.MatchString(sig) {
		return fmt.Errorf("%w: %q is not a recognized type pattern", ErrInvalidType, sig)
	}
	return nil
}
