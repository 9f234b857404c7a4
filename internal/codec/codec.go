// Package codec implements the reversible, non-keyed text transform applied to
// confidential column values, and the heuristic used to tell transformed
// values from plaintext.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrDecode indicates a value could not be decoded back to UTF-8 text.
var ErrDecode = errors.New("decode failed")

// DecodeError describes a value that looked encoded but did not decode.
type DecodeError struct {
	Length int   // length of the rejected value; the value itself is not kept
	Cause  error // underlying base64 error, nil for invalid UTF-8
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: value of length %d: %v", ErrDecode.Error(), e.Length, e.Cause)
	}
	return fmt.Sprintf("%s: value of length %d is not valid UTF-8", ErrDecode.Error(), e.Length)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

var base64Re = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// LooksEncoded reports whether s has the shape of standard base64 text.
//
// This is a heuristic: plaintext such as "abcd" has the same shape and is
// classified as encoded.
func LooksEncoded(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	s = strings.TrimSpace(s)
	return len(s)%4 == 0 && base64Re.MatchString(s)
}

// Base64 encodes values as standard base64 over their UTF-8 bytes.
type Base64 struct{}

// Encode returns the base64 form of plaintext.
func (Base64) Encode(plaintext string) string {
	return base64.StdEncoding.EncodeToString([]byte(plaintext))
}

// Decode reverses Encode. Surrounding whitespace is ignored.
func (Base64) Decode(encoded string) (string, error) {
	trimmed := strings.TrimSpace(encoded)
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return "", &DecodeError{Length: len(encoded), Cause: err}
	}
	if !utf8.Valid(raw) {
		return "", &DecodeError{Length: len(encoded)}
	}
	return string(raw), nil
}

// LooksEncoded is LooksEncoded as a method, so Base64 satisfies interfaces
// that bundle detection with the transform.
func (Base64) LooksEncoded(s string) bool {
	return LooksEncoded(s)
}
