// Package validation checks and canonicalizes device flow user codes.
//
// A user code has two forms. The display form groups the characters for reading
// ("BCDF-GHJK"); the canonical form is uppercase alphanumeric with every separator
// removed ("BCDFGHJK"). Stores key requests by the canonical form.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CodeLength = 8
	GroupSize  = 4
	MaxRepeats = 2

	// Charset has no vowels, so codes never spell words, and none of 0/O or 1/I
	Charset = "BCDFGHJKLMNPQRSTVWXZ"
)

var (
	ErrLength  = errors.New("wrong length")
	ErrCharset = errors.New("character outside charset")
	ErrRepeats = errors.New("too many repeated characters")
)

// ValidationError names the input that failed and the rule it broke
type ValidationError struct {
	Input string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid user code %q: %v", e.Input, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Canonical returns the canonical form of a typed user code, or a
// *ValidationError when it cannot be one we issued.
func Canonical(input string) (string, error) {
	code := NormalizeCode(input)
	if len(code) != CodeLength {
		return "", &ValidationError{Input: input, Err: fmt.Errorf("%w: want %d characters, got %d", ErrLength, CodeLength, len(code))}
	}

	var seen [26]int
	for i := 0; i < len(code); i++ {
		c := code[i]
		if strings.IndexByte(Charset, c) < 0 {
			return "", &ValidationError{Input: input, Err: fmt.Errorf("%w: %q", ErrCharset, c)}
		}
		seen[c-'A']++
		if seen[c-'A'] > MaxRepeats {
			return "", &ValidationError{Input: input, Err: fmt.Errorf("%w: %q", ErrRepeats, c)}
		}
	}
	return code, nil
}

// ValidateUserCode reports whether input, in either form, is a well formed user code.
func ValidateUserCode(input string) error {
	_, err := Canonical(input)
	return err
}

// NormalizeCode uppercases input and keeps only ASCII letters and digits.
// It does not validate.
func NormalizeCode(input string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return -1
	}, input)
}

// FormatCode inserts a dash between groups of GroupSize characters. Codes of
// any other length than CodeLength are returned unchanged.
func FormatCode(code string) string {
	if len(code) != CodeLength {
		return code
	}
	var b strings.Builder
	for i := 0; i < len(code); i += GroupSize {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(code[i : i+GroupSize])
	}
	return b.String()
}
