// Package transform defines the byte transforms applied to each range.
//
// A Func rewrites a buffer in place and must not depend on bytes outside the
// buffer it is given, so any range can be transformed independently.
package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Func transforms p in place.
type Func func(p []byte) error

// Identity leaves the buffer unchanged.
func Identity(p []byte) error {
	return nil
}

// Replace returns a Func that replaces every occurrence of from with to.
// Applying it twice is the same as applying it once.
func Replace(from, to byte) Func {
	return func(p []byte) error {
		for i, b := range p {
			if b == from {
				p[i] = to
			}
		}
		return nil
	}
}

// Chain applies fns in order, stopping at the first error.
func Chain(fns ...Func) Func {
	return func(p []byte) error {
		for _, fn := range fns {
			if err := fn(p); err != nil {
				return err
			}
		}
		return nil
	}
}

// ParseReplacement parses a "FROM=TO" pair such as ";=:" or "0x00=0x20"
// into a Replace. The separator is the first '=' after the first byte, so
// "==:" replaces '=' with ':'.
func ParseReplacement(s string) (Func, error) {
	if len(s) < 3 {
		return nil, fmt.Errorf("transform: invalid replacement %q", s)
	}
	i := strings.IndexByte(s[1:], '=')
	if i < 0 {
		return nil, fmt.Errorf("transform: invalid replacement %q", s)
	}
	from, err := ParseByte(s[:i+1])
	if err != nil {
		return nil, err
	}
	to, err := ParseByte(s[i+2:])
	if err != nil {
		return nil, err
	}
	return Replace(from, to), nil
}

// ParseByte parses a single byte given as a literal character (";"), a Go
// escape ("\n", "\t", "\x00"), or a hex or decimal number ("0x3b", "59").
func ParseByte(s string) (byte, error) {
	if s == "" {
		return 0, errors.New("transform: empty byte")
	}
	if len(s) == 1 {
		return s[0], nil
	}
	if strings.HasPrefix(s, `\`) {
		v, _, tail, err := strconv.UnquoteChar(s, 0)
		if err != nil || tail != "" || v > 0xff {
			return 0, fmt.Errorf("transform: invalid byte %q", s)
		}
		return byte(v), nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("transform: invalid byte %q", s)
	}
	return byte(n), nil
}
