package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Split splits a raw parameter list on ','. An empty list has no fields.
func Split(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// NonEmpty fails when any of fields is empty.
func NonEmpty(fields ...string) error {
	for i, f := range fields {
		if f == "" {
			return fmt.Errorf("%w: field %d is empty", ErrInvalidParams, i)
		}
	}
	return nil
}

// Int parses a decimal integer field.
func Int(field string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidParams, field)
	}
	return n, nil
}

// IntIn parses a decimal integer field and checks it lies in [lo, hi].
func IntIn(field string, lo, hi int) (int, error) {
	n, err := Int(field)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %d out of range [%d,%d]", ErrInvalidParams, n, lo, hi)
	}
	return n, nil
}

// Bool parses a 0/1 flag.
func Bool(field string) (bool, error) {
	n, err := IntIn(field, 0, 1)
	return n == 1, err
}

// Optional returns fields[i], or def when the field is absent or empty.
func Optional(fields []string, i int, def string) string {
	if i < len(fields) && fields[i] != "" {
		return fields[i]
	}
	return def
}
