package httpclient

import "errors"

var (
	// ErrNotConfigured is returned by Execute before a transaction has been
	// configured.
	ErrNotConfigured = errors.New("http transaction not configured")

	// ErrInvalidMethod is returned for a method number outside the table.
	ErrInvalidMethod = errors.New("invalid http method")
)
