package model

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks network and HTTP failures while fetching a source.
	ErrTransport = errors.New("transport error")

	// ErrEnvelope is returned when a query API response is not marked successful.
	ErrEnvelope = errors.New("envelope error")

	// ErrParse marks timestamp or numeric coercion failures.
	ErrParse = errors.New("parse error")

	// ErrEmptySelection is returned when a table has no rows left to resample.
	ErrEmptySelection = errors.New("empty selection")
)

// ParseError describes a single cell that could not be coerced.
// Row is 1-based and counts data rows only (the header is not counted).
type ParseError struct {
	Source string
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: row %d column %q: cannot parse %q: %v", e.Source, e.Row, e.Column, e.Value, e.Err)
}

// Unwrap lets errors.Is match both ErrParse and the underlying cause.
func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}
