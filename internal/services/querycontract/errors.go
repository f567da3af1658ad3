package querycontract

import (
	"errors"
	"fmt"
)

// ErrInvalidName is returned when a query name does not match ^[a-z0-9_]+$ (case-insensitive)
var ErrInvalidName = errors.New("invalid query name")

// RowCountError is returned when a query does not produce exactly one row
type RowCountError struct {
	Query string
	Rows  int
}

func (e *RowCountError) Error() string {
	return fmt.Sprintf("graph query %s returned %d rows, expected exactly 1", e.Query, e.Rows)
}

// SchemaError is returned when parameters or the result row fail schema validation
type SchemaError struct {
	Query  string
	Schema string // "input" or "result"
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("graph query %s: %s schema validation failed: %v", e.Query, e.Schema, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}
