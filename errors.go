package docdb

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound signals a missing document, collection or schema field.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a schema type mismatch or an optimistic-concurrency failure.
	ErrConflict = errors.New("conflict")
	// ErrValidation signals malformed input; nothing was mutated.
	ErrValidation = errors.New("validation failed")
	// ErrClosed is returned by operations on a closed database or collection.
	ErrClosed = errors.New("closed")
)

func valErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// SchemaConflictError reports an attempt to write a value whose type
// contradicts the already-established type of a schema field.
type SchemaConflictError struct {
	Field    string
	Existing DataType
	Incoming DataType
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("schema conflict on field %q: existing type %v, incoming type %v", e.Field, e.Existing, e.Incoming)
}

func (e *SchemaConflictError) Unwrap() error { return ErrConflict }

// TimestampConflictError reports a failed optimistic-concurrency check on
// a whole-document update.
type TimestampConflictError struct {
	Stored time.Time
	Given  time.Time
}

func (e *TimestampConflictError) Error() string {
	return fmt.Sprintf("document modified concurrently: stored %v, given %v", e.Stored, e.Given)
}

func (e *TimestampConflictError) Unwrap() error { return ErrConflict }

// DataError reports a corrupt or undecodable stored blob. It is fatal for
// the operation that hit it; a partial document is never returned.
type DataError struct {
	Data []byte
	Err  error
	Msg  string
}

func dataErrf(data []byte, err error, format string, args ...any) error {
	return &DataError{Data: data, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error { return e.Err }

func (e *DataError) Error() string {
	const prefixLen = 64
	n := len(e.Data)
	suffix := ""
	if n > prefixLen {
		suffix = "..."
		n = prefixLen
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: (%d) %x%s", e.Msg, e.Err, len(e.Data), e.Data[:n], suffix)
	}
	return fmt.Sprintf("%s: (%d) %x%s", e.Msg, len(e.Data), e.Data[:n], suffix)
}
