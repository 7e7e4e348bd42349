package storage

import (
	"errors"
	"fmt"

	dErrors "authzen/pkg/domain-errors"
	"authzen/pkg/platform/sentinel"
)

// ErrNotFound is the canonical not-found value every backend returns.
var ErrNotFound = sentinel.ErrNotFound

// BackendError wraps an opaque backend failure with the operation and table
// it happened on.
type BackendError struct {
	Op    string
	Table string
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Debug renders the wrapped error with its concrete type for logs.
func (e *BackendError) Debug() string {
	return fmt.Sprintf("%s %s: %#v", e.Op, e.Table, e.Err)
}

func (e *BackendError) DomainCode() dErrors.Code {
	switch {
	case errors.Is(e.Err, sentinel.ErrConflict):
		return dErrors.CodeConflict
	case errors.Is(e.Err, sentinel.ErrNotFound):
		return dErrors.CodeNotFound
	default:
		return dErrors.CodeInternal
	}
}

// ConversionError reports a stored row that does not validate into its
// logical shape.
type ConversionError struct {
	Table string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("storage convert %s row: %v", e.Table, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) DomainCode() dErrors.Code { return dErrors.CodeInternal }

// Wrap returns err wrapped as a BackendError unless it already is one.
func Wrap(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	var ce *ConversionError
	if errors.As(err, &ce) {
		return err
	}
	return &BackendError{Op: op, Table: table, Err: err}
}
