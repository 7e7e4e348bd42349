// Package domainerrors defines coded errors that survive layer boundaries.
//
// Services and the orchestrator attach a Code to failures that callers must be
// able to tell apart (denied vs not found vs timed out). Transport layers map
// codes to status codes without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and transports.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTimeout      Code = "timeout"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal_error"
)

// Error is a coded error with a client-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// DomainCode lets *Error satisfy Coder.
func (e *Error) DomainCode() Code { return e.Code }

// Coder is implemented by errors from other packages that carry their own
// classification (decision denials, storage failures).
type Coder interface {
	DomainCode() Code
}

// New returns a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. Returns nil when err is nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code found in err's chain.
func CodeOf(err error) (Code, bool) {
	var coder Coder
	if errors.As(err, &coder) {
		return coder.DomainCode(), true
	}
	return "", false
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// MessageOf returns the client-safe message of a coded error, or "".
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
