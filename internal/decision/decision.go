// Package decision defines the authorization event and the contract of the
// engine that judges it. Everything other than an explicit allow is a denial.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"authzen/pkg/domain"
	dErrors "authzen/pkg/domain-errors"
)

// Maker evaluates an event. A nil error is the only allow.
type Maker interface {
	CanAct(ctx context.Context, event Event) error
}

//go:generate mockgen -source=decision.go -destination=mocks/mock_maker.go -package=mocks

// Event is the complete payload submitted for one authorization check.
type Event struct {
	Subject       string               `json:"subject"`
	Action        domain.ActionType    `json:"action"`
	Object        domain.ObjectType    `json:"object"`
	Input         any                  `json:"input"`
	Context       any                  `json:"context"`
	TransactionID domain.TransactionID `json:"transaction_id,omitempty"`
}

var (
	// ErrDenied is returned for every outcome other than an explicit true.
	ErrDenied = errors.New("decision denied")
	// ErrTimeout is returned when the engine did not answer in time.
	ErrTimeout = errors.New("decision timed out")
	// ErrTransport is returned when the engine could not be reached or
	// answered with a non-2xx status.
	ErrTransport = errors.New("decision engine unavailable")
)

// DeniedError carries the engine's diagnostics for a denial.
type DeniedError struct {
	Action      domain.ActionType
	Object      domain.ObjectType
	Explanation json.RawMessage
	Metrics     json.RawMessage
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s on %s: %s", e.Action, e.Object, ErrDenied)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

func (e *DeniedError) DomainCode() dErrors.Code { return dErrors.CodeForbidden }

// Timeout wraps err as a decision timeout.
func Timeout(err error) error {
	return dErrors.Wrap(fmt.Errorf("%w: %w", ErrTimeout, err), dErrors.CodeTimeout, "authorization decision timed out")
}

// Transport wraps err as an unreachable engine.
func Transport(err error) error {
	return dErrors.Wrap(fmt.Errorf("%w: %w", ErrTransport, err), dErrors.CodeUnavailable, "authorization engine unavailable")
}

// Outcome labels err for metrics and audit events.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, ErrDenied):
		return "denied"
	default:
		return "error"
	}
}

// Static is a Maker with a fixed answer.
type Static struct {
	Err error
}

// Allow returns a Maker that allows everything.
func Allow() Static { return Static{} }

// Deny returns a Maker that denies everything.
func Deny() Static { return Static{Err: &DeniedError{}} }

func (s Static) CanAct(_ context.Context, event Event) error {
	var denied *DeniedError
	if errors.As(s.Err, &denied) {
		return &DeniedError{Action: event.Action, Object: event.Object}
	}
	return s.Err
}
