// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; the orchestrator and services read them. Keeping
// the package free of net/http lets the orchestrator run in workers and tests
// without pulling in transport code.
//
// Usage in services (read values):
//
//	subject := requestcontext.Subject(ctx)
//	txID := requestcontext.TransactionID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithSubject(ctx, accountID.String())
//	ctx = requestcontext.WithTransactionID(ctx, domain.NewTransactionID())
package requestcontext

import (
	"context"
	"time"

	"authzen/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	subjectKey         struct{}
	decisionContextKey struct{}
	transactionIDKey   struct{}
	requestIDKey       struct{}
	requestTimeKey     struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeySubject         = subjectKey{}
	ContextKeyDecisionContext = decisionContextKey{}
	ContextKeyTransactionID   = transactionIDKey{}
	ContextKeyRequestID       = requestIDKey{}
	ContextKeyRequestTime     = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Authorization inputs
// -----------------------------------------------------------------------------

// Subject retrieves the acting principal's identifier. Empty if anonymous.
func Subject(ctx context.Context) string {
	if s, ok := ctx.Value(ContextKeySubject).(string); ok {
		return s
	}
	return ""
}

// WithSubject injects the acting principal.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ContextKeySubject, subject)
}

// DecisionContext retrieves extra data forwarded to the policy engine
// alongside each event, or nil.
func DecisionContext(ctx context.Context) any {
	return ctx.Value(ContextKeyDecisionContext)
}

// WithDecisionContext injects data forwarded to the policy engine.
func WithDecisionContext(ctx context.Context, data any) context.Context {
	return context.WithValue(ctx, ContextKeyDecisionContext, data)
}

// TransactionID retrieves the logical transaction the request belongs to.
// Returns the zero value when the request runs outside a transaction.
func TransactionID(ctx context.Context) domain.TransactionID {
	if t, ok := ctx.Value(ContextKeyTransactionID).(domain.TransactionID); ok {
		return t
	}
	return ""
}

// WithTransactionID injects the logical transaction id.
func WithTransactionID(ctx context.Context, txID domain.TransactionID) context.Context {
	return context.WithValue(ctx, ContextKeyTransactionID, txID)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
