package authz

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"authzen/internal/audit"
	"authzen/internal/decision"
	"authzen/internal/storage"
	"authzen/internal/txcache"
	"authzen/pkg/domain"
	dErrors "authzen/pkg/domain-errors"
	"authzen/pkg/requestcontext"
)

// Action is one authorizable operation. E is the candidate input submitted
// to the decision engine; T is what the storage step returns.
type Action[E any, T storage.Entity[ID], ID comparable] struct {
	Type   domain.ActionType
	Object domain.ObjectType
	Act    func(ctx context.Context, inputs []E) ([]T, error)
	// Effect is what a successful Act records in the caller's transaction.
	Effect txcache.Effect
}

// Can asks the decision engine whether the caller may run act on inputs.
// Empty inputs are allowed without a query.
func Can[E any, T storage.Entity[ID], ID comparable](ctx context.Context, a *Authorizer, act Action[E, T, ID], inputs []E) error {
	if len(inputs) == 0 {
		return nil
	}
	ctx, span := a.tracer.Start(ctx, "authz.decide", trace.WithAttributes(
		attribute.String("authz.action", act.Type.String()),
		attribute.String("authz.object", act.Object.String()),
		attribute.Int("authz.count", len(inputs)),
	))
	defer span.End()

	event := decision.Event{
		Subject:       requestcontext.Subject(ctx),
		Action:        act.Type,
		Object:        act.Object,
		Input:         inputs,
		Context:       requestcontext.DecisionContext(ctx),
		TransactionID: requestcontext.TransactionID(ctx),
	}
	err := a.decider.CanAct(ctx, event)
	outcome := decision.Outcome(err)
	span.SetAttributes(attribute.String("authz.decision", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	a.emitDecision(ctx, event, len(inputs), outcome, err)
	return err
}

// Try decides, runs act when allowed and records the result in the overlay
// of the caller's transaction. A failed overlay write is logged and counted
// but never changes the result: storage already committed.
func Try[E any, T storage.Entity[ID], ID comparable](ctx context.Context, a *Authorizer, act Action[E, T, ID], inputs []E) ([]T, error) {
	if len(inputs) == 0 {
		return []T{}, nil
	}
	start := time.Now()
	verb, object := act.Type.String(), act.Object.String()
	defer func() { a.metrics.observeAction(verb, object, time.Since(start)) }()

	if err := Can(ctx, a, act, inputs); err != nil {
		if errors.Is(err, decision.ErrDenied) {
			a.metrics.incrementAction(verb, object, "denied")
		} else {
			a.metrics.incrementAction(verb, object, "failed")
		}
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		a.metrics.incrementAction(verb, object, "failed")
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "request ended before the action ran")
	}

	actCtx, span := a.tracer.Start(ctx, "authz.act", trace.WithAttributes(
		attribute.String("authz.action", verb),
		attribute.String("authz.object", object),
	))
	results, err := act.Act(actCtx, inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage action failed")
	}
	span.End()
	if err != nil {
		a.metrics.incrementAction(verb, object, "failed")
		return nil, err
	}
	a.metrics.incrementAction(verb, object, "ok")

	recordEffect(ctx, a, act, results)
	return results, nil
}

func (a *Authorizer) emitDecision(ctx context.Context, event decision.Event, count int, outcome string, err error) {
	e := audit.Event{
		Timestamp:     requestcontext.Now(ctx),
		Action:        audit.ActionDecisionMade,
		Subject:       event.Subject,
		Verb:          event.Action.String(),
		Object:        event.Object.String(),
		TransactionID: event.TransactionID.String(),
		RequestID:     requestcontext.RequestID(ctx),
		Decision:      outcome,
		Count:         count,
	}
	if err != nil {
		e.Reason = err.Error()
	}
	if emitErr := a.auditor.Emit(ctx, e); emitErr != nil {
		a.logger.WarnContext(ctx, "failed to emit decision audit event",
			"request_id", e.RequestID,
			"object", e.Object,
			"error", emitErr,
		)
	}
}

// recordEffect writes the overlay on a context detached from the request so
// a client that hangs up after storage committed still gets its write.
func recordEffect[E any, T storage.Entity[ID], ID comparable](ctx context.Context, a *Authorizer, act Action[E, T, ID], results []T) {
	txID := requestcontext.TransactionID(ctx)
	if txID.IsZero() || act.Effect == txcache.EffectNone || len(results) == 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cacheWriteTimeout)
	defer cancel()
	writeCtx, span := a.tracer.Start(writeCtx, "authz.cache_write", trace.WithAttributes(
		attribute.String("authz.object", act.Object.String()),
		attribute.String("authz.effect", act.Effect.String()),
	))
	defer span.End()

	if err := txcache.Manage[T, ID](writeCtx, a.cache, txID, act.Object, act.Effect, results); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache write failed")
		a.metrics.incrementCacheWriteFailure(act.Object.String())
		a.logger.WarnContext(ctx, "transaction cache write failed",
			"request_id", requestcontext.RequestID(ctx),
			"transaction_id", txID.String(),
			"object", act.Object.String(),
			"effect", act.Effect.String(),
			"error", err,
		)
	}
}
