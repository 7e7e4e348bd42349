package audit

import (
	"context"
	"errors"
	"log/slog"
)

// ErrQueueFull is returned by Queue.Emit when the buffer is saturated.
var ErrQueueFull = errors.New("audit queue full")

// Queue decouples request paths from slow sinks. Emit never blocks; Run
// drains the buffer into the sink until ctx is done.
type Queue struct {
	sink   Emitter
	inbox  chan Event
	logger *slog.Logger
}

func NewQueue(sink Emitter, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{sink: sink, inbox: make(chan Event, size), logger: logger}
}

func (q *Queue) Emit(_ context.Context, e Event) error {
	select {
	case q.inbox <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run forwards queued events. On shutdown it drains what is already
// buffered with a detached context.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		case event := <-q.inbox:
			q.forward(ctx, event)
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case event := <-q.inbox:
			q.forward(ctx, event)
		default:
			return
		}
	}
}

func (q *Queue) forward(ctx context.Context, event Event) {
	if err := q.sink.Emit(ctx, event); err != nil && q.logger != nil {
		q.logger.WarnContext(ctx, "audit sink rejected event", "action", event.Action, "error", err)
	}
}
