package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Emitter accepts audit events. Implementations must be safe for concurrent
// use.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// LogEmitter writes events as structured log lines.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.logger.InfoContext(ctx, string(e.Action),
		"subject", e.Subject,
		"verb", e.Verb,
		"object", e.Object,
		"decision", e.Decision,
		"reason", e.Reason,
		"count", e.Count,
		"transaction_id", e.TransactionID,
		"request_id", e.RequestID,
	)
	return nil
}

// Memory keeps events in process. Useful in tests and local runs.
type Memory struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Emit(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of everything emitted so far.
func (m *Memory) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event{}, m.events...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
