package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func decisionEvent() Event {
	return Event{
		Action:   ActionDecisionMade,
		Subject:  "acct-1",
		Verb:     "create",
		Object:   "examples_cart/cart",
		Decision: DecisionAllowed,
		Count:    1,
	}
}

func TestKafkaEmitter(t *testing.T) {
	t.Run("publishes json keyed by subject", func(t *testing.T) {
		producer := &fakeProducer{}
		emitter := NewKafkaEmitter(producer, "authzen.decisions")

		require.NoError(t, emitter.Emit(context.Background(), decisionEvent()))
		require.Len(t, producer.records, 1)

		rec := producer.records[0]
		assert.Equal(t, "authzen.decisions", rec.Topic)
		assert.Equal(t, []byte("acct-1"), rec.Key)

		var got Event
		require.NoError(t, json.Unmarshal(rec.Value, &got))
		assert.Equal(t, DecisionAllowed, got.Decision)
		assert.False(t, got.Timestamp.IsZero())
	})

	t.Run("surfaces produce errors", func(t *testing.T) {
		producer := &fakeProducer{err: errors.New("broker down")}
		err := NewKafkaEmitter(producer, "t").Emit(context.Background(), decisionEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
	})
}

func TestQueue(t *testing.T) {
	t.Run("forwards to sink", func(t *testing.T) {
		sink := NewMemory()
		q := NewQueue(sink, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- q.Run(ctx) }()

		require.NoError(t, q.Emit(context.Background(), decisionEvent()))
		assert.Eventually(t, func() bool { return len(sink.Events()) == 1 }, time.Second, 5*time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("never blocks when full", func(t *testing.T) {
		q := NewQueue(NewMemory(), 1, nil)
		require.NoError(t, q.Emit(context.Background(), decisionEvent()))
		assert.ErrorIs(t, q.Emit(context.Background(), decisionEvent()), ErrQueueFull)
	})

	t.Run("drains on shutdown", func(t *testing.T) {
		sink := NewMemory()
		q := NewQueue(sink, 3, nil)
		for range 3 {
			require.NoError(t, q.Emit(context.Background(), decisionEvent()))
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = q.Run(ctx)
		assert.Len(t, sink.Events(), 3)
	})
}
