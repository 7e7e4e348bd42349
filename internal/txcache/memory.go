package txcache

import (
	"context"
	"sync"
	"time"

	"authzen/pkg/domain"
)

// Clock returns the current time.
type Clock func() time.Time

// Memory is an in-process Store. Expired entries are dropped on access, and
// writes sweep abandoned transactions at most once per TTL.
type Memory struct {
	mu        sync.Mutex
	ttl       time.Duration
	clock     Clock
	txs       map[domain.TransactionID]map[domain.ObjectType]*bucket
	nextSweep time.Time
}

type bucket struct {
	records map[string]record
	order   []string
}

type record struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock sets the clock used for expiry.
func WithClock(clock Clock) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewMemory constructs an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		ttl:   DefaultTTL,
		clock: time.Now,
		txs:   make(map[domain.TransactionID]map[domain.ObjectType]*bucket),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Memory) Put(_ context.Context, txID domain.TransactionID, object domain.ObjectType, entries []Entry) error {
	if txID.IsZero() || len(entries) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if !now.Before(m.nextSweep) {
		m.sweep(now)
		m.nextSweep = now.Add(m.ttl)
	}
	objects, ok := m.txs[txID]
	if !ok {
		objects = make(map[domain.ObjectType]*bucket)
		m.txs[txID] = objects
	}
	b, ok := objects[object]
	if !ok {
		b = &bucket{records: make(map[string]record)}
		objects[object] = b
	}
	b.purge(now)
	for _, e := range entries {
		if _, seen := b.records[e.Key]; !seen {
			b.order = append(b.order, e.Key)
		}
		b.records[e.Key] = record{entry: e, expiresAt: now.Add(m.ttl)}
	}
	return nil
}

func (m *Memory) Entries(_ context.Context, txID domain.TransactionID, object domain.ObjectType) ([]Entry, error) {
	if txID.IsZero() {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	objects, ok := m.txs[txID]
	if !ok {
		return nil, nil
	}
	b, ok := objects[object]
	if !ok {
		return nil, nil
	}
	b.purge(m.clock())
	if len(b.order) == 0 {
		delete(objects, object)
		if len(objects) == 0 {
			delete(m.txs, txID)
		}
		return nil, nil
	}

	out := make([]Entry, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, b.records[key].entry)
	}
	return out, nil
}

func (m *Memory) Clear(_ context.Context, txID domain.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txs, txID)
	return nil
}

// Len reports the number of live entries across all transactions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(m.clock())
	n := 0
	for _, objects := range m.txs {
		for _, b := range objects {
			n += len(b.order)
		}
	}
	return n
}

// Transactions reports how many transactions still hold entries.
func (m *Memory) Transactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(m.clock())
	return len(m.txs)
}

// sweep drops expired entries, then empty buckets and empty transactions.
// Callers hold mu.
func (m *Memory) sweep(now time.Time) {
	for txID, objects := range m.txs {
		for object, b := range objects {
			b.purge(now)
			if len(b.order) == 0 {
				delete(objects, object)
			}
		}
		if len(objects) == 0 {
			delete(m.txs, txID)
		}
	}
}

func (b *bucket) purge(now time.Time) {
	kept := b.order[:0]
	for _, key := range b.order {
		if now.Before(b.records[key].expiresAt) {
			kept = append(kept, key)
			continue
		}
		delete(b.records, key)
	}
	b.order = kept
}
