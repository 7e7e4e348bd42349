// Package txcache records the entities a transaction has created, updated or
// removed so reads under the same transaction id see them before canonical
// storage does. Entries expire on their own; Clear is an optimization.
package txcache

import (
	"context"
	"encoding"
	"encoding/json"
	"fmt"
	"time"

	"authzen/internal/storage"
	"authzen/pkg/domain"
	dErrors "authzen/pkg/domain-errors"
	"authzen/pkg/requestcontext"
)

// DefaultTTL bounds the lifetime of every entry.
const DefaultTTL = 120 * time.Second

// Entry is the stored form of one overlay record. Key is the encoded entity
// id; Value is absent for tombstones.
type Entry struct {
	Key      string          `json:"key"`
	Exists   bool            `json:"exists"`
	Value    json.RawMessage `json:"value,omitempty"`
	EditedAt time.Time       `json:"edited_at"`
}

// Store is the backend contract. Entries returns at most one entry per key,
// the latest written, and never an expired one. An empty transaction id
// reads as empty and writes nothing.
type Store interface {
	Put(ctx context.Context, txID domain.TransactionID, object domain.ObjectType, entries []Entry) error
	Entries(ctx context.Context, txID domain.TransactionID, object domain.ObjectType) ([]Entry, error)
	Clear(ctx context.Context, txID domain.TransactionID) error
}

//go:generate mockgen -source=txcache.go -destination=mocks/mock_store.go -package=mocks

// Entity is the typed view of an entry. Exists=false is a tombstone.
type Entity[T any, ID comparable] struct {
	ID     ID
	Exists bool
	Value  T
}

// Effect is what a successful action records.
type Effect int

const (
	// EffectNone records nothing.
	EffectNone Effect = iota
	// EffectUpsert records each result as the transaction's current value.
	EffectUpsert
	// EffectTombstone records each result as removed.
	EffectTombstone
)

func (e Effect) String() string {
	switch e {
	case EffectUpsert:
		return "upsert"
	case EffectTombstone:
		return "tombstone"
	default:
		return "none"
	}
}

// Error is a failed read or write against the overlay backend.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("txcache %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) DomainCode() dErrors.Code { return dErrors.CodeUnavailable }

// Entities returns the overlay for one object type keyed by entity id.
func Entities[T storage.Entity[ID], ID comparable](ctx context.Context, store Store, txID domain.TransactionID, object domain.ObjectType) (map[ID]Entity[T, ID], error) {
	out := make(map[ID]Entity[T, ID])
	if txID.IsZero() {
		return out, nil
	}
	entries, err := store.Entries(ctx, txID, object)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		id, err := ParseKey[ID](e.Key)
		if err != nil {
			return nil, &Error{Op: "decode", Err: err}
		}
		entity := Entity[T, ID]{ID: id, Exists: e.Exists}
		if e.Exists {
			if err := json.Unmarshal(e.Value, &entity.Value); err != nil {
				return nil, &Error{Op: "decode", Err: fmt.Errorf("entry %s: %w", e.Key, err)}
			}
		}
		out[id] = entity
	}
	return out, nil
}

// Manage records the results of one successful action under txID.
func Manage[T storage.Entity[ID], ID comparable](ctx context.Context, store Store, txID domain.TransactionID, object domain.ObjectType, effect Effect, results []T) error {
	if txID.IsZero() || effect == EffectNone || len(results) == 0 {
		return nil
	}
	now := requestcontext.Now(ctx)
	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		key, err := Key(r.EntityID())
		if err != nil {
			return &Error{Op: "encode", Err: err}
		}
		entry := Entry{Key: key, Exists: effect == EffectUpsert, EditedAt: now}
		if entry.Exists {
			entry.Value, err = json.Marshal(r)
			if err != nil {
				return &Error{Op: "encode", Err: fmt.Errorf("entry %s: %w", key, err)}
			}
		}
		entries = append(entries, entry)
	}
	return store.Put(ctx, txID, object, entries)
}

// Key encodes an id as text, preferring encoding.TextMarshaler.
func Key[ID comparable](id ID) (string, error) {
	if tm, ok := any(id).(encoding.TextMarshaler); ok {
		b, err := tm.MarshalText()
		return string(b), err
	}
	if s, ok := any(id).(string); ok {
		return s, nil
	}
	b, err := json.Marshal(id)
	return string(b), err
}

// ParseKey reverses Key.
func ParseKey[ID comparable](key string) (ID, error) {
	var id ID
	if tu, ok := any(&id).(encoding.TextUnmarshaler); ok {
		err := tu.UnmarshalText([]byte(key))
		return id, err
	}
	if p, ok := any(&id).(*string); ok {
		*p = key
		return id, nil
	}
	err := json.Unmarshal([]byte(key), &id)
	return id, err
}
