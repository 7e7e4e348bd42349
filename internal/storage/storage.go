// Package storage defines the action contract every persistence backend
// satisfies: batched create/read/update/delete with soft-delete, no-op patch
// elision and audit rows written alongside each mutation.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entity is any persisted object with an identity shared by canonical storage
// and the transaction cache.
type Entity[ID comparable] interface {
	EntityID() ID
}

// Patch is a partial update. A patch whose IncludesChanges reports false is a
// no-op and never reaches the backend or the audit trail.
type Patch[ID comparable] interface {
	EntityID() ID
	IncludesChanges() bool
}

// Reader fetches live entities by id. Missing ids are omitted.
type Reader[T Entity[ID], ID comparable] interface {
	Read(ctx context.Context, ids []ID) ([]T, error)
}

// Repository is the storage action contract.
type Repository[T Entity[ID], ID comparable, P Patch[ID]] interface {
	Reader[T, ID]
	// Create inserts all inputs in one backend call. The result is set-equal
	// to inputs.
	Create(ctx context.Context, inputs []T) ([]T, error)
	// Update applies changed patches and reads back no-op ones. The result
	// follows the patch order and omits ids that are gone.
	Update(ctx context.Context, patches []P) ([]T, error)
	// Delete removes the ids according to the table's DeleteStrategy and
	// returns the entities as they were before removal.
	Delete(ctx context.Context, ids []ID) ([]T, error)
}

// Finder looks up live entities by a named field.
type Finder[T any] interface {
	FindBy(ctx context.Context, field string, values ...any) ([]T, error)
}

// DeleteStrategy selects how Delete removes rows.
type DeleteStrategy int

const (
	// DeleteHard physically removes rows.
	DeleteHard DeleteStrategy = iota
	// DeleteSoft stamps deleted_at and keeps the row.
	DeleteSoft
)

func (d DeleteStrategy) String() string {
	if d == DeleteSoft {
		return "soft"
	}
	return "hard"
}

// NoPatch is the patch type of entities that are never updated in place.
type NoPatch[ID comparable] struct {
	ID ID `json:"id"`
}

func (p NoPatch[ID]) EntityID() ID { return p.ID }

func (NoPatch[ID]) IncludesChanges() bool { return false }

// AuditRecord is one append-only history entry. EntityID points back to the
// audited row; Snapshot is the full row state after the mutation.
type AuditRecord[T any, ID comparable] struct {
	ID         uuid.UUID
	EntityID   ID
	Snapshot   T
	RecordedAt time.Time
}

// ReadOne reads a single live entity or returns ErrNotFound.
func ReadOne[T Entity[ID], ID comparable](ctx context.Context, r Reader[T, ID], id ID) (T, error) {
	var zero T
	values, err := r.Read(ctx, []ID{id})
	if err != nil {
		return zero, err
	}
	for _, v := range values {
		if v.EntityID() == id {
			return v, nil
		}
	}
	return zero, ErrNotFound
}

// IDs returns the ids of values in order.
func IDs[T Entity[ID], ID comparable](values []T) []ID {
	ids := make([]ID, len(values))
	for i, v := range values {
		ids[i] = v.EntityID()
	}
	return ids
}

// Partition splits patches into those carrying changes and the ids of the
// no-op ones.
func Partition[P Patch[ID], ID comparable](patches []P) (changed []P, noop []ID) {
	for _, p := range patches {
		if p.IncludesChanges() {
			changed = append(changed, p)
		} else {
			noop = append(noop, p.EntityID())
		}
	}
	return changed, noop
}

// OrderByIDs returns values arranged in the order of ids, without duplicates.
// Ids with no matching value are skipped.
func OrderByIDs[T Entity[ID], ID comparable](values []T, ids []ID) []T {
	byID := make(map[ID]T, len(values))
	for _, v := range values {
		byID[v.EntityID()] = v
	}
	out := make([]T, 0, len(values))
	seen := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Dedupe removes repeated ids, keeping first occurrences.
func Dedupe[ID comparable](ids []ID) []ID {
	seen := make(map[ID]struct{}, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
