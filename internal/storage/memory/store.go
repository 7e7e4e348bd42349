// Package memory is an in-process storage backend with the same semantics as
// the postgres backend: soft delete, no-op elision and an audit log.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"authzen/internal/storage"
	"authzen/pkg/platform/sentinel"
	"authzen/pkg/requestcontext"
)

// Options describes how the store treats one entity type.
type Options[T storage.Entity[ID], ID comparable, P storage.Patch[ID]] struct {
	// Name labels errors, like a table name.
	Name string
	// Apply returns entity with a changed patch applied at now.
	Apply func(entity T, patch P, now time.Time) T
	// Delete selects soft or hard deletion.
	Delete storage.DeleteStrategy
	// MarkDeleted stamps the deletion time. Required for DeleteSoft.
	MarkDeleted func(entity T, now time.Time) T
	// IsDeleted reports a soft-deleted entity. Required for DeleteSoft.
	IsDeleted func(entity T) bool
	// Audited enables the audit log.
	Audited bool
	// Fields exposes entity fields to FindBy.
	Fields map[string]func(T) any
}

// Store keeps entities in insertion order behind a mutex.
type Store[T storage.Entity[ID], ID comparable, P storage.Patch[ID]] struct {
	mu    sync.RWMutex
	opts  Options[T, ID, P]
	rows  map[ID]T
	order []ID
	audit []storage.AuditRecord[T, ID]
}

// New constructs an empty store.
func New[T storage.Entity[ID], ID comparable, P storage.Patch[ID]](opts Options[T, ID, P]) *Store[T, ID, P] {
	if opts.Delete == storage.DeleteSoft && (opts.MarkDeleted == nil || opts.IsDeleted == nil) {
		panic(fmt.Sprintf("memory store %s: soft delete requires MarkDeleted and IsDeleted", opts.Name))
	}
	return &Store[T, ID, P]{
		opts: opts,
		rows: make(map[ID]T),
	}
}

func (s *Store[T, ID, P]) Create(ctx context.Context, inputs []T) ([]T, error) {
	if len(inputs) == 0 {
		return []T{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[ID]struct{}, len(inputs))
	for _, in := range inputs {
		id := in.EntityID()
		if _, exists := s.rows[id]; exists {
			return nil, storage.Wrap("create", s.opts.Name, fmt.Errorf("duplicate id %v: %w", id, sentinel.ErrConflict))
		}
		if _, dup := seen[id]; dup {
			return nil, storage.Wrap("create", s.opts.Name, fmt.Errorf("duplicate id %v in batch: %w", id, sentinel.ErrConflict))
		}
		seen[id] = struct{}{}
	}

	now := requestcontext.Now(ctx)
	out := make([]T, 0, len(inputs))
	for _, in := range inputs {
		id := in.EntityID()
		s.rows[id] = in
		s.order = append(s.order, id)
		s.record(in, now)
		out = append(out, in)
	}
	return out, nil
}

func (s *Store[T, ID, P]) Read(_ context.Context, ids []ID) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked(ids), nil
}

func (s *Store[T, ID, P]) Update(ctx context.Context, patches []P) ([]T, error) {
	if len(patches) == 0 {
		return []T{}, nil
	}
	if s.opts.Apply == nil {
		return nil, storage.Wrap("update", s.opts.Name, fmt.Errorf("entity does not support updates"))
	}
	changed, noop := storage.Partition[P, ID](patches)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := requestcontext.Now(ctx)
	out := make([]T, 0, len(patches))
	for _, p := range changed {
		current, ok := s.liveOne(p.EntityID())
		if !ok {
			continue
		}
		next := s.opts.Apply(current, p, now)
		s.rows[p.EntityID()] = next
		s.record(next, now)
		out = append(out, next)
	}
	out = append(out, s.liveLocked(noop)...)

	ids := make([]ID, len(patches))
	for i, p := range patches {
		ids[i] = p.EntityID()
	}
	return storage.OrderByIDs(out, ids), nil
}

func (s *Store[T, ID, P]) Delete(ctx context.Context, ids []ID) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := requestcontext.Now(ctx)
	prior := s.liveLocked(ids)
	for _, entity := range prior {
		id := entity.EntityID()
		if s.opts.Delete == storage.DeleteSoft {
			marked := s.opts.MarkDeleted(entity, now)
			s.rows[id] = marked
			s.record(marked, now)
			continue
		}
		delete(s.rows, id)
		s.removeFromOrder(id)
		s.record(entity, now)
	}
	return prior, nil
}

// FindBy returns live entities whose field equals any of values, in
// insertion order.
func (s *Store[T, ID, P]) FindBy(_ context.Context, field string, values ...any) ([]T, error) {
	get, ok := s.opts.Fields[field]
	if !ok {
		return nil, storage.Wrap("find", s.opts.Name, fmt.Errorf("unknown field %q", field))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []T
	for _, id := range s.order {
		entity, live := s.liveOne(id)
		if !live {
			continue
		}
		got := get(entity)
		for _, v := range values {
			if got == v {
				out = append(out, entity)
				break
			}
		}
	}
	return out, nil
}

// Audit returns a copy of the audit log.
func (s *Store[T, ID, P]) Audit() []storage.AuditRecord[T, ID] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.AuditRecord[T, ID](nil), s.audit...)
}

// Raw returns the stored value regardless of soft deletion.
func (s *Store[T, ID, P]) Raw(id ID) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows[id]
	return v, ok
}

func (s *Store[T, ID, P]) liveLocked(ids []ID) []T {
	out := make([]T, 0, len(ids))
	for _, id := range storage.Dedupe(ids) {
		if entity, ok := s.liveOne(id); ok {
			out = append(out, entity)
		}
	}
	return out
}

func (s *Store[T, ID, P]) liveOne(id ID) (T, bool) {
	entity, ok := s.rows[id]
	if !ok {
		return entity, false
	}
	if s.opts.Delete == storage.DeleteSoft && s.opts.IsDeleted(entity) {
		return entity, false
	}
	return entity, true
}

func (s *Store[T, ID, P]) record(entity T, now time.Time) {
	if !s.opts.Audited {
		return
	}
	s.audit = append(s.audit, storage.AuditRecord[T, ID]{
		ID:         uuid.New(),
		EntityID:   entity.EntityID(),
		Snapshot:   entity,
		RecordedAt: now,
	})
}

func (s *Store[T, ID, P]) removeFromOrder(id ID) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
