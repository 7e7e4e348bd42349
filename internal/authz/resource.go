package authz

import (
	"context"
	"fmt"

	"authzen/internal/storage"
	"authzen/internal/txcache"
	"authzen/pkg/domain"
)

// ActionCreateThenDelete is the verb of CreateThenDelete.
const ActionCreateThenDelete domain.ActionType = "create_then_delete"

// Resource binds one object type to its repository and exposes the
// Can/Try pairs for the four storage actions.
type Resource[T storage.Entity[ID], ID comparable, P storage.Patch[ID]] struct {
	authz  *Authorizer
	object domain.ObjectType
	repo   storage.Repository[T, ID, P]
}

func NewResource[T storage.Entity[ID], ID comparable, P storage.Patch[ID]](a *Authorizer, object domain.ObjectType, repo storage.Repository[T, ID, P]) *Resource[T, ID, P] {
	return &Resource[T, ID, P]{authz: a, object: object, repo: repo}
}

func (r *Resource[T, ID, P]) Object() domain.ObjectType { return r.object }

// Authorizer returns the orchestrator the resource runs through.
func (r *Resource[T, ID, P]) Authorizer() *Authorizer { return r.authz }

// Repository returns the unguarded repository, for reads the caller has
// already authorized.
func (r *Resource[T, ID, P]) Repository() storage.Repository[T, ID, P] { return r.repo }

func (r *Resource[T, ID, P]) createAction() Action[T, T, ID] {
	return Action[T, T, ID]{Type: domain.ActionCreate, Object: r.object, Act: r.repo.Create, Effect: txcache.EffectUpsert}
}

func (r *Resource[T, ID, P]) readAction() Action[ID, T, ID] {
	return Action[ID, T, ID]{Type: domain.ActionRead, Object: r.object, Act: r.repo.Read, Effect: txcache.EffectNone}
}

func (r *Resource[T, ID, P]) updateAction() Action[P, T, ID] {
	return Action[P, T, ID]{Type: domain.ActionUpdate, Object: r.object, Act: r.repo.Update, Effect: txcache.EffectUpsert}
}

func (r *Resource[T, ID, P]) deleteAction() Action[ID, T, ID] {
	return Action[ID, T, ID]{Type: domain.ActionDelete, Object: r.object, Act: r.repo.Delete, Effect: txcache.EffectTombstone}
}

func (r *Resource[T, ID, P]) CanCreate(ctx context.Context, inputs []T) error {
	return Can(ctx, r.authz, r.createAction(), inputs)
}

func (r *Resource[T, ID, P]) TryCreate(ctx context.Context, inputs []T) ([]T, error) {
	return Try(ctx, r.authz, r.createAction(), inputs)
}

// TryCreateOne creates a single entity.
func (r *Resource[T, ID, P]) TryCreateOne(ctx context.Context, input T) (T, error) {
	out, err := r.TryCreate(ctx, []T{input})
	if err != nil {
		var zero T
		return zero, err
	}
	if len(out) != 1 {
		var zero T
		return zero, storage.Wrap("create", r.object.String(), fmt.Errorf("expected one created row, got %d", len(out)))
	}
	return out[0], nil
}

func (r *Resource[T, ID, P]) CanRead(ctx context.Context, ids []ID) error {
	return Can(ctx, r.authz, r.readAction(), ids)
}

func (r *Resource[T, ID, P]) TryRead(ctx context.Context, ids []ID) ([]T, error) {
	return Try(ctx, r.authz, r.readAction(), ids)
}

// TryReadOne reads a single entity, or storage.ErrNotFound.
func (r *Resource[T, ID, P]) TryReadOne(ctx context.Context, id ID) (T, error) {
	out, err := r.TryRead(ctx, []ID{id})
	if err != nil {
		var zero T
		return zero, err
	}
	for _, entity := range out {
		if entity.EntityID() == id {
			return entity, nil
		}
	}
	var zero T
	return zero, storage.ErrNotFound
}

func (r *Resource[T, ID, P]) CanUpdate(ctx context.Context, patches []P) error {
	return Can(ctx, r.authz, r.updateAction(), patches)
}

func (r *Resource[T, ID, P]) TryUpdate(ctx context.Context, patches []P) ([]T, error) {
	return Try(ctx, r.authz, r.updateAction(), patches)
}

func (r *Resource[T, ID, P]) CanDelete(ctx context.Context, ids []ID) error {
	return Can(ctx, r.authz, r.deleteAction(), ids)
}

func (r *Resource[T, ID, P]) TryDelete(ctx context.Context, ids []ID) ([]T, error) {
	return Try(ctx, r.authz, r.deleteAction(), ids)
}

// CreateThenDelete inserts inputs and removes them again inside one
// authorized action. It exercises policy and constraints without leaving
// durable state, so it records nothing in the overlay. The result is the
// created entities.
func CreateThenDelete[T storage.Entity[ID], ID comparable, P storage.Patch[ID]](r *Resource[T, ID, P]) Action[T, T, ID] {
	return Action[T, T, ID]{
		Type:   ActionCreateThenDelete,
		Object: r.object,
		Effect: txcache.EffectNone,
		Act: func(ctx context.Context, inputs []T) ([]T, error) {
			created, err := r.repo.Create(ctx, inputs)
			if err != nil {
				return nil, err
			}
			if _, err := r.repo.Delete(ctx, storage.IDs[T, ID](created)); err != nil {
				return nil, err
			}
			return created, nil
		},
	}
}
