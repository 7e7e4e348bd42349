// Package postgres implements the storage action contract on database/sql.
// Statements are built from a Table descriptor; every mutation and its audit
// rows share one SQL transaction, joining the caller's when ctx carries one.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"authzen/internal/storage"
	"authzen/pkg/platform/sentinel"
	txcontext "authzen/pkg/platform/tx"
	"authzen/pkg/requestcontext"
)

// Postgres error codes mapped to sentinel.ErrConflict.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store is a generic repository over one table.
type Store[T storage.Entity[ID], ID comparable, P storage.Patch[ID], R any] struct {
	db    *sql.DB
	table Table[T, ID, P, R]
}

// New validates table and returns a store bound to db.
func New[T storage.Entity[ID], ID comparable, P storage.Patch[ID], R any](db *sql.DB, table Table[T, ID, P, R]) (*Store[T, ID, P, R], error) {
	if err := table.validate(); err != nil {
		return nil, err
	}
	return &Store[T, ID, P, R]{db: db, table: table}, nil
}

func (s *Store[T, ID, P, R]) querier(ctx context.Context) txcontext.Querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store[T, ID, P, R]) Create(ctx context.Context, inputs []T) ([]T, error) {
	if len(inputs) == 0 {
		return []T{}, nil
	}
	var out []T
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, q txcontext.Querier) error {
		rows := make([]R, len(inputs))
		for i, in := range inputs {
			rows[i] = s.table.ToRaw(in)
		}
		query, args := s.insertQuery(rows)
		inserted, err := s.queryRaw(ctx, q, query, args...)
		if err != nil {
			return err
		}
		if err := s.writeAudit(ctx, q, inserted); err != nil {
			return err
		}
		out, err = s.convert(inserted)
		return err
	})
	if err != nil {
		return nil, storage.Wrap("create", s.table.Name, err)
	}
	return out, nil
}

func (s *Store[T, ID, P, R]) Read(ctx context.Context, ids []ID) ([]T, error) {
	ids = storage.Dedupe(ids)
	if len(ids) == 0 {
		return []T{}, nil
	}
	raws, err := s.selectLive(ctx, s.querier(ctx), ids, false)
	if err != nil {
		return nil, storage.Wrap("read", s.table.Name, err)
	}
	out, err := s.convert(raws)
	if err != nil {
		return nil, err
	}
	return storage.OrderByIDs(out, ids), nil
}

func (s *Store[T, ID, P, R]) Update(ctx context.Context, patches []P) ([]T, error) {
	if len(patches) == 0 {
		return []T{}, nil
	}
	changed, noop := storage.Partition[P, ID](patches)

	var out []T
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, q txcontext.Querier) error {
		var updated []R
		for _, p := range changed {
			var sets []Assignment
			if s.table.Changes != nil {
				sets = s.table.Changes(p)
			}
			if len(sets) == 0 {
				noop = append(noop, p.EntityID())
				continue
			}
			if s.table.UpdatedAt != "" {
				sets = append(sets, Assignment{Column: s.table.UpdatedAt, Value: requestcontext.Now(ctx)})
			}
			query, args := s.updateQuery(sets, p.EntityID())
			rows, err := s.queryRaw(ctx, q, query, args...)
			if err != nil {
				return err
			}
			updated = append(updated, rows...)
		}
		if err := s.writeAudit(ctx, q, updated); err != nil {
			return err
		}
		if len(noop) > 0 {
			unchanged, err := s.selectLive(ctx, q, storage.Dedupe(noop), false)
			if err != nil {
				return err
			}
			updated = append(updated, unchanged...)
		}
		var err error
		out, err = s.convert(updated)
		return err
	})
	if err != nil {
		return nil, storage.Wrap("update", s.table.Name, err)
	}

	ids := make([]ID, len(patches))
	for i, p := range patches {
		ids[i] = p.EntityID()
	}
	return storage.OrderByIDs(out, ids), nil
}

func (s *Store[T, ID, P, R]) Delete(ctx context.Context, ids []ID) ([]T, error) {
	ids = storage.Dedupe(ids)
	if len(ids) == 0 {
		return []T{}, nil
	}
	var out []T
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, q txcontext.Querier) error {
		if s.table.Delete == storage.DeleteSoft {
			var err error
			out, err = s.softDelete(ctx, q, ids)
			return err
		}
		query, args := s.hardDeleteQuery(ids)
		removed, err := s.queryRaw(ctx, q, query, args...)
		if err != nil {
			return err
		}
		if err := s.writeAudit(ctx, q, removed); err != nil {
			return err
		}
		out, err = s.convert(removed)
		return err
	})
	if err != nil {
		return nil, storage.Wrap("delete", s.table.Name, err)
	}
	return storage.OrderByIDs(out, ids), nil
}

// softDelete locks the live rows, stamps them deleted and audits the new
// state. Ids already deleted or absent carry no change and are skipped.
func (s *Store[T, ID, P, R]) softDelete(ctx context.Context, q txcontext.Querier, ids []ID) ([]T, error) {
	priorRows, err := s.selectLive(ctx, q, ids, true)
	if err != nil {
		return nil, err
	}
	prior, err := s.convert(priorRows)
	if err != nil {
		return nil, err
	}
	if len(prior) == 0 {
		return prior, nil
	}

	query, args := s.softDeleteQuery(storage.IDs[T, ID](prior), requestcontext.Now(ctx))
	marked, err := s.queryRaw(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.writeAudit(ctx, q, marked); err != nil {
		return nil, err
	}
	return prior, nil
}

// FindBy returns live rows whose column equals any of values. Only declared
// columns are accepted.
func (s *Store[T, ID, P, R]) FindBy(ctx context.Context, field string, values ...any) ([]T, error) {
	if !slices.Contains(s.table.Columns, field) {
		return nil, storage.Wrap("find", s.table.Name, fmt.Errorf("unknown column %q", field))
	}
	if len(values) == 0 {
		return []T{}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s IN (%s)",
		s.columnList(), pq.QuoteIdentifier(s.table.Name), pq.QuoteIdentifier(field), placeholders(1, len(values)))
	s.appendLiveFilter(&b)
	fmt.Fprintf(&b, " ORDER BY %s", pq.QuoteIdentifier(s.table.key()))

	raws, err := s.queryRaw(ctx, s.querier(ctx), b.String(), values...)
	if err != nil {
		return nil, storage.Wrap("find", s.table.Name, err)
	}
	return s.convert(raws)
}

func (s *Store[T, ID, P, R]) selectLive(ctx context.Context, q txcontext.Querier, ids []ID, forUpdate bool) ([]R, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s IN (%s)",
		s.columnList(), pq.QuoteIdentifier(s.table.Name), pq.QuoteIdentifier(s.table.key()), placeholders(1, len(ids)))
	s.appendLiveFilter(&b)
	if forUpdate {
		b.WriteString(" FOR UPDATE")
	}
	return s.queryRaw(ctx, q, b.String(), idArgs(ids)...)
}

func (s *Store[T, ID, P, R]) appendLiveFilter(b *strings.Builder) {
	if s.table.Delete == storage.DeleteSoft {
		fmt.Fprintf(b, " AND %s IS NULL", pq.QuoteIdentifier(s.table.DeletedAt))
	}
}

func (s *Store[T, ID, P, R]) insertQuery(rows []R) (string, []any) {
	cols := len(s.table.Columns)
	args := make([]any, 0, len(rows)*cols)
	tuples := make([]string, len(rows))
	for i, row := range rows {
		tuples[i] = "(" + placeholders(i*cols+1, cols) + ")"
		args = append(args, s.table.Values(row)...)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING %s",
		pq.QuoteIdentifier(s.table.Name), s.columnList(), strings.Join(tuples, ", "), s.columnList())
	return query, args
}

func (s *Store[T, ID, P, R]) updateQuery(sets []Assignment, id ID) (string, []any) {
	clauses := make([]string, len(sets))
	args := make([]any, 0, len(sets)+1)
	for i, set := range sets {
		clauses[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(set.Column), i+1)
		args = append(args, set.Value)
	}
	args = append(args, id)

	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET %s WHERE %s = $%d",
		pq.QuoteIdentifier(s.table.Name), strings.Join(clauses, ", "), pq.QuoteIdentifier(s.table.key()), len(args))
	s.appendLiveFilter(&b)
	fmt.Fprintf(&b, " RETURNING %s", s.columnList())
	return b.String(), args
}

func (s *Store[T, ID, P, R]) softDeleteQuery(ids []ID, now any) (string, []any) {
	query := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s IN (%s) AND %s IS NULL RETURNING %s",
		pq.QuoteIdentifier(s.table.Name),
		pq.QuoteIdentifier(s.table.DeletedAt),
		pq.QuoteIdentifier(s.table.key()),
		placeholders(2, len(ids)),
		pq.QuoteIdentifier(s.table.DeletedAt),
		s.columnList())
	return query, append([]any{now}, idArgs(ids)...)
}

func (s *Store[T, ID, P, R]) hardDeleteQuery(ids []ID) (string, []any) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s) RETURNING %s",
		pq.QuoteIdentifier(s.table.Name), pq.QuoteIdentifier(s.table.key()), placeholders(1, len(ids)), s.columnList())
	return query, idArgs(ids)
}

// writeAudit inserts one history row per raw row: a fresh id, the entity
// key as foreign key, then every non-key column.
func (s *Store[T, ID, P, R]) writeAudit(ctx context.Context, q txcontext.Querier, rows []R) error {
	audit := s.table.Audit
	if audit == nil || len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(s.table.Columns)+1)
	cols = append(cols, pq.QuoteIdentifier("id"), pq.QuoteIdentifier(audit.ForeignKey))
	for _, c := range s.table.Columns[1:] {
		cols = append(cols, pq.QuoteIdentifier(c))
	}

	width := len(cols)
	args := make([]any, 0, len(rows)*width)
	tuples := make([]string, len(rows))
	for i, row := range rows {
		values := s.table.Values(row)
		tuples[i] = "(" + placeholders(i*width+1, width) + ")"
		args = append(args, uuid.New(), values[0])
		args = append(args, values[1:]...)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		pq.QuoteIdentifier(audit.Table), strings.Join(cols, ", "), strings.Join(tuples, ", "))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit rows: %w", mapDriverError(err))
	}
	return nil
}

func (s *Store[T, ID, P, R]) queryRaw(ctx context.Context, q txcontext.Querier, query string, args ...any) ([]R, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapDriverError(err)
	}
	defer rows.Close()

	var out []R
	for rows.Next() {
		raw, err := s.table.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDriverError(err)
	}
	return out, nil
}

func (s *Store[T, ID, P, R]) convert(raws []R) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		entity, err := s.table.FromRaw(raw)
		if err != nil {
			return nil, &storage.ConversionError{Table: s.table.Name, Err: err}
		}
		out = append(out, entity)
	}
	return out, nil
}

func (s *Store[T, ID, P, R]) columnList() string {
	quoted := make([]string, len(s.table.Columns))
	for i, c := range s.table.Columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range n {
		ps[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ps, ", ")
}

func idArgs[ID any](ids []ID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// mapDriverError tags constraint violations from either supported driver
// with sentinel.ErrConflict.
func mapDriverError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == codeUniqueViolation || pgErr.Code == codeForeignKeyViolation {
			return fmt.Errorf("%w: %w", sentinel.ErrConflict, err)
		}
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		if code == codeUniqueViolation || code == codeForeignKeyViolation {
			return fmt.Errorf("%w: %w", sentinel.ErrConflict, err)
		}
	}
	return err
}
