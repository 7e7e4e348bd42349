//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"authzen/internal/storage"
	"authzen/pkg/platform/sentinel"
	"authzen/pkg/requestcontext"
	"authzen/pkg/testutil/containers"
)

const widgetSchema = `
CREATE TABLE IF NOT EXISTS widget (
	id uuid PRIMARY KEY,
	name text NOT NULL,
	updated_at timestamptz NOT NULL,
	deleted_at timestamptz
);
CREATE TABLE IF NOT EXISTS widget_audit (
	id uuid PRIMARY KEY,
	widget_id uuid NOT NULL REFERENCES widget (id),
	name text NOT NULL,
	updated_at timestamptz NOT NULL,
	deleted_at timestamptz
);`

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *Store[widget, uuid.UUID, widgetPatch, widgetRow]
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.postgres.Exec(s.T(), widgetSchema)

	store, err := New(s.postgres.DB, widgetTable(storage.DeleteSoft))
	s.Require().NoError(err)
	s.store = store
}

func (s *PostgresStoreSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "widget_audit", "widget"))
}

func (s *PostgresStoreSuite) auditCount(id uuid.UUID) int {
	var n int
	err := s.postgres.DB.QueryRowContext(context.Background(),
		`SELECT count(*) FROM widget_audit WHERE widget_id = $1`, id).Scan(&n)
	s.Require().NoError(err)
	return n
}

func (s *PostgresStoreSuite) TestLifecycle() {
	id := uuid.New()
	now := requestcontext.Now(s.ctx)

	created, err := s.store.Create(s.ctx, []widget{{ID: id, Name: "first", UpdatedAt: now}})
	s.Require().NoError(err)
	s.Require().Len(created, 1)
	s.Equal(1, s.auditCount(id))

	_, err = s.store.Update(s.ctx, []widgetPatch{{ID: id}})
	s.Require().NoError(err)
	s.Equal(1, s.auditCount(id), "no-op patches leave no audit row")

	name := "second"
	updated, err := s.store.Update(s.ctx, []widgetPatch{{ID: id, Name: &name}})
	s.Require().NoError(err)
	s.Require().Len(updated, 1)
	s.Equal("second", updated[0].Name)
	s.Equal(2, s.auditCount(id))

	deleted, err := s.store.Delete(s.ctx, []uuid.UUID{id})
	s.Require().NoError(err)
	s.Require().Len(deleted, 1)
	s.Nil(deleted[0].DeletedAt)
	s.Equal(3, s.auditCount(id))

	read, err := s.store.Read(s.ctx, []uuid.UUID{id})
	s.Require().NoError(err)
	s.Empty(read)
}

func (s *PostgresStoreSuite) TestDuplicateCreateIsConflict() {
	w := widget{ID: uuid.New(), Name: "dup", UpdatedAt: requestcontext.Now(s.ctx)}
	_, err := s.store.Create(s.ctx, []widget{w})
	s.Require().NoError(err)

	_, err = s.store.Create(s.ctx, []widget{w})
	s.Require().ErrorIs(err, sentinel.ErrConflict)
	s.Equal(1, s.auditCount(w.ID), "failed create rolls back its audit rows")
}

func (s *PostgresStoreSuite) TestFindBy() {
	now := requestcontext.Now(s.ctx)
	_, err := s.store.Create(s.ctx, []widget{
		{ID: uuid.New(), Name: "match", UpdatedAt: now},
		{ID: uuid.New(), Name: "other", UpdatedAt: now},
	})
	s.Require().NoError(err)

	out, err := s.store.FindBy(s.ctx, "name", "match")
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Equal("match", out[0].Name)
}
