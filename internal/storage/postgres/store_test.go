package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/suite"

	"authzen/internal/storage"
	"authzen/pkg/platform/sentinel"
	txcontext "authzen/pkg/platform/tx"
	"authzen/pkg/requestcontext"
)

type widget struct {
	ID        uuid.UUID
	Name      string
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (w widget) EntityID() uuid.UUID { return w.ID }

type widgetPatch struct {
	ID   uuid.UUID
	Name *string
}

func (p widgetPatch) EntityID() uuid.UUID { return p.ID }

func (p widgetPatch) IncludesChanges() bool { return p.Name != nil }

type widgetRow struct {
	ID        uuid.UUID
	Name      string
	UpdatedAt time.Time
	DeletedAt sql.NullTime
}

var widgetColumns = []string{"id", "name", "updated_at", "deleted_at"}

func widgetTable(strategy storage.DeleteStrategy) Table[widget, uuid.UUID, widgetPatch, widgetRow] {
	return Table[widget, uuid.UUID, widgetPatch, widgetRow]{
		Name:      "widget",
		Columns:   widgetColumns,
		Delete:    strategy,
		DeletedAt: "deleted_at",
		UpdatedAt: "updated_at",
		Audit:     &Audit{Table: "widget_audit", ForeignKey: "widget_id"},
		ToRaw: func(w widget) widgetRow {
			r := widgetRow{ID: w.ID, Name: w.Name, UpdatedAt: w.UpdatedAt}
			if w.DeletedAt != nil {
				r.DeletedAt = sql.NullTime{Time: *w.DeletedAt, Valid: true}
			}
			return r
		},
		FromRaw: func(r widgetRow) (widget, error) {
			if r.Name == "" {
				return widget{}, errors.New("widget name is empty")
			}
			w := widget{ID: r.ID, Name: r.Name, UpdatedAt: r.UpdatedAt}
			if r.DeletedAt.Valid {
				t := r.DeletedAt.Time
				w.DeletedAt = &t
			}
			return w, nil
		},
		Values: func(r widgetRow) []any {
			return []any{r.ID, r.Name, r.UpdatedAt, r.DeletedAt}
		},
		Scan: func(sc Scanner) (widgetRow, error) {
			var r widgetRow
			err := sc.Scan(&r.ID, &r.Name, &r.UpdatedAt, &r.DeletedAt)
			return r, err
		},
		Changes: func(p widgetPatch) []Assignment {
			var sets []Assignment
			if p.Name != nil {
				sets = append(sets, Assignment{Column: "name", Value: *p.Name})
			}
			return sets
		},
	}
}

type StoreSuite struct {
	suite.Suite
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store *Store[widget, uuid.UUID, widgetPatch, widgetRow]
	ctx   context.Context
	now   time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.db, s.mock = db, mock
	s.useTable(widgetTable(storage.DeleteSoft))
	s.now = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *StoreSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	_ = s.db.Close()
}

func (s *StoreSuite) useTable(t Table[widget, uuid.UUID, widgetPatch, widgetRow]) {
	store, err := New(s.db, t)
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreSuite) rows(ws ...widget) *sqlmock.Rows {
	rows := sqlmock.NewRows(widgetColumns)
	for _, w := range ws {
		var deleted any
		if w.DeletedAt != nil {
			deleted = *w.DeletedAt
		}
		rows.AddRow(w.ID.String(), w.Name, w.UpdatedAt, deleted)
	}
	return rows
}

func (s *StoreSuite) TestCreateInsertsAndAuditsInOneTransaction() {
	in := []widget{
		{ID: uuid.New(), Name: "a", UpdatedAt: s.now},
		{ID: uuid.New(), Name: "b", UpdatedAt: s.now},
	}

	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`INSERT INTO "widget" \("id", "name", "updated_at", "deleted_at"\) VALUES \(\$1, \$2, \$3, \$4\), \(\$5, \$6, \$7, \$8\) RETURNING`).
		WillReturnRows(s.rows(in...))
	s.mock.ExpectExec(`INSERT INTO "widget_audit" \("id", "widget_id", "name", "updated_at", "deleted_at"\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectCommit()

	out, err := s.store.Create(s.ctx, in)
	s.Require().NoError(err)
	s.ElementsMatch(in, out)
}

func (s *StoreSuite) TestCreateConflict() {
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`INSERT INTO "widget"`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	s.mock.ExpectRollback()

	_, err := s.store.Create(s.ctx, []widget{{ID: uuid.New(), Name: "a"}})
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrConflict)
	var be *storage.BackendError
	s.Require().ErrorAs(err, &be)
	s.Equal("create", be.Op)
	s.Contains(be.Debug(), "pq.Error")
}

func (s *StoreSuite) TestReadFiltersSoftDeletedAndKeepsRequestOrder() {
	a := widget{ID: uuid.New(), Name: "a", UpdatedAt: s.now}
	b := widget{ID: uuid.New(), Name: "b", UpdatedAt: s.now}

	s.mock.ExpectQuery(`SELECT "id", "name", "updated_at", "deleted_at" FROM "widget" WHERE "id" IN \(\$1, \$2, \$3\) AND "deleted_at" IS NULL$`).
		WillReturnRows(s.rows(a, b))

	out, err := s.store.Read(s.ctx, []uuid.UUID{b.ID, uuid.New(), a.ID, b.ID})
	s.Require().NoError(err)
	s.Equal([]widget{b, a}, out)
}

func (s *StoreSuite) TestReadRejectsInvalidRows() {
	s.mock.ExpectQuery(`SELECT .* FROM "widget"`).
		WillReturnRows(s.rows(widget{ID: uuid.New(), Name: "", UpdatedAt: s.now}))

	_, err := s.store.Read(s.ctx, []uuid.UUID{uuid.New()})
	var ce *storage.ConversionError
	s.Require().ErrorAs(err, &ce)
	s.Equal("widget", ce.Table)
}

func (s *StoreSuite) TestUpdateElidesNoOpPatches() {
	current := widget{ID: uuid.New(), Name: "steady", UpdatedAt: s.now.Add(-time.Hour)}

	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT .* FROM "widget" WHERE "id" IN \(\$1\) AND "deleted_at" IS NULL$`).
		WillReturnRows(s.rows(current))
	s.mock.ExpectCommit()

	out, err := s.store.Update(s.ctx, []widgetPatch{{ID: current.ID}})
	s.Require().NoError(err)
	s.Equal([]widget{current}, out, "no UPDATE, no audit row, prior values returned")
}

func (s *StoreSuite) TestUpdateAppliesAndAuditsChangedPatches() {
	changed := widget{ID: uuid.New(), Name: "new", UpdatedAt: s.now}
	steady := widget{ID: uuid.New(), Name: "steady", UpdatedAt: s.now.Add(-time.Hour)}
	name := "new"

	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`UPDATE "widget" SET "name" = \$1, "updated_at" = \$2 WHERE "id" = \$3 AND "deleted_at" IS NULL RETURNING`).
		WithArgs("new", s.now, changed.ID).
		WillReturnRows(s.rows(changed))
	s.mock.ExpectExec(`INSERT INTO "widget_audit"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectQuery(`SELECT .* FROM "widget" WHERE "id" IN \(\$1\)`).
		WillReturnRows(s.rows(steady))
	s.mock.ExpectCommit()

	out, err := s.store.Update(s.ctx, []widgetPatch{{ID: steady.ID}, {ID: changed.ID, Name: &name}})
	s.Require().NoError(err)
	s.Equal([]widget{steady, changed}, out)
}

func (s *StoreSuite) TestSoftDeleteReturnsPriorState() {
	live := widget{ID: uuid.New(), Name: "doomed", UpdatedAt: s.now}
	marked := live
	marked.DeletedAt = &s.now

	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT .* FROM "widget" WHERE "id" IN \(\$1, \$2\) AND "deleted_at" IS NULL FOR UPDATE`).
		WillReturnRows(s.rows(live))
	s.mock.ExpectQuery(`UPDATE "widget" SET "deleted_at" = \$1 WHERE "id" IN \(\$2\) AND "deleted_at" IS NULL RETURNING`).
		WithArgs(s.now, live.ID).
		WillReturnRows(s.rows(marked))
	s.mock.ExpectExec(`INSERT INTO "widget_audit"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	out, err := s.store.Delete(s.ctx, []uuid.UUID{live.ID, uuid.New()})
	s.Require().NoError(err)
	s.Equal([]widget{live}, out)
}

func (s *StoreSuite) TestSoftDeleteOfDeletedIDsIsNoOp() {
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT .* FOR UPDATE`).WillReturnRows(s.rows())
	s.mock.ExpectCommit()

	out, err := s.store.Delete(s.ctx, []uuid.UUID{uuid.New()})
	s.Require().NoError(err)
	s.Empty(out)
}

func (s *StoreSuite) TestHardDeleteAuditsRemovedRows() {
	s.useTable(widgetTable(storage.DeleteHard))
	gone := widget{ID: uuid.New(), Name: "gone", UpdatedAt: s.now}

	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`DELETE FROM "widget" WHERE "id" IN \(\$1\) RETURNING`).
		WillReturnRows(s.rows(gone))
	s.mock.ExpectExec(`INSERT INTO "widget_audit"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	out, err := s.store.Delete(s.ctx, []uuid.UUID{gone.ID})
	s.Require().NoError(err)
	s.Equal([]widget{gone}, out)
}

func (s *StoreSuite) TestJoinsAmbientTransaction() {
	s.mock.ExpectBegin()
	sqlTx, err := s.db.Begin()
	s.Require().NoError(err)
	ctx := txcontext.WithTx(s.ctx, sqlTx)

	in := widget{ID: uuid.New(), Name: "a", UpdatedAt: s.now}
	s.mock.ExpectQuery(`INSERT INTO "widget"`).WillReturnRows(s.rows(in))
	s.mock.ExpectExec(`INSERT INTO "widget_audit"`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	_, err = s.store.Create(ctx, []widget{in})
	s.Require().NoError(err)
	s.Require().NoError(sqlTx.Commit(), "the store must not commit a caller-owned transaction")
}

func (s *StoreSuite) TestFindByRejectsUnknownColumns() {
	_, err := s.store.FindBy(s.ctx, "name; DROP TABLE widget", "x")
	s.Require().Error(err)
}

func TestNewValidatesTable(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	table := widgetTable(storage.DeleteSoft)
	table.DeletedAt = ""
	if _, err := New(db, table); err == nil {
		t.Fatal("expected soft delete without deleted_at column to be rejected")
	}
}
