package postgres

import (
	"fmt"

	"authzen/internal/storage"
)

// Scanner is satisfied by *sql.Rows and *sql.Row.
type Scanner interface {
	Scan(dest ...any) error
}

// Assignment is one SET clause of an update.
type Assignment struct {
	Column string
	Value  any
}

// Audit names the history table of an audited entity. Audit rows copy every
// column of the entity table, store the entity's key in ForeignKey and get a
// fresh id.
type Audit struct {
	Table      string
	ForeignKey string
}

// Table describes how an entity maps onto a postgres table. R is the raw row
// shape; ToRaw is total and FromRaw validates.
type Table[T storage.Entity[ID], ID comparable, P storage.Patch[ID], R any] struct {
	Name string
	// Columns lists every column in scan order. The first is the primary key.
	Columns []string
	// Delete selects soft or hard deletion. Soft deletion requires DeletedAt.
	Delete storage.DeleteStrategy
	// DeletedAt names the soft-delete column.
	DeletedAt string
	// UpdatedAt names the column bumped by changed patches, if any.
	UpdatedAt string
	// Audit enables history rows. Nil disables auditing.
	Audit *Audit

	ToRaw   func(T) R
	FromRaw func(R) (T, error)
	// Values returns a raw row's values in Columns order.
	Values func(R) []any
	// Scan reads one raw row in Columns order.
	Scan func(Scanner) (R, error)
	// Changes returns the SET clauses of a patch. Nil for tables without
	// updates.
	Changes func(P) []Assignment
}

func (t *Table[T, ID, P, R]) key() string {
	return t.Columns[0]
}

func (t *Table[T, ID, P, R]) validate() error {
	switch {
	case t.Name == "":
		return fmt.Errorf("table name is required")
	case len(t.Columns) == 0:
		return fmt.Errorf("table %s has no columns", t.Name)
	case t.ToRaw == nil || t.FromRaw == nil || t.Values == nil || t.Scan == nil:
		return fmt.Errorf("table %s is missing a row mapping", t.Name)
	case t.Delete == storage.DeleteSoft && t.DeletedAt == "":
		return fmt.Errorf("table %s uses soft delete without a deleted_at column", t.Name)
	case t.Audit != nil && (t.Audit.Table == "" || t.Audit.ForeignKey == ""):
		return fmt.Errorf("table %s has an incomplete audit table", t.Name)
	}
	return nil
}
