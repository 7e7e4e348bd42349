package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"authzen/internal/cart"
	"authzen/internal/storage"
	"authzen/internal/storage/postgres"
)

type accountRow struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt sql.NullTime
	Username  sql.NullString
	Email     sql.NullString
}

// AccountTable is soft deleted and audited in account_audit.
var AccountTable = postgres.Table[cart.Account, uuid.UUID, cart.AccountPatch, accountRow]{
	Name:      "account",
	Columns:   []string{"id", "created_at", "updated_at", "deleted_at", "username", "email"},
	Delete:    storage.DeleteSoft,
	DeletedAt: "deleted_at",
	UpdatedAt: "updated_at",
	Audit:     &postgres.Audit{Table: "account_audit", ForeignKey: "account_id"},
	ToRaw: func(a cart.Account) accountRow {
		r := accountRow{
			ID:        a.ID,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
			Username:  nullString(a.Username),
			Email:     nullString(a.Email),
		}
		if a.DeletedAt != nil {
			r.DeletedAt = sql.NullTime{Time: *a.DeletedAt, Valid: true}
		}
		return r
	},
	FromRaw: func(r accountRow) (cart.Account, error) {
		switch {
		case r.Email.Valid && r.Username.Valid:
			return cart.Account{}, errors.New("username and email are both non-null")
		case !r.Email.Valid && !r.Username.Valid:
			return cart.Account{}, errors.New("username and email are both null")
		}
		a := cart.Account{
			ID:        r.ID,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
			Email:     r.Email.String,
			Username:  r.Username.String,
		}
		if r.DeletedAt.Valid {
			t := r.DeletedAt.Time
			a.DeletedAt = &t
		}
		return a, nil
	},
	Values: func(r accountRow) []any {
		return []any{r.ID, r.CreatedAt, r.UpdatedAt, r.DeletedAt, r.Username, r.Email}
	},
	Scan: func(sc postgres.Scanner) (accountRow, error) {
		var r accountRow
		err := sc.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.Username, &r.Email)
		return r, err
	},
	Changes: func(p cart.AccountPatch) []postgres.Assignment {
		if p.Identifier == nil {
			return nil
		}
		return []postgres.Assignment{
			{Column: "email", Value: nullString(p.Identifier.Email)},
			{Column: "username", Value: nullString(p.Identifier.Username)},
		}
	},
}

type itemRow struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Name        string
	Description sql.NullString
}

// ItemTable is hard deleted and audited in item_audit.
var ItemTable = postgres.Table[cart.Item, uuid.UUID, cart.ItemPatch, itemRow]{
	Name:      "item",
	Columns:   []string{"id", "created_at", "updated_at", "name", "description"},
	Delete:    storage.DeleteHard,
	UpdatedAt: "updated_at",
	Audit:     &postgres.Audit{Table: "item_audit", ForeignKey: "item_id_arbitrary_foreign_key_name"},
	ToRaw: func(i cart.Item) itemRow {
		r := itemRow{ID: i.ID, CreatedAt: i.CreatedAt, UpdatedAt: i.UpdatedAt, Name: i.Name}
		if i.Description != nil {
			r.Description = nullString(*i.Description)
		}
		return r
	},
	FromRaw: func(r itemRow) (cart.Item, error) {
		if r.Name == "" {
			return cart.Item{}, errors.New("item name is empty")
		}
		i := cart.Item{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, Name: r.Name}
		if r.Description.Valid {
			d := r.Description.String
			i.Description = &d
		}
		return i, nil
	},
	Values: func(r itemRow) []any {
		return []any{r.ID, r.CreatedAt, r.UpdatedAt, r.Name, r.Description}
	},
	Scan: func(sc postgres.Scanner) (itemRow, error) {
		var r itemRow
		err := sc.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.Name, &r.Description)
		return r, err
	},
	Changes: func(p cart.ItemPatch) []postgres.Assignment {
		var sets []postgres.Assignment
		if p.Name != nil {
			sets = append(sets, postgres.Assignment{Column: "name", Value: *p.Name})
		}
		if p.Description != nil {
			sets = append(sets, postgres.Assignment{Column: "description", Value: nullString(*p.Description)})
		}
		return sets
	},
}

// CartTable is hard deleted and not audited. Carts are never patched.
var CartTable = postgres.Table[cart.Cart, uuid.UUID, cart.CartPatch, cart.Cart]{
	Name:      "cart",
	Columns:   []string{"id", "created_at", "updated_at", "account_id"},
	Delete:    storage.DeleteHard,
	UpdatedAt: "updated_at",
	ToRaw:     func(c cart.Cart) cart.Cart { return c },
	FromRaw:   func(c cart.Cart) (cart.Cart, error) { return c, nil },
	Values: func(c cart.Cart) []any {
		return []any{c.ID, c.CreatedAt, c.UpdatedAt, c.AccountID}
	},
	Scan: func(sc postgres.Scanner) (cart.Cart, error) {
		var c cart.Cart
		err := sc.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.AccountID)
		return c, err
	},
}

// CartItemTable is hard deleted and not audited.
var CartItemTable = postgres.Table[cart.CartItem, uuid.UUID, cart.CartItemPatch, cart.CartItem]{
	Name:    "cart_item",
	Columns: []string{"id", "created_at", "cart_id", "item_id"},
	Delete:  storage.DeleteHard,
	ToRaw:   func(c cart.CartItem) cart.CartItem { return c },
	FromRaw: func(c cart.CartItem) (cart.CartItem, error) { return c, nil },
	Values: func(c cart.CartItem) []any {
		return []any{c.ID, c.CreatedAt, c.CartID, c.ItemID}
	},
	Scan: func(sc postgres.Scanner) (cart.CartItem, error) {
		var c cart.CartItem
		err := sc.Scan(&c.ID, &c.CreatedAt, &c.CartID, &c.ItemID)
		return c, err
	},
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
