// Package store wires the cart entities to a storage backend.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"

	"authzen/internal/cart"
	"authzen/internal/storage"
	"authzen/internal/storage/memory"
	"authzen/internal/storage/postgres"
)

// Migrations holds the cart schema for golang-migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations holding the sql files.
const MigrationsDir = "migrations"

// Repository is what the cart service needs from one entity's storage.
type Repository[T storage.Entity[uuid.UUID], P storage.Patch[uuid.UUID]] interface {
	storage.Repository[T, uuid.UUID, P]
	storage.Finder[T]
}

// Stores groups the repositories of every cart entity.
type Stores struct {
	Accounts  Repository[cart.Account, cart.AccountPatch]
	Items     Repository[cart.Item, cart.ItemPatch]
	Carts     Repository[cart.Cart, cart.CartPatch]
	CartItems Repository[cart.CartItem, cart.CartItemPatch]
}

// NewPostgres builds stores backed by db.
func NewPostgres(db *sql.DB) (*Stores, error) {
	accounts, err := postgres.New(db, AccountTable)
	if err != nil {
		return nil, fmt.Errorf("account store: %w", err)
	}
	items, err := postgres.New(db, ItemTable)
	if err != nil {
		return nil, fmt.Errorf("item store: %w", err)
	}
	carts, err := postgres.New(db, CartTable)
	if err != nil {
		return nil, fmt.Errorf("cart store: %w", err)
	}
	cartItems, err := postgres.New(db, CartItemTable)
	if err != nil {
		return nil, fmt.Errorf("cart item store: %w", err)
	}
	return &Stores{Accounts: accounts, Items: items, Carts: carts, CartItems: cartItems}, nil
}

// NewMemory builds in-process stores with the same delete and audit
// semantics as the postgres tables.
func NewMemory() *Stores {
	return &Stores{
		Accounts: memory.New(memory.Options[cart.Account, uuid.UUID, cart.AccountPatch]{
			Name:   "account",
			Apply:  cart.ApplyAccountPatch,
			Delete: storage.DeleteSoft,
			MarkDeleted: func(a cart.Account, now time.Time) cart.Account {
				a.DeletedAt = &now
				return a
			},
			IsDeleted: func(a cart.Account) bool { return a.DeletedAt != nil },
			Audited:   true,
			Fields: map[string]func(cart.Account) any{
				"email":    func(a cart.Account) any { return a.Email },
				"username": func(a cart.Account) any { return a.Username },
			},
		}),
		Items: memory.New(memory.Options[cart.Item, uuid.UUID, cart.ItemPatch]{
			Name:    "item",
			Apply:   cart.ApplyItemPatch,
			Delete:  storage.DeleteHard,
			Audited: true,
			Fields: map[string]func(cart.Item) any{
				"name": func(i cart.Item) any { return i.Name },
			},
		}),
		Carts: memory.New(memory.Options[cart.Cart, uuid.UUID, cart.CartPatch]{
			Name:   "cart",
			Delete: storage.DeleteHard,
			Fields: map[string]func(cart.Cart) any{
				"account_id": func(c cart.Cart) any { return c.AccountID },
			},
		}),
		CartItems: memory.New(memory.Options[cart.CartItem, uuid.UUID, cart.CartItemPatch]{
			Name:   "cart_item",
			Delete: storage.DeleteHard,
			Fields: map[string]func(cart.CartItem) any{
				"cart_id": func(c cart.CartItem) any { return c.CartID },
				"item_id": func(c cart.CartItem) any { return c.ItemID },
			},
		}),
	}
}
