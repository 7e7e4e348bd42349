// Package cart is the example shopping domain served through the
// authorization pipeline: accounts, items, carts and the items placed in
// them.
package cart

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"authzen/internal/storage"
	"authzen/pkg/domain"
)

// Service names this domain in decision events and PIP queries.
const Service = "examples_cart"

var (
	ObjectAccount  = domain.ObjectType{Service: Service, Type: "account"}
	ObjectItem     = domain.ObjectType{Service: Service, Type: "item"}
	ObjectCart     = domain.ObjectType{Service: Service, Type: "cart"}
	ObjectCartItem = domain.ObjectType{Service: Service, Type: "cart_item"}
)

// Account is a signed-up user. Exactly one of Email and Username is set.
// Accounts are soft deleted.
type Account struct {
	ID        uuid.UUID  `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Email     string     `json:"email,omitempty"`
	Username  string     `json:"username,omitempty"`
}

func (a Account) EntityID() uuid.UUID { return a.ID }

// Identifier is the single login handle of an account.
type Identifier struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// Validate enforces that exactly one handle is set.
func (i Identifier) Validate() error {
	email, username := strings.TrimSpace(i.Email), strings.TrimSpace(i.Username)
	switch {
	case email != "" && username != "":
		return ErrBothIdentifiers
	case email == "" && username == "":
		return ErrNoIdentifier
	}
	return nil
}

// NewAccount builds an account created at now.
func NewAccount(id Identifier, now time.Time) Account {
	return Account{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Email:     strings.TrimSpace(id.Email),
		Username:  strings.TrimSpace(id.Username),
	}
}

// AccountPatch replaces the login handle. Setting one handle clears the
// other.
type AccountPatch struct {
	ID         uuid.UUID   `json:"id"`
	Identifier *Identifier `json:"identifier,omitempty"`
}

func (p AccountPatch) EntityID() uuid.UUID { return p.ID }

func (p AccountPatch) IncludesChanges() bool { return p.Identifier != nil }

// ApplyAccountPatch returns a with p applied at now.
func ApplyAccountPatch(a Account, p AccountPatch, now time.Time) Account {
	if p.Identifier == nil {
		return a
	}
	a.Email = p.Identifier.Email
	a.Username = p.Identifier.Username
	a.UpdatedAt = now
	return a
}

// Item is something that can be put in a cart. Items are hard deleted and
// audited.
type Item struct {
	ID          uuid.UUID `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
}

func (i Item) EntityID() uuid.UUID { return i.ID }

// NewItem builds an item created at now. An empty description is stored as
// absent.
func NewItem(name string, description *string, now time.Time) Item {
	return Item{
		ID:          uuid.New(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Name:        name,
		Description: normalizeDescription(description),
	}
}

// ItemPatch changes an item. A Description pointing at "" clears it.
type ItemPatch struct {
	ID          uuid.UUID `json:"id"`
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
}

func (p ItemPatch) EntityID() uuid.UUID { return p.ID }

func (p ItemPatch) IncludesChanges() bool { return p.Name != nil || p.Description != nil }

// ApplyItemPatch returns i with p applied at now.
func ApplyItemPatch(i Item, p ItemPatch, now time.Time) Item {
	if !p.IncludesChanges() {
		return i
	}
	if p.Name != nil {
		i.Name = *p.Name
	}
	if p.Description != nil {
		i.Description = normalizeDescription(p.Description)
	}
	i.UpdatedAt = now
	return i
}

func normalizeDescription(d *string) *string {
	if d == nil || *d == "" {
		return nil
	}
	v := *d
	return &v
}

// Cart belongs to one account.
type Cart struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID uuid.UUID `json:"account_id"`
}

func (c Cart) EntityID() uuid.UUID { return c.ID }

// NewCart builds an empty cart for account.
func NewCart(account uuid.UUID, now time.Time) Cart {
	return Cart{ID: uuid.New(), CreatedAt: now, UpdatedAt: now, AccountID: account}
}

// CartItem places an item in a cart.
type CartItem struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CartID    uuid.UUID `json:"cart_id"`
	ItemID    uuid.UUID `json:"item_id"`
}

func (c CartItem) EntityID() uuid.UUID { return c.ID }

// NewCartItem builds a placement of item in cart.
func NewCartItem(cart, item uuid.UUID, now time.Time) CartItem {
	return CartItem{ID: uuid.New(), CreatedAt: now, CartID: cart, ItemID: item}
}

// Patch types of the entities without in-place updates.
type (
	CartPatch     = storage.NoPatch[uuid.UUID]
	CartItemPatch = storage.NoPatch[uuid.UUID]
)
