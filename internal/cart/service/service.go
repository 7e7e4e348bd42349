// Package service implements the cart use cases on top of the authorizer.
// Every mutation a caller makes goes through a Try so the policy engine
// decides first and the caller's transaction sees the result at once.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"authzen/internal/authz"
	"authzen/internal/cart"
	"authzen/internal/cart/store"
	"authzen/internal/storage"
	"authzen/pkg/domain"
	dErrors "authzen/pkg/domain-errors"
	"authzen/pkg/requestcontext"
)

// Service handles cart operations for the acting account.
type Service struct {
	authorizer *authz.Authorizer
	stores     *store.Stores
	accounts   *authz.Resource[cart.Account, uuid.UUID, cart.AccountPatch]
	items      *authz.Resource[cart.Item, uuid.UUID, cart.ItemPatch]
	carts      *authz.Resource[cart.Cart, uuid.UUID, cart.CartPatch]
	cartItems  *authz.Resource[cart.CartItem, uuid.UUID, cart.CartItemPatch]
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a cart Service.
func New(a *authz.Authorizer, stores *store.Stores, opts ...Option) *Service {
	s := &Service{
		authorizer: a,
		stores:     stores,
		accounts:   authz.NewResource[cart.Account, uuid.UUID, cart.AccountPatch](a, cart.ObjectAccount, stores.Accounts),
		items:      authz.NewResource[cart.Item, uuid.UUID, cart.ItemPatch](a, cart.ObjectItem, stores.Items),
		carts:      authz.NewResource[cart.Cart, uuid.UUID, cart.CartPatch](a, cart.ObjectCart, stores.Carts),
		cartItems:  authz.NewResource[cart.CartItem, uuid.UUID, cart.CartItemPatch](a, cart.ObjectCartItem, stores.CartItems),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp creates an account. There is no subject to authorize yet, so the
// insert goes straight to storage.
func (s *Service) SignUp(ctx context.Context, id cart.Identifier) (cart.Account, error) {
	if err := id.Validate(); err != nil {
		return cart.Account{}, err
	}
	account := cart.NewAccount(id, requestcontext.Now(ctx))
	created, err := s.stores.Accounts.Create(ctx, []cart.Account{account})
	if err != nil {
		return cart.Account{}, err
	}
	s.logger.InfoContext(ctx, "account signed up",
		"account_id", account.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return created[0], nil
}

// DeleteAccount soft deletes the acting account.
func (s *Service) DeleteAccount(ctx context.Context) error {
	accountID, err := currentAccount(ctx)
	if err != nil {
		return err
	}
	removed, err := s.accounts.TryDelete(ctx, []uuid.UUID{accountID})
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return nil
}

// CreateItem adds an item to the catalogue.
func (s *Service) CreateItem(ctx context.Context, name string, description *string) (cart.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return cart.Item{}, cart.ErrNameRequired
	}
	return s.items.TryCreateOne(ctx, cart.NewItem(name, description, requestcontext.Now(ctx)))
}

// UpdateItem applies patch. A patch without changes returns the item
// untouched.
func (s *Service) UpdateItem(ctx context.Context, patch cart.ItemPatch) (cart.Item, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return cart.Item{}, cart.ErrNameRequired
	}
	updated, err := s.items.TryUpdate(ctx, []cart.ItemPatch{patch})
	if err != nil {
		return cart.Item{}, err
	}
	if len(updated) == 0 {
		return cart.Item{}, dErrors.New(dErrors.CodeNotFound, "item not found")
	}
	return updated[0], nil
}

// DeleteItem removes an item.
func (s *Service) DeleteItem(ctx context.Context, id uuid.UUID) error {
	removed, err := s.items.TryDelete(ctx, []uuid.UUID{id})
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return dErrors.New(dErrors.CodeNotFound, "item not found")
	}
	return nil
}

// ProbeItem checks that an item could be created, running the insert and
// removing it again. Nothing is left behind in storage or the transaction.
func (s *Service) ProbeItem(ctx context.Context, name string, description *string) (cart.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return cart.Item{}, cart.ErrNameRequired
	}
	probe := cart.NewItem(name, description, requestcontext.Now(ctx))
	out, err := authz.Try(ctx, s.authorizer, authz.CreateThenDelete(s.items), []cart.Item{probe})
	if err != nil {
		return cart.Item{}, err
	}
	return out[0], nil
}

// AddCartItem places item in the acting account's cart, creating the cart
// on first use.
func (s *Service) AddCartItem(ctx context.Context, itemID uuid.UUID) (cart.CartItem, error) {
	accountID, err := currentAccount(ctx)
	if err != nil {
		return cart.CartItem{}, err
	}
	if _, err := storage.ReadOne[cart.Item, uuid.UUID](ctx, s.stores.Items, itemID); err != nil {
		return cart.CartItem{}, fmt.Errorf("item %s: %w", itemID, err)
	}
	current, err := s.currentCart(ctx, accountID)
	if err != nil {
		return cart.CartItem{}, err
	}
	return s.cartItems.TryCreateOne(ctx, cart.NewCartItem(current.ID, itemID, requestcontext.Now(ctx)))
}

// MyCart returns the items in the acting account's cart in placement order.
func (s *Service) MyCart(ctx context.Context) ([]cart.Item, error) {
	accountID, err := currentAccount(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.currentCart(ctx, accountID)
	if err != nil {
		return nil, err
	}
	placed, err := s.stores.CartItems.FindBy(ctx, "cart_id", current.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(placed))
	for i, p := range placed {
		ids[i] = p.ItemID
	}
	items, err := s.items.TryRead(ctx, ids)
	if err != nil {
		return nil, err
	}
	return storage.OrderByIDs[cart.Item, uuid.UUID](items, ids), nil
}

// BeginTransaction mints an id for a new logical transaction.
func (s *Service) BeginTransaction() domain.TransactionID {
	return domain.NewTransactionID()
}

// EndTransaction drops the overlay of txID. Entries expire on their own, so
// skipping this only costs memory until then.
func (s *Service) EndTransaction(ctx context.Context, txID domain.TransactionID) error {
	if err := s.authorizer.Cache().Clear(ctx, txID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "transaction cleared",
		"transaction_id", txID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// currentCart returns the account's oldest cart or creates one.
func (s *Service) currentCart(ctx context.Context, accountID uuid.UUID) (cart.Cart, error) {
	existing, err := s.stores.Carts.FindBy(ctx, "account_id", accountID)
	if err != nil {
		return cart.Cart{}, err
	}
	if len(existing) > 0 {
		oldest := existing[0]
		for _, c := range existing[1:] {
			if c.CreatedAt.Before(oldest.CreatedAt) {
				oldest = c
			}
		}
		return oldest, nil
	}
	return s.carts.TryCreateOne(ctx, cart.NewCart(accountID, requestcontext.Now(ctx)))
}

func currentAccount(ctx context.Context) (uuid.UUID, error) {
	subject := requestcontext.Subject(ctx)
	if subject == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeUnauthorized, "must be signed in")
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid account id")
	}
	return id, nil
}
