package store

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"authzen/internal/cart"
	"authzen/internal/pip"
)

// HeaderItemCount carries the number of items a PIP item query returned.
const HeaderItemCount = "X-Item-Count"

// RegisterPIP makes every cart entity queryable through svc, reading from
// s.
func (s *Stores) RegisterPIP(svc *pip.Service) {
	pip.Register[cart.Account, uuid.UUID](svc, cart.ObjectAccount, s.Accounts.Read)
	pip.Register[cart.Item, uuid.UUID](svc, cart.ObjectItem, s.Items.Read,
		pip.WithHeaders(func(items []cart.Item) http.Header {
			return http.Header{HeaderItemCount: []string{strconv.Itoa(len(items))}}
		}),
	)
	pip.Register[cart.Cart, uuid.UUID](svc, cart.ObjectCart, s.Carts.Read)
	pip.Register[cart.CartItem, uuid.UUID](svc, cart.ObjectCartItem, s.CartItems.Read)
}
