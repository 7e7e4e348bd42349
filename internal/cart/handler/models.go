// Package handler exposes the cart service over HTTP.
package handler

import (
	"github.com/google/uuid"

	"authzen/internal/cart"
)

// SignUpRequest carries exactly one of Email and Username.
type SignUpRequest struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

type AccountResponse struct {
	ID uuid.UUID `json:"id"`
}

type ItemRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// ItemPatchRequest changes the fields present. An empty description clears
// it.
type ItemPatchRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type ItemResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
}

func toItemResponse(i cart.Item) ItemResponse {
	return ItemResponse{ID: i.ID, Name: i.Name, Description: i.Description}
}

type CartItemRequest struct {
	ItemID uuid.UUID `json:"item_id"`
}

type CartItemResponse struct {
	ID     uuid.UUID `json:"id"`
	CartID uuid.UUID `json:"cart_id"`
	ItemID uuid.UUID `json:"item_id"`
}

type TransactionResponse struct {
	TransactionID string `json:"transaction_id"`
}
