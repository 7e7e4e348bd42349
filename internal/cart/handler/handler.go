package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"authzen/internal/cart"
	"authzen/pkg/domain"
	dErrors "authzen/pkg/domain-errors"
	"authzen/pkg/platform/httputil"
	"authzen/pkg/platform/middleware/requestscope"
	"authzen/pkg/requestcontext"
)

// Service defines the cart operations the API exposes.
type Service interface {
	SignUp(ctx context.Context, id cart.Identifier) (cart.Account, error)
	DeleteAccount(ctx context.Context) error
	CreateItem(ctx context.Context, name string, description *string) (cart.Item, error)
	UpdateItem(ctx context.Context, patch cart.ItemPatch) (cart.Item, error)
	DeleteItem(ctx context.Context, id uuid.UUID) error
	ProbeItem(ctx context.Context, name string, description *string) (cart.Item, error)
	AddCartItem(ctx context.Context, itemID uuid.UUID) (cart.CartItem, error)
	MyCart(ctx context.Context) ([]cart.Item, error)
	BeginTransaction() domain.TransactionID
	EndTransaction(ctx context.Context, txID domain.TransactionID) error
}

// Handler handles the cart API.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// New creates a cart Handler.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the cart routes under /api.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(requestscope.Subject)
		r.Use(requestscope.Transaction)

		r.Post("/sign-up", h.handleSignUp)
		r.Post("/item", h.handleCreateItem)
		r.Post("/item/probe", h.handleProbeItem)
		r.Patch("/item/{id}", h.handleUpdateItem)
		r.Delete("/item/{id}", h.handleDeleteItem)
		r.Post("/transactions", h.handleBeginTransaction)

		r.Group(func(r chi.Router) {
			r.Use(requestscope.RequireSubject(h.logger))
			// Transaction ids are random bearer values; only an identified
			// caller holding one may drop its overlay.
			r.Delete("/transactions/{id}", h.handleEndTransaction)
			r.Get("/cart", h.handleMyCart)
			r.Post("/add-cart-item", h.handleAddCartItem)
			r.Delete("/account", h.handleDeleteAccount)
		})
	})
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[SignUpRequest](r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	account, err := h.svc.SignUp(ctx, cart.Identifier(*req))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, AccountResponse{ID: account.ID})
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.svc.DeleteAccount(ctx); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[ItemRequest](r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	item, err := h.svc.CreateItem(ctx, req.Name, req.Description)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *Handler) handleProbeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[ItemRequest](r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	item, err := h.svc.ProbeItem(ctx, req.Name, req.Description)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	req, err := httputil.DecodeJSON[ItemPatchRequest](r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	item, err := h.svc.UpdateItem(ctx, cart.ItemPatch{ID: id, Name: req.Name, Description: req.Description})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if err := h.svc.DeleteItem(ctx, id); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[CartItemRequest](r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if req.ItemID == uuid.Nil {
		h.writeError(ctx, w, dErrors.New(dErrors.CodeInvalidInput, "item_id is required"))
		return
	}
	placed, err := h.svc.AddCartItem(ctx, req.ItemID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, CartItemResponse{ID: placed.ID, CartID: placed.CartID, ItemID: placed.ItemID})
}

func (h *Handler) handleMyCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items, err := h.svc.MyCart(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	out := make([]ItemResponse, len(items))
	for i, item := range items {
		out[i] = toItemResponse(item)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleBeginTransaction(w http.ResponseWriter, r *http.Request) {
	txID := h.svc.BeginTransaction()
	w.Header().Set(requestscope.HeaderTransactionID, txID.String())
	httputil.WriteJSON(w, http.StatusCreated, TransactionResponse{TransactionID: txID.String()})
}

func (h *Handler) handleEndTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID, err := domain.ParseTransactionID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if err := h.svc.EndTransaction(ctx, txID); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.logger.InfoContext(ctx, "transaction ended",
		"request_id", requestcontext.RequestID(ctx),
		"transaction_id", txID.String(),
		"subject", requestcontext.Subject(ctx),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code, ok := httputil.ErrorCode(err)
	if !ok || code == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "request failed",
			"request_id", requestcontext.RequestID(ctx),
			"transaction_id", requestcontext.TransactionID(ctx).String(),
			"error", err,
		)
	} else {
		h.logger.InfoContext(ctx, "request rejected",
			"request_id", requestcontext.RequestID(ctx),
			"code", string(code),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid id")
	}
	return id, nil
}
