package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

type cartPayload struct {
	Items      []models.CartItem `json:"items"`
	TotalItems int               `json:"total_items"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
	Open       bool              `json:"open"`
}

func cartResponse(sess *checkout.Session) cartPayload {
	return cartPayload{
		Items:      sess.Cart.Items(),
		TotalItems: sess.Cart.TotalItems(),
		Subtotal:   sess.Cart.Subtotal(),
		Open:       sess.Cart.IsOpen(),
	}
}

// cartItemFromProduct snapshots the product's list price and display fields.
func cartItemFromProduct(p *models.Product) models.CartItem {
	image := p.ImageURL
	if image == "" && len(p.Images) > 0 {
		image = p.Images[0].URL
	}
	return models.CartItem{
		ID:          p.ID,
		Name:        p.Name,
		NameFr:      p.NameFr,
		NameAr:      p.NameAr,
		UnitPrice:   p.Price,
		Image:       image,
		Rating:      p.Rating,
		ReviewCount: p.ReviewCount,
	}
}

func (s *server) getCart(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)

	sess.Lock.Lock()
	sess.Cart.Load(r.Context())
	payload := cartResponse(sess)
	sess.Lock.Unlock()

	writeJSON(w, http.StatusOK, payload)
}

func (s *server) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}

	product, err := s.catalog.GetProduct(r.Context(), req.ID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			writeError(w, r, http.StatusNotFound, "product_not_found", "product not found")
			return
		}
		writeInternal(w, r, "failed to get product", err)
		return
	}
	if !product.Active {
		writeError(w, r, http.StatusUnprocessableEntity, "product_unavailable", "product is not available")
		return
	}

	sess := s.session(r)
	sess.Lock.Lock()
	sess.Cart.AddItem(r.Context(), cartItemFromProduct(product))
	payload := cartResponse(sess)
	sess.Lock.Unlock()

	writeJSON(w, http.StatusOK, payload)
}

func (s *server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity *int `json:"quantity"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if req.Quantity == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "quantity is required")
		return
	}

	id := chi.URLParam(r, "id")
	sess := s.session(r)

	sess.Lock.Lock()
	sess.Cart.Load(r.Context())
	if !hasItem(sess, id) {
		sess.Lock.Unlock()
		writeError(w, r, http.StatusNotFound, "cart_item_not_found", "item is not in the cart")
		return
	}
	sess.Cart.UpdateQuantity(r.Context(), id, *req.Quantity)
	payload := cartResponse(sess)
	sess.Lock.Unlock()

	writeJSON(w, http.StatusOK, payload)
}

func (s *server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)

	sess.Lock.Lock()
	sess.Cart.RemoveItem(r.Context(), chi.URLParam(r, "id"))
	payload := cartResponse(sess)
	sess.Lock.Unlock()

	writeJSON(w, http.StatusOK, payload)
}

func (s *server) setCartOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Open *bool `json:"open"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if req.Open == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "open is required")
		return
	}

	sess := s.session(r)
	sess.Lock.Lock()
	sess.Cart.SetOpen(r.Context(), *req.Open)
	payload := cartResponse(sess)
	sess.Lock.Unlock()

	writeJSON(w, http.StatusOK, payload)
}

func (s *server) clearCart(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)

	sess.Lock.Lock()
	sess.Cart.Clear(r.Context())
	sess.Lock.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func hasItem(sess *checkout.Session, id string) bool {
	for _, item := range sess.Cart.Items() {
		if item.ID == id {
			return true
		}
	}
	return false
}
