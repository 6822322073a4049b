package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/store"
)

func (s *server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_order_id", "invalid order ID")
		return
	}

	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			writeError(w, r, http.StatusNotFound, "order_not_found", "order not found")
			return
		}
		writeInternal(w, r, "failed to get order", err)
		return
	}

	// Orders placed by a signed-in customer are only visible to that customer.
	if order.UserID != nil {
		customer := sessionFromContext(r.Context()).CustomerID
		if customer == nil || *customer != *order.UserID {
			writeError(w, r, http.StatusNotFound, "order_not_found", "order not found")
			return
		}
	}

	writeJSON(w, http.StatusOK, order)
}

func (s *server) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customer := sessionFromContext(r.Context()).CustomerID

	userID := strings.TrimSpace(q.Get("user_id"))
	switch {
	case customer == nil:
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "a customer id is required")
		return
	case userID == "":
		userID = *customer
	case userID != *customer:
		writeError(w, r, http.StatusForbidden, "forbidden", "orders of another customer are not visible")
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	cursor := q.Get("cursor")
	if _, err := store.DecodeCursor(cursor); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_cursor", "invalid cursor")
		return
	}

	page, err := s.orders.ListOrders(r.Context(), userID, cursor, limit)
	if err != nil {
		writeInternal(w, r, "failed to list orders", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}
