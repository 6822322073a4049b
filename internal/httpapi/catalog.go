package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/discount"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// productPayload is a catalog product with its currently active discount.
type productPayload struct {
	models.Product
	Discount        *models.Discount `json:"discount,omitempty"`
	DiscountedPrice decimal.Decimal  `json:"discounted_price"`
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func (s *server) listProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	result, err := s.catalog.ListProducts(r.Context(), page, pageSize)
	if err != nil {
		writeInternal(w, r, "failed to list products", err)
		return
	}

	products, _ := result.Items.([]models.Product)
	result.Items = s.withDiscounts(r, products)
	writeJSON(w, http.StatusOK, result)
}

func (s *server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			writeError(w, r, http.StatusNotFound, "product_not_found", "product not found")
			return
		}
		writeInternal(w, r, "failed to get product", err)
		return
	}

	writeJSON(w, http.StatusOK, s.withDiscounts(r, []models.Product{*product})[0])
}

// withDiscounts annotates products with one batch discount lookup. A failed
// lookup shows list prices.
func (s *server) withDiscounts(r *http.Request, products []models.Product) []productPayload {
	out := make([]productPayload, 0, len(products))
	for _, p := range products {
		out = append(out, productPayload{Product: p, DiscountedPrice: p.Price})
	}
	if s.discounts == nil || len(products) == 0 {
		return out
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	found, err := s.discounts.ActiveProductDiscounts(r.Context(), ids)
	if err != nil {
		logging.FromContext(r.Context()).Warn("discount lookup failed, showing list prices", zap.Error(err))
		return out
	}

	for i := range out {
		d, ok := found[out[i].ID]
		if !ok {
			continue
		}
		out[i].Discount = &d
		out[i].DiscountedPrice = discount.CalculateDiscountedPrice(out[i].Price, d.DiscountPercent)
	}
	return out
}
