package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/kv"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/pricing"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSession     = "session-under-test"
	testNotifyToken = "notify-secret"
)

type stubCatalog struct {
	products map[string]models.Product
}

func (c *stubCatalog) GetProduct(_ context.Context, id string) (*models.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return &p, nil
}

func (c *stubCatalog) ListProducts(_ context.Context, page, pageSize int) (*store.OffsetPage, error) {
	items := []models.Product{}
	for _, id := range []string{"p1", "p2"} {
		if p, ok := c.products[id]; ok && p.Active {
			items = append(items, p)
		}
	}
	return &store.OffsetPage{Items: items, Total: int64(len(items)), Page: page, PageSize: pageSize, TotalPages: 1}, nil
}

type stubOrders struct {
	mu        sync.Mutex
	createErr error
	orders    map[uuid.UUID]models.Order
	listed    []string
}

func (o *stubOrders) CreateOrder(_ context.Context, order models.Order) (models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.createErr != nil {
		return models.Order{}, o.createErr
	}
	order.OrderNumber = fmt.Sprintf("ORD-TEST-%d", len(o.orders)+1)
	order.CreatedAt = time.Now()
	o.orders[order.ID] = order
	return order, nil
}

func (o *stubOrders) CreateOrderItems(_ context.Context, id uuid.UUID, items []models.OrderItem) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	order := o.orders[id]
	order.Items = items
	o.orders[id] = order
	return nil
}

func (o *stubOrders) DeleteOrder(_ context.Context, id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.orders, id)
	return nil
}

func (o *stubOrders) GetOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	return &order, nil
}

func (o *stubOrders) ListOrders(_ context.Context, userID, _ string, _ int) (*store.CursorPage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listed = append(o.listed, userID)
	return &store.CursorPage{Items: []models.Order{}}, nil
}

type stubDiscounts map[string]models.Discount

func (d stubDiscounts) ActiveProductDiscounts(_ context.Context, ids []string) (map[string]models.Discount, error) {
	out := map[string]models.Discount{}
	for _, id := range ids {
		if v, ok := d[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type stubConfirmations struct {
	err  error
	seen []notify.Confirmation
}

func (c *stubConfirmations) HandleConfirmation(_ context.Context, conf notify.Confirmation) error {
	c.seen = append(c.seen, conf)
	return c.err
}

type testAPI struct {
	router        chi.Router
	orders        *stubOrders
	confirmations *stubConfirmations
	workflow      *checkout.Workflow
}

func newTestAPI(t *testing.T, discounts stubDiscounts) *testAPI {
	t.Helper()

	resolver, err := pricing.NewResolver(pricing.DefaultTable(), nil)
	require.NoError(t, err)

	api := &testAPI{
		orders:        &stubOrders{orders: map[uuid.UUID]models.Order{}},
		confirmations: &stubConfirmations{},
	}
	var dr checkout.DiscountResolver
	if discounts != nil {
		dr = discounts
	}

	api.workflow, err = checkout.NewWorkflow(checkout.WorkflowDeps{
		Orders:    api.orders,
		Discounts: dr,
		Pricing:   resolver,
	})
	require.NoError(t, err)
	t.Cleanup(api.workflow.Wait)

	api.router, err = NewRouter(Deps{
		Catalog: &stubCatalog{products: map[string]models.Product{
			"p1": {ID: "p1", Name: "Olive oil", NameFr: "Huile d'olive", Price: decimal.NewFromInt(50), ImageURL: "/img/p1.jpg", Active: true},
			"p2": {ID: "p2", Name: "Dates", Price: decimal.NewFromInt(12), Active: true},
			"p3": {ID: "p3", Name: "Retired", Price: decimal.NewFromInt(5), Active: false},
		}},
		Orders:        api.orders,
		Discounts:     dr,
		Workflow:      api.workflow,
		Sessions:      kv.NewMemory(),
		Confirmations: api.confirmations,
		NotifyToken:   testNotifyToken,
	})
	require.NoError(t, err)
	return api
}

func (a *testAPI) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SessionHeader, testSession)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[errorEnvelope](t, rec).Error.Code
}

func customerBody() map[string]any {
	return map[string]any{
		"customer": map[string]string{
			"email":      "amel@example.com",
			"first_name": "Amel",
			"last_name":  "Ben Salah",
			"address":    "12 Rue de Marseille",
			"city":       "Tunis",
			"country":    "TN",
		},
		"policy_accepted": true,
	}
}

func TestSessionIsMintedWhenMissing(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get(SessionHeader)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.Equal(t, id, cookies[0].Value)

	rec = api.do(t, http.MethodGet, "/cart", nil)
	assert.Equal(t, testSession, rec.Header().Get(SessionHeader))
}

func TestCartEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p1"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p2"})
	require.Equal(t, http.StatusOK, rec.Code)

	cart := decodeBody[cartPayload](t, rec)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, "/img/p1.jpg", cart.Items[0].Image)
	assert.Equal(t, 3, cart.TotalItems)
	assert.True(t, cart.Subtotal.Equal(decimal.NewFromInt(112)))
	assert.True(t, cart.Open)

	rec = api.do(t, http.MethodGet, "/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[cartPayload](t, rec).Open, "drawer state is kept between requests")

	rec = api.do(t, http.MethodPatch, "/cart", map[string]bool{"open": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[cartPayload](t, rec).Open)
	rec = api.do(t, http.MethodGet, "/cart", nil)
	assert.False(t, decodeBody[cartPayload](t, rec).Open)
	assert.Equal(t, 3, decodeBody[cartPayload](t, rec).TotalItems)

	rec = api.do(t, http.MethodPatch, "/cart", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPatch, "/cart/items/p1", map[string]int{"quantity": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, decodeBody[cartPayload](t, rec).TotalItems)

	rec = api.do(t, http.MethodPatch, "/cart/items/p2", map[string]int{"quantity": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[cartPayload](t, rec).Items, 1)

	rec = api.do(t, http.MethodPatch, "/cart/items/p2", map[string]int{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "cart_item_not_found", errorCode(t, rec))

	rec = api.do(t, http.MethodDelete, "/cart/items/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[cartPayload](t, rec).Items)

	api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p2"})
	rec = api.do(t, http.MethodDelete, "/cart", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodGet, "/cart", nil)
	assert.Zero(t, decodeBody[cartPayload](t, rec).TotalItems)
}

func TestAddCartItemRejectsUnknownProducts(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "product_not_found", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p3"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodPost, "/cart/items", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))
}

func TestProductsCarryActiveDiscounts(t *testing.T) {
	api := newTestAPI(t, stubDiscounts{
		"p1": {ID: "d1", ProductID: "p1", DiscountPercent: decimal.NewFromInt(20), Active: true},
	})

	rec := api.do(t, http.MethodGet, "/products?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decodeBody[struct {
		Items []productPayload `json:"items"`
		Total int64            `json:"total"`
	}](t, rec)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Total)
	require.NotNil(t, page.Items[0].Discount)
	assert.True(t, page.Items[0].DiscountedPrice.Equal(decimal.NewFromInt(40)))
	assert.Nil(t, page.Items[1].Discount)
	assert.True(t, page.Items[1].DiscountedPrice.Equal(decimal.NewFromInt(12)))

	rec = api.do(t, http.MethodGet, "/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[productPayload](t, rec).DiscountedPrice.Equal(decimal.NewFromInt(40)))

	rec = api.do(t, http.MethodGet, "/products/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutRedirectsEmptyCart(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodGet, "/checkout?step=1", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, checkout.CartURL, rec.Header().Get("Location"))

	rec = api.do(t, http.MethodPost, "/checkout/continue", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "empty_cart", errorCode(t, rec))
}

func TestCheckoutFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p1"})
	api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p1"})

	rec := api.do(t, http.MethodGet, "/checkout?step=3", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, checkout.StepSummary.URL(), rec.Header().Get("Location"))

	rec = api.do(t, http.MethodPost, "/checkout/continue", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, checkout.StepInformation.URL(), rec.Header().Get("Location"))

	rec = api.do(t, http.MethodPost, "/checkout/pricing", map[string]string{"country": "fr", "shipping_method": "express"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	priced := decodeBody[struct {
		Totals  pricing.Totals `json:"totals"`
		Applied bool           `json:"applied"`
	}](t, rec)
	assert.True(t, priced.Applied)
	assert.True(t, priced.Totals.ShippingCost.Equal(decimal.NewFromInt(29)))

	rec = api.do(t, http.MethodPost, "/checkout/orders", customerBody(), "Accept-Language", "fr-FR,fr;q=0.9")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, checkout.StepConfirmation.URL(), rec.Header().Get("Location"))

	order := decodeBody[models.Order](t, rec)
	assert.Equal(t, "ORD-TEST-1", order.OrderNumber)
	assert.Equal(t, "TN", order.Country)
	assert.Equal(t, "fr", order.Locale)
	assert.True(t, order.ShippingCost.Equal(decimal.NewFromInt(15)), "express method is kept")
	assert.True(t, order.Total.Equal(decimal.NewFromInt(134)))

	rec = api.do(t, http.MethodGet, "/checkout?step=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[checkout.View](t, rec)
	assert.True(t, view.Confirmed)
	require.NotNil(t, view.Snapshot)
	assert.Equal(t, "ORD-TEST-1", view.Snapshot.Summary.OrderNumber)

	rec = api.do(t, http.MethodGet, "/cart", nil)
	assert.Zero(t, decodeBody[cartPayload](t, rec).TotalItems)

	rec = api.do(t, http.MethodPost, "/checkout/finish", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, productsURL, rec.Header().Get("Location"))

	rec = api.do(t, http.MethodGet, "/checkout?step=3", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, checkout.CartURL, rec.Header().Get("Location"))
}

func TestPlaceOrderErrors(t *testing.T) {
	t.Run("policy not accepted", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p1"})
		api.do(t, http.MethodPost, "/checkout/continue", nil)

		body := customerBody()
		body["policy_accepted"] = false
		rec := api.do(t, http.MethodPost, "/checkout/orders", body)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "policy_not_accepted", errorCode(t, rec))
		assert.Empty(t, api.orders.orders)
	})

	t.Run("invalid customer", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p1"})
		api.do(t, http.MethodPost, "/checkout/continue", nil)

		body := customerBody()
		body["customer"] = map[string]string{"email": "not-an-email", "country": "TN"}
		rec := api.do(t, http.MethodPost, "/checkout/orders", body)

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		env := decodeBody[errorEnvelope](t, rec)
		assert.Equal(t, "invalid_customer", env.Error.Code)
		assert.Contains(t, env.Error.Fields, "email")
		assert.Contains(t, env.Error.Fields, "city")
	})

	t.Run("persistence failure", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.orders.createErr = errors.New("connection refused")
		api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p1"})
		api.do(t, http.MethodPost, "/checkout/continue", nil)

		rec := api.do(t, http.MethodPost, "/checkout/orders", customerBody())

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		env := decodeBody[errorEnvelope](t, rec)
		assert.Equal(t, "order_not_placed_retryable", env.Error.Code)
		assert.NotContains(t, env.Error.Message, "connection refused")

		rec = api.do(t, http.MethodGet, "/cart", nil)
		assert.Equal(t, 1, decodeBody[cartPayload](t, rec).TotalItems)
	})

	t.Run("not at information step", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.do(t, http.MethodPost, "/cart/items", map[string]string{"id": "p1"})

		rec := api.do(t, http.MethodPost, "/checkout/orders", customerBody())
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "invalid_step", errorCode(t, rec))
	})
}

func TestPricingRejectsBadCountry(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/checkout/pricing", map[string]string{"country": "France"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_country", errorCode(t, rec))
}

func TestOrderReads(t *testing.T) {
	api := newTestAPI(t, nil)
	owner := "customer-1"
	id := uuid.New()
	api.orders.orders[id] = models.Order{ID: id, OrderNumber: "ORD-1", UserID: &owner}

	rec := api.do(t, http.MethodGet, "/orders/"+id.String(), nil, CustomerHeader, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ORD-1", decodeBody[models.Order](t, rec).OrderNumber)

	rec = api.do(t, http.MethodGet, "/orders/"+id.String(), nil, CustomerHeader, "customer-2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders?user_id=customer-2", nil, CustomerHeader, owner)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders?cursor=@@@@", nil, CustomerHeader, owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders?limit=5", nil, CustomerHeader, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{owner}, api.orders.listed)
}

func TestConfirmationEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	valid := notify.Confirmation{
		Order:        models.Order{OrderNumber: "ORD-1", Email: "amel@example.com"},
		Items:        []models.OrderItem{{ProductID: "p1", Quantity: 1}},
		CustomerName: "Amel Ben Salah",
	}

	const target = "/notifications/order-confirmation"
	token := func(v string) []string { return []string{notify.TokenHeader, v} }

	rec := api.do(t, http.MethodPost, target, valid)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(t, http.MethodPost, target, valid, token("guess")...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, api.confirmations.seen, "unauthenticated requests send nothing")

	rec = api.do(t, http.MethodPost, target, valid, token(testNotifyToken)...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, notify.Result{Success: true}, decodeBody[notify.Result](t, rec))
	require.Len(t, api.confirmations.seen, 1)
	assert.Equal(t, "Amel Ben Salah", api.confirmations.seen[0].CustomerName)

	api.confirmations.err = errors.New("smtp down")
	rec = api.do(t, http.MethodPost, target, valid, token(testNotifyToken)...)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, decodeBody[notify.Result](t, rec).Success)

	rec = api.do(t, http.MethodPost, target, notify.Confirmation{}, token(testNotifyToken)...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeBody[notify.Result](t, rec).Error)
}

func TestConfirmationEndpointNeedsToken(t *testing.T) {
	api := newTestAPI(t, nil)

	_, err := NewRouter(Deps{
		Catalog:       &stubCatalog{},
		Orders:        api.orders,
		Workflow:      api.workflow,
		Sessions:      kv.NewMemory(),
		Confirmations: api.confirmations,
	})
	assert.Error(t, err)
}

func TestRequestLocale(t *testing.T) {
	tests := []struct {
		target, accept, want string
	}{
		{"/", "", "en"},
		{"/", "fr-FR,fr;q=0.9,en;q=0.5", "fr"},
		{"/", "ar-TN", "ar"},
		{"/", "de-DE", "en"},
		{"/?lang=ar", "fr", "ar"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if tt.accept != "" {
			req.Header.Set("Accept-Language", tt.accept)
		}
		assert.Equal(t, tt.want, requestLocale(req), "%s %s", tt.target, tt.accept)
	}
}

func TestSessionLocksSerialiseAndRelease(t *testing.T) {
	locks := newSessionLocks()
	l := locks.locker("s1")

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock()
			defer l.Unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.size())
}
