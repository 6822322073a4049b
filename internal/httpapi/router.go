// Package httpapi exposes the storefront over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/kv"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/store"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

type Catalog interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, userID, cursor string, limit int) (*store.CursorPage, error)
}

type ConfirmationHandler interface {
	HandleConfirmation(ctx context.Context, c notify.Confirmation) error
}

type Deps struct {
	Catalog       Catalog
	Orders        OrderReader
	Discounts     checkout.DiscountResolver
	Workflow      *checkout.Workflow
	Sessions      kv.Store
	Confirmations ConfirmationHandler
	// NotifyToken must accompany every confirmation request in the
	// notify.TokenHeader header.
	NotifyToken string
	Logger      *zap.Logger
	Timeout       time.Duration
}

type server struct {
	catalog       Catalog
	orders        OrderReader
	discounts     checkout.DiscountResolver
	workflow      *checkout.Workflow
	sessions      kv.Store
	confirmations ConfirmationHandler
	notifyToken   string
	locks         *sessionLocks
}

// NewRouter builds the storefront router. Confirmations is optional; without
// it the notification endpoint is not mounted. With it a NotifyToken is
// required.
func NewRouter(deps Deps) (chi.Router, error) {
	if deps.Catalog == nil {
		return nil, errors.New("httpapi: catalog is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("httpapi: order reader is required")
	}
	if deps.Workflow == nil {
		return nil, errors.New("httpapi: checkout workflow is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("httpapi: session store is required")
	}
	if deps.Confirmations != nil && deps.NotifyToken == "" {
		return nil, errors.New("httpapi: notify token is required with a confirmation handler")
	}
	logger := logging.OrNop(deps.Logger)
	if deps.Timeout <= 0 {
		deps.Timeout = defaultTimeout
	}

	s := &server{
		catalog:       deps.Catalog,
		orders:        deps.Orders,
		discounts:     deps.Discounts,
		workflow:      deps.Workflow,
		sessions:      deps.Sessions,
		confirmations: deps.Confirmations,
		notifyToken:   deps.NotifyToken,
		locks:         newSessionLocks(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Timeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "route_not_found", fmt.Sprintf("no route for %s", req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", s.listProducts)
		r.Get("/{id}", s.getProduct)
	})

	r.Group(func(r chi.Router) {
		r.Use(sessions)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.getCart)
			r.Patch("/", s.setCartOpen)
			r.Delete("/", s.clearCart)
			r.Post("/items", s.addCartItem)
			r.Patch("/items/{id}", s.updateCartItem)
			r.Delete("/items/{id}", s.removeCartItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", s.getCheckout)
			r.Post("/continue", s.continueCheckout)
			r.Post("/back", s.backCheckout)
			r.Post("/pricing", s.priceCheckout)
			r.Post("/orders", s.placeOrder)
			r.Post("/finish", s.finishCheckout)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.listOrders)
			r.Get("/{id}", s.getOrder)
		})
	})

	if s.confirmations != nil {
		r.With(requireToken(s.notifyToken)).Post("/notifications/order-confirmation", s.sendConfirmation)
	}

	return r, nil
}

// session builds the checkout session of the current request. The returned
// session shares its lock with every other request of the same session id.
func (s *server) session(r *http.Request) *checkout.Session {
	ctx := r.Context()
	rs := sessionFromContext(ctx)

	sess := checkout.NewSession(rs.ID, kv.SessionKeys(s.sessions, rs.ID), logging.FromContext(ctx))
	sess.CustomerID = rs.CustomerID
	sess.Locale = rs.Locale
	sess.Lock = s.locks.locker(rs.ID)
	return sess
}
