package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/pricing"
	"go.uber.org/zap"
)

const productsURL = "/products"

var countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)

func (s *server) getCheckout(w http.ResponseWriter, r *http.Request) {
	step := checkout.ParseStep(r.URL.Query().Get("step"))

	view, err := s.workflow.View(r.Context(), s.session(r), step)
	if err != nil {
		s.writeCheckoutError(w, r, err)
		return
	}
	if view.Redirect != "" {
		http.Redirect(w, r, view.Redirect, http.StatusSeeOther)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *server) continueCheckout(w http.ResponseWriter, r *http.Request) {
	step, err := s.workflow.Continue(r.Context(), s.session(r))
	if err != nil {
		s.writeCheckoutError(w, r, err)
		return
	}
	http.Redirect(w, r, step.URL(), http.StatusSeeOther)
}

func (s *server) backCheckout(w http.ResponseWriter, r *http.Request) {
	step, err := s.workflow.Back(r.Context(), s.session(r))
	if err != nil {
		s.writeCheckoutError(w, r, err)
		return
	}
	http.Redirect(w, r, step.URL(), http.StatusSeeOther)
}

type pricingRequest struct {
	Country        string `json:"country"`
	ShippingMethod string `json:"shipping_method"`
}

type pricingResponse struct {
	*checkout.Summary
	Applied bool `json:"applied"`
}

func (s *server) priceCheckout(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if !countryPattern.MatchString(country) {
		writeErrorFields(w, r, http.StatusUnprocessableEntity, "invalid_country", "country must be a two-letter code",
			map[string]string{"country": "must be a two-letter ISO code"})
		return
	}

	summary, applied, err := s.workflow.Price(r.Context(), s.session(r), country, pricing.ParseMethod(req.ShippingMethod))
	if err != nil {
		s.writeCheckoutError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pricingResponse{Summary: summary, Applied: applied})
}

type placeOrderRequest struct {
	Customer       models.Customer `json:"customer"`
	PolicyAccepted bool            `json:"policy_accepted"`
	Notes          *string         `json:"notes"`
	ShippingMethod string          `json:"shipping_method"`
}

// placeOrder prices the live cart for the customer's country and hands the
// result to the workflow, so the stored totals are the ones shown at step 2.
func (s *server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	ctx := r.Context()
	sess := s.session(r)

	country, method := s.workflow.Preferences(ctx, sess)
	if c := strings.ToUpper(strings.TrimSpace(req.Customer.Country)); countryPattern.MatchString(c) {
		country = c
	}
	if req.ShippingMethod != "" {
		method = pricing.ParseMethod(req.ShippingMethod)
	}

	summary, err := s.workflow.Summarize(ctx, sess, country, method)
	if err != nil {
		s.writeCheckoutError(w, r, err)
		return
	}

	order, err := s.workflow.PlaceOrder(ctx, sess, checkout.PlaceOrderRequest{
		Customer:       req.Customer,
		PolicyAccepted: req.PolicyAccepted,
		Notes:          req.Notes,
		Totals:         summary.Totals,
	})
	if err != nil {
		s.writeCheckoutError(w, r, err)
		return
	}

	w.Header().Set("Location", checkout.StepConfirmation.URL())
	writeJSON(w, http.StatusCreated, order)
}

func (s *server) finishCheckout(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow.Finish(r.Context(), s.session(r)); err != nil {
		s.writeCheckoutError(w, r, err)
		return
	}
	http.Redirect(w, r, productsURL, http.StatusSeeOther)
}

func (s *server) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *checkout.ValidationError
		placement  *checkout.PlacementError
	)
	switch {
	case errors.As(err, &validation):
		writeErrorFields(w, r, http.StatusUnprocessableEntity, "invalid_customer", "some customer details are invalid", validation.Fields)
	case errors.Is(err, checkout.ErrPolicyNotAccepted):
		writeError(w, r, http.StatusUnprocessableEntity, "policy_not_accepted", err.Error())
	case errors.Is(err, checkout.ErrEmptyCart):
		writeError(w, r, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, checkout.ErrTotalsMismatch):
		writeError(w, r, http.StatusConflict, "totals_changed", err.Error())
	case errors.Is(err, checkout.ErrAlreadyPlacing):
		writeError(w, r, http.StatusConflict, "already_placing", err.Error())
	case errors.Is(err, checkout.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "invalid_step", "this checkout step is not available")
	case errors.As(err, &placement):
		logging.FromContext(r.Context()).Warn("order placement failed",
			zap.String("detail", placement.Detail()),
			zap.Bool("retryable", placement.Retryable))
		code := "order_not_placed"
		if placement.Retryable {
			code = "order_not_placed_retryable"
		}
		writeError(w, r, http.StatusBadGateway, code, placement.Error())
	case errors.Is(err, pricing.ErrNoQuote):
		writeError(w, r, http.StatusBadGateway, "pricing_unavailable", "shipping and tax could not be calculated")
	default:
		writeInternal(w, r, "checkout request failed", err)
	}
}
