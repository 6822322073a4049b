// Package checkout drives a session from the cart summary to a placed order.
package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/cart"
	"github.com/safar/storefront/internal/discount"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/pricing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/safar/storefront/internal/checkout")

type OrderRepository interface {
	CreateOrder(ctx context.Context, order models.Order) (models.Order, error)
	CreateOrderItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error
}

type DiscountResolver interface {
	ActiveProductDiscounts(ctx context.Context, productIDs []string) (map[string]models.Discount, error)
}

type Workflow struct {
	orders          OrderRepository
	dispatcher      notify.Dispatcher
	discounts       DiscountResolver
	pricing         pricing.Source
	pricingFallback pricing.Source
	defaultCountry  string
	retryable       func(error) bool
	now             func() time.Time
	logger          *zap.Logger
	dispatchTimeout time.Duration
	placingTimeout  time.Duration

	inflight sync.Map
	wg       sync.WaitGroup
}

type WorkflowDeps struct {
	Orders          OrderRepository
	Dispatcher      notify.Dispatcher
	Discounts       DiscountResolver
	Pricing         pricing.Source
	PricingFallback pricing.Source
	DefaultCountry  string
	// Retryable classifies persistence errors. Nil treats every failure as
	// retryable.
	Retryable       func(error) bool
	Now             func() time.Time
	Logger          *zap.Logger
	DispatchTimeout time.Duration
	PlacingTimeout  time.Duration
}

func NewWorkflow(deps WorkflowDeps) (*Workflow, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout workflow: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout workflow: pricing source is required")
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = notify.Nop{}
	}
	if deps.DefaultCountry == "" {
		deps.DefaultCountry = "TN"
	}
	if deps.Retryable == nil {
		deps.Retryable = func(error) bool { return true }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.DispatchTimeout <= 0 {
		deps.DispatchTimeout = 30 * time.Second
	}
	if deps.PlacingTimeout <= 0 {
		deps.PlacingTimeout = 2 * time.Minute
	}

	return &Workflow{
		orders:          deps.Orders,
		dispatcher:      deps.Dispatcher,
		discounts:       deps.Discounts,
		pricing:         deps.Pricing,
		pricingFallback: deps.PricingFallback,
		defaultCountry:  deps.DefaultCountry,
		retryable:       deps.Retryable,
		now:             deps.Now,
		logger:          deps.Logger,
		dispatchTimeout: deps.DispatchTimeout,
		placingTimeout:  deps.PlacingTimeout,
	}, nil
}

// Summary is the priced content of the live cart.
type Summary struct {
	Items     []models.CartItem          `json:"items"`
	Discounts map[string]models.Discount `json:"discounts,omitempty"`
	Quote     pricing.Quote              `json:"quote"`
	Totals    pricing.Totals             `json:"totals"`
}

type View struct {
	Step      Step      `json:"step"`
	URL       string    `json:"url"`
	State     State     `json:"state"`
	Redirect  string    `json:"redirect,omitempty"`
	Summary   *Summary  `json:"summary,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Confirmed bool      `json:"confirmed"`
}

type PlaceOrderRequest struct {
	Customer       models.Customer
	PolicyAccepted bool
	Notes          *string
	Totals         pricing.Totals
}

func (w *Workflow) tracker(sess *Session) *pricing.Tracker {
	t, _ := pricing.NewTracker(pricing.TrackerDeps{
		Store:    sess.Store,
		Source:   w.pricing,
		Fallback: w.pricingFallback,
		Lock:     sess.Lock,
		Logger:   w.logger,
	})
	return t
}

func (w *Workflow) sessionLogger(sess *Session) *zap.Logger {
	return w.logger.With(zap.String("session_id", sess.ID))
}

// Preferences returns the country and shipping method of the session's last
// quote, or the defaults.
func (w *Workflow) Preferences(ctx context.Context, sess *Session) (string, pricing.Method) {
	q, err := w.tracker(sess).Current(ctx)
	if err != nil || q.Input.Country == "" {
		return w.defaultCountry, pricing.MethodStandard
	}
	return q.Input.Country, q.Input.Method
}

type pricedLines struct {
	items     []models.CartItem
	discounts map[string]models.Discount
	subtotal  decimal.Decimal
	discount  decimal.Decimal
}

func (w *Workflow) priceLines(ctx context.Context, sess *Session) pricedLines {
	sess.Cart.Load(ctx)
	items := sess.Cart.Items()

	p := pricedLines{
		items:     items,
		discounts: map[string]models.Discount{},
		subtotal:  cart.Subtotal(items),
		discount:  decimal.Zero,
	}
	if w.discounts == nil || len(items) == 0 {
		return p
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	found, err := w.discounts.ActiveProductDiscounts(ctx, ids)
	if err != nil {
		w.sessionLogger(sess).Warn("discount lookup failed, pricing without discounts", zap.Error(err))
		return p
	}
	p.discounts = found

	for _, item := range items {
		d, ok := found[item.ID]
		if !ok {
			continue
		}
		discounted := discount.CalculateDiscountedPrice(item.UnitPrice, d.DiscountPercent)
		p.discount = p.discount.Add(item.UnitPrice.Sub(discounted).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return p
}

func (p pricedLines) summary(q pricing.Quote) *Summary {
	return &Summary{
		Items:     p.items,
		Discounts: p.discounts,
		Quote:     q,
		Totals:    pricing.ComputeTotals(p.subtotal, p.discount, q),
	}
}

func (p pricedLines) input(country string, method pricing.Method) pricing.Input {
	return pricing.Input{
		Country:  country,
		Subtotal: p.subtotal.Sub(p.discount).Round(pricing.MoneyPlaces),
		Method:   method,
	}
}

// Summarize prices the live cart for country, reusing the stored quote when
// it was computed for the same input.
func (w *Workflow) Summarize(ctx context.Context, sess *Session, country string, method pricing.Method) (*Summary, error) {
	lines := w.priceLines(ctx, sess)
	q, err := w.tracker(sess).Ensure(ctx, lines.input(country, method))
	if err != nil {
		return nil, fmt.Errorf("quote checkout: %w", err)
	}
	return lines.summary(q), nil
}

// Price refreshes the live quote after the customer changed country or
// shipping method. When a newer refresh of the same session finished first,
// the newer quote is returned and applied is false.
func (w *Workflow) Price(ctx context.Context, sess *Session, country string, method pricing.Method) (*Summary, bool, error) {
	lines := w.priceLines(ctx, sess)
	t := w.tracker(sess)

	q, applied, err := t.Refresh(ctx, lines.input(country, method))
	if err != nil {
		return nil, false, fmt.Errorf("quote checkout: %w", err)
	}
	if !applied {
		if current, err := t.Current(ctx); err == nil {
			q = current
		}
	}
	return lines.summary(q), applied, nil
}

// View resolves a checkout page request and applies the state changes the
// resolution implies.
func (w *Workflow) View(ctx context.Context, sess *Session, requested Step) (View, error) {
	log := w.sessionLogger(sess)

	sess.Lock.Lock()
	sess.Cart.Load(ctx)
	m := LoadMachine(ctx, sess.Store, log)
	snap := LoadSnapshot(ctx, sess.Store, log)

	d := Resolve(requested, m.State, sess.Cart.Len() == 0, snap != nil)
	changed := false
	if d.DiscardSnapshot {
		DiscardSnapshot(ctx, sess.Store, log)
		snap = nil
	}
	if d.Reset {
		m.Reset()
		changed = true
	}
	if d.Retreat {
		if err := m.Retreat(); err == nil {
			changed = true
		}
	}
	var saveErr error
	if changed {
		saveErr = m.Save(ctx, sess.Store)
	}
	sess.Lock.Unlock()

	if saveErr != nil {
		return View{}, saveErr
	}

	v := View{Step: d.Step, URL: d.Step.URL(), State: m.State, Redirect: d.Redirect}
	if d.Redirect != "" {
		return v, nil
	}
	if d.ShowSnapshot {
		v.Snapshot = snap
		v.Confirmed = true
		return v, nil
	}

	country, method := w.Preferences(ctx, sess)
	summary, err := w.Summarize(ctx, sess, country, method)
	if err != nil {
		return View{}, err
	}
	v.Summary = summary
	return v, nil
}

// Continue advances from the summary to the information step.
func (w *Workflow) Continue(ctx context.Context, sess *Session) (Step, error) {
	sess.Lock.Lock()
	defer sess.Lock.Unlock()

	sess.Cart.Load(ctx)
	if sess.Cart.Len() == 0 {
		return StepSummary, ErrEmptyCart
	}

	m := LoadMachine(ctx, sess.Store, w.sessionLogger(sess))
	if err := m.Advance(); err != nil {
		return m.Step(), err
	}
	return m.Step(), m.Save(ctx, sess.Store)
}

// Back returns from the information step to the summary.
func (w *Workflow) Back(ctx context.Context, sess *Session) (Step, error) {
	sess.Lock.Lock()
	defer sess.Lock.Unlock()

	m := LoadMachine(ctx, sess.Store, w.sessionLogger(sess))
	if err := m.Retreat(); err != nil {
		return m.Step(), err
	}
	return m.Step(), m.Save(ctx, sess.Store)
}

// Finish ends a confirmed checkout. The snapshot is discarded so a later
// visit does not show the old confirmation again.
func (w *Workflow) Finish(ctx context.Context, sess *Session) error {
	log := w.sessionLogger(sess)

	sess.Lock.Lock()
	defer sess.Lock.Unlock()

	DiscardSnapshot(ctx, sess.Store, log)
	m := LoadMachine(ctx, sess.Store, log)
	m.Reset()
	return m.Save(ctx, sess.Store)
}

// PlaceOrder persists the session's cart as an order.
//
// Validation failures return before anything is written. Persistence
// failures return a *PlacementError and leave the cart untouched. Once the
// order and its items are stored the order is confirmed and the ordered
// lines leave the cart; the confirmation dispatch runs in the background and
// its failure is only logged.
func (w *Workflow) PlaceOrder(ctx context.Context, sess *Session, req PlaceOrderRequest) (*models.Order, error) {
	log := w.sessionLogger(sess)

	ctx, span := tracer.Start(ctx, "checkout.PlaceOrder")
	defer span.End()

	if !req.PolicyAccepted {
		return nil, ErrPolicyNotAccepted
	}
	customer, err := NormalizeCustomer(req.Customer)
	if err != nil {
		return nil, err
	}
	notes := NormalizeNotes(req.Notes)

	if _, busy := w.inflight.LoadOrStore(sess.ID, struct{}{}); busy {
		return nil, ErrAlreadyPlacing
	}
	defer w.inflight.Delete(sess.ID)

	sess.Lock.Lock()
	sess.Cart.Load(ctx)
	items := sess.Cart.Items()
	if len(items) == 0 {
		sess.Lock.Unlock()
		return nil, ErrEmptyCart
	}
	if !req.Totals.Subtotal.Equal(cart.Subtotal(items)) || !req.Totals.Consistent() {
		sess.Lock.Unlock()
		return nil, ErrTotalsMismatch
	}
	m := LoadMachine(ctx, sess.Store, log)
	if err := m.BeginPlacing(w.now(), w.placingTimeout); err != nil {
		sess.Lock.Unlock()
		return nil, err
	}
	m.BindAttempt(attemptContents(items, req.Totals, customer, notes))
	if err := m.Save(ctx, sess.Store); err != nil {
		sess.Lock.Unlock()
		return nil, err
	}
	attemptKey := m.AttemptKey
	sess.Lock.Unlock()

	span.SetAttributes(
		attribute.Int("checkout.lines", len(items)),
		attribute.String("checkout.country", customer.Country),
	)

	header := models.Order{
		ID:             uuid.New(),
		UserID:         sess.CustomerID,
		Subtotal:       req.Totals.Subtotal,
		Discount:       req.Totals.Discount,
		ShippingCost:   req.Totals.ShippingCost,
		Tax:            req.Totals.Tax,
		Total:          req.Totals.Total,
		OrderNotes:     notes,
		Status:         models.OrderStatusPending,
		PaymentStatus:  models.PaymentStatusPending,
		Locale:         sess.Locale,
		IdempotencyKey: &attemptKey,
	}
	header.SetCustomer(customer)

	order, err := w.orders.CreateOrder(ctx, header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		return nil, w.fail(ctx, sess, StageOrder, err)
	}
	if !sameTotals(order, req.Totals) {
		log.Error("attempt key returned an order with different totals",
			zap.String("order_id", order.ID.String()),
			zap.String("stored_total", order.Total.String()),
			zap.String("total", req.Totals.Total.String()))
		return nil, w.fail(ctx, sess, StageOrder, ErrAttemptConflict)
	}

	orderItems := make([]models.OrderItem, 0, len(items))
	for i, item := range items {
		orderItems = append(orderItems, models.OrderItem{
			ID:            uuid.New(),
			OrderID:       order.ID,
			Position:      i,
			ProductID:     item.ID,
			ProductName:   item.Name,
			ProductNameFr: item.NameFr,
			ProductNameAr: item.NameAr,
			ProductImage:  item.Image,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			Subtotal:      item.LineSubtotal(),
		})
	}

	if err := w.orders.CreateOrderItems(ctx, order.ID, orderItems); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order items")

		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if delErr := w.orders.DeleteOrder(cleanupCtx, order.ID); delErr != nil {
			log.Error("failed to remove order without items",
				zap.String("order_id", order.ID.String()),
				zap.Error(delErr))
		}
		cancel()

		return nil, w.fail(ctx, sess, StageItems, err)
	}
	order.Items = orderItems

	span.SetAttributes(attribute.String("checkout.order_number", order.OrderNumber))
	log.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.Total.String()))

	w.dispatch(ctx, notify.Confirmation{
		Order:        order,
		Items:        orderItems,
		CustomerName: customer.DisplayName(),
	})

	sess.Lock.Lock()
	defer sess.Lock.Unlock()

	sess.Cart.RemoveOrdered(ctx, items)

	snapshot := Snapshot{
		Items: items,
		Summary: OrderSummary{
			OrderID:      order.ID,
			OrderNumber:  order.OrderNumber,
			Email:        order.Email,
			CustomerName: customer.DisplayName(),
			Country:      order.Country,
			Totals:       req.Totals,
			PlacedAt:     w.now().UTC(),
		},
	}
	if err := SaveSnapshot(ctx, sess.Store, snapshot); err != nil {
		log.Error("failed to save order snapshot", zap.Error(err))
	}

	m = LoadMachine(ctx, sess.Store, log)
	if err := m.Confirm(); err != nil {
		log.Warn("checkout left placing state while the order was stored",
			zap.String("state", string(m.State)))
		m.markConfirmed()
	}
	if err := m.Save(ctx, sess.Store); err != nil {
		log.Error("failed to save checkout state", zap.Error(err))
	}

	return &order, nil
}

func (w *Workflow) fail(ctx context.Context, sess *Session, stage Stage, cause error) error {
	log := w.sessionLogger(sess)
	conflict := errors.Is(cause, ErrAttemptConflict)
	perr := &PlacementError{Stage: stage, Retryable: conflict || w.retryable(cause), Err: cause}

	log.Error("order placement failed",
		zap.String("stage", string(stage)),
		zap.Bool("retryable", perr.Retryable),
		zap.Error(cause))

	sess.Lock.Lock()
	defer sess.Lock.Unlock()

	m := LoadMachine(ctx, sess.Store, log)
	if conflict {
		m.rotateAttempt()
	}
	if err := m.Fail(); err != nil {
		log.Warn("failed to reset checkout after placement failure", zap.Error(err))
		if !conflict {
			return perr
		}
	}
	if err := m.Save(ctx, sess.Store); err != nil {
		log.Warn("failed to save checkout state", zap.Error(err))
	}
	return perr
}

// attemptContents fingerprints what an order attempt would store.
func attemptContents(items []models.CartItem, totals pricing.Totals, customer models.Customer, notes *string) string {
	raw, _ := json.Marshal(struct {
		Items    []models.CartItem `json:"items"`
		Totals   pricing.Totals    `json:"totals"`
		Customer models.Customer   `json:"customer"`
		Notes    *string           `json:"notes"`
	}{items, totals, customer, notes})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func sameTotals(o models.Order, t pricing.Totals) bool {
	return o.Subtotal.Equal(t.Subtotal) &&
		o.Discount.Equal(t.Discount) &&
		o.ShippingCost.Equal(t.ShippingCost) &&
		o.Tax.Equal(t.Tax) &&
		o.Total.Equal(t.Total)
}

func (w *Workflow) dispatch(ctx context.Context, c notify.Confirmation) {
	ctx = context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, w.dispatchTimeout)
		defer cancel()

		if err := w.dispatcher.Dispatch(ctx, c); err != nil {
			w.logger.Warn("order confirmation dispatch failed",
				zap.String("order_number", c.Order.OrderNumber),
				zap.Error(err))
			return
		}
		w.logger.Debug("order confirmation dispatched",
			zap.String("order_number", c.Order.OrderNumber))
	}()
}

// Wait blocks until every background confirmation dispatch has finished.
func (w *Workflow) Wait() {
	w.wg.Wait()
}
