// Package cart implements the per-session shopping cart.
//
// A Cart mirrors its items into a kv.Store under StorageKey after every
// mutation, and whether the cart drawer is open under OpenKey. An empty cart
// is stored as absent keys.
package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/safar/storefront/internal/kv"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	StorageKey = "cart"
	OpenKey    = "cart:open"
)

type Cart struct {
	mu     sync.Mutex
	store  kv.Store
	logger *zap.Logger

	items  []models.CartItem
	loaded bool
	open   bool
}

func New(store kv.Store, logger *zap.Logger) *Cart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cart{store: store, logger: logger}
}

// Load reads the persisted cart once. Later calls are no-ops.
func (c *Cart) Load(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)
}

func (c *Cart) loadLocked(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true

	var stored []models.CartItem
	err := kv.GetJSON(ctx, c.store, StorageKey, &stored)
	switch {
	case err == nil:
	case errors.Is(err, kv.ErrNotFound):
		return
	default:
		c.logger.Error("failed to load cart, starting empty", zap.Error(err))
		return
	}

	if raw, err := c.store.Get(ctx, OpenKey); err == nil {
		c.open = string(raw) == "1"
	} else if !errors.Is(err, kv.ErrNotFound) {
		c.logger.Warn("failed to load cart drawer state", zap.Error(err))
	}

	seen := make(map[string]int, len(stored))
	for _, item := range stored {
		if item.ID == "" || item.Quantity < 1 {
			c.logger.Warn("dropping invalid stored cart item",
				zap.String("product_id", item.ID),
				zap.Int("quantity", item.Quantity))
			continue
		}
		if i, ok := seen[item.ID]; ok {
			c.items[i].Quantity += item.Quantity
			continue
		}
		seen[item.ID] = len(c.items)
		c.items = append(c.items, item)
	}
}

// AddItem increments the quantity of an existing line by one or appends item
// with quantity one. The quantity carried by item is ignored.
func (c *Cart) AddItem(ctx context.Context, item models.CartItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)

	if i := c.indexOf(item.ID); i >= 0 {
		c.items[i].Quantity++
	} else {
		item.Quantity = 1
		c.items = append(c.items, item)
	}
	c.open = true

	c.persistLocked(ctx)
}

func (c *Cart) RemoveItem(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)

	i := c.indexOf(id)
	if i < 0 {
		return
	}
	c.items = append(c.items[:i], c.items[i+1:]...)

	c.persistLocked(ctx)
}

// UpdateQuantity sets the quantity of the line with id. A quantity below one
// removes the line.
func (c *Cart) UpdateQuantity(ctx context.Context, id string, qty int) {
	if qty < 1 {
		c.RemoveItem(ctx, id)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)

	i := c.indexOf(id)
	if i < 0 {
		return
	}
	c.items[i].Quantity = qty

	c.persistLocked(ctx)
}

func (c *Cart) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = true
	c.items = nil
	c.open = false
	c.persistLocked(ctx)
}

// RemoveOrdered re-reads the stored cart and takes the ordered quantities
// out of it. Lines added or increased after the order snapshot was taken
// stay in the cart.
func (c *Cart) RemoveOrdered(ctx context.Context, ordered []models.CartItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = false
	c.items = nil
	c.open = false
	c.loadLocked(ctx)

	for _, line := range ordered {
		i := c.indexOf(line.ID)
		if i < 0 {
			continue
		}
		c.items[i].Quantity -= line.Quantity
		if c.items[i].Quantity < 1 {
			c.items = append(c.items[:i], c.items[i+1:]...)
		}
	}
	if len(c.items) == 0 {
		c.open = false
	}

	c.persistLocked(ctx)
}

// SetOpen records whether the cart drawer is shown. An empty cart is always
// closed.
func (c *Cart) SetOpen(ctx context.Context, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)

	c.open = open && len(c.items) > 0
	c.persistLocked(ctx)
}

func (c *Cart) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Cart) IsLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []models.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.CartItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cart) TotalItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, item := range c.items {
		total += item.Quantity
	}
	return total
}

func (c *Cart) Subtotal() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Subtotal(c.items)
}

// Subtotal sums unit price times quantity over items.
func Subtotal(items []models.CartItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineSubtotal())
	}
	return subtotal
}

func (c *Cart) indexOf(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Cart) persistLocked(ctx context.Context) {
	var err error
	if len(c.items) == 0 {
		err = c.store.Delete(ctx, StorageKey)
	} else {
		err = kv.SetJSON(ctx, c.store, StorageKey, c.items)
	}
	if err != nil {
		c.logger.Error("failed to persist cart",
			zap.Int("lines", len(c.items)),
			zap.Error(err))
		return
	}

	if c.open && len(c.items) > 0 {
		err = c.store.Set(ctx, OpenKey, []byte("1"))
	} else {
		err = c.store.Delete(ctx, OpenKey)
	}
	if err != nil {
		c.logger.Warn("failed to persist cart drawer state", zap.Error(err))
	}
}
