package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/kv"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/pricing"
	"go.uber.org/zap"
)

const (
	KeySavedItems   = "checkout:saved_items"
	KeyOrderSummary = "checkout:order_summary"
	KeyConfirmed    = "checkout:confirmed"
)

type OrderSummary struct {
	OrderID      uuid.UUID      `json:"order_id"`
	OrderNumber  string         `json:"order_number"`
	Email        string         `json:"email"`
	CustomerName string         `json:"customer_name"`
	Country      string         `json:"country"`
	Totals       pricing.Totals `json:"totals"`
	PlacedAt     time.Time      `json:"placed_at"`
}

// Snapshot is what the confirmation step renders after the cart was cleared.
type Snapshot struct {
	Items   []models.CartItem `json:"items"`
	Summary OrderSummary      `json:"summary"`
}

func SaveSnapshot(ctx context.Context, store kv.Store, s Snapshot) error {
	if err := kv.SetJSON(ctx, store, KeySavedItems, s.Items); err != nil {
		return err
	}
	if err := kv.SetJSON(ctx, store, KeyOrderSummary, s.Summary); err != nil {
		return err
	}
	return store.Set(ctx, KeyConfirmed, []byte("true"))
}

// LoadSnapshot returns nil when no complete snapshot is stored. Malformed
// snapshot data is logged, removed and reported as absent.
func LoadSnapshot(ctx context.Context, store kv.Store, logger *zap.Logger) *Snapshot {
	flag, err := store.Get(ctx, KeyConfirmed)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logger.Error("failed to read confirmation flag", zap.Error(err))
		}
		return nil
	}
	if string(flag) != "true" {
		return nil
	}

	var s Snapshot
	itemsErr := kv.GetJSON(ctx, store, KeySavedItems, &s.Items)
	summaryErr := kv.GetJSON(ctx, store, KeyOrderSummary, &s.Summary)
	if err := errors.Join(itemsErr, summaryErr); err != nil {
		logger.Error("discarding unreadable order snapshot", zap.Error(err))
		DiscardSnapshot(ctx, store, logger)
		return nil
	}
	if len(s.Items) == 0 || s.Summary.OrderNumber == "" {
		logger.Error("discarding incomplete order snapshot",
			zap.Int("items", len(s.Items)),
			zap.String("order_number", s.Summary.OrderNumber))
		DiscardSnapshot(ctx, store, logger)
		return nil
	}

	return &s
}

func DiscardSnapshot(ctx context.Context, store kv.Store, logger *zap.Logger) {
	for _, key := range []string{KeyConfirmed, KeySavedItems, KeyOrderSummary} {
		if err := store.Delete(ctx, key); err != nil {
			logger.Warn("failed to discard snapshot key", zap.String("key", key), zap.Error(err))
		}
	}
}
