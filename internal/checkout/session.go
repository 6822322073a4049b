package checkout

import (
	"sync"

	"github.com/safar/storefront/internal/cart"
	"github.com/safar/storefront/internal/kv"
	"go.uber.org/zap"
)

// Session carries everything the workflow knows about one shopper. Store is
// already scoped to the session. Lock serialises state changes of the
// session across concurrent requests.
type Session struct {
	ID         string
	CustomerID *string
	Locale     string
	Store      kv.Store
	Cart       *cart.Cart
	Lock       sync.Locker
}

func NewSession(id string, store kv.Store, logger *zap.Logger) *Session {
	return &Session{
		ID:     id,
		Locale: "en",
		Store:  store,
		Cart:   cart.New(store, logger),
		Lock:   &sync.Mutex{},
	}
}
