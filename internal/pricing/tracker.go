package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/kv"
	"go.uber.org/zap"
)

const (
	KeyPricingInput = "checkout:pricing_input"
	KeyPricingQuote = "checkout:pricing_quote"
)

var ErrNoQuote = errors.New("pricing: no quote available")

type pending struct {
	Input Input  `json:"input"`
	Token string `json:"token"`
}

type stored struct {
	Quote Quote  `json:"quote"`
	Token string `json:"token"`
}

// Tracker keeps the live quote of one session. Each Refresh registers its
// input as the latest before fetching, and only a fetch whose input is still
// the latest when it completes is stored.
type Tracker struct {
	store    kv.Store
	source   Source
	fallback Source
	lock     sync.Locker
	logger   *zap.Logger
}

type TrackerDeps struct {
	Store    kv.Store
	Source   Source
	Fallback Source
	// Lock serialises the compare-and-store step. Trackers sharing a session
	// must share a lock.
	Lock   sync.Locker
	Logger *zap.Logger
}

func NewTracker(deps TrackerDeps) (*Tracker, error) {
	if deps.Store == nil {
		return nil, errors.New("pricing tracker: store is required")
	}
	if deps.Source == nil {
		return nil, errors.New("pricing tracker: source is required")
	}
	if deps.Lock == nil {
		deps.Lock = &sync.Mutex{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Tracker{
		store:    deps.Store,
		source:   deps.Source,
		fallback: deps.Fallback,
		lock:     deps.Lock,
		logger:   deps.Logger,
	}, nil
}

// Refresh fetches a quote for in. The returned bool is false when a newer
// Refresh superseded this one; the returned quote is then not stored and
// must not be displayed.
func (t *Tracker) Refresh(ctx context.Context, in Input) (Quote, bool, error) {
	in = in.normalize()
	token := uuid.NewString()

	t.lock.Lock()
	err := kv.SetJSON(ctx, t.store, KeyPricingInput, pending{Input: in, Token: token})
	t.lock.Unlock()
	if err != nil {
		t.logger.Warn("failed to record pricing input", zap.Error(err))
	}

	q, err := Fetch(ctx, t.source, in)
	if err != nil {
		t.logger.Warn("pricing lookup failed, using fallback",
			zap.String("country", in.Country),
			zap.Error(err))

		q, err = t.recover(ctx, in)
		if err != nil {
			return Quote{}, false, err
		}
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	var latest pending
	if err := kv.GetJSON(ctx, t.store, KeyPricingInput, &latest); err == nil && latest.Token != token {
		t.logger.Debug("discarding stale pricing result",
			zap.String("country", in.Country),
			zap.String("latest_country", latest.Input.Country))
		return q, false, nil
	}

	if err := kv.SetJSON(ctx, t.store, KeyPricingQuote, stored{Quote: q, Token: token}); err != nil {
		t.logger.Warn("failed to store pricing quote", zap.Error(err))
	}
	return q, true, nil
}

// Current returns the last stored quote.
func (t *Tracker) Current(ctx context.Context) (Quote, error) {
	var s stored
	err := kv.GetJSON(ctx, t.store, KeyPricingQuote, &s)
	switch {
	case err == nil:
		return s.Quote, nil
	case errors.Is(err, kv.ErrNotFound):
		return Quote{}, ErrNoQuote
	case errors.Is(err, kv.ErrMalformed):
		t.logger.Error("discarding malformed pricing quote", zap.Error(err))
		_ = t.store.Delete(ctx, KeyPricingQuote)
		return Quote{}, ErrNoQuote
	default:
		return Quote{}, err
	}
}

// Ensure returns the stored quote when it was computed for in, and refreshes
// it otherwise.
func (t *Tracker) Ensure(ctx context.Context, in Input) (Quote, error) {
	if q, err := t.Current(ctx); err == nil && q.Input.Equal(in) {
		return q, nil
	}
	q, _, err := t.Refresh(ctx, in)
	return q, err
}

func (t *Tracker) Clear(ctx context.Context) {
	for _, key := range []string{KeyPricingInput, KeyPricingQuote} {
		if err := t.store.Delete(ctx, key); err != nil {
			t.logger.Warn("failed to clear pricing state", zap.String("key", key), zap.Error(err))
		}
	}
}

func (t *Tracker) recover(ctx context.Context, in Input) (Quote, error) {
	if t.fallback != nil {
		q, err := Fetch(ctx, t.fallback, in)
		if err == nil {
			q.Fallback = true
			return q, nil
		}
		t.logger.Warn("fallback pricing lookup failed", zap.Error(err))
	}

	last, err := t.Current(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("no pricing available for %s: %w", in.Country, err)
	}
	last.Input = in
	last.Fallback = true
	return last, nil
}
