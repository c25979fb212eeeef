package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"candlebot/internal/position"
	"candlebot/internal/state"

	"go.uber.org/zap"
)

// OrderClient is the exchange side of order execution.
type OrderClient interface {
	PlaceMarketOrder(ctx context.Context, intent position.OrderIntent) (position.Fill, error)
	FreeBalance(ctx context.Context, asset string) (float64, error)
}

// Executor submits order intents with retries and deduplicates them by client
// order id, in memory and in the store across restarts.
type Executor struct {
	client OrderClient
	store  state.Store
	log    *zap.Logger

	attempts int
	backoff  time.Duration

	mu    sync.Mutex
	cache map[string]position.Fill
}

func New(client OrderClient, store state.Store, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		client:   client,
		store:    store,
		log:      log,
		attempts: 5,
		backoff:  200 * time.Millisecond,
		cache:    make(map[string]position.Fill),
	}
}

// WithRetry overrides the attempt count and initial backoff.
func (e *Executor) WithRetry(attempts int, backoff time.Duration) *Executor {
	if attempts > 0 {
		e.attempts = attempts
	}
	if backoff >= 0 {
		e.backoff = backoff
	}
	return e
}

func (e *Executor) Submit(ctx context.Context, intent position.OrderIntent) (position.Fill, error) {
	cacheKey := "cloid:" + intent.ClientOrderID()
	e.mu.Lock()
	if fill, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return fill, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if raw, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return position.Fill{}, err
		} else if ok {
			var fill position.Fill
			if err := json.Unmarshal([]byte(raw), &fill); err != nil {
				return position.Fill{}, fmt.Errorf("decode cached fill %s: %w", cacheKey, err)
			}
			e.log.Info("order already executed", zap.String("client_order_id", intent.ClientOrderID()))
			e.remember(cacheKey, fill)
			return fill, nil
		}
	}
	fill, err := e.placeWithRetry(ctx, intent)
	if err != nil {
		return position.Fill{}, err
	}
	if e.store != nil {
		payload, err := json.Marshal(fill)
		if err == nil {
			err = e.store.Set(ctx, cacheKey, string(payload))
		}
		if err != nil {
			e.log.Warn("failed to persist fill", zap.Error(err))
		}
	}
	e.remember(cacheKey, fill)
	return fill, nil
}

func (e *Executor) Balance(ctx context.Context, asset string) (float64, error) {
	var free float64
	err := e.retry(ctx, func() error {
		var err error
		free, err = e.client.FreeBalance(ctx, asset)
		return err
	})
	return free, err
}

// Venue binds the executor to one quote asset so it can serve a position
// engine.
func (e *Executor) Venue(quote string) position.Venue {
	return quoteVenue{executor: e, quote: quote}
}

type quoteVenue struct {
	executor *Executor
	quote    string
}

func (v quoteVenue) Submit(ctx context.Context, intent position.OrderIntent) (position.Fill, error) {
	return v.executor.Submit(ctx, intent)
}

func (v quoteVenue) QuoteBalance(ctx context.Context) (float64, error) {
	return v.executor.Balance(ctx, v.quote)
}

func (e *Executor) remember(key string, fill position.Fill) {
	e.mu.Lock()
	e.cache[key] = fill
	e.mu.Unlock()
}

func (e *Executor) placeWithRetry(ctx context.Context, intent position.OrderIntent) (position.Fill, error) {
	var fill position.Fill
	err := e.retry(ctx, func() error {
		var err error
		fill, err = e.client.PlaceMarketOrder(ctx, intent)
		return err
	})
	if err != nil {
		return position.Fill{}, err
	}
	if fill.OrderID == "" {
		return position.Fill{}, errors.New("empty order id")
	}
	return fill, nil
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.backoff
	for attempt := 0; attempt < e.attempts; attempt++ {
		if err := fn(); err != nil {
			if attempt == e.attempts-1 {
				return fmt.Errorf("retry failed: %w", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
			continue
		}
		return nil
	}
	return nil
}
