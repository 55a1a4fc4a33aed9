package lots

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bn-hedge-bot/internal/prices"
)

// MetaSource fetches the minimum order increment for a symbol from
// exchange instrument metadata.
type MetaSource interface {
	FetchStepSize(ctx context.Context, symbol string, market prices.Market) (float64, error)
}

type entry struct {
	step      float64
	fetchedAt time.Time
}

// Registry caches per-symbol, per-market step sizes with a TTL.
// Expired or missing entries are refetched on demand.
type Registry struct {
	source MetaSource
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]entry
}

func NewRegistry(source MetaSource, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{source: source, ttl: ttl, cache: make(map[string]entry)}
}

func (r *Registry) StepSize(ctx context.Context, symbol string, market prices.Market) (float64, error) {
	cacheKey := string(market) + ":" + symbol
	r.mu.Lock()
	cached, ok := r.cache[cacheKey]
	r.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < r.ttl {
		return cached.step, nil
	}
	step, err := r.source.FetchStepSize(ctx, symbol, market)
	if err != nil {
		if ok {
			// stale beats missing while the exchange is unreachable
			return cached.step, nil
		}
		return 0, fmt.Errorf("fetch step size %s %s: %w", symbol, market, err)
	}
	if step <= 0 {
		return 0, fmt.Errorf("step size %s %s: non-positive %v", symbol, market, step)
	}
	r.mu.Lock()
	r.cache[cacheKey] = entry{step: step, fetchedAt: time.Now()}
	r.mu.Unlock()
	return step, nil
}

// HedgeLot returns the coarser of the two markets' step sizes. Both
// legs must trade in an increment valid on both markets or the legs
// drift apart over repeated chunks.
func (r *Registry) HedgeLot(ctx context.Context, symbol string) (float64, error) {
	spotStep, err := r.StepSize(ctx, symbol, prices.Spot)
	if err != nil {
		return 0, err
	}
	swapStep, err := r.StepSize(ctx, symbol, prices.Swap)
	if err != nil {
		return 0, err
	}
	if swapStep > spotStep {
		return swapStep, nil
	}
	return spotStep, nil
}
