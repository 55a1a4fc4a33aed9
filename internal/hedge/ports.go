package hedge

import (
	"context"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/prices"
)

// Side is the direction of a market order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderExecutor places market orders on the two legs. Quantities are
// rounded to the exchange step size before these are called. The HTTP
// status is the only success signal the orchestrator consults.
type OrderExecutor interface {
	PlaceSpotMarketOrder(ctx context.Context, symbol string, qty float64, side Side) (int, error)
	PlaceSwapMarketOrder(ctx context.Context, symbol string, qty float64, side Side, reduceOnly bool) (int, error)
}

// PriceSource is satisfied by *prices.Cache.
type PriceSource interface {
	Bid(symbol string, market prices.Market) (float64, bool)
}

// StepSource is satisfied by *lots.Registry.
type StepSource interface {
	StepSize(ctx context.Context, symbol string, market prices.Market) (float64, error)
	HedgeLot(ctx context.Context, symbol string) (float64, error)
}

// Reconciler re-reads account truth from the exchange.
type Reconciler interface {
	Refresh(ctx context.Context, snap *account.Snapshot) error
}

// Collector moves balances into the margin account so orders can fill.
type Collector interface {
	CollectAsset(ctx context.Context, asset string) error
	AutoCollect(ctx context.Context) error
}

// Notifier delivers loud conditions to a human.
type Notifier interface {
	Send(ctx context.Context, message string) error
}
