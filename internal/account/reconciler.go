package account

import (
	"context"
	"fmt"
	"time"

	"bn-hedge-bot/internal/prices"

	"go.uber.org/zap"
)

// Position is one open perpetual position as reported by the exchange.
type Position struct {
	Symbol        string
	Quantity      float64
	UnrealizedPnL float64
}

// Equity is the exchange's own unified-account valuation.
type Equity struct {
	Valuation   float64
	MarginRatio float64
	Status      string
}

// BalanceSource is the exchange read surface the reconciler needs.
type BalanceSource interface {
	MarginBalances(ctx context.Context) (map[string]float64, error)
	FuturesAccount(ctx context.Context) (map[string]float64, []Position, error)
	AccountEquity(ctx context.Context) (Equity, error)
}

// PriceSource is satisfied by *prices.Cache.
type PriceSource interface {
	Bid(symbol string, market prices.Market) (float64, bool)
}

// Reconciler rewrites a Snapshot from exchange truth. The orchestrator
// never assumes post-order state without a pass through here.
type Reconciler struct {
	source     BalanceSource
	pricing    PriceSource
	quoteAsset string
	log        *zap.Logger
}

func NewReconciler(source BalanceSource, pricing PriceSource, quoteAsset string, log *zap.Logger) *Reconciler {
	return &Reconciler{source: source, pricing: pricing, quoteAsset: quoteAsset, log: log}
}

// Refresh pulls margin and futures balances plus open positions,
// prices every non-quote holding, and replaces the snapshot's holdings
// wholesale. assetValuation is left for RefreshEquity: the local sum
// here feeds only the distribution report.
func (r *Reconciler) Refresh(ctx context.Context, snap *Snapshot) error {
	marginBalances, err := r.source.MarginBalances(ctx)
	if err != nil {
		return fmt.Errorf("margin balances: %w", err)
	}
	futuresBalances, positions, err := r.source.FuturesAccount(ctx)
	if err != nil {
		return fmt.Errorf("futures account: %w", err)
	}
	now := time.Now()

	usdtBalance := 0.0
	localValuation := 0.0
	assets := make(map[string]CryptoAsset)
	for asset, amount := range marginBalances {
		if asset == r.quoteAsset {
			usdtBalance += amount
			localValuation += amount
			assets[asset] = CryptoAsset{Quantity: amount, Price: 1, ValueUSD: amount, UpdatedAt: now}
			continue
		}
		price, err := r.swapBid(asset)
		if err != nil {
			return err
		}
		localValuation += price * amount
		assets[asset] = CryptoAsset{Quantity: amount, Price: price, ValueUSD: price * amount, UpdatedAt: now}
	}
	for asset, amount := range futuresBalances {
		if asset == r.quoteAsset {
			usdtBalance += amount
			localValuation += amount
			continue
		}
		price, err := r.swapBid(asset)
		if err != nil {
			return err
		}
		localValuation += price * amount
		assets[asset] = CryptoAsset{Quantity: amount, Price: price, ValueUSD: price * amount, UpdatedAt: now}
	}

	contracts := make(map[string]Contract)
	for _, position := range positions {
		if position.Quantity == 0 {
			continue
		}
		price, err := r.swapBid(position.Symbol)
		if err != nil {
			return err
		}
		contracts[position.Symbol] = Contract{Quantity: position.Quantity, Price: price, UpdatedAt: now}
		localValuation += position.UnrealizedPnL
	}

	snap.ReplaceHoldings(usdtBalance, assets, contracts, localValuation)
	r.log.Debug("reconciled account",
		zap.Int64("uid", snap.UID),
		zap.Float64("usdt_balance", usdtBalance),
		zap.Int("assets", len(assets)),
		zap.Int("contracts", len(contracts)),
	)
	return nil
}

// RefreshEquity overwrites the snapshot's valuation with the
// exchange-reported equity figure.
func (r *Reconciler) RefreshEquity(ctx context.Context, snap *Snapshot) error {
	equity, err := r.source.AccountEquity(ctx)
	if err != nil {
		return fmt.Errorf("account equity: %w", err)
	}
	snap.SetEquity(equity.Valuation, equity.MarginRatio, equity.Status)
	return nil
}

func (r *Reconciler) swapBid(asset string) (float64, error) {
	price, ok := r.pricing.Bid(asset, prices.Swap)
	if !ok {
		return 0, fmt.Errorf("no swap bid for %s", asset)
	}
	return price, nil
}
