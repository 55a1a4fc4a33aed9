package hedge

import (
	"context"
	"fmt"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/lots"
	"bn-hedge-bot/internal/prices"

	"go.uber.org/zap"
)

// MakeBalance detects leg imbalance for one symbol and, unless
// checkOnly is set, corrects it with a single order sized to the
// difference. A perfect hedge sums to zero: spot long plus swap short.
// Imbalance below the notional threshold is tolerated as noise.
func (s *Service) MakeBalance(ctx context.Context, snap *account.Snapshot, symbol string, checkOnly bool) (bool, error) {
	log := s.log.With(zap.Int64("uid", snap.UID), zap.String("symbol", symbol))

	if err := s.reconciler.Refresh(ctx, snap); err != nil {
		s.metrics.ReconcileFailures.Inc()
		return false, fmt.Errorf("make balance reconcile: %w", err)
	}
	s.metrics.Reconciles.Inc()

	spotQty := snap.CryptoQty(symbol)
	contractQty := snap.ContractQty(symbol)
	price, ok := s.swapBid(symbol)
	if !ok {
		return false, fmt.Errorf("make balance: no swap bid for %s", symbol)
	}

	diff := spotQty + contractQty
	log.Info("make balance",
		zap.Float64("spot_qty", spotQty),
		zap.Float64("contract_qty", contractQty),
		zap.Float64("diff", diff),
		zap.Float64("diff_usd", diff*price),
	)

	switch {
	case diff*price >= s.opts.ImbalanceUSD:
		// short leg is under-sized; grow the short
		if checkOnly {
			return true, nil
		}
		swapStep, err := s.steps.StepSize(ctx, symbol, prices.Swap)
		if err != nil {
			return true, err
		}
		qty := lots.RoundToLot(diff, swapStep)
		if qty <= 0 {
			return true, nil
		}
		if status := s.placeSwap(ctx, symbol, qty, Sell, false); status != 200 {
			return true, fmt.Errorf("make balance: swap sell returned %d", status)
		}
		return true, nil
	case -diff*price >= s.opts.ImbalanceUSD:
		// spot leg is under-sized; top up the spot long
		if checkOnly {
			return true, nil
		}
		spotStep, err := s.steps.StepSize(ctx, symbol, prices.Spot)
		if err != nil {
			return true, err
		}
		qty := lots.RoundToLot(-diff, spotStep)
		if qty <= 0 {
			return true, nil
		}
		if status := s.placeSpot(ctx, symbol, qty, Buy); status != 200 {
			return true, fmt.Errorf("make balance: spot buy returned %d", status)
		}
		return true, nil
	}
	return false, nil
}
