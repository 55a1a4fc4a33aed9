package hedge

import (
	"context"
	"math"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/lots"
	"bn-hedge-bot/internal/prices"

	"go.uber.org/zap"
)

// closeCollectRetryLimit bounds the spot-failure/auto-collect retry
// loop so a persistently failing leg cannot spin forever.
const closeCollectRetryLimit = 5

// CloseHedge unwinds one symbol's hedge: sells the spot leg and buys
// back the short in matched chunks, then sweeps whatever sub-floor
// remainder is left in one final pair of orders.
//
// Only the normal long-spot/short-swap shape is handled; anything else
// returns CodeNotHedged. A swap-leg failure after a spot sell is a
// partial-leg failure and stops the workflow immediately; the spot is
// deliberately not bought back here (the final sweep of a later retry
// re-attempts the remainder).
func (s *Service) CloseHedge(ctx context.Context, snap *account.Snapshot, symbol string) Code {
	log := s.log.With(zap.Int64("uid", snap.UID), zap.String("symbol", symbol))
	s.metrics.CloseWorkflows.Inc()

	if err := s.reconciler.Refresh(ctx, snap); err != nil {
		log.Error("close hedge: reconcile failed", zap.Error(err))
		s.metrics.ReconcileFailures.Inc()
		return CodeSystemError
	}
	s.metrics.Reconciles.Inc()

	spotQty := snap.CryptoQty(symbol)
	contractQty := snap.ContractQty(symbol)
	log.Info("close hedge position",
		zap.Float64("spot_qty", spotQty),
		zap.Float64("contract_qty", contractQty),
	)

	if spotQty > 0 {
		// spot held outside the margin account makes sell orders
		// bounce with insufficient balance
		if err := s.collector.CollectAsset(ctx, symbol); err != nil {
			log.Warn("close hedge: asset collection failed", zap.Error(err))
		}
	}

	if spotQty < 0 || contractQty > 0 {
		log.Warn("close hedge: refusing non-standard position shape")
		return CodeNotHedged
	}

	price, ok := s.swapBid(symbol)
	if !ok {
		log.Error("close hedge: no swap bid available")
		return CodeSystemError
	}
	lot, err := s.steps.HedgeLot(ctx, symbol)
	if err != nil {
		log.Error("close hedge: lot size unavailable", zap.Error(err))
		return CodeSystemError
	}

	closeQty := math.Min(math.Abs(spotQty), math.Abs(contractQty))
	collectRetries := 0
	for closeQty*price > s.opts.OrderFloorUSD {
		chunk := lots.RoundToLot(s.opts.OrderFloorUSD/price, lot)
		if chunk < lot {
			break
		}
		log.Info("close hedge chunk", zap.Float64("chunk", chunk), zap.Float64("remaining", closeQty))
		if status := s.placeSpot(ctx, symbol, chunk, Sell); status != 200 {
			// recoverable: funds usually sit in the wrong bucket,
			// collect everything into margin and retry the loop
			collectRetries++
			if collectRetries > closeCollectRetryLimit {
				log.Error("close hedge: spot leg kept failing after collection retries")
				return CodeSystemError
			}
			log.Warn("close hedge: spot leg failed, auto-collecting and retrying", zap.Int("status", status))
			if err := s.collector.AutoCollect(ctx); err != nil {
				log.Warn("close hedge: auto collection failed", zap.Error(err))
			}
			continue
		}
		collectRetries = 0
		if status := s.placeSwap(ctx, symbol, chunk, Buy, true); status != 200 {
			log.Error("close hedge: swap buy-back failed after spot sell", zap.Int("status", status))
			s.metrics.PartialLegFailures.Inc()
			s.alert(ctx, "partial leg failure: uid=%d %s close, spot sold %.8f but swap buy-back failed, account is net long", snap.UID, symbol, chunk)
			return CodePartialLegFailure
		}
		closeQty -= chunk
	}

	// remainder is below the order floor now; flush it in one final
	// pair against freshly reconciled truth
	if err := s.reconciler.Refresh(ctx, snap); err != nil {
		log.Error("close hedge: final reconcile failed", zap.Error(err))
		s.metrics.ReconcileFailures.Inc()
		return CodeSystemError
	}
	s.metrics.Reconciles.Inc()

	if remaining := math.Abs(snap.CryptoQty(symbol)); remaining > 0 {
		spotStep, err := s.steps.StepSize(ctx, symbol, prices.Spot)
		if err != nil {
			log.Error("close hedge: spot step unavailable for sweep", zap.Error(err))
			return CodeSystemError
		}
		if qty := lots.RoundToLot(remaining, spotStep); qty > 0 {
			s.placeSpot(ctx, symbol, qty, Sell)
		}
	}
	if remaining := math.Abs(snap.ContractQty(symbol)); remaining > 0 {
		swapStep, err := s.steps.StepSize(ctx, symbol, prices.Swap)
		if err != nil {
			log.Error("close hedge: swap step unavailable for sweep", zap.Error(err))
			return CodeSystemError
		}
		if qty := lots.RoundToLot(remaining, swapStep); qty > 0 {
			s.placeSwap(ctx, symbol, qty, Buy, true)
		}
	}

	if err := s.collector.CollectAsset(ctx, "USDT"); err != nil {
		log.Warn("close hedge: usdt collection failed", zap.Error(err))
	}
	return CodeSuccess
}
