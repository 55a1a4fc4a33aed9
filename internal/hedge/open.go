package hedge

import (
	"context"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/lots"

	"go.uber.org/zap"
)

// OpenHedge brings the account's hedged position in symbol up to
// targetUSD notional: it buys spot and shorts the same quantity on the
// perpetual, in chunks sized near the minimum order floor. It only
// ever buys up toward the target, never sells down.
//
// Leg order is fixed: the spot buy goes first, the swap short follows
// only once the spot fill is confirmed. A swap failure after a spot
// fill leaves directional exposure; the just-bought chunk is sold back
// and CodePartialLegFailure is returned without further retries.
func (s *Service) OpenHedge(ctx context.Context, snap *account.Snapshot, symbol string, targetUSD float64) Code {
	log := s.log.With(zap.Int64("uid", snap.UID), zap.String("symbol", symbol))
	s.metrics.OpenWorkflows.Inc()

	price, ok := s.swapBid(symbol)
	if !ok {
		log.Error("open hedge: no swap bid available")
		return CodeSystemError
	}

	if err := s.reconciler.Refresh(ctx, snap); err != nil {
		log.Error("open hedge: reconcile failed", zap.Error(err))
		s.metrics.ReconcileFailures.Inc()
		return CodeSystemError
	}
	s.metrics.Reconciles.Inc()

	targetQty := targetUSD / price
	held := snap.CryptoQty(symbol)
	needed := targetQty - held
	log.Info("open hedge sizing",
		zap.Float64("price", price),
		zap.Float64("target_qty", targetQty),
		zap.Float64("held", held),
		zap.Float64("needed", needed),
	)
	if needed <= 0 {
		log.Info("open hedge: target already met, not selling down")
		return CodeSuccess
	}

	// buying power cap with a slice reserved for fees and slippage
	maxBuyable := snap.USDTBalance() / price * s.opts.BuyPowerSafety
	if needed > maxBuyable {
		log.Info("open hedge: clamped to buying power", zap.Float64("max_buyable", maxBuyable))
		needed = maxBuyable
	}
	if needed*price < s.opts.OrderFloorUSD {
		log.Info("open hedge: needed notional below order floor, treating as dust")
		return CodeSuccess
	}

	lot, err := s.steps.HedgeLot(ctx, symbol)
	if err != nil {
		log.Error("open hedge: lot size unavailable", zap.Error(err))
		return CodeSystemError
	}
	chunk := lots.RoundToLot(s.opts.OrderFloorUSD/price, lot)
	if chunk < lot {
		// the order floor buys less than one lot at this price, so no
		// chunk size exists that satisfies both constraints
		log.Error("open hedge: order floor below one lot",
			zap.Float64("price", price),
			zap.Float64("lot", lot),
		)
		return CodeSystemError
	}
	needed = lots.RoundToLot(needed, lot)

	for needed >= lot {
		if needed < chunk*2 {
			// fold the remainder into one final chunk so no
			// un-orderable tail below the lot size is left behind
			chunk = lots.RoundToLot(needed, lot)
		}
		if needed < chunk {
			break
		}
		log.Info("open hedge chunk", zap.Float64("chunk", chunk), zap.Float64("remaining", needed))
		if status := s.placeSpot(ctx, symbol, chunk, Buy); status != 200 {
			log.Warn("open hedge: spot leg failed, no exposure taken", zap.Int("status", status))
			return CodeFirstLegFailure
		}
		if status := s.placeSwap(ctx, symbol, chunk, Sell, false); status != 200 {
			log.Error("open hedge: swap leg failed after spot fill, selling spot back", zap.Int("status", status))
			s.metrics.PartialLegFailures.Inc()
			s.alert(ctx, "partial leg failure: uid=%d %s open, spot filled %.8f but swap short failed", snap.UID, symbol, chunk)
			// single compensating action of the saga: unwind the
			// chunk that filled, then stop and surface loudly
			s.placeSpot(ctx, symbol, chunk, Sell)
			return CodePartialLegFailure
		}
		needed -= chunk
	}

	return CodeSuccess
}
