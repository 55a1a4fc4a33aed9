package hedge

import (
	"context"
	"fmt"
	"time"

	"bn-hedge-bot/internal/metrics"
	"bn-hedge-bot/internal/prices"

	"go.uber.org/zap"
)

// Options are the tunables of the orchestrator. OrderFloorUSD is both
// the dust threshold and the target notional of each chunk.
type Options struct {
	OrderFloorUSD  float64
	ImbalanceUSD   float64
	BuyPowerSafety float64
	OrderDelay     time.Duration
}

// Service runs the open, close, and balance-correction workflows for
// hedged positions. Every entry point re-reads exchange truth through
// the Reconciler before acting; local state is never trusted across an
// order placement.
type Service struct {
	executor   OrderExecutor
	pricing    PriceSource
	steps      StepSource
	reconciler Reconciler
	collector  Collector
	notifier   Notifier
	metrics    *metrics.Metrics
	log        *zap.Logger
	opts       Options
}

func NewService(executor OrderExecutor, pricing PriceSource, steps StepSource, reconciler Reconciler, collector Collector, m *metrics.Metrics, log *zap.Logger, opts Options) *Service {
	if m == nil {
		m = metrics.NewNoop()
	}
	if opts.OrderFloorUSD <= 0 {
		opts.OrderFloorUSD = 200
	}
	if opts.ImbalanceUSD <= 0 {
		opts.ImbalanceUSD = 10
	}
	if opts.BuyPowerSafety <= 0 || opts.BuyPowerSafety > 1 {
		opts.BuyPowerSafety = 0.95
	}
	return &Service{
		executor:   executor,
		pricing:    pricing,
		steps:      steps,
		reconciler: reconciler,
		collector:  collector,
		metrics:    m,
		log:        log,
		opts:       opts,
	}
}

// SetNotifier attaches a human-alert channel for partial-leg failures.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) swapBid(symbol string) (float64, bool) {
	return s.pricing.Bid(symbol, prices.Swap)
}

// pause throttles successive order placements. A fixed sleep, not a
// correctness requirement.
func (s *Service) pause(ctx context.Context) {
	if s.opts.OrderDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.opts.OrderDelay):
	}
}

func (s *Service) placeSpot(ctx context.Context, symbol string, qty float64, side Side) int {
	status, err := s.executor.PlaceSpotMarketOrder(ctx, symbol, qty, side)
	if err != nil {
		s.log.Warn("spot order transport error",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("qty", qty),
			zap.Error(err),
		)
		s.metrics.SpotOrdersFailed.Inc()
		return 0
	}
	if status == 200 {
		s.metrics.SpotOrdersPlaced.Inc()
	} else {
		s.metrics.SpotOrdersFailed.Inc()
	}
	return status
}

func (s *Service) placeSwap(ctx context.Context, symbol string, qty float64, side Side, reduceOnly bool) int {
	status, err := s.executor.PlaceSwapMarketOrder(ctx, symbol, qty, side, reduceOnly)
	if err != nil {
		s.log.Warn("swap order transport error",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("qty", qty),
			zap.Error(err),
		)
		s.metrics.SwapOrdersFailed.Inc()
	} else if status == 200 {
		s.metrics.SwapOrdersPlaced.Inc()
	} else {
		s.metrics.SwapOrdersFailed.Inc()
	}
	s.pause(ctx)
	if err != nil {
		return 0
	}
	return status
}

func (s *Service) alert(ctx context.Context, format string, args ...any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, fmt.Sprintf(format, args...)); err != nil {
		s.log.Warn("alert delivery failed", zap.Error(err))
	}
}
