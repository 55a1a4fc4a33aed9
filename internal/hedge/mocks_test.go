package hedge

import (
	"context"
	"time"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/metrics"
	"bn-hedge-bot/internal/prices"

	"go.uber.org/zap"
)

type placedOrder struct {
	symbol     string
	qty        float64
	side       Side
	reduceOnly bool
}

type mockExecutor struct {
	spotStatuses []int
	swapStatuses []int
	spot         []placedOrder
	swap         []placedOrder
}

func (m *mockExecutor) PlaceSpotMarketOrder(ctx context.Context, symbol string, qty float64, side Side) (int, error) {
	_ = ctx
	m.spot = append(m.spot, placedOrder{symbol: symbol, qty: qty, side: side})
	status := 200
	if len(m.spotStatuses) > 0 {
		status = m.spotStatuses[0]
		m.spotStatuses = m.spotStatuses[1:]
	}
	return status, nil
}

func (m *mockExecutor) PlaceSwapMarketOrder(ctx context.Context, symbol string, qty float64, side Side, reduceOnly bool) (int, error) {
	_ = ctx
	m.swap = append(m.swap, placedOrder{symbol: symbol, qty: qty, side: side, reduceOnly: reduceOnly})
	status := 200
	if len(m.swapStatuses) > 0 {
		status = m.swapStatuses[0]
		m.swapStatuses = m.swapStatuses[1:]
	}
	return status, nil
}

type mockPricing struct {
	bids map[string]float64
}

func (m *mockPricing) Bid(symbol string, market prices.Market) (float64, bool) {
	_ = market
	bid, ok := m.bids[symbol]
	if !ok || bid <= 0 {
		return 0, false
	}
	return bid, true
}

type mockSteps struct {
	spotStep float64
	swapStep float64
}

func (m *mockSteps) StepSize(ctx context.Context, symbol string, market prices.Market) (float64, error) {
	_ = ctx
	_ = symbol
	if market == prices.Spot {
		return m.spotStep, nil
	}
	return m.swapStep, nil
}

func (m *mockSteps) HedgeLot(ctx context.Context, symbol string) (float64, error) {
	_ = ctx
	_ = symbol
	if m.spotStep > m.swapStep {
		return m.spotStep, nil
	}
	return m.swapStep, nil
}

// accountState is one exchange-truth frame a mockReconciler replays.
type accountState struct {
	usdt      float64
	spot      map[string]float64
	contracts map[string]float64
}

type mockReconciler struct {
	states []accountState
	price  float64
	calls  int
	err    error
}

func (m *mockReconciler) Refresh(ctx context.Context, snap *account.Snapshot) error {
	_ = ctx
	if m.err != nil {
		return m.err
	}
	idx := m.calls
	m.calls++
	if idx >= len(m.states) {
		idx = len(m.states) - 1
	}
	st := m.states[idx]
	now := time.Now()
	assets := make(map[string]account.CryptoAsset)
	for symbol, qty := range st.spot {
		assets[symbol] = account.CryptoAsset{Quantity: qty, Price: m.price, ValueUSD: qty * m.price, UpdatedAt: now}
	}
	contracts := make(map[string]account.Contract)
	for symbol, qty := range st.contracts {
		contracts[symbol] = account.Contract{Quantity: qty, Price: m.price, UpdatedAt: now}
	}
	snap.ReplaceHoldings(st.usdt, assets, contracts, 0)
	return nil
}

type mockCollector struct {
	collected   []string
	autoCollect int
}

func (m *mockCollector) CollectAsset(ctx context.Context, asset string) error {
	_ = ctx
	m.collected = append(m.collected, asset)
	return nil
}

func (m *mockCollector) AutoCollect(ctx context.Context) error {
	_ = ctx
	m.autoCollect++
	return nil
}

type mockNotifier struct {
	messages []string
}

func (m *mockNotifier) Send(ctx context.Context, message string) error {
	_ = ctx
	m.messages = append(m.messages, message)
	return nil
}

func newTestService(executor *mockExecutor, pricing *mockPricing, steps *mockSteps, reconciler *mockReconciler, collector *mockCollector) *Service {
	return NewService(executor, pricing, steps, reconciler, collector, metrics.NewNoop(), zap.NewNop(), Options{
		OrderFloorUSD:  200,
		ImbalanceUSD:   10,
		BuyPowerSafety: 0.95,
	})
}
