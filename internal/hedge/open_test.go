package hedge

import (
	"context"
	"math"
	"testing"

	"bn-hedge-bot/internal/account"
)

func TestOpenHedgeChunksToTarget(t *testing.T) {
	// $1000 target at $50 with $1000 of buying power: the safety
	// margin caps the buy at 19 units, placed as 4+4+4+7.
	executor := &mockExecutor{}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	steps := &mockSteps{spotStep: 1, swapStep: 1}
	reconciler := &mockReconciler{
		price:  50,
		states: []accountState{{usdt: 1000}},
	}
	svc := newTestService(executor, pricing, steps, reconciler, &mockCollector{})
	snap := account.NewSnapshot(7, "k", "s")

	code := svc.OpenHedge(context.Background(), snap, "AAA", 1000)
	if code != CodeSuccess {
		t.Fatalf("expected success, got %v", code)
	}

	wantChunks := []float64{4, 4, 4, 7}
	if len(executor.spot) != len(wantChunks) || len(executor.swap) != len(wantChunks) {
		t.Fatalf("expected %d paired orders, got %d spot / %d swap", len(wantChunks), len(executor.spot), len(executor.swap))
	}
	total := 0.0
	for i, want := range wantChunks {
		if executor.spot[i].side != Buy || math.Abs(executor.spot[i].qty-want) > 1e-9 {
			t.Fatalf("spot order %d: want buy %.0f, got %v %.4f", i, want, executor.spot[i].side, executor.spot[i].qty)
		}
		if executor.swap[i].side != Sell || math.Abs(executor.swap[i].qty-want) > 1e-9 {
			t.Fatalf("swap order %d: want sell %.0f, got %v %.4f", i, want, executor.swap[i].side, executor.swap[i].qty)
		}
		if executor.swap[i].reduceOnly {
			t.Fatalf("swap order %d: open shorts must not be reduce-only", i)
		}
		total += executor.spot[i].qty
	}
	if math.Abs(total-19) > 1e-9 {
		t.Fatalf("expected total quantity 19, got %.4f", total)
	}
}

func TestOpenHedgeDustBelowFloorIsNoOp(t *testing.T) {
	executor := &mockExecutor{}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	reconciler := &mockReconciler{price: 50, states: []accountState{{usdt: 10000}}}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, &mockCollector{})
	snap := account.NewSnapshot(7, "k", "s")

	// needed notional is $100, below the $200 floor
	code := svc.OpenHedge(context.Background(), snap, "AAA", 100)
	if code != CodeSuccess {
		t.Fatalf("expected success, got %v", code)
	}
	if len(executor.spot) != 0 || len(executor.swap) != 0 {
		t.Fatalf("expected no orders for dust, got %d spot / %d swap", len(executor.spot), len(executor.swap))
	}
}

func TestOpenHedgeAtTargetNeverSellsDown(t *testing.T) {
	executor := &mockExecutor{}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	reconciler := &mockReconciler{
		price: 50,
		states: []accountState{{
			usdt:      5000,
			spot:      map[string]float64{"AAA": 30},
			contracts: map[string]float64{"AAA": -30},
		}},
	}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, &mockCollector{})
	snap := account.NewSnapshot(7, "k", "s")

	// held 30 units is already past the 20-unit target
	code := svc.OpenHedge(context.Background(), snap, "AAA", 1000)
	if code != CodeSuccess {
		t.Fatalf("expected success, got %v", code)
	}
	if len(executor.spot) != 0 || len(executor.swap) != 0 {
		t.Fatalf("expected no orders past target, got %d spot / %d swap", len(executor.spot), len(executor.swap))
	}
}

func TestOpenHedgeRepeatIsIdempotent(t *testing.T) {
	executor := &mockExecutor{}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	reconciler := &mockReconciler{
		price: 50,
		states: []accountState{{
			usdt:      50,
			spot:      map[string]float64{"AAA": 19},
			contracts: map[string]float64{"AAA": -19},
		}},
	}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, &mockCollector{})
	snap := account.NewSnapshot(7, "k", "s")

	for i := 0; i < 2; i++ {
		code := svc.OpenHedge(context.Background(), snap, "AAA", 1000)
		if code != CodeSuccess {
			t.Fatalf("run %d: expected success, got %v", i, code)
		}
	}
	if len(executor.spot) != 0 {
		t.Fatalf("expected no additional orders on re-run, got %d", len(executor.spot))
	}
}

func TestOpenHedgeFirstLegFailureTakesNoExposure(t *testing.T) {
	executor := &mockExecutor{spotStatuses: []int{500}}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	reconciler := &mockReconciler{price: 50, states: []accountState{{usdt: 1000}}}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, &mockCollector{})
	snap := account.NewSnapshot(7, "k", "s")

	code := svc.OpenHedge(context.Background(), snap, "AAA", 1000)
	if code != CodeFirstLegFailure {
		t.Fatalf("expected first leg failure, got %v", code)
	}
	if len(executor.swap) != 0 {
		t.Fatalf("expected no swap orders after spot failure, got %d", len(executor.swap))
	}
}

func TestOpenHedgePartialLegFailureCompensatesOnce(t *testing.T) {
	executor := &mockExecutor{swapStatuses: []int{500}}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	reconciler := &mockReconciler{price: 50, states: []accountState{{usdt: 1000}}}
	notifier := &mockNotifier{}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, &mockCollector{})
	svc.SetNotifier(notifier)
	snap := account.NewSnapshot(7, "k", "s")

	code := svc.OpenHedge(context.Background(), snap, "AAA", 1000)
	if code != CodePartialLegFailure {
		t.Fatalf("expected partial leg failure, got %v", code)
	}
	// the failed swap is never retried
	if len(executor.swap) != 1 {
		t.Fatalf("expected exactly one swap attempt, got %d", len(executor.swap))
	}
	// spot buy followed by the compensating sell of the same chunk
	if len(executor.spot) != 2 {
		t.Fatalf("expected buy then compensating sell, got %d spot orders", len(executor.spot))
	}
	if executor.spot[0].side != Buy || executor.spot[1].side != Sell {
		t.Fatalf("expected buy then sell, got %v then %v", executor.spot[0].side, executor.spot[1].side)
	}
	if executor.spot[0].qty != executor.spot[1].qty {
		t.Fatalf("compensating sell must match the filled chunk: %.4f vs %.4f", executor.spot[0].qty, executor.spot[1].qty)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected one alert, got %d", len(notifier.messages))
	}
}

func TestOpenHedgeFloorBelowLotIsRejected(t *testing.T) {
	// at $100000 the $200 order floor buys 0.002 units, below the 0.01
	// lot: no valid chunk size exists and the workflow must stop
	// instead of emitting zero-quantity orders
	executor := &mockExecutor{}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 100000}}
	steps := &mockSteps{spotStep: 0.01, swapStep: 0.01}
	reconciler := &mockReconciler{price: 100000, states: []accountState{{usdt: 1000000}}}
	svc := newTestService(executor, pricing, steps, reconciler, &mockCollector{})
	snap := account.NewSnapshot(7, "k", "s")

	code := svc.OpenHedge(context.Background(), snap, "AAA", 5000)
	if code != CodeSystemError {
		t.Fatalf("expected system error, got %v", code)
	}
	if len(executor.spot) != 0 || len(executor.swap) != 0 {
		t.Fatalf("expected no orders, got %d spot / %d swap", len(executor.spot), len(executor.swap))
	}
}

func TestOpenHedgeWithoutPriceFails(t *testing.T) {
	executor := &mockExecutor{}
	pricing := &mockPricing{bids: map[string]float64{}}
	reconciler := &mockReconciler{price: 50, states: []accountState{{usdt: 1000}}}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, &mockCollector{})
	snap := account.NewSnapshot(7, "k", "s")

	if code := svc.OpenHedge(context.Background(), snap, "AAA", 1000); code != CodeSystemError {
		t.Fatalf("expected system error without a price, got %v", code)
	}
	if len(executor.spot) != 0 {
		t.Fatalf("expected no orders without a price")
	}
}
