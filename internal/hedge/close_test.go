package hedge

import (
	"context"
	"math"
	"testing"

	"bn-hedge-bot/internal/account"
)

func TestCloseHedgeUnwindsInChunksThenSweeps(t *testing.T) {
	executor := &mockExecutor{}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	collector := &mockCollector{}
	reconciler := &mockReconciler{
		price: 50,
		states: []accountState{
			{spot: map[string]float64{"AAA": 19}, contracts: map[string]float64{"AAA": -19}},
			// after four 4-unit chunks only the sub-floor tail is left
			{spot: map[string]float64{"AAA": 3}, contracts: map[string]float64{"AAA": -3}},
		},
	}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, collector)
	snap := account.NewSnapshot(7, "k", "s")

	code := svc.CloseHedge(context.Background(), snap, "AAA")
	if code != CodeSuccess {
		t.Fatalf("expected success, got %v", code)
	}

	wantQtys := []float64{4, 4, 4, 4, 3}
	if len(executor.spot) != len(wantQtys) || len(executor.swap) != len(wantQtys) {
		t.Fatalf("expected %d paired orders, got %d spot / %d swap", len(wantQtys), len(executor.spot), len(executor.swap))
	}
	for i, want := range wantQtys {
		if executor.spot[i].side != Sell || math.Abs(executor.spot[i].qty-want) > 1e-9 {
			t.Fatalf("spot order %d: want sell %.0f, got %v %.4f", i, want, executor.spot[i].side, executor.spot[i].qty)
		}
		if executor.swap[i].side != Buy || math.Abs(executor.swap[i].qty-want) > 1e-9 {
			t.Fatalf("swap order %d: want buy %.0f, got %v %.4f", i, want, executor.swap[i].side, executor.swap[i].qty)
		}
		if !executor.swap[i].reduceOnly {
			t.Fatalf("swap order %d: close buy-backs must be reduce-only", i)
		}
	}
	// collected the asset up front and USDT at the end
	if len(collector.collected) != 2 || collector.collected[0] != "AAA" || collector.collected[1] != "USDT" {
		t.Fatalf("unexpected collections: %v", collector.collected)
	}
}

func TestCloseHedgeRefusesNonStandardShape(t *testing.T) {
	for name, st := range map[string]accountState{
		"short spot":    {spot: map[string]float64{"AAA": -2}, contracts: map[string]float64{"AAA": -2}},
		"long contract": {spot: map[string]float64{"AAA": 2}, contracts: map[string]float64{"AAA": 2}},
	} {
		executor := &mockExecutor{}
		pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
		reconciler := &mockReconciler{price: 50, states: []accountState{st}}
		svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, &mockCollector{})
		snap := account.NewSnapshot(7, "k", "s")

		if code := svc.CloseHedge(context.Background(), snap, "AAA"); code != CodeNotHedged {
			t.Fatalf("%s: expected not hedged, got %v", name, code)
		}
		if len(executor.spot) != 0 || len(executor.swap) != 0 {
			t.Fatalf("%s: expected no orders, got %d spot / %d swap", name, len(executor.spot), len(executor.swap))
		}
	}
}

func TestCloseHedgeSpotFailureAutoCollectsAndRetries(t *testing.T) {
	executor := &mockExecutor{spotStatuses: []int{400}}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	collector := &mockCollector{}
	reconciler := &mockReconciler{
		price: 50,
		states: []accountState{
			{spot: map[string]float64{"AAA": 5}, contracts: map[string]float64{"AAA": -5}},
			{spot: map[string]float64{"AAA": 1}, contracts: map[string]float64{"AAA": -1}},
		},
	}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, collector)
	snap := account.NewSnapshot(7, "k", "s")

	code := svc.CloseHedge(context.Background(), snap, "AAA")
	if code != CodeSuccess {
		t.Fatalf("expected success after collect retry, got %v", code)
	}
	if collector.autoCollect != 1 {
		t.Fatalf("expected one auto collection, got %d", collector.autoCollect)
	}
}

func TestCloseHedgeSpotFailureRetryCap(t *testing.T) {
	statuses := make([]int, closeCollectRetryLimit+1)
	for i := range statuses {
		statuses[i] = 400
	}
	executor := &mockExecutor{spotStatuses: statuses}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	collector := &mockCollector{}
	reconciler := &mockReconciler{
		price:  50,
		states: []accountState{{spot: map[string]float64{"AAA": 19}, contracts: map[string]float64{"AAA": -19}}},
	}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, collector)
	snap := account.NewSnapshot(7, "k", "s")

	if code := svc.CloseHedge(context.Background(), snap, "AAA"); code != CodeSystemError {
		t.Fatalf("expected system error after retry cap, got %v", code)
	}
	if collector.autoCollect != closeCollectRetryLimit {
		t.Fatalf("expected %d auto collections, got %d", closeCollectRetryLimit, collector.autoCollect)
	}
	if len(executor.swap) != 0 {
		t.Fatalf("expected no swap orders, got %d", len(executor.swap))
	}
}

func TestCloseHedgePartialLegFailureStopsWithoutBuyBack(t *testing.T) {
	executor := &mockExecutor{swapStatuses: []int{500}}
	pricing := &mockPricing{bids: map[string]float64{"AAA": 50}}
	notifier := &mockNotifier{}
	reconciler := &mockReconciler{
		price:  50,
		states: []accountState{{spot: map[string]float64{"AAA": 19}, contracts: map[string]float64{"AAA": -19}}},
	}
	svc := newTestService(executor, pricing, &mockSteps{spotStep: 1, swapStep: 1}, reconciler, &mockCollector{})
	svc.SetNotifier(notifier)
	snap := account.NewSnapshot(7, "k", "s")

	code := svc.CloseHedge(context.Background(), snap, "AAA")
	if code != CodePartialLegFailure {
		t.Fatalf("expected partial leg failure, got %v", code)
	}
	// the failed swap buy-back is never retried
	if len(executor.swap) != 1 {
		t.Fatalf("expected exactly one swap attempt, got %d", len(executor.swap))
	}
	// and the sold spot is not bought back by this workflow
	for _, order := range executor.spot {
		if order.side == Buy {
			t.Fatalf("close must not buy spot back after a swap failure")
		}
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected one alert, got %d", len(notifier.messages))
	}
}
