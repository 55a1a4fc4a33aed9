package app

import (
	"context"
	"time"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/hedge"
	"bn-hedge-bot/internal/history"
	"bn-hedge-bot/internal/prices"

	"go.uber.org/zap"
)

// OpenAll opens every configured allocation in order. Targets are
// percentages of exchange-reported equity; a negative percent on the
// final allocation means "spend whatever USDT remains". The loop stops
// at the first non-success code so a failed symbol is never skipped
// over.
func (m *Manager) OpenAll(ctx context.Context, sess *Session) hedge.Code {
	// preparation runs on every open trigger, not just registration: a
	// session restored from the store may still be in dual-side mode
	if err := m.initAccount(ctx, sess); err != nil {
		m.log.Error("account preparation failed", zap.Int64("uid", sess.UID), zap.Error(err))
		return hedge.CodeSystemError
	}
	equity := sess.Snapshot.AssetValuation()

	for i, alloc := range m.cfg.Trading.Allocations {
		targetUSD, code := m.allocationTarget(ctx, sess, alloc.Symbol, alloc.Percent, equity)
		if code != hedge.CodeSuccess {
			return code
		}
		code = sess.Service.OpenHedge(ctx, sess.Snapshot, alloc.Symbol, targetUSD)
		m.recordEvent(sess, "open", alloc.Symbol, code, targetUSD)
		if code != hedge.CodeSuccess {
			m.log.Error("open workflow stopped",
				zap.Int64("uid", sess.UID),
				zap.String("symbol", alloc.Symbol),
				zap.String("code", code.String()),
			)
			return code
		}
		if i < len(m.cfg.Trading.Allocations)-1 {
			if !sleepCtx(ctx, m.cfg.Trading.SymbolDelay) {
				return hedge.CodeSystemError
			}
		}
	}

	sess.Snapshot.SetState(account.Open)
	if err := m.persist(ctx, sess); err != nil {
		m.log.Warn("state persist failed", zap.Int64("uid", sess.UID), zap.Error(err))
	}
	return hedge.CodeSuccess
}

// allocationTarget turns one allocation entry into a USD target. The
// sentinel allocation targets current holdings plus all free USDT, so
// the open workflow absorbs the leftovers.
func (m *Manager) allocationTarget(ctx context.Context, sess *Session, symbol string, percent, equity float64) (float64, hedge.Code) {
	if percent >= 0 {
		return equity * percent / 100, hedge.CodeSuccess
	}
	if err := sess.Reconciler.Refresh(ctx, sess.Snapshot); err != nil {
		m.log.Error("reconcile failed", zap.Int64("uid", sess.UID), zap.Error(err))
		return 0, hedge.CodeSystemError
	}
	price, ok := m.cache.Bid(symbol, prices.Swap)
	if !ok {
		m.log.Error("no swap bid", zap.String("symbol", symbol))
		return 0, hedge.CodeSystemError
	}
	held := sess.Snapshot.CryptoQty(symbol) * price
	return held + sess.Snapshot.USDTBalance(), hedge.CodeSuccess
}

// CloseAll unwinds every open contract, then marks the account flat.
func (m *Manager) CloseAll(ctx context.Context, sess *Session) hedge.Code {
	if err := sess.Reconciler.Refresh(ctx, sess.Snapshot); err != nil {
		m.log.Error("reconcile failed", zap.Int64("uid", sess.UID), zap.Error(err))
		return hedge.CodeSystemError
	}
	symbols := sess.Snapshot.ContractSymbols()
	for i, symbol := range symbols {
		code := sess.Service.CloseHedge(ctx, sess.Snapshot, symbol)
		m.recordEvent(sess, "close", symbol, code, 0)
		if code != hedge.CodeSuccess {
			m.log.Error("close workflow stopped",
				zap.Int64("uid", sess.UID),
				zap.String("symbol", symbol),
				zap.String("code", code.String()),
			)
			return code
		}
		if i < len(symbols)-1 {
			if !sleepCtx(ctx, m.cfg.Trading.SymbolDelay) {
				return hedge.CodeSystemError
			}
		}
	}

	sess.Snapshot.SetState(account.Flat)
	if err := m.persist(ctx, sess); err != nil {
		m.log.Warn("state persist failed", zap.Int64("uid", sess.UID), zap.Error(err))
	}
	return hedge.CodeSuccess
}

// Balance runs imbalance detection, and correction unless checkOnly.
func (m *Manager) Balance(ctx context.Context, sess *Session, symbol string, checkOnly bool) (bool, error) {
	return sess.Service.MakeBalance(ctx, sess.Snapshot, symbol, checkOnly)
}

func (m *Manager) recordEvent(sess *Session, workflow, symbol string, code hedge.Code, targetUSD float64) {
	m.history.EnqueueEvent(history.WorkflowEvent{
		Time:      time.Now(),
		UID:       sess.UID,
		Workflow:  workflow,
		Symbol:    symbol,
		Code:      int(code),
		Message:   code.String(),
		TargetUSD: targetUSD,
	})
}

// sleepCtx pauses between symbols to stay under order rate limits.
// Returns false when the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
