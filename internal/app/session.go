package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/binance"
	"bn-hedge-bot/internal/config"
	"bn-hedge-bot/internal/hedge"
	"bn-hedge-bot/internal/history"
	"bn-hedge-bot/internal/lots"
	"bn-hedge-bot/internal/metrics"
	"bn-hedge-bot/internal/prices"
	"bn-hedge-bot/internal/state"

	"go.uber.org/zap"
)

// Session bundles everything needed to run workflows for one account.
type Session struct {
	UID        int64
	Snapshot   *account.Snapshot
	Client     *binance.Client
	Reconciler *account.Reconciler
	Service    *hedge.Service
}

// Manager owns the shared infrastructure and the live sessions. New
// credentials go through the exchange once to resolve a uid; known
// ones are answered from the store.
type Manager struct {
	cfg      *config.Config
	log      *zap.Logger
	metrics  *metrics.Metrics
	cache    *prices.Cache
	lots     *lots.Registry
	store    state.Store
	history  *history.Writer
	notifier hedge.Notifier
	locks    *hedge.Locks

	mu    sync.Mutex
	byUID map[int64]*Session
	byKey map[string]*Session
}

func NewManager(cfg *config.Config, cache *prices.Cache, registry *lots.Registry, store state.Store, writer *history.Writer, notifier hedge.Notifier, m *metrics.Metrics, log *zap.Logger) *Manager {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		cache:    cache,
		lots:     registry,
		store:    store,
		history:  writer,
		notifier: notifier,
		locks:    hedge.NewLocks(),
		byUID:    make(map[int64]*Session),
		byKey:    make(map[string]*Session),
	}
}

func (m *Manager) Locks() *hedge.Locks {
	return m.locks
}

func credentialKey(apiKey, apiSecret string) string {
	return apiKey + "\x00" + apiSecret
}

// Resolve maps credentials to a live session. Unknown credentials are
// authenticated against the exchange; a rejected key pair returns an
// error and no session is created.
func (m *Manager) Resolve(ctx context.Context, apiKey, apiSecret string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.byKey[credentialKey(apiKey, apiSecret)]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	client := binance.New(m.cfg.REST, m.cfg.Trading.QuoteAsset, apiKey, apiSecret, m.log)

	record, found, err := m.store.GetByAPIKey(ctx, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	if found {
		sess := m.buildSession(record.UID, apiKey, apiSecret, client)
		sess.Snapshot.SetState(account.State(record.AccountState))
		m.register(sess)
		return sess, nil
	}

	uid, err := client.UID(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	sess := m.buildSession(uid, apiKey, apiSecret, client)
	if err := m.initAccount(ctx, sess); err != nil {
		return nil, fmt.Errorf("initialize account %d: %w", uid, err)
	}
	if err := m.persist(ctx, sess); err != nil {
		m.log.Warn("persist new account failed", zap.Int64("uid", uid), zap.Error(err))
	}
	m.register(sess)
	m.log.Info("account registered", zap.Int64("uid", uid))
	return sess, nil
}

// SessionByUID returns an already-resolved session.
func (m *Manager) SessionByUID(uid int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byUID[uid]
	return sess, ok
}

func (m *Manager) buildSession(uid int64, apiKey, apiSecret string, client *binance.Client) *Session {
	snap := account.NewSnapshot(uid, apiKey, apiSecret)
	reconciler := account.NewReconciler(client, m.cache, m.cfg.Trading.QuoteAsset, m.log)
	svc := hedge.NewService(client, m.cache, m.lots, reconciler, client, m.metrics, m.log, hedge.Options{
		OrderFloorUSD:  m.cfg.Trading.OrderFloorUSD,
		ImbalanceUSD:   m.cfg.Trading.ImbalanceUSD,
		BuyPowerSafety: m.cfg.Trading.BuyPowerSafety,
		OrderDelay:     m.cfg.Trading.OrderDelay,
	})
	if m.notifier != nil {
		svc.SetNotifier(m.notifier)
	}
	return &Session{
		UID:        uid,
		Snapshot:   snap,
		Client:     client,
		Reconciler: reconciler,
		Service:    svc,
	}
}

func (m *Manager) register(sess *Session) {
	m.mu.Lock()
	m.byUID[sess.UID] = sess
	m.byKey[credentialKey(sess.Snapshot.APIKey, sess.Snapshot.APISecret)] = sess
	m.mu.Unlock()
}

func (m *Manager) sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*Session, 0, len(m.byUID))
	for _, sess := range m.byUID {
		list = append(list, sess)
	}
	return list
}

// initAccount prepares an account for hedging: sweep USDT into the
// margin wallet, force one-way position mode, enable BNB fee burn,
// pull exchange equity, and top up the fee buffer. Runs at first
// registration and again before every open workflow. Sweep and burn
// failures are logged, not fatal.
func (m *Manager) initAccount(ctx context.Context, sess *Session) error {
	if err := sess.Client.CollectAsset(ctx, m.cfg.Trading.QuoteAsset); err != nil {
		m.log.Warn("usdt collection failed", zap.Int64("uid", sess.UID), zap.Error(err))
	}
	dual, err := sess.Client.DualSidePosition(ctx)
	if err != nil {
		return err
	}
	if dual {
		if err := sess.Client.SetDualSidePosition(ctx, false); err != nil {
			return err
		}
		dual = false
	}
	sess.Snapshot.SetDualSide(dual)
	if err := sess.Client.SetBNBBurn(ctx); err != nil {
		m.log.Warn("bnb burn enable failed", zap.Int64("uid", sess.UID), zap.Error(err))
	}
	if err := sess.Reconciler.RefreshEquity(ctx, sess.Snapshot); err != nil {
		return err
	}
	if err := sess.Reconciler.Refresh(ctx, sess.Snapshot); err != nil {
		return err
	}
	m.topUpFeeBuffer(ctx, sess)
	return nil
}

// topUpFeeBuffer keeps a sliver of the fee asset on hand so BNB burn
// has something to pay fees from. Best effort.
func (m *Manager) topUpFeeBuffer(ctx context.Context, sess *Session) {
	asset := m.cfg.Trading.FeeBufferAsset
	ratio := m.cfg.Trading.FeeBufferRatio
	if asset == "" || ratio <= 0 {
		return
	}
	price, ok := m.cache.Ask(asset, prices.Spot)
	if !ok {
		m.log.Warn("no spot ask for fee asset", zap.String("asset", asset))
		return
	}
	targetUSD := sess.Snapshot.USDTBalance() * ratio
	heldUSD := sess.Snapshot.CryptoQty(asset) * price
	if heldUSD >= targetUSD {
		return
	}
	step, err := m.lots.StepSize(ctx, asset, prices.Spot)
	if err != nil {
		m.log.Warn("fee asset step lookup failed", zap.String("asset", asset), zap.Error(err))
		return
	}
	qty := lots.RoundToLot((targetUSD-heldUSD)/price, step)
	if qty <= 0 {
		return
	}
	if _, err := sess.Client.PlaceSpotMarketOrder(ctx, asset, qty, hedge.Buy); err != nil {
		m.log.Warn("fee buffer buy failed", zap.String("asset", asset), zap.Error(err))
	}
}

// Funding lists funding-fee income for the session's account.
func (m *Manager) Funding(ctx context.Context, sess *Session, startTime, endTime int64) ([]binance.FundingIncomeEntry, error) {
	return sess.Client.FundingIncome(ctx, startTime, endTime)
}

// persist writes the snapshot's durable fields to the store and, when
// history is enabled, enqueues a valuation row.
func (m *Manager) persist(ctx context.Context, sess *Session) error {
	summary := sess.Snapshot.Summary()
	record := state.AccountRecord{
		UID:            sess.UID,
		UpdatedAt:      time.Now(),
		APIKey:         sess.Snapshot.APIKey,
		APISecret:      sess.Snapshot.APISecret,
		AccountState:   int(summary.State),
		AssetValuation: summary.AssetValuation,
		USDTBalance:    summary.USDTBalance,
		MarginRatio:    summary.MarginRatio,
	}
	if err := m.store.UpsertAccount(ctx, record); err != nil {
		return err
	}
	m.history.EnqueueSnapshot(history.ValuationSnapshot{
		Time:           record.UpdatedAt,
		UID:            sess.UID,
		AssetValuation: summary.AssetValuation,
		USDTBalance:    summary.USDTBalance,
		MarginRatio:    summary.MarginRatio,
		Status:         summary.Status,
		AccountState:   int(summary.State),
	})
	return nil
}

// Run drives the periodic snapshot loop until the context ends.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.Trading.SnapshotInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.snapshotAll(ctx)
		}
	}
}

func (m *Manager) snapshotAll(ctx context.Context) {
	for _, sess := range m.sessions() {
		if err := sess.Reconciler.RefreshEquity(ctx, sess.Snapshot); err != nil {
			m.log.Warn("equity refresh failed", zap.Int64("uid", sess.UID), zap.Error(err))
			continue
		}
		if err := sess.Reconciler.Refresh(ctx, sess.Snapshot); err != nil {
			m.log.Warn("reconcile failed", zap.Int64("uid", sess.UID), zap.Error(err))
			continue
		}
		if err := m.persist(ctx, sess); err != nil {
			m.log.Warn("snapshot persist failed", zap.Int64("uid", sess.UID), zap.Error(err))
		}
	}
}
