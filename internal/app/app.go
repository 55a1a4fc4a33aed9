package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"bn-hedge-bot/internal/alerts"
	"bn-hedge-bot/internal/binance"
	"bn-hedge-bot/internal/config"
	"bn-hedge-bot/internal/history"
	"bn-hedge-bot/internal/lots"
	"bn-hedge-bot/internal/metrics"
	"bn-hedge-bot/internal/prices"
	"bn-hedge-bot/internal/state/sqlite"

	"go.uber.org/zap"
)

// APIServer is the narrow surface App needs from the HTTP server.
// Satisfied by *server.Server; declared locally because internal/server
// imports this package for the Runner interface.
type APIServer interface {
	Start(ctx context.Context) error
}

// App assembles the shared infrastructure and runs the long-lived
// loops: the price feed, the snapshot persister, and the API server.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	cache   *prices.Cache
	feed    *prices.Feed
	lots    *lots.Registry
	history *history.Writer
	manager *Manager
	server  APIServer
}

func New(cfg *config.Config, log *zap.Logger, newServer func(runner *Manager, metricsHandler http.Handler) APIServer) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	cache := prices.NewCache()
	feed := prices.NewFeed(cache, cfg.Trading.QuoteAsset, cfg.WS.ReconnectDelay, log)
	symbols := watchedSymbols(cfg)
	feed.Watch(prices.Spot, cfg.WS.SpotURL, symbols)
	feed.Watch(prices.Swap, cfg.WS.FuturesURL, symbols)

	// Instrument metadata needs no credentials.
	metaClient := binance.New(cfg.REST, cfg.Trading.QuoteAsset, "", "", log)
	registry := lots.NewRegistry(metaClient, cfg.Trading.LotTTL)

	writer, err := history.New(cfg.History, log)
	if err != nil {
		return nil, err
	}

	prom := metrics.NewPrometheus()
	notifier := alerts.NewTelegram(cfg.Telegram, log)
	manager := NewManager(cfg, cache, registry, store, writer, notifier, prom.Metrics, log)
	apiServer := newServer(manager, prom.Handler())

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		cache:   cache,
		feed:    feed,
		lots:    registry,
		history: writer,
		manager: manager,
		server:  apiServer,
	}, nil
}

// watchedSymbols is every symbol the feeds must price: the configured
// allocations plus the fee buffer asset, which the reconciler values
// like any other holding.
func watchedSymbols(cfg *config.Config) []string {
	seen := make(map[string]bool)
	symbols := make([]string, 0, len(cfg.Trading.Allocations)+1)
	for _, alloc := range cfg.Trading.Allocations {
		if !seen[alloc.Symbol] {
			seen[alloc.Symbol] = true
			symbols = append(symbols, alloc.Symbol)
		}
	}
	if asset := cfg.Trading.FeeBufferAsset; asset != "" && !seen[asset] {
		symbols = append(symbols, asset)
	}
	return symbols
}

// Run blocks until the context ends or a loop fails.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.history.Close()

	a.history.Start(ctx)

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.feed.Run(ctx)
	}()
	go func() {
		errCh <- a.manager.Run(ctx)
	}()

	err := a.server.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	select {
	case loopErr := <-errCh:
		if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
			return loopErr
		}
	default:
	}
	return nil
}
