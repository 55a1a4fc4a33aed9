package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/binance"
	"bn-hedge-bot/internal/config"
	"bn-hedge-bot/internal/hedge"
	"bn-hedge-bot/internal/logging"
	"bn-hedge-bot/internal/lots"
	"bn-hedge-bot/internal/metrics"
	"bn-hedge-bot/internal/prices"
)

const defaultEnvFile = ".env"

// verify is a one-shot operator tool: reconcile the account over REST
// and report each symbol's leg quantities and whether the imbalance
// threshold is crossed. With -fix it also places the correcting order.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	fix := flag.Bool("fix", false, "place correcting orders instead of only reporting")
	funding := flag.Bool("funding", false, "print funding income and exit")
	fundingHours := flag.Int("funding-hours", 24, "lookback hours for the funding report")
	flag.Parse()

	if err := config.LoadEnv(defaultEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	apiKey := strings.TrimSpace(os.Getenv("BN_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("BN_API_SECRET"))
	if apiKey == "" || apiSecret == "" {
		fatal(errors.New("BN_API_KEY and BN_API_SECRET are required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := binance.New(cfg.REST, cfg.Trading.QuoteAsset, apiKey, apiSecret, log)
	uid, err := client.UID(ctx)
	if err != nil {
		fatal(err)
	}

	if *funding {
		startTime := time.Now().Add(-time.Duration(*fundingHours) * time.Hour).UnixMilli()
		entries, err := client.FundingIncome(ctx, startTime, 0)
		if err != nil {
			fatal(err)
		}
		total := 0.0
		for _, entry := range entries {
			income, _ := strconv.ParseFloat(entry.Income, 64)
			total += income
			fmt.Printf("%-14s %12s %-6s %s\n", entry.Symbol, entry.Income, entry.Asset, time.UnixMilli(entry.Time).Format(time.RFC3339))
		}
		fmt.Printf("total funding over %dh: %.6f\n", *fundingHours, total)
		return
	}

	cache := prices.NewCache()
	registry := lots.NewRegistry(client, cfg.Trading.LotTTL)
	snap := account.NewSnapshot(uid, apiKey, apiSecret)
	reconciler := account.NewReconciler(client, cache, cfg.Trading.QuoteAsset, log)
	service := hedge.NewService(client, cache, registry, reconciler, client, metrics.NewNoop(), log, hedge.Options{
		OrderFloorUSD:  cfg.Trading.OrderFloorUSD,
		ImbalanceUSD:   cfg.Trading.ImbalanceUSD,
		BuyPowerSafety: cfg.Trading.BuyPowerSafety,
		OrderDelay:     cfg.Trading.OrderDelay,
	})

	symbols := make([]string, 0, len(cfg.Trading.Allocations))
	for _, alloc := range cfg.Trading.Allocations {
		symbols = append(symbols, alloc.Symbol)
	}
	if err := seedPrices(ctx, client, cache, cfg, symbols); err != nil {
		fatal(err)
	}
	if err := reconciler.Refresh(ctx, snap); err != nil {
		fatal(err)
	}
	if err := reconciler.RefreshEquity(ctx, snap); err != nil {
		fatal(err)
	}

	fmt.Printf("uid=%d equity=%.2f usdt=%.2f margin_ratio=%.4f\n\n", uid, snap.AssetValuation(), snap.USDTBalance(), snap.MarginRatio())
	fmt.Printf("%-8s %14s %14s %14s %10s\n", "symbol", "spot", "contract", "diff", "status")
	for _, symbol := range symbols {
		spotQty := snap.CryptoQty(symbol)
		contractQty := snap.ContractQty(symbol)
		imbalanced, err := service.MakeBalance(ctx, snap, symbol, !*fix)
		status := "ok"
		if err != nil {
			status = "error: " + err.Error()
		} else if imbalanced {
			if *fix {
				status = "corrected"
			} else {
				status = "imbalanced"
			}
		}
		fmt.Printf("%-8s %14.6f %14.6f %14.6f %10s\n", symbol, spotQty, contractQty, spotQty+contractQty, status)
	}
}

// seedPrices fills the cache from REST book tickers. The report prices
// non-quote holdings too, so sweep in everything the account holds.
func seedPrices(ctx context.Context, client *binance.Client, cache *prices.Cache, cfg *config.Config, symbols []string) error {
	wanted := make(map[string]bool)
	for _, symbol := range symbols {
		wanted[symbol] = true
	}
	if asset := cfg.Trading.FeeBufferAsset; asset != "" {
		wanted[asset] = true
	}
	balances, err := client.MarginBalances(ctx)
	if err != nil {
		return err
	}
	for asset := range balances {
		if asset != cfg.Trading.QuoteAsset {
			wanted[asset] = true
		}
	}
	for symbol := range wanted {
		swapQuote, err := client.BookTicker(ctx, symbol, prices.Swap)
		if err != nil {
			return fmt.Errorf("price %s: %w", symbol, err)
		}
		cache.Put(symbol, prices.Swap, swapQuote)
		if spotQuote, err := client.BookTicker(ctx, symbol, prices.Spot); err == nil {
			cache.Put(symbol, prices.Spot, spotQuote)
		}
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
