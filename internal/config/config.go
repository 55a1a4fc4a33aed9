package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	REST     RESTConfig     `yaml:"rest"`
	WS       WSConfig       `yaml:"ws"`
	State    StateConfig    `yaml:"state"`
	Server   ServerConfig   `yaml:"server"`
	Trading  TradingConfig  `yaml:"trading"`
	History  HistoryConfig  `yaml:"history"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	SpotBaseURL    string        `yaml:"spot_base_url"`
	FuturesBaseURL string        `yaml:"futures_base_url"`
	PortfolioURL   string        `yaml:"portfolio_base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RecvWindow     time.Duration `yaml:"recv_window"`
}

type WSConfig struct {
	SpotURL        string        `yaml:"spot_url"`
	FuturesURL     string        `yaml:"futures_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Allocation assigns a share of account equity to one hedged asset.
// A negative percent on the final entry means "allocate whatever USDT remains".
type Allocation struct {
	Symbol  string  `yaml:"symbol"`
	Percent float64 `yaml:"percent"`
}

type TradingConfig struct {
	Allocations      []Allocation  `yaml:"allocations"`
	QuoteAsset       string        `yaml:"quote_asset"`
	OrderFloorUSD    float64       `yaml:"order_floor_usd"`
	ImbalanceUSD     float64       `yaml:"imbalance_usd"`
	BuyPowerSafety   float64       `yaml:"buy_power_safety"`
	OrderDelay       time.Duration `yaml:"order_delay"`
	SymbolDelay      time.Duration `yaml:"symbol_delay"`
	LotTTL           time.Duration `yaml:"lot_ttl"`
	FeeBufferAsset   string        `yaml:"fee_buffer_asset"`
	FeeBufferRatio   float64       `yaml:"fee_buffer_ratio"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.SpotBaseURL == "" {
		cfg.REST.SpotBaseURL = "https://api.binance.com"
	}
	if cfg.REST.FuturesBaseURL == "" {
		cfg.REST.FuturesBaseURL = "https://fapi.binance.com"
	}
	if cfg.REST.PortfolioURL == "" {
		cfg.REST.PortfolioURL = "https://papi.binance.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RecvWindow == 0 {
		cfg.REST.RecvWindow = 10 * time.Second
	}
	if cfg.WS.SpotURL == "" {
		cfg.WS.SpotURL = "wss://stream.binance.com:9443/ws"
	}
	if cfg.WS.FuturesURL == "" {
		cfg.WS.FuturesURL = "wss://fstream.binance.com/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/bn-hedge-bot.db"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Trading.QuoteAsset == "" {
		cfg.Trading.QuoteAsset = "USDT"
	}
	if cfg.Trading.OrderFloorUSD == 0 {
		cfg.Trading.OrderFloorUSD = 200
	}
	if cfg.Trading.ImbalanceUSD == 0 {
		cfg.Trading.ImbalanceUSD = 10
	}
	if cfg.Trading.BuyPowerSafety == 0 {
		cfg.Trading.BuyPowerSafety = 0.95
	}
	if cfg.Trading.OrderDelay == 0 {
		cfg.Trading.OrderDelay = 3 * time.Second
	}
	if cfg.Trading.SymbolDelay == 0 {
		cfg.Trading.SymbolDelay = 15 * time.Second
	}
	if cfg.Trading.LotTTL == 0 {
		cfg.Trading.LotTTL = time.Hour
	}
	if cfg.Trading.FeeBufferAsset == "" {
		cfg.Trading.FeeBufferAsset = "BNB"
	}
	if cfg.Trading.FeeBufferRatio == 0 {
		cfg.Trading.FeeBufferRatio = 0.001
	}
	if cfg.Trading.SnapshotInterval == 0 {
		cfg.Trading.SnapshotInterval = 5 * time.Minute
	}
	if cfg.History.Schema == "" {
		cfg.History.Schema = "public"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if len(cfg.Trading.Allocations) == 0 {
		return errors.New("trading.allocations must name at least one asset")
	}
	total := 0.0
	for i, alloc := range cfg.Trading.Allocations {
		if alloc.Symbol == "" {
			return fmt.Errorf("trading.allocations[%d].symbol is required", i)
		}
		if alloc.Percent < 0 && i != len(cfg.Trading.Allocations)-1 {
			return fmt.Errorf("trading.allocations[%d]: negative percent is only valid on the last entry", i)
		}
		if alloc.Percent > 0 {
			total += alloc.Percent
		}
	}
	if total > 100 {
		return fmt.Errorf("trading.allocations sum to %.2f%%, must not exceed 100%%", total)
	}
	if cfg.Trading.BuyPowerSafety <= 0 || cfg.Trading.BuyPowerSafety > 1 {
		return errors.New("trading.buy_power_safety must be in (0, 1]")
	}
	if cfg.Trading.OrderFloorUSD <= 0 {
		return errors.New("trading.order_floor_usd must be > 0")
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return errors.New("history.dsn is required when history.enabled")
	}
	return nil
}
