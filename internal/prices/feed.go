package prices

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Feed keeps one websocket per market subscribed to the exchange's
// bookTicker streams and writes every update into the Cache. Symbols
// are normalized by stripping the quote-currency suffix, so "BTCUSDT"
// is cached under "BTC".
type Feed struct {
	cache          *Cache
	quoteAsset     string
	reconnectDelay time.Duration
	log            *zap.Logger

	mu      sync.Mutex
	markets map[Market]*conn
}

type conn struct {
	url     string
	symbols []string
	ws      *websocket.Conn
}

func NewFeed(cache *Cache, quoteAsset string, reconnectDelay time.Duration, log *zap.Logger) *Feed {
	return &Feed{
		cache:          cache,
		quoteAsset:     strings.ToUpper(quoteAsset),
		reconnectDelay: reconnectDelay,
		log:            log,
		markets:        make(map[Market]*conn),
	}
}

// Watch registers the stream endpoint and symbol set for one market.
// Must be called before Run.
func (f *Feed) Watch(market Market, url string, symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[market] = &conn{url: url, symbols: symbols}
}

// Run blocks until ctx is cancelled, maintaining one reader per market
// with reconnect-on-error.
func (f *Feed) Run(ctx context.Context) error {
	f.mu.Lock()
	markets := make([]Market, 0, len(f.markets))
	for market := range f.markets {
		markets = append(markets, market)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, market := range markets {
		wg.Add(1)
		go func(market Market) {
			defer wg.Done()
			f.runMarket(ctx, market)
		}(market)
	}
	wg.Wait()
	return ctx.Err()
}

func (f *Feed) runMarket(ctx context.Context, market Market) {
	for {
		if err := f.connectAndRead(ctx, market); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Warn("price stream ended",
				zap.String("market", string(market)),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context, market Market) error {
	f.mu.Lock()
	c := f.markets[market]
	f.mu.Unlock()

	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer ws.Close(websocket.StatusNormalClosure, "done")
	// bookTicker frames are small but bursts can batch; keep headroom.
	ws.SetReadLimit(1 << 20)

	if err := f.subscribe(ctx, ws, c.symbols); err != nil {
		return err
	}
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		f.handleMessage(market, data)
	}
}

func (f *Feed) subscribe(ctx context.Context, ws *websocket.Conn, symbols []string) error {
	streams := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		streams = append(streams, strings.ToLower(symbol+f.quoteAsset)+"@bookTicker")
	}
	sub := map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     1,
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, payload)
}

type bookTicker struct {
	Symbol  string `json:"s"`
	Bid     string `json:"b"`
	BidSize string `json:"B"`
	Ask     string `json:"a"`
	AskSize string `json:"A"`
}

func (f *Feed) handleMessage(market Market, data []byte) {
	var tick bookTicker
	if err := json.Unmarshal(data, &tick); err != nil {
		f.log.Debug("price feed decode failed", zap.Error(err))
		return
	}
	if tick.Symbol == "" {
		// subscription acks and pongs carry no symbol
		return
	}
	symbol := strings.TrimSuffix(tick.Symbol, f.quoteAsset)
	quote := Quote{
		Bid:     parseFloat(tick.Bid),
		Ask:     parseFloat(tick.Ask),
		BidSize: parseFloat(tick.BidSize),
		AskSize: parseFloat(tick.AskSize),
		Updated: time.Now(),
	}
	if quote.Bid <= 0 && quote.Ask <= 0 {
		return
	}
	f.cache.Put(symbol, market, quote)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
