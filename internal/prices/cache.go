package prices

import (
	"sync"
	"time"
)

// Market names one of the two legs a symbol trades on.
type Market string

const (
	Spot Market = "spot"
	Swap Market = "swap"
)

// Quote is the latest best bid/ask for one symbol on one market.
// There is no freshness guarantee; consumers must treat an absent
// quote as a hard failure, never as zero.
type Quote struct {
	Bid     float64
	Ask     float64
	BidSize float64
	AskSize float64
	Updated time.Time
}

type key struct {
	symbol string
	market Market
}

// Cache is a process-wide map from (symbol, market) to the latest
// book-ticker quote. A single feed goroutine writes, everyone reads.
type Cache struct {
	mu     sync.RWMutex
	quotes map[key]Quote
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[key]Quote)}
}

func (c *Cache) Put(symbol string, market Market, quote Quote) {
	c.mu.Lock()
	c.quotes[key{symbol, market}] = quote
	c.mu.Unlock()
}

func (c *Cache) Get(symbol string, market Market) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	quote, ok := c.quotes[key{symbol, market}]
	return quote, ok
}

func (c *Cache) Bid(symbol string, market Market) (float64, bool) {
	quote, ok := c.Get(symbol, market)
	if !ok || quote.Bid <= 0 {
		return 0, false
	}
	return quote.Bid, true
}

func (c *Cache) Ask(symbol string, market Market) (float64, bool) {
	quote, ok := c.Get(symbol, market)
	if !ok || quote.Ask <= 0 {
		return 0, false
	}
	return quote.Ask, true
}

// Symbols returns every symbol with at least one cached quote.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range c.quotes {
		seen[k.symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}
	return out
}
