package prices

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHandleMessageCachesNormalizedSymbol(t *testing.T) {
	cache := NewCache()
	feed := NewFeed(cache, "USDT", time.Second, zap.NewNop())

	feed.handleMessage(Swap, []byte(`{"u":400900217,"s":"BTCUSDT","b":"25.35190000","B":"31.21000000","a":"25.36520000","A":"40.66000000"}`))

	quote, ok := cache.Get("BTC", Swap)
	if !ok {
		t.Fatalf("expected quote under stripped symbol")
	}
	if quote.Bid != 25.3519 || quote.Ask != 25.3652 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if quote.BidSize != 31.21 || quote.AskSize != 40.66 {
		t.Fatalf("unexpected sizes: %+v", quote)
	}
}

func TestHandleMessageIgnoresAcksAndGarbage(t *testing.T) {
	cache := NewCache()
	feed := NewFeed(cache, "USDT", time.Second, zap.NewNop())

	feed.handleMessage(Swap, []byte(`{"result":null,"id":1}`))
	feed.handleMessage(Swap, []byte(`not json`))
	feed.handleMessage(Swap, []byte(`{"s":"BTCUSDT","b":"0","a":"0"}`))

	if symbols := cache.Symbols(); len(symbols) != 0 {
		t.Fatalf("expected empty cache, got %v", symbols)
	}
}
