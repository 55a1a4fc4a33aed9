package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bn-hedge-bot/internal/prices"
)

// BookTicker fetches the current top of book over REST. The live bot
// streams these over websocket; this is for one-shot tooling.
func (c *Client) BookTicker(ctx context.Context, symbol string, market prices.Market) (prices.Quote, error) {
	pair := c.pair(symbol)
	var tickerURL string
	switch market {
	case prices.Spot:
		tickerURL = c.spotBaseURL + "/api/v3/ticker/bookTicker?symbol=" + pair
	case prices.Swap:
		tickerURL = c.futuresBaseURL + "/fapi/v1/ticker/bookTicker?symbol=" + pair
	default:
		return prices.Quote{}, fmt.Errorf("unknown market %q", market)
	}
	status, body, err := c.publicGet(ctx, tickerURL)
	if err != nil {
		return prices.Quote{}, err
	}
	if status != http.StatusOK {
		return prices.Quote{}, fmt.Errorf("book ticker returned %d: %s", status, decodeAPIError(body))
	}
	var payload struct {
		BidPrice string `json:"bidPrice"`
		BidQty   string `json:"bidQty"`
		AskPrice string `json:"askPrice"`
		AskQty   string `json:"askQty"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return prices.Quote{}, err
	}
	bid, _ := strconv.ParseFloat(payload.BidPrice, 64)
	ask, _ := strconv.ParseFloat(payload.AskPrice, 64)
	bidSize, _ := strconv.ParseFloat(payload.BidQty, 64)
	askSize, _ := strconv.ParseFloat(payload.AskQty, 64)
	if bid <= 0 || ask <= 0 {
		return prices.Quote{}, fmt.Errorf("empty book for %s on %s", pair, market)
	}
	return prices.Quote{
		Bid:     bid,
		Ask:     ask,
		BidSize: bidSize,
		AskSize: askSize,
		Updated: time.Now(),
	}, nil
}
