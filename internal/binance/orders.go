package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"bn-hedge-bot/internal/hedge"

	"go.uber.org/zap"
)

// clientOrderID tags machine-placed orders so they can be told apart
// from manual ones in the exchange history.
func clientOrderID() string {
	return fmt.Sprintf("WA%d", time.Now().UnixMilli())
}

// PlaceSpotMarketOrder places a market order on the margin (spot) leg.
// qty must already be rounded to the spot step size. The returned
// status is the exchange's HTTP status; 200 is the only success the
// orchestrator consults.
func (c *Client) PlaceSpotMarketOrder(ctx context.Context, symbol string, qty float64, side hedge.Side) (int, error) {
	params := url.Values{}
	params.Set("symbol", c.pair(symbol))
	params.Set("side", sideParam(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(qty))
	params.Set("newClientOrderId", clientOrderID())
	status, body, err := c.signedRequest(ctx, http.MethodPost, c.portfolioURL, "/papi/v1/margin/order", params)
	if err != nil {
		return 0, err
	}
	if status == http.StatusOK {
		c.log.Info("spot order filled",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("qty", qty),
		)
	} else {
		c.log.Warn("spot order rejected",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("qty", qty),
			zap.Int("status", status),
			zap.String("response", decodeAPIError(body)),
		)
	}
	return status, nil
}

// PlaceSwapMarketOrder places a market order on the perpetual leg.
// reduceOnly guarantees the order can only shrink an existing
// position; close workflows rely on it to never flip the short long.
func (c *Client) PlaceSwapMarketOrder(ctx context.Context, symbol string, qty float64, side hedge.Side, reduceOnly bool) (int, error) {
	params := url.Values{}
	params.Set("symbol", c.pair(symbol))
	params.Set("side", sideParam(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(qty))
	params.Set("newClientOrderId", clientOrderID())
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}
	status, body, err := c.signedRequest(ctx, http.MethodPost, c.portfolioURL, "/papi/v1/um/order", params)
	if err != nil {
		return 0, err
	}
	if status == http.StatusOK {
		c.log.Info("swap order filled",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("qty", qty),
			zap.Bool("reduce_only", reduceOnly),
		)
	} else {
		c.log.Warn("swap order rejected",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("qty", qty),
			zap.Bool("reduce_only", reduceOnly),
			zap.Int("status", status),
			zap.String("response", decodeAPIError(body)),
		)
	}
	return status, nil
}

func sideParam(side hedge.Side) string {
	if side == hedge.Sell {
		return "SELL"
	}
	return "BUY"
}
