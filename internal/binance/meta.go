package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"bn-hedge-bot/internal/prices"
)

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// FetchStepSize reads the LOT_SIZE filter for a symbol from the
// market's instrument metadata. Callers cache the result; this hits
// the exchange every time.
func (c *Client) FetchStepSize(ctx context.Context, symbol string, market prices.Market) (float64, error) {
	pair := c.pair(symbol)
	var infoURL string
	switch market {
	case prices.Spot:
		infoURL = c.spotBaseURL + "/api/v3/exchangeInfo?symbol=" + pair
	case prices.Swap:
		infoURL = c.futuresBaseURL + "/fapi/v1/exchangeInfo"
	default:
		return 0, fmt.Errorf("unknown market %q", market)
	}
	status, body, err := c.publicGet(ctx, infoURL)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("exchange info returned %d: %s", status, decodeAPIError(body))
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return 0, err
	}
	for _, entry := range info.Symbols {
		if entry.Symbol != pair {
			continue
		}
		for _, filter := range entry.Filters {
			if filter.FilterType != "LOT_SIZE" {
				continue
			}
			step, err := strconv.ParseFloat(filter.StepSize, 64)
			if err != nil {
				return 0, fmt.Errorf("parse step size %q: %w", filter.StepSize, err)
			}
			return step, nil
		}
		return 0, fmt.Errorf("no LOT_SIZE filter for %s on %s", pair, market)
	}
	return 0, fmt.Errorf("symbol %s not listed on %s", pair, market)
}
