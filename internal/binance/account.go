package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bn-hedge-bot/internal/account"

	"go.uber.org/zap"
)

// UID resolves the account identifier behind the credentials. A
// non-200 answer means the key pair does not authenticate.
func (c *Client) UID(ctx context.Context) (int64, error) {
	params := url.Values{}
	params.Set("omitZeroBalances", "true")
	status, body, err := c.signedRequest(ctx, http.MethodGet, c.spotBaseURL, "/api/v3/account", params)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("account lookup returned %d: %s", status, decodeAPIError(body))
	}
	var payload struct {
		UID int64 `json:"uid"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, err
	}
	if payload.UID == 0 {
		return 0, fmt.Errorf("account lookup returned no uid")
	}
	return payload.UID, nil
}

// MarginBalances returns the free margin-account balance per asset,
// zero balances omitted.
func (c *Client) MarginBalances(ctx context.Context) (map[string]float64, error) {
	status, body, err := c.signedRequest(ctx, http.MethodGet, c.spotBaseURL, "/sapi/v1/margin/account", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("margin account returned %d: %s", status, decodeAPIError(body))
	}
	var payload struct {
		UserAssets []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"userAssets"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	balances := make(map[string]float64)
	for _, entry := range payload.UserAssets {
		free, _ := strconv.ParseFloat(entry.Free, 64)
		if free > 0 {
			balances[entry.Asset] = free
		}
	}
	return balances, nil
}

// FuturesAccount returns the futures wallet balances and every open
// position, with symbols normalized to the bare asset name.
func (c *Client) FuturesAccount(ctx context.Context) (map[string]float64, []account.Position, error) {
	status, body, err := c.signedRequest(ctx, http.MethodGet, c.portfolioURL, "/papi/v1/um/account", nil)
	if err != nil {
		return nil, nil, err
	}
	if status != http.StatusOK {
		return nil, nil, fmt.Errorf("um account returned %d: %s", status, decodeAPIError(body))
	}
	var payload struct {
		Assets []struct {
			Asset              string `json:"asset"`
			CrossWalletBalance string `json:"crossWalletBalance"`
		} `json:"assets"`
		Positions []struct {
			Symbol           string `json:"symbol"`
			PositionAmt      string `json:"positionAmt"`
			UnrealizedProfit string `json:"unrealizedProfit"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, err
	}
	balances := make(map[string]float64)
	for _, entry := range payload.Assets {
		amount, _ := strconv.ParseFloat(entry.CrossWalletBalance, 64)
		if amount > 0 {
			balances[entry.Asset] = amount
		}
	}
	positions := make([]account.Position, 0, len(payload.Positions))
	for _, entry := range payload.Positions {
		qty, _ := strconv.ParseFloat(entry.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		pnl, _ := strconv.ParseFloat(entry.UnrealizedProfit, 64)
		positions = append(positions, account.Position{
			Symbol:        strings.TrimSuffix(entry.Symbol, c.quoteAsset),
			Quantity:      qty,
			UnrealizedPnL: pnl,
		})
	}
	return balances, positions, nil
}

// AccountEquity returns the exchange's own unified-account valuation.
func (c *Client) AccountEquity(ctx context.Context) (account.Equity, error) {
	status, body, err := c.signedRequest(ctx, http.MethodGet, c.portfolioURL, "/papi/v1/account", nil)
	if err != nil {
		return account.Equity{}, err
	}
	if status != http.StatusOK {
		return account.Equity{}, fmt.Errorf("portfolio account returned %d: %s", status, decodeAPIError(body))
	}
	var payload struct {
		ActualEquity  string `json:"actualEquity"`
		UniMMR        string `json:"uniMMR"`
		AccountStatus string `json:"accountStatus"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return account.Equity{}, err
	}
	valuation, _ := strconv.ParseFloat(payload.ActualEquity, 64)
	marginRatio, _ := strconv.ParseFloat(payload.UniMMR, 64)
	return account.Equity{
		Valuation:   valuation,
		MarginRatio: marginRatio,
		Status:      payload.AccountStatus,
	}, nil
}

// DualSidePosition reports whether the futures account is in two-way
// position mode. The hedge math assumes one position per symbol, so
// dual mode must be switched off before trading.
func (c *Client) DualSidePosition(ctx context.Context) (bool, error) {
	status, body, err := c.signedRequest(ctx, http.MethodGet, c.portfolioURL, "/papi/v1/um/positionSide/dual", nil)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("position side returned %d: %s", status, decodeAPIError(body))
	}
	var payload struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, err
	}
	return payload.DualSidePosition, nil
}

func (c *Client) SetDualSidePosition(ctx context.Context, dual bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(dual))
	status, body, err := c.signedRequest(ctx, http.MethodPost, c.portfolioURL, "/papi/v1/um/positionSide/dual", params)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("set position side returned %d: %s", status, decodeAPIError(body))
	}
	return nil
}

// CollectAsset moves one asset's balance into the margin account.
func (c *Client) CollectAsset(ctx context.Context, asset string) error {
	params := url.Values{}
	params.Set("asset", asset)
	status, body, err := c.signedRequest(ctx, http.MethodPost, c.portfolioURL, "/papi/v1/asset-collection", params)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("asset collection returned %d: %s", status, decodeAPIError(body))
	}
	return nil
}

// AutoCollect sweeps every collectable balance into the margin
// account. Heavily rate-limited server side; call sparingly.
func (c *Client) AutoCollect(ctx context.Context) error {
	status, body, err := c.signedRequest(ctx, http.MethodPost, c.portfolioURL, "/papi/v1/auto-collection", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("auto collection returned %d: %s", status, decodeAPIError(body))
	}
	return nil
}

// SetBNBBurn enables paying trading fees and margin interest in BNB.
func (c *Client) SetBNBBurn(ctx context.Context) error {
	params := url.Values{}
	params.Set("spotBNBBurn", "true")
	params.Set("interestBNBBurn", "true")
	status, body, err := c.signedRequest(ctx, http.MethodPost, c.spotBaseURL, "/sapi/v1/bnbBurn", params)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("bnb burn returned %d: %s", status, decodeAPIError(body))
	}
	return nil
}

// FundingIncomeEntry is one funding-fee payment on the futures leg.
type FundingIncomeEntry struct {
	Symbol string `json:"symbol"`
	Income string `json:"income"`
	Asset  string `json:"asset"`
	Time   int64  `json:"time"`
}

// FundingIncome lists funding-fee payments in the given window; zero
// bounds mean unbounded.
func (c *Client) FundingIncome(ctx context.Context, startTime, endTime int64) ([]FundingIncomeEntry, error) {
	params := url.Values{}
	params.Set("incomeType", "FUNDING_FEE")
	params.Set("limit", "1000")
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	if endTime > 0 {
		params.Set("endTime", strconv.FormatInt(endTime, 10))
	}
	status, body, err := c.signedRequest(ctx, http.MethodGet, c.portfolioURL, "/papi/v1/um/income", params)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("income returned %d: %s", status, decodeAPIError(body))
	}
	var entries []FundingIncomeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	c.log.Debug("funding income fetched", zap.Int("entries", len(entries)))
	return entries, nil
}
