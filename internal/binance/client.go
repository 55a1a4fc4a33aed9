package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"bn-hedge-bot/internal/config"

	"go.uber.org/zap"
)

const serverTimeCacheTTL = 25 * time.Minute

// Client is a signed REST client for one account's credentials.
// Requests are signed HMAC-SHA256 over the urlencoded query string
// with the server-time offset cached between calls.
type Client struct {
	spotBaseURL    string
	futuresBaseURL string
	portfolioURL   string
	quoteAsset     string
	apiKey         string
	apiSecret      string
	recvWindow     time.Duration
	http           *http.Client
	log            *zap.Logger

	timeMu       sync.Mutex
	timeOffsetMS int64
	timeFetched  time.Time
}

func New(cfg config.RESTConfig, quoteAsset, apiKey, apiSecret string, log *zap.Logger) *Client {
	return &Client{
		spotBaseURL:    cfg.SpotBaseURL,
		futuresBaseURL: cfg.FuturesBaseURL,
		portfolioURL:   cfg.PortfolioURL,
		quoteAsset:     quoteAsset,
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		recvWindow:     cfg.RecvWindow,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedRequest sends an authenticated request and returns the raw
// status and body. Non-2xx statuses are not errors here: workflow code
// branches on the status itself.
func (c *Client) signedRequest(ctx context.Context, method, baseURL, path string, params url.Values) (int, []byte, error) {
	if params == nil {
		params = url.Values{}
	}
	ts, err := c.serverTime(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("server time: %w", err)
	}
	params.Set("timestamp", strconv.FormatInt(ts, 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path+"?"+query, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	c.log.Debug("exchange request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, body, nil
}

func (c *Client) publicGet(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// serverTime returns the exchange clock in milliseconds, using a
// cached local/server offset to avoid hitting the time endpoint on
// every signed call.
func (c *Client) serverTime(ctx context.Context) (int64, error) {
	c.timeMu.Lock()
	offset := c.timeOffsetMS
	fresh := time.Since(c.timeFetched) < serverTimeCacheTTL && !c.timeFetched.IsZero()
	c.timeMu.Unlock()
	if fresh {
		return time.Now().UnixMilli() + offset, nil
	}

	status, body, err := c.publicGet(ctx, c.spotBaseURL+"/api/v3/time")
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("time endpoint returned %d", status)
	}
	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	c.timeMu.Lock()
	c.timeOffsetMS = payload.ServerTime - now
	c.timeFetched = time.Now()
	offset = c.timeOffsetMS
	c.timeMu.Unlock()
	return now + offset, nil
}

// pair appends the quote asset to a bare symbol: "BTC" -> "BTCUSDT".
func (c *Client) pair(symbol string) string {
	return symbol + c.quoteAsset
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', -1, 64)
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func decodeAPIError(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Msg == "" {
		return string(body)
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Msg)
}
