package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"bn-hedge-bot/internal/config"
	"bn-hedge-bot/internal/hedge"
	"bn-hedge-bot/internal/prices"

	"go.uber.org/zap"
)

// exchangeStub serves the time endpoint plus whatever handlers a test
// registers, and records every signed request it sees.
type exchangeStub struct {
	mux       *http.ServeMux
	server    *httptest.Server
	requests  []*url.URL
	timeCalls int
}

func newExchangeStub(t *testing.T) *exchangeStub {
	t.Helper()
	stub := &exchangeStub{mux: http.NewServeMux()}
	stub.mux.HandleFunc("/api/v3/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
	})
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			stub.timeCalls++
		} else {
			stub.requests = append(stub.requests, r.URL)
		}
		stub.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *exchangeStub) client(t *testing.T) *Client {
	t.Helper()
	cfg := config.RESTConfig{
		SpotBaseURL:    s.server.URL,
		FuturesBaseURL: s.server.URL,
		PortfolioURL:   s.server.URL,
		Timeout:        5 * time.Second,
		RecvWindow:     5 * time.Second,
	}
	return New(cfg, "USDT", "test-key", "test-secret", zap.NewNop())
}

func TestSignedRequestCarriesValidSignature(t *testing.T) {
	stub := newExchangeStub(t)
	var gotHeader string
	var gotQuery url.Values
	stub.mux.HandleFunc("/papi/v1/um/order", func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-MBX-APIKEY")
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"orderId":1}`)
	})
	client := stub.client(t)

	status, err := client.PlaceSwapMarketOrder(context.Background(), "BTC", 0.5, hedge.Sell, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if gotHeader != "test-key" {
		t.Fatalf("expected api key header, got %q", gotHeader)
	}
	if gotQuery.Get("symbol") != "BTCUSDT" {
		t.Fatalf("expected pair BTCUSDT, got %q", gotQuery.Get("symbol"))
	}
	if gotQuery.Get("side") != "SELL" || gotQuery.Get("type") != "MARKET" {
		t.Fatalf("unexpected order params: %v", gotQuery)
	}
	if gotQuery.Get("timestamp") == "" || gotQuery.Get("recvWindow") != "5000" {
		t.Fatalf("expected timestamp and recvWindow, got %v", gotQuery)
	}

	// recompute the signature over the query minus the signature itself
	raw := stub.requests[len(stub.requests)-1].RawQuery
	idx := strings.Index(raw, "&signature=")
	if idx < 0 {
		t.Fatalf("signature missing from query: %s", raw)
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(raw[:idx]))
	want := hex.EncodeToString(mac.Sum(nil))
	if got := gotQuery.Get("signature"); got != want {
		t.Fatalf("signature mismatch: got %s want %s", got, want)
	}
}

func TestPlaceOrdersReportStatusWithoutError(t *testing.T) {
	stub := newExchangeStub(t)
	stub.mux.HandleFunc("/papi/v1/margin/order", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2010,"msg":"insufficient balance"}`)
	})
	client := stub.client(t)

	status, err := client.PlaceSpotMarketOrder(context.Background(), "BTC", 1, hedge.Buy)
	if err != nil {
		t.Fatalf("rejection must not be a transport error, got %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestSwapOrderReduceOnlyParam(t *testing.T) {
	stub := newExchangeStub(t)
	var gotQuery url.Values
	stub.mux.HandleFunc("/papi/v1/um/order", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"orderId":1}`)
	})
	client := stub.client(t)

	if _, err := client.PlaceSwapMarketOrder(context.Background(), "BTC", 1, hedge.Buy, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery.Get("reduceOnly") != "true" {
		t.Fatalf("expected reduceOnly=true, got %v", gotQuery)
	}

	if _, err := client.PlaceSwapMarketOrder(context.Background(), "BTC", 1, hedge.Sell, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery.Get("reduceOnly") != "" {
		t.Fatalf("expected no reduceOnly param on opening order, got %v", gotQuery)
	}
}

func TestServerTimeOffsetIsCached(t *testing.T) {
	stub := newExchangeStub(t)
	stub.mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"uid":12345}`)
	})
	client := stub.client(t)

	for i := 0; i < 3; i++ {
		uid, err := client.UID(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if uid != 12345 {
			t.Fatalf("expected uid 12345, got %d", uid)
		}
	}
	if stub.timeCalls != 1 {
		t.Fatalf("expected one time fetch, got %d", stub.timeCalls)
	}
}

func TestUIDRejectsBadCredentials(t *testing.T) {
	stub := newExchangeStub(t)
	stub.mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":-2014,"msg":"API-key format invalid."}`)
	})
	client := stub.client(t)

	if _, err := client.UID(context.Background()); err == nil {
		t.Fatalf("expected error for rejected credentials")
	}
}

func TestFetchStepSizeParsesLotFilter(t *testing.T) {
	stub := newExchangeStub(t)
	stub.mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbols":[{"symbol":"BTCUSDT","filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"},{"filterType":"LOT_SIZE","stepSize":"0.00001000"}]}]}`)
	})
	client := stub.client(t)

	step, err := client.FetchStepSize(context.Background(), "BTC", prices.Spot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step != 0.00001 {
		t.Fatalf("expected step 0.00001, got %v", step)
	}

	if _, err := client.FetchStepSize(context.Background(), "NOPE", prices.Spot); err == nil {
		t.Fatalf("expected error for unlisted symbol")
	}
}

func TestFuturesAccountNormalizesSymbols(t *testing.T) {
	stub := newExchangeStub(t)
	stub.mux.HandleFunc("/papi/v1/um/account", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"assets":[{"asset":"USDT","crossWalletBalance":"250.5"},{"asset":"BNB","crossWalletBalance":"0"}],
			"positions":[
				{"symbol":"BTCUSDT","positionAmt":"-0.5","unrealizedProfit":"12.25"},
				{"symbol":"ETHUSDT","positionAmt":"0","unrealizedProfit":"0"}
			]}`)
	})
	client := stub.client(t)

	balances, positions, err := client.FuturesAccount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balances["USDT"] != 250.5 {
		t.Fatalf("expected usdt 250.5, got %v", balances["USDT"])
	}
	if _, ok := balances["BNB"]; ok {
		t.Fatalf("zero balances must be dropped")
	}
	if len(positions) != 1 {
		t.Fatalf("zero positions must be dropped, got %d", len(positions))
	}
	if positions[0].Symbol != "BTC" || positions[0].Quantity != -0.5 || positions[0].UnrealizedPnL != 12.25 {
		t.Fatalf("unexpected position: %+v", positions[0])
	}
}
