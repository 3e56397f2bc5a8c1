package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type nopLimiter struct{}

func (nopLimiter) Acquire(ctx context.Context, source string) error { return nil }

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func TestBinanceFetchPriceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			t.Fatalf("期望 symbol=BTCUSDT, 实际 %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"symbol":    "BTCUSDT",
			"lastPrice": "65000.10",
			"volume":    "1234.5",
		})
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, nopLimiter{}, noopLogger())
	quote, err := b.FetchPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !quote.Price.Equal(decimal.RequireFromString("65000.10")) {
		t.Fatalf("期望价格 65000.10, 实际 %s", quote.Price)
	}
	if quote.Source != "binance" {
		t.Fatalf("unexpected source %q", quote.Source)
	}
}

func TestBinanceRetriesTransientFailure(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"symbol": "ETHUSDT", "lastPrice": "3000", "volume": "1"})
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, nopLimiter{}, noopLogger())
	quote, err := b.FetchPrice(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("5xx 后重试应成功: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
	if !quote.Price.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("unexpected price %s", quote.Price)
	}
}

func TestBinanceExhaustedRetriesResolveToUnavailable(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, nopLimiter{}, noopLogger())
	_, err := b.FetchPrice(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("重试耗尽应返回 ErrUnavailable, 实际 %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("expected initial try + 2 retries, got %d calls", got)
	}
}

func TestRateLimitViolationIsNotRetried(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, nopLimiter{}, noopLogger())
	_, err := b.FetchPrice(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("429 应返回 ErrRateLimited, 实际 %v", err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatal("ErrRateLimited 应同时匹配 ErrUnavailable")
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("429 不应重试, 实际调用 %d 次", got)
	}
}

func TestOKXSymbolTranslation(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "BTC-USDT",
		"ethusdt":  "ETH-USDT",
		"SOLUSDC":  "SOL-USDC",
		"DOGEBTC":  "DOGE-BTC",
		"LINKETH":  "LINK-ETH",
		"XRPUSD":   "XRP-USD",
	}
	for in, want := range cases {
		got, err := translateOKXSymbol(in)
		if err != nil {
			t.Fatalf("translate %s: %v", in, err)
		}
		if got != want {
			t.Fatalf("translate %s: want %s, got %s", in, want, got)
		}
	}

	if _, err := translateOKXSymbol("WHAT"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("无法拆分的符号应返回 ErrUnsupported, 实际 %v", err)
	}
}

func TestOKXFetchPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("instId") != "BTC-USDT" {
			t.Fatalf("期望 instId=BTC-USDT, 实际 %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "0",
			"data": []map[string]string{{"instId": "BTC-USDT", "last": "64999.9", "vol24h": "100"}},
		})
	}))
	defer srv.Close()

	o := NewOKX(OKXOptions{BaseURL: srv.URL, Timeout: time.Second}, nopLimiter{}, noopLogger())
	quote, err := o.FetchPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchPrice: %v", err)
	}
	if !quote.Price.Equal(decimal.RequireFromString("64999.9")) {
		t.Fatalf("unexpected price %s", quote.Price)
	}
}

func TestBybitFundingRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("category") != "linear" {
			t.Fatalf("funding 应查询 linear category, 实际 %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"retCode": 0,
			"result": map[string]any{
				"list": []map[string]string{{
					"symbol":          "BTCUSDT",
					"fundingRate":    "0.0001",
					"nextFundingTime": "1700000000000",
				}},
			},
		})
	}))
	defer srv.Close()

	b := NewBybit(BybitOptions{BaseURL: srv.URL, Timeout: time.Second}, nopLimiter{}, noopLogger())
	fr, err := b.FetchFundingRate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchFundingRate: %v", err)
	}
	if !fr.Rate.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("unexpected rate %s", fr.Rate)
	}
	if fr.NextFundingAt.IsZero() {
		t.Fatal("nextFundingTime 应被解析")
	}
}

func TestCoinGeckoUnsupported(t *testing.T) {
	c := NewCoinGecko(CoinGeckoOptions{}, nopLimiter{}, noopLogger())

	if _, err := c.FetchPrice(context.Background(), "OBSCUREUSDT"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("未映射的符号应返回 ErrUnsupported, 实际 %v", err)
	}
	if _, err := c.FetchFundingRate(context.Background(), "BTCUSDT"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("coingecko funding 应返回 ErrUnsupported, 实际 %v", err)
	}
}

func TestCoinGeckoTrending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"coins": []map[string]any{
				{"item": map[string]any{"id": "pepe", "symbol": "pepe", "name": "Pepe", "market_cap_rank": 40}},
				{"item": map[string]any{"id": "sui", "symbol": "sui", "name": "Sui", "market_cap_rank": 20}},
			},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, nopLimiter{}, noopLogger())
	coins, err := c.FetchTrending(context.Background())
	if err != nil {
		t.Fatalf("FetchTrending: %v", err)
	}
	if len(coins) != 2 {
		t.Fatalf("expected 2 coins, got %d", len(coins))
	}
	if coins[0].Symbol != "PEPE" {
		t.Fatalf("symbol 应为大写, 实际 %q", coins[0].Symbol)
	}
}
