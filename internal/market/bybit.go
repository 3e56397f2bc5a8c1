package market

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const bybitName = "bybit"

// BybitOptions parameterise the Bybit client.
type BybitOptions struct {
	BaseURL string
	Timeout time.Duration
}

// Bybit fetches v5 market tickers. Canonical symbols map unchanged; spot
// prices come from the spot category and funding from the linear category.
type Bybit struct {
	opts    BybitOptions
	limiter RateLimiter
	logger  zerolog.Logger
	client  *http.Client
}

// NewBybit constructs a Bybit client.
func NewBybit(opts BybitOptions, limiter RateLimiter, logger zerolog.Logger) *Bybit {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.bybit.com"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Bybit{
		opts:    opts,
		limiter: limiter,
		logger:  logger.With().Str("component", "bybit_client").Logger(),
		client:  newHTTPClient(opts.Timeout),
	}
}

// Name implements Source.
func (b *Bybit) Name() string { return bybitName }

type bybitResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol          string `json:"symbol"`
			LastPrice       string `json:"lastPrice"`
			Volume24h       string `json:"volume24h"`
			FundingRate     string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"list"`
	} `json:"result"`
}

func (b *Bybit) fetchTicker(ctx context.Context, category, symbol string) (*bybitResponse, error) {
	if err := b.limiter.Acquire(ctx, bybitName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pair := strings.ToUpper(symbol)
	url := fmt.Sprintf("%s/v5/market/tickers?category=%s&symbol=%s", b.opts.BaseURL, category, pair)

	var resp bybitResponse
	if err := getJSON(ctx, b.client, b.logger, url, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 || len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("%w: bybit retCode %d: %s", ErrUnavailable, resp.RetCode, resp.RetMsg)
	}
	return &resp, nil
}

// FetchPrice retrieves the spot ticker for a canonical symbol.
func (b *Bybit) FetchPrice(ctx context.Context, symbol string) (Quote, error) {
	resp, err := b.fetchTicker(ctx, "spot", symbol)
	if err != nil {
		b.logger.Warn().Err(err).Str("source", bybitName).Str("symbol", symbol).Msg("price fetch failed")
		return Quote{}, err
	}

	entry := resp.Result.List[0]
	price, err := decimal.NewFromString(entry.LastPrice)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: parse lastPrice %q: %v", ErrUnavailable, entry.LastPrice, err)
	}
	volume, err := decimal.NewFromString(entry.Volume24h)
	if err != nil {
		volume = decimal.Zero
	}

	return Quote{
		Source:     bybitName,
		Symbol:     symbol,
		Price:      price,
		Volume24h:  volume,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// FetchFundingRate retrieves the linear-contract funding rate.
func (b *Bybit) FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error) {
	resp, err := b.fetchTicker(ctx, "linear", symbol)
	if err != nil {
		b.logger.Warn().Err(err).Str("source", bybitName).Str("symbol", symbol).Msg("funding fetch failed")
		return FundingRate{}, err
	}

	entry := resp.Result.List[0]
	rate, err := decimal.NewFromString(entry.FundingRate)
	if err != nil {
		return FundingRate{}, fmt.Errorf("%w: parse fundingRate %q: %v", ErrUnavailable, entry.FundingRate, err)
	}

	next := time.Time{}
	if entry.NextFundingTime != "" {
		var unixMs int64
		if _, err := fmt.Sscan(entry.NextFundingTime, &unixMs); err == nil {
			next = time.UnixMilli(unixMs).UTC()
		}
	}

	return FundingRate{
		Source:        bybitName,
		Symbol:        symbol,
		Rate:          rate,
		NextFundingAt: next,
	}, nil
}

var _ Source = (*Bybit)(nil)
