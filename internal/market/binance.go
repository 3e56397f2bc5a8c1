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

const binanceName = "binance"

// BinanceOptions parameterise the Binance client.
type BinanceOptions struct {
	BaseURL    string
	FuturesURL string
	Timeout    time.Duration
}

// Binance fetches spot tickers from api.binance.com and funding rates from
// the futures premium-index endpoint. Canonical symbols (BTCUSDT) map to
// Binance notation unchanged.
type Binance struct {
	opts    BinanceOptions
	limiter RateLimiter
	logger  zerolog.Logger
	client  *http.Client
}

// NewBinance constructs a Binance client.
func NewBinance(opts BinanceOptions, limiter RateLimiter, logger zerolog.Logger) *Binance {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.binance.com"
	}
	if opts.FuturesURL == "" {
		opts.FuturesURL = "https://fapi.binance.com"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.FuturesURL = strings.TrimRight(opts.FuturesURL, "/")

	return &Binance{
		opts:    opts,
		limiter: limiter,
		logger:  logger.With().Str("component", "binance_client").Logger(),
		client:  newHTTPClient(opts.Timeout),
	}
}

// Name implements Source.
func (b *Binance) Name() string { return binanceName }

type binanceTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
}

// FetchPrice retrieves the 24h spot ticker for a canonical symbol.
func (b *Binance) FetchPrice(ctx context.Context, symbol string) (Quote, error) {
	if err := b.limiter.Acquire(ctx, binanceName); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pair := strings.ToUpper(symbol)
	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", b.opts.BaseURL, pair)

	var ticker binanceTicker
	if err := getJSON(ctx, b.client, b.logger, url, &ticker); err != nil {
		b.logger.Warn().Err(err).Str("source", binanceName).Str("symbol", symbol).Msg("price fetch failed")
		return Quote{}, err
	}

	price, err := decimal.NewFromString(ticker.LastPrice)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: parse lastPrice %q: %v", ErrUnavailable, ticker.LastPrice, err)
	}
	volume, err := decimal.NewFromString(ticker.Volume)
	if err != nil {
		volume = decimal.Zero
	}

	return Quote{
		Source:     binanceName,
		Symbol:     symbol,
		Price:      price,
		Volume24h:  volume,
		ObservedAt: time.Now().UTC(),
	}, nil
}

type binancePremiumIndex struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

// FetchFundingRate retrieves the current funding rate from the futures API.
func (b *Binance) FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error) {
	if err := b.limiter.Acquire(ctx, binanceName); err != nil {
		return FundingRate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pair := strings.ToUpper(symbol)
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", b.opts.FuturesURL, pair)

	var idx binancePremiumIndex
	if err := getJSON(ctx, b.client, b.logger, url, &idx); err != nil {
		b.logger.Warn().Err(err).Str("source", binanceName).Str("symbol", symbol).Msg("funding fetch failed")
		return FundingRate{}, err
	}

	rate, err := decimal.NewFromString(idx.LastFundingRate)
	if err != nil {
		return FundingRate{}, fmt.Errorf("%w: parse lastFundingRate %q: %v", ErrUnavailable, idx.LastFundingRate, err)
	}

	return FundingRate{
		Source:        binanceName,
		Symbol:        symbol,
		Rate:          rate,
		NextFundingAt: time.UnixMilli(idx.NextFundingTime).UTC(),
	}, nil
}

var _ Source = (*Binance)(nil)
