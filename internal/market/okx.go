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

const okxName = "okx"

// okxQuoteAssets lists the quote currencies OKX symbol translation probes,
// longest first so that e.g. BTCUSDC is not split as BTCUSD+C.
var okxQuoteAssets = []string{"USDT", "USDC", "BTC", "ETH", "USD"}

// OKXOptions parameterise the OKX client.
type OKXOptions struct {
	BaseURL string
	Timeout time.Duration
}

// OKX fetches spot tickers and perpetual-swap funding rates. Canonical
// concatenated pairs translate to OKX hyphenated notation: BTCUSDT becomes
// BTC-USDT for spot and BTC-USDT-SWAP for funding.
type OKX struct {
	opts    OKXOptions
	limiter RateLimiter
	logger  zerolog.Logger
	client  *http.Client
}

// NewOKX constructs an OKX client.
func NewOKX(opts OKXOptions, limiter RateLimiter, logger zerolog.Logger) *OKX {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.okx.com"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &OKX{
		opts:    opts,
		limiter: limiter,
		logger:  logger.With().Str("component", "okx_client").Logger(),
		client:  newHTTPClient(opts.Timeout),
	}
}

// Name implements Source.
func (o *OKX) Name() string { return okxName }

// translateSymbol converts canonical BTCUSDT into BTC-USDT. The quote asset
// is matched against a fixed suffix list, so the translation is deterministic
// for any given input.
func translateOKXSymbol(symbol string) (string, error) {
	s := strings.ToUpper(symbol)
	for _, quote := range okxQuoteAssets {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "-" + quote, nil
		}
	}
	return "", fmt.Errorf("%w: cannot translate symbol %q to okx notation", ErrUnsupported, symbol)
}

type okxResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID          string `json:"instId"`
		Last            string `json:"last"`
		Vol24h          string `json:"vol24h"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
	} `json:"data"`
}

// FetchPrice retrieves the spot ticker for a canonical symbol.
func (o *OKX) FetchPrice(ctx context.Context, symbol string) (Quote, error) {
	instID, err := translateOKXSymbol(symbol)
	if err != nil {
		return Quote{}, err
	}

	if err := o.limiter.Acquire(ctx, okxName); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	url := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", o.opts.BaseURL, instID)

	var resp okxResponse
	if err := getJSON(ctx, o.client, o.logger, url, &resp); err != nil {
		o.logger.Warn().Err(err).Str("source", okxName).Str("symbol", symbol).Msg("price fetch failed")
		return Quote{}, err
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return Quote{}, fmt.Errorf("%w: okx code %s: %s", ErrUnavailable, resp.Code, resp.Msg)
	}

	price, err := decimal.NewFromString(resp.Data[0].Last)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: parse last %q: %v", ErrUnavailable, resp.Data[0].Last, err)
	}
	volume, err := decimal.NewFromString(resp.Data[0].Vol24h)
	if err != nil {
		volume = decimal.Zero
	}

	return Quote{
		Source:     okxName,
		Symbol:     symbol,
		Price:      price,
		Volume24h:  volume,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// FetchFundingRate retrieves the funding rate for the matching perpetual swap.
func (o *OKX) FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error) {
	instID, err := translateOKXSymbol(symbol)
	if err != nil {
		return FundingRate{}, err
	}
	instID += "-SWAP"

	if err := o.limiter.Acquire(ctx, okxName); err != nil {
		return FundingRate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	url := fmt.Sprintf("%s/api/v5/public/funding-rate?instId=%s", o.opts.BaseURL, instID)

	var resp okxResponse
	if err := getJSON(ctx, o.client, o.logger, url, &resp); err != nil {
		o.logger.Warn().Err(err).Str("source", okxName).Str("symbol", symbol).Msg("funding fetch failed")
		return FundingRate{}, err
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return FundingRate{}, fmt.Errorf("%w: okx code %s: %s", ErrUnavailable, resp.Code, resp.Msg)
	}

	rate, err := decimal.NewFromString(resp.Data[0].FundingRate)
	if err != nil {
		return FundingRate{}, fmt.Errorf("%w: parse fundingRate %q: %v", ErrUnavailable, resp.Data[0].FundingRate, err)
	}

	next := time.Time{}
	if ms := resp.Data[0].NextFundingTime; ms != "" {
		var unixMs int64
		if _, err := fmt.Sscan(ms, &unixMs); err == nil {
			next = time.UnixMilli(unixMs).UTC()
		}
	}

	return FundingRate{
		Source:        okxName,
		Symbol:        symbol,
		Rate:          rate,
		NextFundingAt: next,
	}, nil
}

var _ Source = (*OKX)(nil)
