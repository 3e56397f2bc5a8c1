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

const coingeckoName = "coingecko"

// coingeckoIDs translates canonical pair symbols to CoinGecko coin ids.
// CoinGecko quotes against fiat; only USD-stable pairs are supported.
var coingeckoIDs = map[string]string{
	"BTCUSDT":  "bitcoin",
	"ETHUSDT":  "ethereum",
	"BNBUSDT":  "binancecoin",
	"SOLUSDT":  "solana",
	"XRPUSDT":  "ripple",
	"ADAUSDT":  "cardano",
	"DOGEUSDT": "dogecoin",
	"DOTUSDT":  "polkadot",
	"TONUSDT":  "the-open-network",
	"LINKUSDT": "chainlink",
}

// CoinGeckoOptions parameterise the CoinGecko client.
type CoinGeckoOptions struct {
	BaseURL string
	Timeout time.Duration
}

// CoinGecko fetches USD spot prices by coin id and the site-wide trending
// list. It exposes no derivatives data; funding requests resolve to
// ErrUnsupported.
type CoinGecko struct {
	opts    CoinGeckoOptions
	limiter RateLimiter
	logger  zerolog.Logger
	client  *http.Client
}

// NewCoinGecko constructs a CoinGecko client.
func NewCoinGecko(opts CoinGeckoOptions, limiter RateLimiter, logger zerolog.Logger) *CoinGecko {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.coingecko.com"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &CoinGecko{
		opts:    opts,
		limiter: limiter,
		logger:  logger.With().Str("component", "coingecko_client").Logger(),
		client:  newHTTPClient(opts.Timeout),
	}
}

// Name implements Source.
func (c *CoinGecko) Name() string { return coingeckoName }

// FetchPrice retrieves the USD price for a canonical symbol.
func (c *CoinGecko) FetchPrice(ctx context.Context, symbol string) (Quote, error) {
	id, ok := coingeckoIDs[strings.ToUpper(symbol)]
	if !ok {
		return Quote{}, fmt.Errorf("%w: no coingecko id for symbol %q", ErrUnsupported, symbol)
	}

	if err := c.limiter.Acquire(ctx, coingeckoName); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	url := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd&include_24hr_vol=true", c.opts.BaseURL, id)

	var resp map[string]struct {
		USD       float64 `json:"usd"`
		USD24hVol float64 `json:"usd_24h_vol"`
	}
	if err := getJSON(ctx, c.client, c.logger, url, &resp); err != nil {
		c.logger.Warn().Err(err).Str("source", coingeckoName).Str("symbol", symbol).Msg("price fetch failed")
		return Quote{}, err
	}

	entry, ok := resp[id]
	if !ok || entry.USD == 0 {
		return Quote{}, fmt.Errorf("%w: empty price for %s", ErrUnavailable, id)
	}

	return Quote{
		Source:     coingeckoName,
		Symbol:     symbol,
		Price:      decimal.NewFromFloat(entry.USD),
		Volume24h:  decimal.NewFromFloat(entry.USD24hVol),
		ObservedAt: time.Now().UTC(),
	}, nil
}

// FetchFundingRate is not offered by CoinGecko.
func (c *CoinGecko) FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error) {
	return FundingRate{}, fmt.Errorf("%w: coingecko has no funding data", ErrUnsupported)
}

type trendingResponse struct {
	Coins []struct {
		Item struct {
			ID            string `json:"id"`
			Symbol        string `json:"symbol"`
			Name          string `json:"name"`
			MarketCapRank int    `json:"market_cap_rank"`
		} `json:"item"`
	} `json:"coins"`
}

// FetchTrending retrieves the current trending list.
func (c *CoinGecko) FetchTrending(ctx context.Context) ([]TrendingCoin, error) {
	if err := c.limiter.Acquire(ctx, coingeckoName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	url := c.opts.BaseURL + "/api/v3/search/trending"

	var resp trendingResponse
	if err := getJSON(ctx, c.client, c.logger, url, &resp); err != nil {
		c.logger.Warn().Err(err).Str("source", coingeckoName).Msg("trending fetch failed")
		return nil, err
	}

	coins := make([]TrendingCoin, 0, len(resp.Coins))
	for _, entry := range resp.Coins {
		coins = append(coins, TrendingCoin{
			ID:     entry.Item.ID,
			Symbol: strings.ToUpper(entry.Item.Symbol),
			Name:   entry.Item.Name,
			Rank:   entry.Item.MarketCapRank,
		})
	}
	return coins, nil
}

var (
	_ Source         = (*CoinGecko)(nil)
	_ TrendingSource = (*CoinGecko)(nil)
)
