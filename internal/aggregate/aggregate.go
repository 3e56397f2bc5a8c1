package aggregate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-push-bot/internal/market"
)

// ErrNoQuotes indicates every source failed for a comparison.
var ErrNoQuotes = errors.New("aggregate: no source returned a quote")

// Comparison is the merged view of one symbol across several sources.
// Quotes preserve the configured source order; Best and Worst point at the
// minimum and maximum price with first-encountered winning ties.
type Comparison struct {
	Symbol     string
	Quotes     []market.Quote
	Best       market.Quote
	Worst      market.Quote
	Spread     decimal.Decimal
	SpreadPct  decimal.Decimal
	Funding    []market.FundingRate
	ComputedAt time.Time
}

// Aggregator fans fetches out across sources and merges whatever succeeded.
type Aggregator struct {
	logger zerolog.Logger
}

// New constructs an Aggregator.
func New(logger zerolog.Logger) *Aggregator {
	return &Aggregator{logger: logger.With().Str("component", "aggregator").Logger()}
}

// Compare fetches symbol from every source concurrently and merges the
// successful quotes. Partial failure is tolerated; ErrNoQuotes is returned
// only when all sources fail. Each underlying fetch bounds its own duration,
// so the fan-in settles without an extra deadline.
func (a *Aggregator) Compare(ctx context.Context, symbol string, sources []market.Source) (*Comparison, error) {
	if len(sources) == 0 {
		return nil, ErrNoQuotes
	}

	results := make([]*market.Quote, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src market.Source) {
			defer wg.Done()
			quote, err := src.FetchPrice(ctx, symbol)
			if err != nil {
				a.logger.Debug().Err(err).Str("source", src.Name()).Str("symbol", symbol).Msg("source skipped in comparison")
				return
			}
			results[i] = &quote
		}(i, src)
	}
	wg.Wait()

	quotes := make([]market.Quote, 0, len(sources))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	if len(quotes) == 0 {
		return nil, ErrNoQuotes
	}

	best, worst := quotes[0], quotes[0]
	for _, q := range quotes[1:] {
		if q.Price.LessThan(best.Price) {
			best = q
		}
		if q.Price.GreaterThan(worst.Price) {
			worst = q
		}
	}

	spread := worst.Price.Sub(best.Price)
	spreadPct := decimal.Zero
	if !best.Price.IsZero() {
		spreadPct = spread.Div(best.Price).Mul(decimal.NewFromInt(100))
	}

	return &Comparison{
		Symbol:     symbol,
		Quotes:     quotes,
		Best:       best,
		Worst:      worst,
		Spread:     spread,
		SpreadPct:  spreadPct,
		ComputedAt: time.Now().UTC(),
	}, nil
}

// FundingRates fetches the funding rate for symbol from every source
// concurrently and returns the successful set in source order. The set may
// be empty; that is not an error.
func (a *Aggregator) FundingRates(ctx context.Context, symbol string, sources []market.Source) []market.FundingRate {
	results := make([]*market.FundingRate, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src market.Source) {
			defer wg.Done()
			rate, err := src.FetchFundingRate(ctx, symbol)
			if err != nil {
				a.logger.Debug().Err(err).Str("source", src.Name()).Str("symbol", symbol).Msg("source skipped in funding aggregation")
				return
			}
			results[i] = &rate
		}(i, src)
	}
	wg.Wait()

	rates := make([]market.FundingRate, 0, len(sources))
	for _, r := range results {
		if r != nil {
			rates = append(rates, *r)
		}
	}
	return rates
}
