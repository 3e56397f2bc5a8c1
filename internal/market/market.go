package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable indicates the provider could not answer after retries.
	ErrUnavailable = errors.New("market: source unavailable")
	// ErrUnsupported indicates the provider has no endpoint for the request.
	ErrUnsupported = errors.New("market: not supported by source")
	// ErrRateLimited indicates the provider answered with a 429-class status.
	// It unwraps to ErrUnavailable so callers can treat it as plain absence.
	ErrRateLimited = errRateLimited{}
)

type errRateLimited struct{}

func (errRateLimited) Error() string        { return "market: source rate limit hit" }
func (errRateLimited) Unwrap() error        { return ErrUnavailable }
func (errRateLimited) Is(target error) bool { return target == ErrUnavailable || target == ErrRateLimited }

// Quote is a single spot observation from one provider. Ephemeral: produced
// per fetch and consumed within the same evaluation cycle.
type Quote struct {
	Source     string
	Symbol     string
	Price      decimal.Decimal
	Volume24h  decimal.Decimal
	ObservedAt time.Time
}

// FundingRate is a perpetual-swap funding observation from one provider.
type FundingRate struct {
	Source        string
	Symbol        string
	Rate          decimal.Decimal
	NextFundingAt time.Time
}

// TrendingCoin is one entry of a provider's trending list.
type TrendingCoin struct {
	ID     string
	Symbol string
	Name   string
	Rank   int
}

// Source is the polymorphic capability every provider implements. Both fetch
// methods resolve failure to an error wrapping ErrUnavailable or
// ErrUnsupported; they never panic past this layer.
type Source interface {
	Name() string
	FetchPrice(ctx context.Context, symbol string) (Quote, error)
	FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error)
}

// TrendingSource is implemented by providers that expose a trending list.
type TrendingSource interface {
	FetchTrending(ctx context.Context) ([]TrendingCoin, error)
}
