package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-push-bot/internal/aggregate"
	"market-push-bot/internal/market"
	"market-push-bot/internal/storage"
)

func renderPrices(symbols []string, quotes map[string]market.Quote) string {
	builder := strings.Builder{}
	builder.WriteString("[Price Update]\n")

	lines := 0
	for _, sym := range symbols {
		quote, ok := quotes[sym]
		if !ok {
			continue
		}
		builder.WriteString(fmt.Sprintf("%s: %s (%s)\n", sym, quote.Price.StringFixed(2), quote.Source))
		lines++
	}
	if lines == 0 {
		return ""
	}
	return builder.String()
}

// renderComparisons narrows each comparison to the subscriber's source set
// and drops symbols whose spread stays under the subscriber's threshold.
func renderComparisons(sub storage.Subscription, comparisons map[string]*aggregate.Comparison) string {
	builder := strings.Builder{}
	builder.WriteString("[Exchange Comparison]\n")

	lines := 0
	for _, sym := range subscriptionSymbols(sub) {
		cmp, ok := comparisons[sym]
		if !ok {
			continue
		}
		view := narrowComparison(cmp, sub.Sources)
		if view == nil {
			continue
		}
		if sub.Threshold != nil && view.SpreadPct.LessThan(*sub.Threshold) {
			continue
		}

		builder.WriteString(fmt.Sprintf("%s: best %s (%s) / worst %s (%s), spread %s (%s%%)\n",
			sym,
			view.Best.Price.StringFixed(2), view.Best.Source,
			view.Worst.Price.StringFixed(2), view.Worst.Source,
			view.Spread.StringFixed(2), view.SpreadPct.StringFixed(2)))
		for _, quote := range view.Quotes {
			builder.WriteString(fmt.Sprintf("  %s: %s\n", quote.Source, quote.Price.StringFixed(2)))
		}
		lines++
	}
	if lines == 0 {
		return ""
	}
	return builder.String()
}

// narrowComparison restricts a comparison to the given sources, recomputing
// best/worst with the same first-encountered tie-break. Empty sources means
// no restriction; nil is returned when nothing survives the filter.
func narrowComparison(cmp *aggregate.Comparison, sources []string) *aggregate.Comparison {
	if len(sources) == 0 {
		return cmp
	}

	allowed := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		allowed[src] = struct{}{}
	}

	quotes := make([]market.Quote, 0, len(cmp.Quotes))
	for _, quote := range cmp.Quotes {
		if _, ok := allowed[quote.Source]; ok {
			quotes = append(quotes, quote)
		}
	}
	if len(quotes) == 0 {
		return nil
	}

	best, worst := quotes[0], quotes[0]
	for _, quote := range quotes[1:] {
		if quote.Price.LessThan(best.Price) {
			best = quote
		}
		if quote.Price.GreaterThan(worst.Price) {
			worst = quote
		}
	}
	spread := worst.Price.Sub(best.Price)
	spreadPct := decimal.Zero
	if !best.Price.IsZero() {
		spreadPct = spread.Div(best.Price).Mul(decimal.NewFromInt(100))
	}

	return &aggregate.Comparison{
		Symbol:     cmp.Symbol,
		Quotes:     quotes,
		Best:       best,
		Worst:      worst,
		Spread:     spread,
		SpreadPct:  spreadPct,
		ComputedAt: cmp.ComputedAt,
	}
}

func renderFundingRates(sub storage.Subscription, rates map[string][]market.FundingRate) string {
	allowed := make(map[string]struct{}, len(sub.Sources))
	for _, src := range sub.Sources {
		allowed[src] = struct{}{}
	}

	builder := strings.Builder{}
	builder.WriteString("[Funding Rates]\n")

	lines := 0
	for _, sym := range subscriptionSymbols(sub) {
		set, ok := rates[sym]
		if !ok {
			continue
		}
		wrote := false
		for _, rate := range set {
			if len(allowed) > 0 {
				if _, ok := allowed[rate.Source]; !ok {
					continue
				}
			}
			if !wrote {
				builder.WriteString(sym + ":\n")
				wrote = true
			}
			pct := rate.Rate.Mul(decimal.NewFromInt(100))
			if rate.NextFundingAt.IsZero() {
				builder.WriteString(fmt.Sprintf("  %s: %s%%\n", rate.Source, pct.StringFixed(4)))
			} else {
				builder.WriteString(fmt.Sprintf("  %s: %s%% (next %s)\n",
					rate.Source, pct.StringFixed(4), rate.NextFundingAt.UTC().Format("15:04 MST")))
			}
		}
		if wrote {
			lines++
		}
	}
	if lines == 0 {
		return ""
	}
	return builder.String()
}

func renderTrending(coins []market.TrendingCoin) string {
	if len(coins) == 0 {
		return ""
	}

	builder := strings.Builder{}
	builder.WriteString("[Trending Coins]\n")
	for i, coin := range coins {
		if coin.Rank > 0 {
			builder.WriteString(fmt.Sprintf("%d. %s (%s), market cap rank %d\n", i+1, coin.Symbol, coin.Name, coin.Rank))
		} else {
			builder.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, coin.Symbol, coin.Name))
		}
	}
	return builder.String()
}

func renderAlert(alert storage.PriceAlert, current decimal.Decimal) string {
	builder := strings.Builder{}
	builder.WriteString("[Price Alert]\n")
	builder.WriteString(fmt.Sprintf("%s is %s your target of %s\n", alert.Symbol, alert.Condition, alert.TargetPrice.String()))
	builder.WriteString(fmt.Sprintf("Current price: %s\n", current.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Set at: %s UTC\n", alert.CreatedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}
