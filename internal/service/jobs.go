package service

import (
	"context"
	"fmt"

	"market-push-bot/internal/aggregate"
	"market-push-bot/internal/market"
	"market-push-bot/internal/storage"
)

// defaultSymbols back a subscription that never picked its own watch list.
var defaultSymbols = []string{"BTCUSDT", "ETHUSDT"}

func subscriptionSymbols(sub storage.Subscription) []string {
	if len(sub.Symbols) > 0 {
		return sub.Symbols
	}
	return defaultSymbols
}

// groupSymbols unions the watch lists of every active subscription belonging
// to the group, preserving first-seen order.
func (s *Service) groupSymbols(ctx context.Context, g pushGroup) ([]string, error) {
	subs, err := s.subs.GetActiveSubscriptions(ctx, g.category)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	symbols := make([]string, 0)
	for _, sub := range subs {
		if sub.Schedule != g.schedule {
			continue
		}
		for _, sym := range subscriptionSymbols(sub) {
			if _, dup := seen[sym]; dup {
				continue
			}
			seen[sym] = struct{}{}
			symbols = append(symbols, sym)
		}
	}
	return symbols, nil
}

func (s *Service) pushPrices(ctx context.Context, g pushGroup) error {
	symbols, err := s.groupSymbols(ctx, g)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		return nil
	}

	quotes := make(map[string]market.Quote, len(symbols))
	for _, sym := range symbols {
		quote, err := s.fetchPriceAny(ctx, sym)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", sym).Msg("price unavailable for push")
			continue
		}
		quotes[sym] = quote
	}
	if len(quotes) == 0 {
		return fmt.Errorf("prices push: every symbol fetch failed")
	}

	_, err = s.dispatcher.Broadcast(ctx, storage.CategoryPrices, func(sub storage.Subscription) string {
		if sub.Schedule != g.schedule {
			return ""
		}
		return renderPrices(subscriptionSymbols(sub), quotes)
	})
	return err
}

func (s *Service) pushTrending(ctx context.Context, g pushGroup) error {
	if s.trending == nil {
		return fmt.Errorf("trending push: no trending-capable source configured")
	}

	coins, err := s.trending.FetchTrending(ctx)
	if err != nil {
		return fmt.Errorf("trending push: %w", err)
	}
	text := renderTrending(coins)

	_, err = s.dispatcher.Broadcast(ctx, storage.CategoryTrending, func(sub storage.Subscription) string {
		if sub.Schedule != g.schedule {
			return ""
		}
		return text
	})
	return err
}

func (s *Service) pushComparison(ctx context.Context, g pushGroup) error {
	symbols, err := s.groupSymbols(ctx, g)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		return nil
	}

	comparisons := make(map[string]*aggregate.Comparison, len(symbols))
	for _, sym := range symbols {
		cmp, err := s.agg.Compare(ctx, sym, s.sources)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", sym).Msg("comparison unavailable for push")
			continue
		}
		comparisons[sym] = cmp
	}
	if len(comparisons) == 0 {
		return fmt.Errorf("comparison push: every symbol comparison failed")
	}

	_, err = s.dispatcher.Broadcast(ctx, storage.CategoryComparison, func(sub storage.Subscription) string {
		if sub.Schedule != g.schedule {
			return ""
		}
		return renderComparisons(sub, comparisons)
	})
	return err
}

func (s *Service) pushFundingRates(ctx context.Context, g pushGroup) error {
	symbols, err := s.groupSymbols(ctx, g)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		return nil
	}

	rates := make(map[string][]market.FundingRate, len(symbols))
	for _, sym := range symbols {
		set := s.agg.FundingRates(ctx, sym, s.sources)
		if len(set) == 0 {
			s.logger.Warn().Str("symbol", sym).Msg("no funding rates for push")
			continue
		}
		rates[sym] = set
	}
	if len(rates) == 0 {
		return fmt.Errorf("funding push: no source returned funding data")
	}

	_, err = s.dispatcher.Broadcast(ctx, storage.CategoryFundingRates, func(sub storage.Subscription) string {
		if sub.Schedule != g.schedule {
			return ""
		}
		return renderFundingRates(sub, rates)
	})
	return err
}
