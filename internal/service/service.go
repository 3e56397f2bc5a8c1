package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"market-push-bot/internal/aggregate"
	"market-push-bot/internal/config"
	"market-push-bot/internal/dispatch"
	"market-push-bot/internal/market"
	"market-push-bot/internal/scheduler"
	"market-push-bot/internal/storage"
)

const (
	jobAlertEvaluator   = "alerts.evaluate"
	jobHistoryRetention = "history.retention"
	jobSubscriptionSync = "subscriptions.sync"
)

// Broadcaster is the slice of the dispatcher the jobs need.
type Broadcaster interface {
	Broadcast(ctx context.Context, category storage.Category, render dispatch.Renderer) (dispatch.Result, error)
	SendDirect(ctx context.Context, userID, chatID int64, category storage.Category, text string) error
}

// pushGroup identifies one scheduled broadcast: all active subscriptions of a
// category that share a schedule fire together.
type pushGroup struct {
	category storage.Category
	schedule string
}

func (g pushGroup) jobID() string {
	return fmt.Sprintf("push:%s:%s", g.category, g.schedule)
}

// Service builds the job roster and orchestrates fetching, aggregation and
// fan-out.
type Service struct {
	cfg        *config.Config
	sched      *scheduler.Scheduler
	sources    []market.Source
	trending   market.TrendingSource
	agg        *aggregate.Aggregator
	dispatcher Broadcaster
	subs       storage.SubscriptionStore
	alerts     storage.AlertStore
	pushes     storage.PushStore
	logger     zerolog.Logger

	mu     sync.Mutex
	groups map[string]pushGroup
}

// New constructs the push service. trending may be nil when no provider
// offers a trending list.
func New(cfg *config.Config, sched *scheduler.Scheduler, sources []market.Source, trending market.TrendingSource,
	agg *aggregate.Aggregator, dispatcher Broadcaster,
	subs storage.SubscriptionStore, alerts storage.AlertStore, pushes storage.PushStore,
	logger zerolog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		sched:      sched,
		sources:    sources,
		trending:   trending,
		agg:        agg,
		dispatcher: dispatcher,
		subs:       subs,
		alerts:     alerts,
		pushes:     pushes,
		logger:     logger.With().Str("component", "service").Logger(),
		groups:     make(map[string]pushGroup),
	}
}

// Run registers the system jobs, performs an initial subscription sync, and
// drives the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}

	if err := s.registerSystemJobs(); err != nil {
		return err
	}
	if err := s.SyncSubscriptions(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial subscription sync failed")
	}

	return s.sched.Run(ctx)
}

func (s *Service) registerSystemJobs() error {
	if err := s.sched.Schedule(scheduler.Job{
		ID:      jobAlertEvaluator,
		Name:    "price alert evaluator",
		Every:   s.cfg.Push.AlertInterval,
		Handler: s.EvaluateAlerts,
	}); err != nil {
		return err
	}

	if err := s.sched.Schedule(scheduler.Job{
		ID:      jobHistoryRetention,
		Name:    "push history retention",
		Spec:    "30 3 * * *",
		Handler: s.CleanHistory,
	}); err != nil {
		return err
	}

	// Subscription changes land in the store from the bot side; the roster
	// is reconciled on a fixed cadence rather than via change notifications.
	return s.sched.Schedule(scheduler.Job{
		ID:      jobSubscriptionSync,
		Name:    "subscription roster sync",
		Spec:    "@every 1m",
		Handler: s.SyncSubscriptions,
	})
}

// SyncSubscriptions reconciles the scheduler's push jobs against the active
// subscriptions in the store: one job per (category, schedule) pair.
func (s *Service) SyncSubscriptions(ctx context.Context) error {
	desired := make(map[string]pushGroup)
	for _, category := range []storage.Category{
		storage.CategoryPrices, storage.CategoryTrending, storage.CategoryComparison, storage.CategoryFundingRates,
	} {
		subs, err := s.subs.GetActiveSubscriptions(ctx, category)
		if err != nil {
			return fmt.Errorf("load %s subscriptions: %w", category, err)
		}
		for _, sub := range subs {
			if sub.Schedule == "" {
				continue
			}
			g := pushGroup{category: category, schedule: sub.Schedule}
			desired[g.jobID()] = g
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, g := range desired {
		if _, exists := s.groups[id]; exists {
			continue
		}
		group := g
		err := s.sched.Schedule(scheduler.Job{
			ID:      id,
			Name:    fmt.Sprintf("%s push (%s)", group.category, group.schedule),
			Spec:    group.schedule,
			Handler: func(ctx context.Context) error { return s.runPushGroup(ctx, group) },
		})
		if err != nil {
			// Bad user-supplied schedule; skip it rather than failing the sync.
			s.logger.Warn().Err(err).Str("job", id).Msg("skipping subscription group with invalid schedule")
			continue
		}
		s.groups[id] = group
	}

	for id := range s.groups {
		if _, still := desired[id]; !still {
			s.sched.Unschedule(id)
			delete(s.groups, id)
		}
	}
	return nil
}

func (s *Service) runPushGroup(ctx context.Context, g pushGroup) error {
	switch g.category {
	case storage.CategoryPrices:
		return s.pushPrices(ctx, g)
	case storage.CategoryTrending:
		return s.pushTrending(ctx, g)
	case storage.CategoryComparison:
		return s.pushComparison(ctx, g)
	case storage.CategoryFundingRates:
		return s.pushFundingRates(ctx, g)
	default:
		return fmt.Errorf("unknown push category %q", g.category)
	}
}

// CleanHistory prunes push records past the retention window.
func (s *Service) CleanHistory(ctx context.Context) error {
	deleted, err := s.pushes.CleanOldRecords(ctx, s.cfg.Push.RetentionDays)
	if err != nil {
		return err
	}
	s.logger.Info().Int64("deleted", deleted).Int("retention_days", s.cfg.Push.RetentionDays).Msg("push history pruned")
	return nil
}

// fetchPriceAny asks the configured sources in order and returns the first
// successful quote.
func (s *Service) fetchPriceAny(ctx context.Context, symbol string) (market.Quote, error) {
	for _, src := range s.sources {
		quote, err := src.FetchPrice(ctx, symbol)
		if err != nil {
			continue
		}
		return quote, nil
	}
	return market.Quote{}, fmt.Errorf("%w: no source answered for %s", market.ErrUnavailable, symbol)
}
