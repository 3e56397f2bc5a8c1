package service

import (
	"context"
	"time"

	"market-push-bot/internal/storage"

	"github.com/shopspring/decimal"
)

// EvaluateAlerts checks every active, unfired price alert against the
// current market. Alerts are grouped by symbol so one fetch serves all
// alerts on that symbol; a failed fetch skips only its own group. The
// triggered flag flips before the notification goes out, so a delivery
// failure never causes a second fire.
func (s *Service) EvaluateAlerts(ctx context.Context) error {
	alerts, err := s.alerts.GetActiveAlerts(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}

	groups := groupAlertsBySymbol(alerts)

	for i, group := range groups {
		if i > 0 && s.cfg.Push.GroupDelay > 0 {
			timer := time.NewTimer(s.cfg.Push.GroupDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		quote, err := s.fetchPriceAny(ctx, group.symbol)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", group.symbol).Msg("alert evaluation skipped, price unavailable")
			continue
		}

		for _, alert := range group.alerts {
			if !alertMatches(alert, quote.Price) {
				continue
			}

			fired, err := s.alerts.TriggerAlert(ctx, alert.ID)
			if err != nil {
				s.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to mark alert triggered")
				continue
			}
			if !fired {
				// Lost the race against a concurrent evaluation; the winner
				// already notified.
				continue
			}

			text := renderAlert(alert, quote.Price)
			if err := s.dispatcher.SendDirect(ctx, alert.UserID, alert.ChatID, storage.CategoryAlerts, text); err != nil {
				s.logger.Warn().Err(err).Int64("alert_id", alert.ID).Int64("chat_id", alert.ChatID).Msg("alert notification failed")
			}
		}
	}
	return nil
}

type alertGroup struct {
	symbol string
	alerts []storage.PriceAlert
}

// groupAlertsBySymbol buckets alerts per symbol, keeping first-seen symbol
// order stable.
func groupAlertsBySymbol(alerts []storage.PriceAlert) []alertGroup {
	index := make(map[string]int)
	groups := make([]alertGroup, 0)
	for _, alert := range alerts {
		i, ok := index[alert.Symbol]
		if !ok {
			i = len(groups)
			index[alert.Symbol] = i
			groups = append(groups, alertGroup{symbol: alert.Symbol})
		}
		groups[i].alerts = append(groups[i].alerts, alert)
	}
	return groups
}

func alertMatches(alert storage.PriceAlert, current decimal.Decimal) bool {
	switch alert.Condition {
	case "above":
		return current.GreaterThanOrEqual(alert.TargetPrice)
	case "below":
		return current.LessThanOrEqual(alert.TargetPrice)
	default:
		return false
	}
}
