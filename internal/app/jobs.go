package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"market-push-bot/internal/storage"
)

// Jobs prints the job roster a running instance would schedule: the fixed
// system jobs plus one push job per (category, schedule) pair found among
// active subscriptions.
func (a *App) Jobs(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Job\tSchedule\tSubscribers")

	fmt.Fprintf(writer, "alerts.evaluate\tevery %s\t-\n", a.Config.Push.AlertInterval)
	fmt.Fprintln(writer, "history.retention\t30 3 * * *\t-")
	fmt.Fprintln(writer, "subscriptions.sync\t@every 1m\t-")

	for _, category := range []storage.Category{
		storage.CategoryPrices, storage.CategoryTrending, storage.CategoryComparison, storage.CategoryFundingRates,
	} {
		subs, err := store.GetActiveSubscriptions(ctx, category)
		if err != nil {
			return err
		}

		counts := make(map[string]int)
		order := make([]string, 0)
		for _, sub := range subs {
			if sub.Schedule == "" {
				continue
			}
			if _, seen := counts[sub.Schedule]; !seen {
				order = append(order, sub.Schedule)
			}
			counts[sub.Schedule]++
		}
		for _, schedule := range order {
			fmt.Fprintf(writer, "push:%s:%s\t%s\t%d\n", category, schedule, schedule, counts[schedule])
		}
	}

	writer.Flush()
	return nil
}
