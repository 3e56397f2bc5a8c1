package app

import (
	"context"
	"fmt"
	"os"
)

// CleanOptions controls a manual retention run.
type CleanOptions struct {
	// Days overrides push.retention_days when positive.
	Days int
}

// Clean prunes push records older than the retention window.
func (a *App) Clean(ctx context.Context, opts CleanOptions) error {
	days := opts.Days
	if days <= 0 {
		days = a.Config.Push.RetentionDays
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	deleted, err := store.CleanOldRecords(ctx, days)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "deleted %d push records older than %d days\n", deleted, days)
	return nil
}
