package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// HistoryOptions controls the history listing.
type HistoryOptions struct {
	Limit int
}

// History prints recent push delivery records.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListRecentRecords(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no push records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tBatch\tChat\tCategory\tStatus\tError")

	for _, rec := range records {
		status := "ok"
		if !rec.Success {
			status = "failed"
		}
		errMsg := ""
		if rec.ErrorMessage != nil {
			errMsg = sanitizeInline(*rec.ErrorMessage)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.SentAt.UTC().Format(time.RFC3339),
			shortBatch(rec.BatchID),
			rec.ChatID,
			rec.Category,
			status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func shortBatch(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
