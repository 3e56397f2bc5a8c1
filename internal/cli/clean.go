package cli

import (
	"github.com/spf13/cobra"

	"market-push-bot/internal/app"
)

var (
	cleanDays int
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Prune push records past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CleanOptions{
			Days: cleanDays,
		}

		return getApp().Clean(cmd.Context(), opts)
	},
}

func init() {
	cleanCmd.Flags().IntVar(&cleanDays, "days", 0, "Retention window in days (defaults to push.retention_days)")
}
