package cli

import (
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Display the job roster derived from active subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Jobs(cmd.Context())
	},
}
