package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Discord bot",
	Long: `Connects to the Discord gateway and answers floor price commands.
Also serves the /health liveness endpoint and, when a watchlist and
database are configured, samples watched collections on a schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}
