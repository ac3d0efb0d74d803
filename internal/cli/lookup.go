package cli

import (
	"github.com/spf13/cobra"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <collection-slug>",
	Short: "Fetch one collection's floor and print the bot's reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Lookup(cmd.Context(), args[0])
	},
}
