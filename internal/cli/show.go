package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"floor-price-bot/internal/app"
)

var (
	showCollection string
	showLimit      int
	showAlerts     bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent floor samples or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if !showAlerts && showCollection == "" {
			return fmt.Errorf("--collection is required unless --alerts is set")
		}

		opts := app.ShowOptions{
			Collection: showCollection,
			Limit:      showLimit,
			Alerts:     showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showCollection, "collection", "", "Collection slug to display samples for")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show recent alerts instead of samples")
}
