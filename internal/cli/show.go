package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fundingwatch/internal/app"
)

var (
	showLimit int
	showOwner string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent rate changes and price alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Owner: showOwner,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showOwner, "owner", "", "Only list alerts of this owner (default: all pending alerts)")
}
