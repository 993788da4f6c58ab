package cli

import (
	"github.com/spf13/cobra"

	"fundingwatch/internal/app"
)

var (
	alertOwner     string
	alertSymbol    string
	alertTarget    string
	alertDirection string
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage price alerts",
}

var alertAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a price alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AlertOptions{
			Owner:     alertOwner,
			Symbol:    alertSymbol,
			Target:    alertTarget,
			Direction: alertDirection,
		}
		return getApp().AddAlert(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's most recent price alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context(), alertOwner, cmd.OutOrStdout())
	},
}

func init() {
	alertCmd.PersistentFlags().StringVar(&alertOwner, "owner", "", "Owner id (usually the Telegram chat id)")

	alertAddCmd.Flags().StringVar(&alertSymbol, "symbol", "", "Symbol, e.g. BTCUSDT")
	alertAddCmd.Flags().StringVar(&alertTarget, "price", "", "Target price")
	alertAddCmd.Flags().StringVar(&alertDirection, "direction", "above", "above or below")

	alertCmd.AddCommand(alertAddCmd)
	alertCmd.AddCommand(alertListCmd)
}
