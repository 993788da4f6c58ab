package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"fundingwatch/internal/app"
)

var (
	simulateSymbol   string
	simulatePrevious string
	simulateCurrent  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次资金费率变化并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrevious == "" || simulateCurrent == "" {
			return errors.New("--previous 与 --current 必须提供")
		}

		previous, err := decimal.NewFromString(simulatePrevious)
		if err != nil {
			return errors.New("--previous 不是合法的数字")
		}
		current, err := decimal.NewFromString(simulateCurrent)
		if err != nil {
			return errors.New("--current 不是合法的数字")
		}

		opts := app.SimulateOptions{
			Symbol:   simulateSymbol,
			Previous: previous,
			Current:  current,
		}
		return getApp().Simulate(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTCUSDT", "模拟的合约代码")
	simulateCmd.Flags().StringVar(&simulatePrevious, "previous", "", "上一次的资金费率 (小数, 如 0.0001)")
	simulateCmd.Flags().StringVar(&simulateCurrent, "current", "", "当前资金费率 (小数, 如 0.0010)")
}
