package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulatePrevious float64
	simulateLatest   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次净流动性变动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrevious <= 0 || simulateLatest <= 0 {
			return errors.New("--previous 与 --latest 必须大于 0")
		}

		previous := decimal.NewFromFloat(simulatePrevious)
		latest := decimal.NewFromFloat(simulateLatest)
		return getApp().SimulateAlert(cmd.Context(), previous, latest)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "上一期净流动性 (十亿美元)")
	simulateCmd.Flags().Float64Var(&simulateLatest, "latest", 0, "最新一期净流动性 (十亿美元)")
}
