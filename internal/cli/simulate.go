package cli

import (
	"github.com/spf13/cobra"

	"amm-quote-engine/internal/app"
)

var (
	simulateMid       float64
	simulateSecondary float64
	simulateAmountIn  float64
	simulateSide      string
	simulateStrict    bool
	simulateRebateBps float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-quote",
	Short: "模拟一次报价并打印费用与成交明细",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Mid:          simulateMid,
			SecondaryMid: simulateSecondary,
			AmountIn:     simulateAmountIn,
			Side:         simulateSide,
			Strict:       simulateStrict,
			RebateBps:    simulateRebateBps,
		}
		return getApp().SimulateQuote(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateMid, "mid", 0, "主预言机中间价")
	simulateCmd.Flags().Float64Var(&simulateSecondary, "secondary", 0, "次源中间价 (0 表示缺失)")
	simulateCmd.Flags().Float64Var(&simulateAmountIn, "amount-in", 0, "输入数量")
	simulateCmd.Flags().StringVar(&simulateSide, "side", "quote", "输入方向: base 或 quote")
	simulateCmd.Flags().BoolVar(&simulateStrict, "strict", false, "严格模式: 门控失败直接拒绝")
	simulateCmd.Flags().Float64Var(&simulateRebateBps, "rebate-bps", 0, "费用折扣 (bps)")
}
