package cli

import (
	"github.com/spf13/cobra"
)

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Retarget inventory at the current oracle mid",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rebalance(cmd.Context())
	},
}
