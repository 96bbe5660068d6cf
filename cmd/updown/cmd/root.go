package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "updown",
	Short: "Paper trading for 5-minute up/down prediction markets",
	Long: `Updown paper-trades the 5-minute up/down markets on Polymarket.

It follows the order book of the market trading in the current window,
opens simulated positions close to resolution when a quote sits at the
target price, and closes them on stop-loss, take-profit or resolution.

It provides:
  - A long-running bot with a Telegram command interface
  - Configuration file generation and validation
  - Queries over the SQLite trade journal`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
