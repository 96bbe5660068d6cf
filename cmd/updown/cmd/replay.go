package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/updown/config"
	"github.com/rustyeddy/updown/engine"
	"github.com/rustyeddy/updown/internal/logging"
	"github.com/rustyeddy/updown/ledger"
	"github.com/rustyeddy/updown/policy"
	"github.com/rustyeddy/updown/replay"
	"github.com/rustyeddy/updown/report"
	"github.com/rustyeddy/updown/window"
)

var replayCmd = &cobra.Command{
	Use:   "replay <quotes.csv>",
	Short: "Replay recorded quotes through the trading rules",
	Long: `Run a quote file through a fresh paper account and print the result.

The file holds time,market,bid,ask[,event] rows, as written by
"updown run --record". Trading parameters and the journal come from the
config file, or the defaults.

Example:
  updown replay quotes.csv -f updown.yaml --history 20`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayConfigPath string
	replayHistory    int
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayConfigPath, "config", "f", "", "path to config file (YAML or JSON)")
	replayCmd.Flags().IntVar(&replayHistory, "history", report.DefaultHistory, "number of trades to list")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(replayConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	j, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	eng := engine.New(
		ledger.New(cfg.LedgerConfig()),
		window.NewTracker(),
		policy.New(cfg.PolicyConfig()),
		engine.Options{Journal: j, Logger: logging.New(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)},
	)

	st, err := replay.CSV(cmd.Context(), args[0], eng)
	if err != nil {
		return fmt.Errorf("replay %s: %w", args[0], err)
	}

	r := report.New(eng)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replayed %d rows: %d quotes, %d rollovers, %d settled at resolution\n\n",
		st.Rows, st.Quotes, st.Rollovers, st.Settled)
	fmt.Fprintln(out, report.FormatStatus(r.Status()))
	fmt.Fprintln(out)
	fmt.Fprint(out, report.FormatHistory(r.History(replayHistory)))
	fmt.Fprintln(out)
	return nil
}
