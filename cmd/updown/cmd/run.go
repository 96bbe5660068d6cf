package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/updown/config"
	"github.com/rustyeddy/updown/engine"
	"github.com/rustyeddy/updown/feed"
	"github.com/rustyeddy/updown/feed/polymarket"
	"github.com/rustyeddy/updown/internal/health"
	"github.com/rustyeddy/updown/internal/logging"
	"github.com/rustyeddy/updown/internal/metrics"
	"github.com/rustyeddy/updown/internal/telegram"
	"github.com/rustyeddy/updown/ledger"
	"github.com/rustyeddy/updown/policy"
	"github.com/rustyeddy/updown/replay"
	"github.com/rustyeddy/updown/report"
	"github.com/rustyeddy/updown/window"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the paper-trading bot",
	Long: `Run the bot until interrupted.

The feed session, the resolution sweep, the Telegram command interface and
the health endpoint run side by side and stop together on SIGINT or SIGTERM.
Prometheus metrics are served on /metrics next to /healthz.
Without a config file the defaults are used. TELEGRAM_TOKEN, ALLOWED_USERS,
PORT and LOG_LEVEL override the file.

With --record every rollover and quote is also written to a CSV file that
"updown replay" can run offline.

Example:
  updown run -f updown.yaml --record quotes.csv`,
	RunE: runRun,
}

var (
	runConfigPath string
	runRecordPath string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON)")
	runCmd.Flags().StringVar(&runRecordPath, "record", "", "write every quote to this CSV file")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)

	j, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	m := metrics.New(metrics.DefaultNamespace)

	eng := engine.New(
		ledger.New(cfg.LedgerConfig()),
		window.NewTracker(),
		policy.New(cfg.PolicyConfig()),
		engine.Options{Journal: j, Logger: log.With().Str("component", "engine").Logger(), Metrics: m},
	)

	var handler feed.Handler = eng
	if runRecordPath != "" {
		rec, err := replay.NewRecorder(runRecordPath, eng)
		if err != nil {
			return fmt.Errorf("create recorder: %w", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Error().Err(err).Str("path", runRecordPath).Msg("quote recording")
			}
		}()
		handler = rec
	}

	feedLog := log.With().Str("component", "feed").Logger()
	session, err := feed.NewSession(feed.Options{
		Dialer: &polymarket.Dialer{
			URL:          cfg.Feed.URL,
			Logger:       feedLog,
			ReadTimeout:  time.Minute,
			PingInterval: 10 * time.Second,
		},
		Discovery:         polymarket.NewDiscovery(cfg.Feed.DiscoveryURL, cfg.Feed.SlugPrefix, cfg.Feed.DiscoveryRatePerMinute),
		Handler:           handler,
		Logger:            feedLog,
		Metrics:           m,
		Backoff:           cfg.Feed.ReconnectBackoff(),
		DiscoveryInterval: cfg.Feed.DiscoveryInterval(),
	})
	if err != nil {
		return err
	}

	bot := telegram.New(cfg.Telegram.Token, cfg.Telegram.AllowedUsers, report.New(eng),
		log.With().Str("component", "telegram").Logger())
	bot.Backoff = cfg.Feed.ReconnectBackoff()

	hs := &health.Server{
		Addr:      cfg.Health.Addr,
		FeedState: func() string { return session.State().String() },
		Metrics:   m.Handler(),
		Logger:    log.With().Str("component", "health").Logger(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Float64("balance", cfg.Account.InitialBalance).
		Float64("entry", cfg.Trading.EntryPrice).
		Dur("entry_window", cfg.Trading.EntryWindow()).
		Str("journal", cfg.Journal.Type).
		Msg("starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error { return eng.RunSettler(ctx, time.Second) })
	g.Go(func() error {
		// a dead command interface must not stop trading
		if err := bot.Run(ctx); err != nil {
			log.Error().Err(err).Msg("telegram bot stopped")
		}
		return nil
	})
	g.Go(func() error { return hs.Run(ctx) })

	err = g.Wait()

	s := eng.Summary()
	log.Info().
		Float64("balance", s.Balance).
		Float64("pnl", s.TotalPnL).
		Float64("unrealized", s.Unrealized).
		Int("open", s.OpenCount).
		Int("trades", s.TradeCount).
		Msg("stopped")
	return err
}
