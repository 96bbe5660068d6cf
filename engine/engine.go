// Package engine runs the paper-trading pipeline: each quote is checked
// against the open positions for exits and then against the policy for
// entries, and each market rollover settles what the previous window left
// open.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/updown/internal/metrics"
	"github.com/rustyeddy/updown/journal"
	"github.com/rustyeddy/updown/ledger"
	"github.com/rustyeddy/updown/market"
	"github.com/rustyeddy/updown/policy"
	"github.com/rustyeddy/updown/window"
)

type Options struct {
	Journal journal.Journal
	Logger  zerolog.Logger
	Metrics *metrics.Metrics // optional

	// Strict panics on ErrPositionNotFound instead of logging it.
	Strict bool
}

type Engine struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	tracker *window.Tracker
	policy  *policy.Policy
	journal journal.Journal
	metrics *metrics.Metrics
	log     zerolog.Logger
	strict  bool
}

func New(l *ledger.Ledger, t *window.Tracker, p *policy.Policy, opts Options) *Engine {
	j := opts.Journal
	if j == nil {
		j = journal.Nop()
	}
	return &Engine{
		ledger:  l,
		tracker: t,
		policy:  p,
		journal: j,
		metrics: opts.Metrics,
		log:     opts.Logger,
		strict:  opts.Strict,
	}
}

func (e *Engine) Ledger() *ledger.Ledger   { return e.ledger }
func (e *Engine) Tracker() *window.Tracker { return e.tracker }

// MarketID is the market currently tracked.
func (e *Engine) MarketID() string { return e.tracker.MarketID() }

// Reset hard-resets the ledger. It waits for any in-flight tick so a reset
// never lands between a tick's reads and writes.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.Reset()
	e.updateAccount()
	e.log.Warn().Float64("balance", e.ledger.Balance()).Msg("ledger reset")
}

func (e *Engine) Summary() ledger.Summary { return e.ledger.Summary() }

func (e *Engine) Recent(n int) []ledger.TradeRecord { return e.ledger.Recent(n) }

// OnRollover switches the tracked market. Positions opened on an earlier
// market are settled as resolved at their last observed price.
func (e *Engine) OnRollover(marketID string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.tracker.MarketID()
	if !e.tracker.Rollover(marketID, now) {
		return false
	}

	e.log.Info().
		Str("market", marketID).
		Str("previous", prev).
		Time("deadline", e.tracker.Deadline()).
		Msg("market rollover")
	e.metrics.RecordRollover()

	for _, p := range e.ledger.Positions() {
		if p.MarketID == marketID {
			continue
		}
		e.closeLocked(p, p.LastPrice, ledger.ReasonResolved, now)
	}
	e.updateAccount()
	return true
}

// OnQuote evaluates exits for every open position, then entries.
func (e *Engine) OnQuote(q market.Quote, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if q.MarketID == "" {
		q.MarketID = e.tracker.MarketID()
	}
	if q.Time.IsZero() {
		q.Time = now
	}
	secs := e.tracker.SecondsRemaining(now)
	e.metrics.RecordQuote()
	e.log.Debug().
		Str("market", q.MarketID).
		Float64("mid", q.Mid()).
		Float64("spread", q.Spread()).
		Float64("secs_left", secs).
		Msg("quote")
	defer e.updateAccount()

	for _, p := range e.ledger.Positions() {
		d := e.policy.Exit(p, q, secs)
		if d.Marked && !d.Close {
			if err := e.ledger.Mark(p.ID, d.Observed); err != nil {
				e.positionErr(err, p)
			}
		}
		if d.Close {
			e.closeLocked(p, d.Price, d.Reason, now)
		}
	}

	if q.MarketID != e.tracker.MarketID() {
		return
	}
	for _, req := range e.policy.Entries(q, secs, e.ledger.OpenCount()) {
		p, err := e.ledger.Open(req)
		if err != nil {
			if errors.Is(err, ledger.ErrEntryRejected) {
				e.metrics.RecordRejected()
				e.log.Debug().Err(err).Str("side", string(req.Side)).Float64("price", req.Price).Msg("entry skipped")
				continue
			}
			e.log.Error().Err(err).Str("side", string(req.Side)).Float64("price", req.Price).Msg("entry failed")
			continue
		}
		e.log.Info().
			Str("id", p.ID).
			Str("market", p.MarketID).
			Str("side", string(p.Side)).
			Float64("price", p.EntryPrice).
			Float64("shares", p.Shares).
			Float64("secs_left", secs).
			Msg("position opened")
		e.metrics.RecordOpen(string(p.Side))
	}
}

// Settle force-closes every open position once the window has run out. It
// returns the number of positions closed.
func (e *Engine) Settle(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	secs := e.tracker.SecondsRemaining(now)
	n := 0
	for _, p := range e.ledger.Positions() {
		d := e.policy.Resolve(p, secs)
		if !d.Close {
			continue
		}
		if e.closeLocked(p, d.Price, d.Reason, now) {
			n++
		}
	}
	if n > 0 {
		e.updateAccount()
	}
	return n
}

// RunSettler calls Settle every interval until ctx is done.
func (e *Engine) RunSettler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			e.Settle(now)
		}
	}
}

func (e *Engine) closeLocked(p ledger.Position, price float64, reason ledger.Reason, now time.Time) bool {
	rec, err := e.ledger.Close(p.ID, price, reason, now)
	if err != nil {
		e.positionErr(err, p)
		return false
	}

	e.log.Info().
		Str("id", rec.ID).
		Str("market", rec.MarketID).
		Str("side", string(rec.Side)).
		Float64("entry", rec.EntryPrice).
		Float64("exit", rec.ExitPrice).
		Float64("pnl", rec.RealizedPL).
		Str("reason", string(rec.Reason)).
		Msg("position closed")
	e.metrics.RecordClose(string(rec.Reason))

	e.record(rec)
	return true
}

func (e *Engine) record(rec ledger.TradeRecord) {
	if err := e.journal.RecordTrade(journal.TradeRecord{
		TradeID:    rec.ID,
		MarketID:   rec.MarketID,
		Side:       string(rec.Side),
		Size:       rec.Size,
		Shares:     rec.Shares,
		EntryPrice: rec.EntryPrice,
		ExitPrice:  rec.ExitPrice,
		OpenTime:   rec.EntryTime,
		CloseTime:  rec.ExitTime,
		RealizedPL: rec.RealizedPL,
		Reason:     string(rec.Reason),
	}); err != nil {
		e.log.Error().Err(err).Str("id", rec.ID).Msg("journal trade")
	}

	var committed float64
	open := e.ledger.Positions()
	for _, p := range open {
		committed += p.Size
	}
	if err := e.journal.RecordEquity(journal.EquitySnapshot{
		Time:      rec.ExitTime,
		Balance:   e.ledger.Balance(),
		OpenCount: len(open),
		Committed: committed,
	}); err != nil {
		e.log.Error().Err(err).Msg("journal equity")
	}
}

func (e *Engine) updateAccount() {
	if e.metrics == nil {
		return
	}
	s := e.ledger.Summary()
	e.metrics.UpdateAccount(s.Balance, s.TotalPnL, s.Unrealized, s.OpenCount)
}

func (e *Engine) positionErr(err error, p ledger.Position) {
	if errors.Is(err, ledger.ErrPositionNotFound) && e.strict {
		panic(err)
	}
	e.log.Error().Err(err).Str("id", p.ID).Msg("position update")
}
