package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/updown/internal/metrics"
	"github.com/rustyeddy/updown/journal"
	"github.com/rustyeddy/updown/ledger"
	"github.com/rustyeddy/updown/market"
	"github.com/rustyeddy/updown/policy"
	"github.com/rustyeddy/updown/window"
)

type testJournal struct {
	mu     sync.Mutex
	trades []journal.TradeRecord
	equity []journal.EquitySnapshot
	err    error
}

func (j *testJournal) RecordTrade(rec journal.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, rec)
	return j.err
}

func (j *testJournal) RecordEquity(rec journal.EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.equity = append(j.equity, rec)
	return j.err
}

func (j *testJournal) Close() error { return nil }

// t0 leaves 30 seconds in the 12:05-12:10 window.
var t0 = time.Date(2024, 5, 1, 12, 9, 30, 0, time.UTC)

func newEngine(t *testing.T, maxPositions int) (*Engine, *testJournal) {
	t.Helper()

	l := ledger.New(ledger.Config{InitialBalance: 100, MaxPositions: maxPositions})
	p := policy.New(policy.Config{
		PositionSize: 5,
		TargetPrice:  0.85,
		Tolerance:    0.002,
		StopLoss:     0.75,
		TakeProfit:   0.95,
		EntryWindow:  60 * time.Second,
		MaxPositions: maxPositions,
	})
	j := &testJournal{}
	e := New(l, window.NewTracker(), p, Options{Journal: j, Logger: zerolog.Nop(), Strict: true})
	require.True(t, e.OnRollover("m1", t0))
	return e, j
}

func q(bid, ask float64) market.Quote {
	return market.Quote{MarketID: "m1", Bid: bid, Ask: ask}
}

func assertConserved(t *testing.T, l *ledger.Ledger) {
	t.Helper()

	want := l.Config().InitialBalance
	for _, p := range l.Positions() {
		want -= p.Size
	}
	for _, tr := range l.Trades() {
		want += tr.RealizedPL
	}
	assert.InDelta(t, want, l.Balance(), 1e-9)
}

func TestEntryScenario(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	e.OnQuote(q(0.80, 0.851), t0)

	ps := e.Ledger().Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, market.Yes, ps[0].Side)
	assert.Equal(t, "m1", ps[0].MarketID)
	assert.InDelta(t, 5.876, ps[0].Shares, 1e-3)
	assert.InDelta(t, 95.0, e.Ledger().Balance(), 1e-9)
}

func TestNoEntryOutsideWindow(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	e.OnQuote(q(0.849, 0.851), t0.Add(-2*time.Minute))

	assert.Equal(t, 0, e.Ledger().OpenCount())
	assert.Equal(t, 100.0, e.Ledger().Balance())
}

func TestTakeProfitScenario(t *testing.T) {
	t.Parallel()

	e, j := newEngine(t, 2)
	e.OnQuote(q(0.80, 0.851), t0)
	e.OnQuote(q(0.94, 0.96), t0.Add(5*time.Second))

	trades := e.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.ReasonTakeProfit, trades[0].Reason)
	assert.InDelta(t, 0.640, trades[0].RealizedPL, 1e-3)
	assert.InDelta(t, 100.640, e.Ledger().Balance(), 1e-3)
	assert.Equal(t, 0, e.Ledger().OpenCount())

	require.Len(t, j.trades, 1)
	assert.Equal(t, "take-profit", j.trades[0].Reason)
	assert.Equal(t, trades[0].ID, j.trades[0].TradeID)
	require.Len(t, j.equity, 1)
	assert.InDelta(t, 100.640, j.equity[0].Balance, 1e-3)
	assert.Equal(t, 0, j.equity[0].OpenCount)
}

func TestMetricsFollowTrades(t *testing.T) {
	t.Parallel()

	m := metrics.New("")
	l := ledger.New(ledger.Config{InitialBalance: 100, MaxPositions: 2})
	p := policy.New(policy.Config{
		PositionSize: 5,
		TargetPrice:  0.85,
		Tolerance:    0.002,
		StopLoss:     0.75,
		TakeProfit:   0.95,
		EntryWindow:  60 * time.Second,
		MaxPositions: 2,
	})
	e := New(l, window.NewTracker(), p, Options{Logger: zerolog.Nop(), Metrics: m})
	require.True(t, e.OnRollover("m1", t0))

	e.OnQuote(q(0.80, 0.851), t0)
	e.OnQuote(q(0.94, 0.96), t0.Add(5*time.Second))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	body := string(b)

	assert.Contains(t, body, "updown_engine_quotes_processed_total 2")
	assert.Contains(t, body, "updown_engine_rollovers_total 1")
	assert.Contains(t, body, `updown_engine_positions_opened_total{side="YES"} 1`)
	assert.Contains(t, body, `updown_engine_positions_closed_total{reason="take-profit"} 1`)
	assert.Contains(t, body, "updown_account_open_positions 0")
	assert.Contains(t, body, "updown_account_unrealized_pnl 0")
	assert.Contains(t, body, "updown_account_balance 100.6")
}

func TestMarkThenForcedResolution(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	e.OnQuote(q(0.80, 0.851), t0)
	e.OnQuote(q(0.86, 0.88), t0.Add(10*time.Second))

	ps := e.Ledger().Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, 0.88, ps[0].LastPrice)

	assert.Equal(t, 0, e.Settle(t0.Add(20*time.Second)))
	assert.Equal(t, 1, e.Settle(t0.Add(31*time.Second)))

	trades := e.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.ReasonResolved, trades[0].Reason)
	assert.Equal(t, 0.88, trades[0].ExitPrice)
	assertConserved(t, e.Ledger())
}

func TestQuoteAtDeadlineResolves(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	e.OnQuote(q(0.80, 0.851), t0)

	// the open YES resolves at the quote's price; the bid still qualifies a NO
	deadline := e.Tracker().Deadline()
	e.OnQuote(q(0.849, 0.87), deadline)

	trades := e.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.ReasonResolved, trades[0].Reason)
	assert.Equal(t, 0.87, trades[0].ExitPrice)

	ps := e.Ledger().Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, market.No, ps[0].Side)
	assert.Equal(t, 0.849, ps[0].EntryPrice)

	assert.Equal(t, 1, e.Settle(deadline))
	trades = e.Ledger().Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, ledger.ReasonResolved, trades[1].Reason)
	assert.Zero(t, trades[1].RealizedPL)
	assertConserved(t, e.Ledger())
}

func TestEntryAtDeadlineIsResolvedFlat(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	deadline := e.Tracker().Deadline()
	require.Equal(t, t0.Add(30*time.Second), deadline)

	e.OnQuote(q(0.50, 0.851), deadline)

	ps := e.Ledger().Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, market.Yes, ps[0].Side)
	assert.InDelta(t, 95.0, e.Ledger().Balance(), 1e-9)

	assert.Equal(t, 1, e.Settle(deadline))
	trades := e.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.ReasonResolved, trades[0].Reason)
	assert.Equal(t, 0.851, trades[0].ExitPrice)
	assert.InDelta(t, 100.0, e.Ledger().Balance(), 1e-9)
}

func TestNoEntryNearTargetStopsOutNextTick(t *testing.T) {
	t.Parallel()

	// A NO bought at 0.849 is already past its 1-0.75 stop.
	e, _ := newEngine(t, 1)
	e.OnQuote(q(0.849, 0.90), t0)

	ps := e.Ledger().Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, market.No, ps[0].Side)
	first := ps[0].ID

	e.OnQuote(q(0.849, 0.90), t0.Add(time.Second))

	trades := e.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, first, trades[0].ID)
	assert.Equal(t, ledger.ReasonStopLoss, trades[0].Reason)
	assert.Equal(t, 0.849, trades[0].ExitPrice)
	assert.Zero(t, trades[0].RealizedPL)

	// the same tick re-enters after the exit freed the slot
	ps = e.Ledger().Positions()
	require.Len(t, ps, 1)
	assert.NotEqual(t, first, ps[0].ID)
	assert.InDelta(t, 95.0, e.Ledger().Balance(), 1e-9)
	assertConserved(t, e.Ledger())
}

func TestRolloverSettlesPreviousMarket(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	e.OnQuote(q(0.80, 0.851), t0)
	require.Equal(t, 1, e.Ledger().OpenCount())

	t1 := t0.Add(35 * time.Second)
	require.True(t, e.OnRollover("m2", t1))
	assert.False(t, e.OnRollover("m2", t1))

	assert.Equal(t, "m2", e.Tracker().MarketID())
	secs := e.Tracker().SecondsRemaining(t1)
	assert.Greater(t, secs, 0.0)
	assert.LessOrEqual(t, secs, 300.0)

	assert.Equal(t, 0, e.Ledger().OpenCount())
	trades := e.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "m1", trades[0].MarketID)
	assert.Equal(t, ledger.ReasonResolved, trades[0].Reason)
	assert.Equal(t, 0.851, trades[0].ExitPrice)
	assert.InDelta(t, 100.0, e.Ledger().Balance(), 1e-9)
}

func TestRejectionAtCap(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	e.OnQuote(q(0.50, 0.851), t0)
	e.OnQuote(q(0.50, 0.851), t0.Add(time.Second))
	require.Equal(t, 2, e.Ledger().OpenCount())
	before := e.Ledger().Balance()

	e.OnQuote(q(0.50, 0.851), t0.Add(2*time.Second))

	assert.Equal(t, 2, e.Ledger().OpenCount())
	assert.Equal(t, before, e.Ledger().Balance())
	assert.Empty(t, e.Ledger().Trades())
}

func TestCapHitMidQuote(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 1)
	e.OnQuote(q(0.849, 0.851), t0)

	ps := e.Ledger().Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, market.Yes, ps[0].Side)
	assert.InDelta(t, 95.0, e.Ledger().Balance(), 1e-9)
}

func TestExitsRunBeforeEntries(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 1)

	// NO at 0.849, ask too far for a YES entry
	e.OnQuote(q(0.849, 0.99), t0)
	ps := e.Ledger().Positions()
	require.Len(t, ps, 1)
	require.Equal(t, market.No, ps[0].Side)

	// the NO position stops out (bid >= 1-0.75) and frees the only slot,
	// which the same tick's YES entry then takes
	e.OnQuote(q(0.849, 0.851), t0.Add(time.Second))

	trades := e.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.ReasonStopLoss, trades[0].Reason)

	ps = e.Ledger().Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, market.Yes, ps[0].Side)
	assertConserved(t, e.Ledger())
}

func TestQuoteWithoutMarketUsesTracked(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	e.OnQuote(market.Quote{Bid: 0.5, Ask: 0.851}, t0)

	ps := e.Ledger().Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, "m1", ps[0].MarketID)
	assert.True(t, ps[0].EntryTime.Equal(t0))
}

func TestStaleMarketQuoteOpensNothing(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	e.OnQuote(market.Quote{MarketID: "old", Bid: 0.849, Ask: 0.851}, t0)
	assert.Equal(t, 0, e.Ledger().OpenCount())
}

func TestJournalErrorsDoNotTouchLedger(t *testing.T) {
	t.Parallel()

	e, j := newEngine(t, 2)
	j.err = errors.New("disk full")

	e.OnQuote(q(0.80, 0.851), t0)
	e.OnQuote(q(0.94, 0.96), t0.Add(time.Second))

	assert.Len(t, e.Ledger().Trades(), 1)
	assert.InDelta(t, 100.640, e.Ledger().Balance(), 1e-3)
}

func TestResetDropsEverything(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	e.OnQuote(q(0.80, 0.851), t0)
	e.Reset()
	e.Reset()

	s := e.Summary()
	assert.Equal(t, 100.0, s.Balance)
	assert.Equal(t, 0, s.OpenCount)
	assert.Equal(t, 0, s.TradeCount)
	assert.Empty(t, e.Recent(5))

	// settling after a reset finds nothing to close
	assert.Equal(t, 0, e.Settle(t0.Add(time.Minute)))
}

func TestStrictPanicsOnMissingPosition(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	err := fmt.Errorf("close %q: %w", "x", ledger.ErrPositionNotFound)
	assert.Panics(t, func() { e.positionErr(err, ledger.Position{ID: "x"}) })

	e.strict = false
	assert.NotPanics(t, func() { e.positionErr(err, ledger.Position{ID: "x"}) })
}

func TestConcurrentQuotesAndCommands(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		asks := []float64{0.851, 0.96, 0.74, 0.85, 0.88}
		for i := 0; i < 200; i++ {
			e.OnQuote(q(0.5, asks[i%len(asks)]), t0.Add(time.Duration(i)*100*time.Millisecond))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = e.Summary()
			_ = e.Recent(5)
			if i%10 == 0 {
				e.Reset()
			}
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, e.Ledger().OpenCount(), 2)
	assertConserved(t, e.Ledger())
}

func TestRunSettlerStops(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.RunSettler(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("settler did not stop")
	}
}
