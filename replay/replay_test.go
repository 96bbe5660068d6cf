package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/updown/engine"
	"github.com/rustyeddy/updown/journal"
	"github.com/rustyeddy/updown/ledger"
	"github.com/rustyeddy/updown/market"
	"github.com/rustyeddy/updown/policy"
	"github.com/rustyeddy/updown/window"
)

func newEngine(j journal.Journal) *engine.Engine {
	return engine.New(
		ledger.New(ledger.Config{InitialBalance: 100, MaxPositions: 2}),
		window.NewTracker(),
		policy.New(policy.Config{
			PositionSize: 5,
			TargetPrice:  0.85,
			Tolerance:    0.002,
			StopLoss:     0.75,
			TakeProfit:   0.95,
			EntryWindow:  time.Minute,
			MaxPositions: 2,
		}),
		engine.Options{Journal: j, Logger: zerolog.Nop(), Strict: true},
	)
}

// Scripted scenario:
// - take-profit on the first YES entry
// - a second entry still open at 12:10 resolves at its last price
// - the next window's market rolls over on its first quote
const scenario = `time,market,bid,ask,event
2024-05-01T12:05:10Z,tok-a,,,ROLLOVER
2024-05-01T12:09:30Z,tok-a,0.80,0.851,
2024-05-01T12:09:35Z,tok-a,0.94,0.96,
2024-05-01T12:09:40Z,tok-a,0.80,0.851,
2024-05-01T12:10:05Z,tok-b,0.40,0.60,
`

func TestReplayScenario(t *testing.T) {
	ctx := context.Background()

	tmp := t.TempDir()
	csvPath := filepath.Join(tmp, "quotes.csv")
	dbPath := filepath.Join(tmp, "updown.sqlite")
	require.NoError(t, os.WriteFile(csvPath, []byte(scenario), 0o644))

	j, err := journal.NewSQLite(dbPath)
	require.NoError(t, err)
	defer j.Close()

	eng := newEngine(j)
	st, err := CSV(ctx, csvPath, eng)
	require.NoError(t, err)

	assert.Equal(t, Stats{Rows: 5, Quotes: 4, Rollovers: 2, Settled: 1}, st)
	assert.Equal(t, "tok-b", eng.MarketID())

	trades := eng.Ledger().Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, ledger.ReasonTakeProfit, trades[0].Reason)
	assert.Equal(t, ledger.ReasonResolved, trades[1].Reason)
	assert.Equal(t, 0.851, trades[1].ExitPrice)
	assert.InDelta(t, 100.640, eng.Ledger().Balance(), 1e-3)

	recs, err := j.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "take-profit", recs[0].Reason)
	assert.Equal(t, "market-resolved", recs[1].Reason)
}

func TestReplayEvents(t *testing.T) {
	rows := `2024-05-01T12:09:30Z,tok-a,0.80,0.851
2024-05-01T12:09:31Z,tok-a,,,RESET
2024-05-01T12:09:32Z,tok-a,0.80,0.851,
2024-05-01T12:10:00Z,tok-a,,,settle
`
	eng := newEngine(nil)
	st, err := Read(context.Background(), strings.NewReader(rows), eng)
	require.NoError(t, err)

	assert.Equal(t, 4, st.Rows)
	assert.Equal(t, 2, st.Quotes)
	assert.Equal(t, 1, st.Settled)

	s := eng.Summary()
	assert.Equal(t, 1, s.TradeCount)
	assert.Equal(t, 0, s.OpenCount)
}

func TestReplayErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		msg  string
	}{
		{"short row", "2024-05-01T12:09:30Z,tok-a,0.8\n", "need at least 4 cols"},
		{"bad time", "yesterday,tok-a,0.8,0.9\n", "bad time"},
		{"bad bid", "2024-05-01T12:09:30Z,tok-a,x,0.9\n", "bad bid"},
		{"bad ask", "2024-05-01T12:09:30Z,tok-a,0.8,y\n", "bad ask"},
		{"unknown event", "2024-05-01T12:09:30Z,tok-a,,,BUY\n", "unknown event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(context.Background(), strings.NewReader(tt.csv), newEngine(nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestReplayCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Read(ctx, strings.NewReader(scenario), newEngine(nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordThenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorded.csv")

	live := newEngine(nil)
	rec, err := NewRecorder(path, live)
	require.NoError(t, err)

	t0 := time.Date(2024, 5, 1, 12, 9, 30, 0, time.UTC)
	require.True(t, rec.OnRollover("tok-a", t0.Add(-4*time.Minute)))
	assert.False(t, rec.OnRollover("tok-a", t0))
	assert.Equal(t, "tok-a", rec.MarketID())
	rec.OnQuote(market.Quote{MarketID: "tok-a", Bid: 0.80, Ask: 0.851}, t0)
	rec.OnQuote(market.Quote{MarketID: "tok-a", Ask: 0.96}, t0.Add(5*time.Second))
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "time,market,bid,ask,event", lines[0])
	assert.Equal(t, "2024-05-01T12:05:30Z,tok-a,,,ROLLOVER", lines[1])
	assert.Equal(t, "2024-05-01T12:09:30Z,tok-a,0.8,0.851,", lines[2])
	assert.Equal(t, "2024-05-01T12:09:35Z,tok-a,,0.96,", lines[3])

	replayed := newEngine(nil)
	_, err = CSV(context.Background(), path, replayed)
	require.NoError(t, err)

	assert.Equal(t, live.Summary(), replayed.Summary())
	require.Len(t, replayed.Ledger().Trades(), 1)
	assert.Equal(t, ledger.ReasonTakeProfit, replayed.Ledger().Trades()[0].Reason)
}
