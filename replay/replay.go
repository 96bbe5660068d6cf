// Package replay runs recorded quotes through the engine, using each row's
// timestamp as the clock, and records live quotes in the same format.
//
// CSV formats supported:
//
//  1. Quotes:
//     time,market,bid,ask
//
//  2. Quotes + events:
//     time,market,bid,ask,event
//
// Events (case-insensitive):
//
//	ROLLOVER: switch to the row's market (bid and ask may be empty)
//	SETTLE:   run the resolution sweep at the row's time
//	RESET:    hard-reset the ledger
//
// An empty bid or ask is an empty side of the book. A row for a market other
// than the tracked one rolls over first, the way the live feed does.
package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/updown/market"
)

// Engine is the part of the engine a replay drives.
type Engine interface {
	MarketID() string
	OnRollover(marketID string, now time.Time) bool
	OnQuote(q market.Quote, now time.Time)
	Settle(now time.Time) int
	Reset()
}

type Stats struct {
	Rows      int
	Quotes    int
	Rollovers int
	Settled   int
}

// CSV replays the file at path.
func CSV(ctx context.Context, path string, eng Engine) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return Read(ctx, f, eng)
}

// Read replays rows from r. Before each row the resolution sweep runs at the
// row's time, standing in for the live settler.
func Read(ctx context.Context, r io.Reader, eng Engine) (Stats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var st Stats
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		row, err := cr.Read()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		if len(row) == 0 {
			continue
		}
		if first {
			first = false
			// header
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}
		if err := handleRow(eng, row, &st); err != nil {
			line, _ := cr.FieldPos(0)
			return st, fmt.Errorf("line %d: %w", line, err)
		}
	}
}

func handleRow(eng Engine, row []string, st *Stats) error {
	// Minimum columns: time,market,bid,ask
	if len(row) < 4 {
		return fmt.Errorf("bad row (need at least 4 cols time,market,bid,ask): %v", row)
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	t, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return fmt.Errorf("bad time %q: %w", row[0], err)
	}
	id := row[1]
	bid, err := parsePrice(row[2])
	if err != nil {
		return fmt.Errorf("bad bid %q: %w", row[2], err)
	}
	ask, err := parsePrice(row[3])
	if err != nil {
		return fmt.Errorf("bad ask %q: %w", row[3], err)
	}
	event := ""
	if len(row) >= 5 {
		event = strings.ToUpper(row[4])
	}

	st.Rows++
	st.Settled += eng.Settle(t)

	switch event {
	case "":
	case "ROLLOVER":
		if eng.OnRollover(id, t) {
			st.Rollovers++
		}
		return nil
	case "SETTLE":
		return nil
	case "RESET":
		eng.Reset()
		return nil
	default:
		return fmt.Errorf("unknown event %q", row[4])
	}

	if id != "" && id != eng.MarketID() {
		if eng.OnRollover(id, t) {
			st.Rollovers++
		}
	}
	if bid == 0 && ask == 0 {
		return nil
	}
	eng.OnQuote(market.Quote{MarketID: id, Bid: bid, Ask: ask, Time: t}, t)
	st.Quotes++
	return nil
}

func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
