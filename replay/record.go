package replay

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/updown/feed"
	"github.com/rustyeddy/updown/market"
)

var header = []string{"time", "market", "bid", "ask", "event"}

// Recorder sits between the feed session and the engine and writes every
// rollover and quote it passes on as a replayable CSV row.
type Recorder struct {
	next feed.Handler

	mu  sync.Mutex
	f   *os.File
	w   *csv.Writer
	err error // first write error, returned by Close
}

func NewRecorder(path string, next feed.Handler) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r := &Recorder{next: next, f: f, w: csv.NewWriter(f)}
	r.write(header)
	if r.err != nil {
		f.Close()
		return nil, r.err
	}
	return r, nil
}

func (r *Recorder) MarketID() string { return r.next.MarketID() }

func (r *Recorder) OnRollover(marketID string, now time.Time) bool {
	ok := r.next.OnRollover(marketID, now)
	if ok {
		r.write([]string{stamp(now), marketID, "", "", "ROLLOVER"})
	}
	return ok
}

func (r *Recorder) OnQuote(q market.Quote, now time.Time) {
	r.write([]string{stamp(now), q.MarketID, price(q.Bid), price(q.Ask), ""})
	r.next.OnQuote(q, now)
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.w.Flush()
	if r.err == nil {
		r.err = r.w.Error()
	}
	if err := r.f.Close(); err != nil && r.err == nil {
		r.err = err
	}
	return r.err
}

func (r *Recorder) write(row []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	if err := r.w.Write(row); err != nil {
		r.err = err
		return
	}
	r.w.Flush()
	r.err = r.w.Error()
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func price(p float64) string {
	if p <= 0 {
		return ""
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}
