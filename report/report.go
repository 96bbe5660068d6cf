// Package report is the read side exposed to operators: account status,
// recent trades and the manual reset.
package report

import (
	"github.com/rustyeddy/updown/ledger"
)

const DefaultHistory = 5

// Source is what the reporter reads and resets. The engine implements it so
// a reset never interleaves with a tick.
type Source interface {
	Summary() ledger.Summary
	Recent(n int) []ledger.TradeRecord
	Reset()
}

type Reporter struct {
	src Source
}

func New(src Source) *Reporter {
	return &Reporter{src: src}
}

func (r *Reporter) Status() ledger.Summary {
	return r.src.Summary()
}

// History returns up to limit of the most recent trades, oldest first.
func (r *Reporter) History(limit int) []ledger.TradeRecord {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return r.src.Recent(limit)
}

// Reset restores the initial balance and returns the new summary.
func (r *Reporter) Reset() ledger.Summary {
	r.src.Reset()
	return r.src.Summary()
}

func (r *Reporter) Help() string {
	return HelpText
}
