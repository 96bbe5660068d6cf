// Package journal is an append-only audit trail of closed trades and balance
// snapshots. It is written while the bot runs and read by the CLI. The ledger
// is never rebuilt from it.
package journal

import "time"

type TradeRecord struct {
	TradeID    string
	MarketID   string
	Side       string
	Size       float64
	Shares     float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string
}

// EquitySnapshot is the account right after a trade closed.
type EquitySnapshot struct {
	Time      time.Time
	Balance   float64
	OpenCount int
	Committed float64 // stake tied up in open positions
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

type nop struct{}

// Nop discards everything.
func Nop() Journal { return nop{} }

func (nop) RecordTrade(TradeRecord) error     { return nil }
func (nop) RecordEquity(EquitySnapshot) error { return nil }
func (nop) Close() error                      { return nil }
