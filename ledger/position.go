package ledger

import (
	"time"

	"github.com/rustyeddy/updown/market"
)

// Reason records why a position was closed.
type Reason string

const (
	ReasonStopLoss   Reason = "stop-loss"
	ReasonTakeProfit Reason = "take-profit"
	ReasonResolved   Reason = "market-resolved"
	ReasonReset      Reason = "manual-reset"
)

// Position is an open simulated trade.
type Position struct {
	ID         string
	MarketID   string
	Side       market.Side
	EntryPrice float64
	Size       float64
	Shares     float64
	EntryTime  time.Time
	StopLoss   float64
	TakeProfit float64
	LastPrice  float64
}

// PnL returns the profit or loss of closing p at exitPrice.
func (p Position) PnL(exitPrice float64) float64 {
	if p.Side == market.No {
		return (p.EntryPrice - exitPrice) * p.Shares
	}
	return (exitPrice - p.EntryPrice) * p.Shares
}

// Unrealized marks p at its last observed price.
func (p Position) Unrealized() float64 {
	return p.PnL(p.LastPrice)
}

// TradeRecord is a closed position. Records are never modified once
// appended to the ledger history.
type TradeRecord struct {
	Position
	ExitPrice  float64
	ExitTime   time.Time
	RealizedPL float64
	Reason     Reason
}

func (t TradeRecord) Win() bool {
	return t.RealizedPL > 0
}
