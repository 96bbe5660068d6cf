package policy

import (
	"github.com/rustyeddy/updown/ledger"
	"github.com/rustyeddy/updown/market"
)

// Thresholds are YES prices. A NO position uses the complement, so a NO
// stop at 1-SL and target at 1-TP.

func hitStopLoss(p ledger.Position, price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == market.Yes {
		return price <= p.StopLoss
	}
	return price >= market.Complement(p.StopLoss)
}

func hitTakeProfit(p ledger.Position, price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == market.Yes {
		return price >= p.TakeProfit
	}
	return price <= market.Complement(p.TakeProfit)
}
