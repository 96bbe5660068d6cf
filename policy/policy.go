// Package policy decides when to open and close positions. It is pure: it
// reads quotes, time remaining and ledger state and returns decisions. The
// engine applies them to the ledger.
package policy

import (
	"math"
	"time"

	"github.com/rustyeddy/updown/ledger"
	"github.com/rustyeddy/updown/market"
)

// epsilon absorbs float noise in |price-target| <= tolerance comparisons.
const epsilon = 1e-9

type Config struct {
	PositionSize float64
	TargetPrice  float64
	Tolerance    float64
	StopLoss     float64
	TakeProfit   float64
	EntryWindow  time.Duration
	MaxPositions int
}

type Policy struct {
	cfg Config
}

func New(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

func (p *Policy) Config() Config { return p.cfg }

// Entries returns the positions to open for q, ask-side (YES) first then
// bid-side (NO). The ledger enforces the position cap on each open, so the
// second request is rejected when the first one fills the last slot.
func (p *Policy) Entries(q market.Quote, secsRemaining float64, openCount int) []ledger.OpenRequest {
	if q.MarketID == "" || !q.HasBid() || !q.HasAsk() {
		return nil
	}
	if secsRemaining > p.cfg.EntryWindow.Seconds() {
		return nil
	}
	if openCount >= p.cfg.MaxPositions {
		return nil
	}

	var out []ledger.OpenRequest
	if p.nearTarget(q.Ask) {
		out = append(out, p.request(q, market.Yes, q.Ask))
	}
	if p.nearTarget(q.Bid) {
		out = append(out, p.request(q, market.No, q.Bid))
	}
	return out
}

func (p *Policy) nearTarget(price float64) bool {
	return math.Abs(price-p.cfg.TargetPrice) <= p.cfg.Tolerance+epsilon
}

func (p *Policy) request(q market.Quote, side market.Side, price float64) ledger.OpenRequest {
	return ledger.OpenRequest{
		MarketID:   q.MarketID,
		Side:       side,
		Price:      price,
		Size:       p.cfg.PositionSize,
		StopLoss:   p.cfg.StopLoss,
		TakeProfit: p.cfg.TakeProfit,
		Time:       q.Time,
	}
}

// Decision is the outcome of evaluating one open position against a quote.
type Decision struct {
	// Observed is the position's price after this quote. Marked is false when
	// the quote carried nothing for the position and Observed is its last price.
	Observed float64
	Marked   bool

	Close  bool
	Price  float64
	Reason ledger.Reason
}

// Exit evaluates pos against q. Stop-loss and take-profit are checked before
// the forced close at resolution. Quotes for another market only count
// toward resolution.
func (p *Policy) Exit(pos ledger.Position, q market.Quote, secsRemaining float64) Decision {
	d := Decision{Observed: pos.LastPrice}

	if q.MarketID == pos.MarketID {
		if price, ok := q.Price(pos.Side); ok {
			d.Observed = price
			d.Marked = true
		}
	}

	if d.Marked {
		switch {
		case hitStopLoss(pos, d.Observed):
			d.Close, d.Reason = true, ledger.ReasonStopLoss
		case hitTakeProfit(pos, d.Observed):
			d.Close, d.Reason = true, ledger.ReasonTakeProfit
		}
	}
	if !d.Close && secsRemaining <= 0 {
		d.Close, d.Reason = true, ledger.ReasonResolved
	}
	if d.Close {
		d.Price = d.Observed
	}
	return d
}

// Resolve is the forced-settlement decision used when no quote is at hand.
func (p *Policy) Resolve(pos ledger.Position, secsRemaining float64) Decision {
	d := Decision{Observed: pos.LastPrice}
	if secsRemaining <= 0 {
		d.Close, d.Price, d.Reason = true, pos.LastPrice, ledger.ReasonResolved
	}
	return d
}
