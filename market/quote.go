package market

import "time"

// Quote is the top of book for the active market.
// A zero Bid or Ask means that side of the book was empty.
type Quote struct {
	MarketID string
	Bid      float64
	Ask      float64
	Time     time.Time
}

func (q Quote) HasBid() bool { return q.Bid > 0 }
func (q Quote) HasAsk() bool { return q.Ask > 0 }

// Price returns the price a position on side s is marked at:
// the ask for YES and the bid for NO.
func (q Quote) Price(s Side) (float64, bool) {
	if s == Yes {
		return q.Ask, q.HasAsk()
	}
	return q.Bid, q.HasBid()
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}
