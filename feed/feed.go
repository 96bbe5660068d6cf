// Package feed keeps a live market-data subscription for the active 5-minute
// market and hands decoded quotes to a Handler. The session reconnects after
// a fixed backoff for as long as its context lives.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/updown/market"
)

var (
	ErrFeedDisconnected = errors.New("feed disconnected")
	ErrMalformedMessage = errors.New("malformed feed message")
	ErrNoActiveMarket   = errors.New("no active market")
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// Message is one decoded feed event. A message without a book is only a
// market notice and is used for rollover detection.
type Message struct {
	MarketID string
	HasBook  bool
	Bid      float64
	Ask      float64
	Time     time.Time
}

func (m Message) Quote() market.Quote {
	return market.Quote{MarketID: m.MarketID, Bid: m.Bid, Ask: m.Ask, Time: m.Time}
}

// Conn is one transport connection. Next blocks until a message arrives,
// the connection fails or ctx is done. A decoding failure is reported as
// ErrMalformedMessage and leaves the connection usable.
type Conn interface {
	Subscribe(ctx context.Context, marketID string) error
	Next(ctx context.Context) (Message, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Discovery returns the identifier of the market trading in the current
// window.
type Discovery interface {
	ActiveMarket(ctx context.Context) (string, error)
}

// Handler receives rollovers and quotes. It is implemented by the engine.
type Handler interface {
	MarketID() string
	OnRollover(marketID string, now time.Time) bool
	OnQuote(q market.Quote, now time.Time)
}
