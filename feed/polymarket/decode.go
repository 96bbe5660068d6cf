package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/updown/feed"
)

type level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type priceChange struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type event struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id"`
	Market       string        `json:"market"`
	Timestamp    string        `json:"timestamp"`
	Bids         []level       `json:"bids"`
	Asks         []level       `json:"asks"`
	PriceChanges []priceChange `json:"price_changes"`
}

// Decode turns one market-channel frame into feed messages. A frame is a
// single event object or an array of them. Only book and price_change
// events carry quotes; everything else decodes to nothing.
func Decode(data []byte, now time.Time) ([]feed.Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.EqualFold(data, []byte("PONG")) {
		return nil, nil
	}

	var events []event
	if data[0] == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("%w: %v", feed.ErrMalformedMessage, err)
		}
	} else {
		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", feed.ErrMalformedMessage, err)
		}
		events = []event{ev}
	}

	var out []feed.Message
	for _, ev := range events {
		msgs, err := ev.messages(now)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (ev event) messages(now time.Time) ([]feed.Message, error) {
	ts := ev.time(now)

	switch ev.EventType {
	case "book":
		if ev.AssetID == "" {
			return nil, fmt.Errorf("%w: book without asset_id", feed.ErrMalformedMessage)
		}
		bid, err := bestLevel(ev.Bids, true)
		if err != nil {
			return nil, err
		}
		ask, err := bestLevel(ev.Asks, false)
		if err != nil {
			return nil, err
		}
		return []feed.Message{{MarketID: ev.AssetID, HasBook: true, Bid: bid, Ask: ask, Time: ts}}, nil

	case "price_change":
		var out []feed.Message
		for _, pc := range ev.PriceChanges {
			if pc.AssetID == "" {
				return nil, fmt.Errorf("%w: price_change without asset_id", feed.ErrMalformedMessage)
			}
			bid, err := parsePrice(pc.BestBid)
			if err != nil {
				return nil, err
			}
			ask, err := parsePrice(pc.BestAsk)
			if err != nil {
				return nil, err
			}
			out = append(out, feed.Message{MarketID: pc.AssetID, HasBook: true, Bid: bid, Ask: ask, Time: ts})
		}
		return out, nil

	default:
		return nil, nil
	}
}

// time reads the millisecond timestamp, falling back to now.
func (ev event) time(now time.Time) time.Time {
	if ev.Timestamp == "" {
		return now
	}
	ms, err := strconv.ParseInt(ev.Timestamp, 10, 64)
	if err != nil || ms <= 0 {
		return now
	}
	return time.UnixMilli(ms).UTC()
}

// bestLevel returns the highest bid or the lowest ask. An empty side is 0.
func bestLevel(levels []level, highest bool) (float64, error) {
	var best decimal.Decimal
	found := false
	for _, l := range levels {
		p, err := decimal.NewFromString(l.Price)
		if err != nil {
			return 0, fmt.Errorf("%w: price %q: %v", feed.ErrMalformedMessage, l.Price, err)
		}
		if !p.IsPositive() {
			continue
		}
		if !found || (highest && p.GreaterThan(best)) || (!highest && p.LessThan(best)) {
			best, found = p, true
		}
	}
	if !found {
		return 0, nil
	}
	return best.InexactFloat64(), nil
}

func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", feed.ErrMalformedMessage, s, err)
	}
	if !p.IsPositive() {
		return 0, nil
	}
	return p.InexactFloat64(), nil
}
