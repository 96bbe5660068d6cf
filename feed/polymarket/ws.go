// Package polymarket connects the feed session to Polymarket: the CLOB
// market websocket for order-book updates and the Gamma API for finding the
// market of the current 5-minute window.
package polymarket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/updown/feed"
)

const DefaultMarketURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

type Dialer struct {
	URL    string
	Logger zerolog.Logger

	// ReadTimeout bounds the wait for the next frame; zero waits forever.
	ReadTimeout time.Duration
	// PingInterval sends the text keepalive the market channel expects.
	PingInterval time.Duration

	Now func() time.Time
}

func (d *Dialer) Dial(ctx context.Context) (feed.Conn, error) {
	url := d.URL
	if url == "" {
		url = DefaultMarketURL
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	now := d.Now
	if now == nil {
		now = time.Now
	}
	c := &Conn{
		ws:          ws,
		log:         d.Logger,
		readTimeout: d.ReadTimeout,
		now:         now,
		subs:        map[string]struct{}{},
		done:        make(chan struct{}),
	}
	if d.PingInterval > 0 {
		go c.ping(d.PingInterval)
	}
	return c, nil
}

type subscribeFrame struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

// Conn is one market-channel connection. Messages for assets that were never
// subscribed on it are dropped.
type Conn struct {
	ws          *websocket.Conn
	log         zerolog.Logger
	readTimeout time.Duration
	now         func() time.Time

	wmu sync.Mutex // serializes writes

	mu   sync.Mutex
	subs map[string]struct{}

	pending []feed.Message // read side only

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) Subscribe(_ context.Context, marketID string) error {
	if marketID == "" {
		return errors.New("polymarket: empty market id")
	}
	c.mu.Lock()
	c.subs[marketID] = struct{}{}
	c.mu.Unlock()

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(subscribeFrame{AssetsIDs: []string{marketID}, Type: "market"})
}

func (c *Conn) subscribed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[id]
	return ok
}

// Next returns the next message for a subscribed asset. Closing the
// connection unblocks it.
func (c *Conn) Next(ctx context.Context) (feed.Message, error) {
	for {
		for len(c.pending) > 0 {
			m := c.pending[0]
			c.pending = c.pending[1:]
			if c.subscribed(m.MarketID) {
				return m, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return feed.Message{}, err
		}

		if c.readTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return feed.Message{}, err
		}
		msgs, err := Decode(data, c.now())
		if err != nil {
			return feed.Message{}, err
		}
		c.pending = append(c.pending, msgs...)
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) ping(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.wmu.Lock()
			err := c.ws.WriteMessage(websocket.TextMessage, []byte("PING"))
			c.wmu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Msg("feed ping")
				return
			}
		}
	}
}
