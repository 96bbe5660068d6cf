package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/updown/internal/metrics"
)

const DefaultBackoff = 5 * time.Second

type Options struct {
	Dialer    Dialer
	Discovery Discovery // optional
	Handler   Handler
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics // optional

	// Backoff is the fixed wait between a disconnect and the next dial.
	Backoff time.Duration

	// DiscoveryInterval polls Discovery while subscribed. Zero disables
	// polling; rollovers then come from the feed alone.
	DiscoveryInterval time.Duration

	Now func() time.Time
}

type Session struct {
	opts  Options
	log   zerolog.Logger
	state atomic.Int32

	// ids rolled away from on the current connection; their late messages
	// are dropped instead of rolling the tracker back.
	retired map[string]struct{}
}

func NewSession(opts Options) (*Session, error) {
	if opts.Dialer == nil {
		return nil, errors.New("feed: missing dialer")
	}
	if opts.Handler == nil {
		return nil, errors.New("feed: missing handler")
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{opts: opts, log: opts.Logger}, nil
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.log.Debug().Str("state", st.String()).Msg("feed state")
	}
}

// Run connects, subscribes and reads until ctx is done. Every failure other
// than a malformed message ends the connection and is followed by a fixed
// backoff and a fresh dial.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(Disconnected)

	for {
		err := s.runOnce(ctx)
		s.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}

		s.log.Warn().Err(err).Dur("backoff", s.opts.Backoff).Msg("feed disconnected, reconnecting")
		s.opts.Metrics.RecordReconnect()

		t := time.NewTimer(s.opts.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	s.setState(Connecting)
	s.retired = map[string]struct{}{}

	conn, err := s.opts.Dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrFeedDisconnected, err)
	}
	defer conn.Close()

	id, err := s.activeMarket(ctx)
	if err != nil {
		return err
	}
	s.rollover(id)
	if err := conn.Subscribe(ctx, id); err != nil {
		return fmt.Errorf("%w: subscribe %s: %v", ErrFeedDisconnected, id, err)
	}
	s.setState(Subscribed)
	s.log.Info().Str("market", id).Msg("feed subscribed")

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan Message)
	errs := make(chan error, 1)
	go s.read(readCtx, conn, msgs, errs)

	var poll <-chan time.Time
	if s.opts.Discovery != nil && s.opts.DiscoveryInterval > 0 {
		t := time.NewTicker(s.opts.DiscoveryInterval)
		defer t.Stop()
		poll = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return fmt.Errorf("%w: %v", ErrFeedDisconnected, err)
		case m := <-msgs:
			s.dispatch(m)
		case <-poll:
			id, err := s.opts.Discovery.ActiveMarket(ctx)
			if err != nil {
				s.log.Debug().Err(err).Msg("market discovery")
				continue
			}
			if !s.rollover(id) {
				continue
			}
			if err := conn.Subscribe(ctx, id); err != nil {
				return fmt.Errorf("%w: subscribe %s: %v", ErrFeedDisconnected, id, err)
			}
			s.log.Info().Str("market", id).Msg("feed resubscribed")
		}
	}
}

func (s *Session) read(ctx context.Context, conn Conn, msgs chan<- Message, errs chan<- error) {
	for {
		m, err := conn.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				s.log.Debug().Err(err).Msg("dropped feed message")
				s.opts.Metrics.RecordDropped()
				continue
			}
			errs <- err
			return
		}
		select {
		case msgs <- m:
		case <-ctx.Done():
			return
		}
	}
}

// activeMarket asks discovery first and falls back to the tracked market.
func (s *Session) activeMarket(ctx context.Context) (string, error) {
	if s.opts.Discovery != nil {
		id, err := s.opts.Discovery.ActiveMarket(ctx)
		if err == nil && id != "" {
			return id, nil
		}
		s.log.Warn().Err(err).Msg("market discovery failed")
	}
	if id := s.opts.Handler.MarketID(); id != "" {
		return id, nil
	}
	return "", ErrNoActiveMarket
}

func (s *Session) rollover(id string) bool {
	prev := s.opts.Handler.MarketID()
	if !s.opts.Handler.OnRollover(id, s.opts.Now()) {
		return false
	}
	if prev != "" {
		s.retired[prev] = struct{}{}
	}
	delete(s.retired, id)
	return true
}

func (s *Session) dispatch(m Message) {
	if m.MarketID != "" {
		if _, ok := s.retired[m.MarketID]; ok {
			return
		}
		if m.MarketID != s.opts.Handler.MarketID() {
			s.rollover(m.MarketID)
		}
	}
	if !m.HasBook {
		return
	}
	s.opts.Handler.OnQuote(m.Quote(), s.opts.Now())
}
