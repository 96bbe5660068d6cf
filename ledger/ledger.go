// Package ledger holds the paper account: cash balance, open positions and
// the append-only history of closed trades.
//
// At every point
//
//	balance = initial - sum(open sizes) + sum(realized P&L)
//
// and the number of open positions never exceeds the configured maximum.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/updown/internal/id"
	"github.com/rustyeddy/updown/market"
)

type Config struct {
	InitialBalance float64
	MaxPositions   int
}

type OpenRequest struct {
	MarketID   string
	Side       market.Side
	Price      float64
	Size       float64
	StopLoss   float64
	TakeProfit float64
	Time       time.Time
}

// Summary is a read-only view of the account.
type Summary struct {
	Balance        float64
	InitialBalance float64
	OpenCount      int
	TradeCount     int
	Wins           int
	TotalPnL       float64
	WinRate        float64

	// Unrealized marks the open positions at their last observed prices.
	Unrealized float64
}

// Ledger is safe for concurrent use. Every operation is applied atomically.
type Ledger struct {
	mu        sync.Mutex
	cfg       Config
	balance   float64
	positions []*Position
	trades    []TradeRecord
}

func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:     cfg,
		balance: cfg.InitialBalance,
	}
}

func (l *Ledger) Config() Config { return l.cfg }

// Open debits req.Size and records a new position.
func (l *Ledger) Open(req OpenRequest) (Position, error) {
	if !req.Side.Valid() {
		return Position{}, fmt.Errorf("%w: side %q", ErrInvalidPosition, req.Side)
	}
	if req.Price <= 0 || req.Price >= 1 {
		return Position{}, fmt.Errorf("%w: entry price %v outside (0,1)", ErrInvalidPosition, req.Price)
	}
	if req.Size <= 0 {
		return Position{}, fmt.Errorf("%w: size %v must be positive", ErrInvalidPosition, req.Size)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.MaxPositions > 0 && len(l.positions) >= l.cfg.MaxPositions {
		return Position{}, fmt.Errorf("%w: %d positions open (max %d)", ErrEntryRejected, len(l.positions), l.cfg.MaxPositions)
	}
	if l.balance < req.Size {
		return Position{}, fmt.Errorf("%w: balance %.2f below size %.2f", ErrEntryRejected, l.balance, req.Size)
	}

	at := req.Time
	if at.IsZero() {
		at = time.Now()
	}

	p := &Position{
		ID:         id.NewAt(at),
		MarketID:   req.MarketID,
		Side:       req.Side,
		EntryPrice: req.Price,
		Size:       req.Size,
		Shares:     req.Size / req.Price,
		EntryTime:  at,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		LastPrice:  req.Price,
	}
	l.positions = append(l.positions, p)
	l.balance -= req.Size

	return *p, nil
}

// Mark updates the last observed price of an open position.
func (l *Ledger) Mark(positionID string, price float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(positionID)
	if i < 0 {
		return fmt.Errorf("mark %q: %w", positionID, ErrPositionNotFound)
	}
	l.positions[i].LastPrice = price
	return nil
}

// Close settles an open position at exitPrice, credits size+pnl back to the
// balance and appends the trade to history.
func (l *Ledger) Close(positionID string, exitPrice float64, reason Reason, at time.Time) (TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(positionID)
	if i < 0 {
		return TradeRecord{}, fmt.Errorf("close %q: %w", positionID, ErrPositionNotFound)
	}
	if at.IsZero() {
		at = time.Now()
	}

	p := *l.positions[i]
	p.LastPrice = exitPrice
	pnl := p.PnL(exitPrice)

	rec := TradeRecord{
		Position:   p,
		ExitPrice:  exitPrice,
		ExitTime:   at,
		RealizedPL: pnl,
		Reason:     reason,
	}

	l.positions = append(l.positions[:i], l.positions[i+1:]...)
	l.balance += p.Size + pnl
	l.trades = append(l.trades, rec)

	return rec, nil
}

// Reset restores the initial balance and drops all positions and history.
// Open stakes are not credited back.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balance = l.cfg.InitialBalance
	l.positions = nil
	l.trades = nil
}

func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		Balance:        l.balance,
		InitialBalance: l.cfg.InitialBalance,
		OpenCount:      len(l.positions),
		TradeCount:     len(l.trades),
		TotalPnL:       l.balance - l.cfg.InitialBalance,
	}
	for _, t := range l.trades {
		if t.Win() {
			s.Wins++
		}
	}
	for _, p := range l.positions {
		s.Unrealized += p.Unrealized()
	}
	if s.TradeCount > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TradeCount)
	}
	return s
}

func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// Positions returns copies of the open positions in the order they were opened.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// Trades returns a copy of the full trade history, oldest first.
func (l *Ledger) Trades() []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// Recent returns up to n of the most recent trades, oldest first.
func (l *Ledger) Recent(n int) []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || len(l.trades) == 0 {
		return nil
	}
	start := len(l.trades) - n
	if start < 0 {
		start = 0
	}
	out := make([]TradeRecord, len(l.trades)-start)
	copy(out, l.trades[start:])
	return out
}

func (l *Ledger) indexLocked(positionID string) int {
	for i, p := range l.positions {
		if p.ID == positionID {
			return i
		}
	}
	return -1
}
