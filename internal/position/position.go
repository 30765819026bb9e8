// Package position implements the position/PnL service (C7): open, extend,
// partially or fully close a position, and keep its mark-to-market PnL
// current. Grounded on the teacher's Inventory (internal/strategy/inventory.go)
// — weighted-average-entry accounting and a realized/unrealized PnL split
// behind a mutex-guarded struct — generalized from two-sided YES/NO token
// accounting to signed LONG/SHORT position accounting with leverage, and
// from float64 to decimal.Decimal throughout.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"candlebt/internal/errs"
)

// Side is the directional sign of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Status is a position's lifecycle state.
type Status string

const (
	Open       Status = "OPEN"
	Closed     Status = "CLOSED"
	Liquidated Status = "LIQUIDATED"
)

// Position tracks one account's exposure to one symbol: a signed size
// (positive for LONG, negative for SHORT), a weighted-average entry price,
// and the realized/unrealized PnL split. Safe for concurrent use.
type Position struct {
	mu sync.RWMutex

	id            string
	symbol        string
	side          Side
	size          decimal.Decimal
	entryPrice    decimal.Decimal
	currentPrice  decimal.Decimal
	leverage      decimal.Decimal
	entryTime     time.Time
	status        Status
	unrealizedPnL decimal.Decimal
	realizedPnL   decimal.Decimal
}

// New creates an OPEN position. size must be positive for LONG and
// negative for SHORT; leverage must be >= 1.
func New(id, symbol string, side Side, size, entryPrice, leverage decimal.Decimal, entryTime time.Time) (*Position, error) {
	if size.IsZero() {
		return nil, fmt.Errorf("%w: size must be non-zero", errs.ErrInvariant)
	}
	if side == Long && size.IsNegative() {
		return nil, fmt.Errorf("%w: LONG position requires positive size", errs.ErrInvariant)
	}
	if side == Short && size.IsPositive() {
		return nil, fmt.Errorf("%w: SHORT position requires negative size", errs.ErrInvariant)
	}
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: leverage must be >= 1", errs.ErrInvariant)
	}

	return &Position{
		id:           id,
		symbol:       symbol,
		side:         side,
		size:         size,
		entryPrice:   entryPrice,
		currentPrice: entryPrice,
		leverage:     leverage,
		entryTime:    entryTime,
		status:       Open,
	}, nil
}

// ID, Symbol, Side, Status, EntryTime are read-only accessors.
func (p *Position) ID() string           { return p.id }
func (p *Position) Symbol() string       { return p.symbol }
func (p *Position) Side() Side           { return p.side }
func (p *Position) EntryTime() time.Time { return p.entryTime }

func (p *Position) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Size, EntryPrice, CurrentPrice, UnrealizedPnL, RealizedPnL return a
// consistent snapshot of the corresponding field.
func (p *Position) Size() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

func (p *Position) EntryPrice() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entryPrice
}

func (p *Position) CurrentPrice() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentPrice
}

func (p *Position) UnrealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unrealizedPnL
}

func (p *Position) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// pnlPerUnit computes the unit PnL at price p for the position's side:
// LONG => (p - entry); SHORT => (entry - p). Caller multiplies by |size|.
func (p *Position) pnlPerUnit(price decimal.Decimal) decimal.Decimal {
	if p.side == Long {
		return price.Sub(p.entryPrice)
	}
	return p.entryPrice.Sub(price)
}

// UpdatePrice marks the position to price and recomputes unrealized PnL.
// A no-op on a non-OPEN position.
func (p *Position) UpdatePrice(price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != Open {
		return
	}
	p.currentPrice = price
	p.unrealizedPnL = p.pnlPerUnit(price).Mul(p.size.Abs())
}

// Add extends an OPEN position by deltaSize at deltaPrice. The sign of
// deltaSize must agree with the position's side (positive for LONG,
// negative for SHORT); the new weighted-average entry price is
// (entry*|size| + deltaPrice*|deltaSize|) / |size + deltaSize|.
func (p *Position) Add(deltaSize, deltaPrice decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != Open {
		return fmt.Errorf("%w: cannot add to a non-OPEN position", errs.ErrInvariant)
	}
	if p.side == Long && deltaSize.IsNegative() {
		return fmt.Errorf("%w: delta sign must agree with LONG side", errs.ErrInvariant)
	}
	if p.side == Short && deltaSize.IsPositive() {
		return fmt.Errorf("%w: delta sign must agree with SHORT side", errs.ErrInvariant)
	}

	newSize := p.size.Add(deltaSize)
	notional := p.entryPrice.Mul(p.size.Abs()).Add(deltaPrice.Mul(deltaSize.Abs()))
	p.entryPrice = notional.Div(newSize.Abs())
	p.size = newSize
	p.unrealizedPnL = p.pnlPerUnit(p.currentPrice).Mul(p.size.Abs())
	return nil
}

// ClosePartial reduces an OPEN position at price p by subtracting deltaSize,
// which carries the position's sign (positive for LONG, negative for
// SHORT), from its signed size, realizing PnL on |deltaSize|. |deltaSize|
// must not exceed |size|; the sign of deltaSize is not checked. If the
// reduction brings size to zero the position transitions to CLOSED.
func (p *Position) ClosePartial(deltaSize, price decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != Open {
		return fmt.Errorf("%w: cannot close a non-OPEN position", errs.ErrInvariant)
	}
	if deltaSize.Abs().GreaterThan(p.size.Abs()) {
		return fmt.Errorf("%w: close size exceeds position size", errs.ErrInvariant)
	}

	p.realizedPnL = p.realizedPnL.Add(p.pnlPerUnit(price).Mul(deltaSize.Abs()))
	p.size = p.size.Sub(deltaSize)
	if p.size.IsZero() {
		p.status = Closed
		p.unrealizedPnL = decimal.Zero
	} else {
		p.unrealizedPnL = p.pnlPerUnit(p.currentPrice).Mul(p.size.Abs())
	}
	return nil
}

// CloseFull closes the entire remaining size at price p.
func (p *Position) CloseFull(price decimal.Decimal) error {
	p.mu.RLock()
	size := p.size
	p.mu.RUnlock()
	return p.ClosePartial(size, price)
}

// MarginUsed returns |size| * currentPrice / leverage.
func (p *Position) MarginUsed() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size.Abs().Mul(p.currentPrice).Div(p.leverage)
}
