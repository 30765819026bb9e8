// Package account implements the backtest Account: per-asset free/locked
// balances, cumulative fees and PnL, and the set of positions it owns.
// Grounded on the teacher's Inventory (internal/strategy/inventory.go)
// mutex-guarded accounting shape, split out from position so the position
// and account concerns can each stay single-purpose per spec §3.
package account

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"candlebt/internal/errs"
	"candlebt/internal/position"
)

// Balance is one asset's free/locked split; Total is free+locked.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns Free + Locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Account holds balances and the set of positions opened against them. A
// backtest owns exactly one Account for its lifetime (spec §5); it is not
// shared across concurrent mutators, but the mutex keeps reads consistent
// for callers like the report server and progress hook.
type Account struct {
	mu sync.RWMutex

	id            string
	balances      map[string]Balance
	totalFeesPaid decimal.Decimal
	totalPnL      decimal.Decimal
	createdAt     time.Time
	positions     map[string]*position.Position
}

// New creates an Account with a single initial balance on quoteAsset.
func New(id, quoteAsset string, initialBalance decimal.Decimal, createdAt time.Time) *Account {
	return &Account{
		id:        id,
		createdAt: createdAt,
		balances:  map[string]Balance{quoteAsset: {Free: initialBalance}},
		positions: make(map[string]*position.Position),
	}
}

// ID returns the account identifier.
func (a *Account) ID() string { return a.id }

// CreatedAt returns the account's creation time.
func (a *Account) CreatedAt() time.Time { return a.createdAt }

// Balance returns the current Balance for asset (zero value if unknown).
func (a *Account) Balance(asset string) Balance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balances[asset]
}

// FreeBalance is a convenience accessor for Balance(asset).Free.
func (a *Account) FreeBalance(asset string) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balances[asset].Free
}

// ApplyDelta adjusts an asset's free balance by delta (may be negative).
func (a *Account) ApplyDelta(asset string, delta decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balances[asset]
	b.Free = b.Free.Add(delta)
	a.balances[asset] = b
}

// ChargeFee debits asset's free balance and accumulates total_fees_paid.
func (a *Account) ChargeFee(asset string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balances[asset]
	b.Free = b.Free.Sub(amount)
	a.balances[asset] = b
	a.totalFeesPaid = a.totalFeesPaid.Add(amount)
}

// TotalFeesPaid returns cumulative fees charged against this account.
func (a *Account) TotalFeesPaid() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalFeesPaid
}

// AddRealizedPnL accumulates realized PnL into total_pnl (credited or
// debited from the quote asset's free balance by the caller separately).
func (a *Account) AddRealizedPnL(delta decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalPnL = a.totalPnL.Add(delta)
}

// TotalPnL returns cumulative realized PnL recorded via AddRealizedPnL.
func (a *Account) TotalPnL() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalPnL
}

// AddPosition registers a new position under this account.
func (a *Account) AddPosition(p *position.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions[p.ID()] = p
}

// Position returns the position with the given id, or an error if unknown.
func (a *Account) Position(id string) (*position.Position, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown position %s", errs.ErrInvariant, id)
	}
	return p, nil
}

// OpenPositions returns every position currently in OPEN status.
func (a *Account) OpenPositions() []*position.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*position.Position, 0, len(a.positions))
	for _, p := range a.positions {
		if p.Status() == position.Open {
			out = append(out, p)
		}
	}
	return out
}

// Equity returns quoteAsset's total balance (free + locked) plus the sum
// of unrealized PnL of the account's still-OPEN positions — the final-equity
// definition used by the backtest loop (spec §4.10).
func (a *Account) Equity(quoteAsset string) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := a.balances[quoteAsset].Total()
	for _, p := range a.positions {
		if p.Status() == position.Open {
			total = total.Add(p.UnrealizedPnL())
		}
	}
	return total
}
