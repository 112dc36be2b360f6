package ledger

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Broker owns a credit balance in integer currency units.
//
// Credit only ever decreases on behalf of an order the broker initiated, and
// the caller holds the broker (Lock) for the whole validate-then-commit
// window, so a validated amount can always be charged. Increases may come
// from any match at any time and never need the lock.
type Broker struct {
	ID string

	mu     sync.Mutex
	credit atomic.Int64
}

// NewBroker creates a broker with an opening credit balance.
func NewBroker(id string, credit int64) *Broker {
	if credit < 0 {
		panic(fmt.Sprintf("ledger: broker %s opened with negative credit %d", id, credit))
	}
	b := &Broker{ID: id}
	b.credit.Store(credit)
	return b
}

// Lock claims the broker as the initiator of an in-flight match.
func (b *Broker) Lock() { b.mu.Lock() }

// Unlock releases the claim taken by Lock.
func (b *Broker) Unlock() { b.mu.Unlock() }

// Credit returns the current balance.
func (b *Broker) Credit() int64 {
	return b.credit.Load()
}

// HasEnoughCredit reports whether amount can be charged.
func (b *Broker) HasEnoughCredit(amount int64) bool {
	return b.credit.Load() >= amount
}

// IncreaseCredit adds amount to the balance.
func (b *Broker) IncreaseCredit(amount int64) {
	if amount < 0 {
		panic(fmt.Sprintf("ledger: broker %s credit increase by negative amount %d", b.ID, amount))
	}
	b.credit.Add(amount)
}

// DecreaseCredit removes amount from the balance. Going below zero is a
// broken plan/commit sequence, not a runtime outcome, and panics.
func (b *Broker) DecreaseCredit(amount int64) {
	if amount < 0 {
		panic(fmt.Sprintf("ledger: broker %s credit decrease by negative amount %d", b.ID, amount))
	}
	for {
		cur := b.credit.Load()
		if cur < amount {
			panic(fmt.Sprintf("ledger: broker %s credit %d cannot cover %d", b.ID, cur, amount))
		}
		if b.credit.CompareAndSwap(cur, cur-amount) {
			return
		}
	}
}

// Shareholder owns a share position per instrument.
type Shareholder struct {
	ID string

	mu sync.Mutex // initiator claim, same contract as Broker.Lock

	posMu     sync.Mutex
	positions map[string]int64
}

// NewShareholder creates a shareholder with no positions.
func NewShareholder(id string) *Shareholder {
	return &Shareholder{
		ID:        id,
		positions: make(map[string]int64),
	}
}

// Lock claims the shareholder as the initiator of an in-flight match.
func (s *Shareholder) Lock() { s.mu.Lock() }

// Unlock releases the claim taken by Lock.
func (s *Shareholder) Unlock() { s.mu.Unlock() }

// Position returns the share count held for symbol.
func (s *Shareholder) Position(symbol string) int64 {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	return s.positions[symbol]
}

// HasEnoughPositions reports whether quantity shares of symbol can be sold.
func (s *Shareholder) HasEnoughPositions(symbol string, quantity int64) bool {
	return s.Position(symbol) >= quantity
}

// Positions returns a copy of all positions.
func (s *Shareholder) Positions() map[string]int64 {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	out := make(map[string]int64, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}

// IncreasePosition adds quantity shares of symbol.
func (s *Shareholder) IncreasePosition(symbol string, quantity int64) {
	if quantity < 0 {
		panic(fmt.Sprintf("ledger: shareholder %s position increase by negative quantity %d", s.ID, quantity))
	}
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.positions[symbol] += quantity
}

// DecreasePosition removes quantity shares of symbol, panicking if the
// position would go negative.
func (s *Shareholder) DecreasePosition(symbol string, quantity int64) {
	if quantity < 0 {
		panic(fmt.Sprintf("ledger: shareholder %s position decrease by negative quantity %d", s.ID, quantity))
	}
	s.posMu.Lock()
	defer s.posMu.Unlock()

	cur := s.positions[symbol]
	if cur < quantity {
		panic(fmt.Sprintf("ledger: shareholder %s position %d in %s cannot cover %d", s.ID, cur, symbol, quantity))
	}
	s.positions[symbol] = cur - quantity
}
