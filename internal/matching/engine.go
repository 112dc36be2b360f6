package matching

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/nathanyu/matching-core/internal/orderbook"
	"github.com/nathanyu/matching-core/internal/telemetry"
)

// ErrOrderNotFound is returned when a cancel targets an order that is not resting.
var ErrOrderNotFound = errors.New("order not resting in book")

// instrument is the exclusive section for one symbol: its book and the
// lock that serializes every call touching it.
type instrument struct {
	mu   sync.Mutex
	book *orderbook.OrderBook
}

// Engine is the matching engine. It maintains per-symbol order books and
// runs each order through the Matcher inside that symbol's critical section.
// Different symbols match in parallel.
type Engine struct {
	matcher *Matcher

	mu    sync.RWMutex
	books map[string]*instrument // symbol -> order book

	// Under DeferReservation a sell may charge any resting buyer's broker,
	// so matches cannot run in parallel across symbols.
	ledgerMu sync.Mutex

	logger *slog.Logger
}

// NewEngine creates a new matching engine.
func NewEngine(policy ReservationPolicy) *Engine {
	return &Engine{
		matcher: NewMatcher(policy),
		books:   make(map[string]*instrument),
		logger:  telemetry.Component("engine"),
	}
}

// Policy returns the reservation policy in force.
func (e *Engine) Policy() ReservationPolicy {
	return e.matcher.Policy()
}

// getOrCreateBook returns the instrument for a symbol, creating it if needed.
func (e *Engine) getOrCreateBook(symbol string) *instrument {
	e.mu.RLock()
	inst, exists := e.books[symbol]
	e.mu.RUnlock()
	if exists {
		return inst
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	inst, exists = e.books[symbol]
	if !exists {
		inst = &instrument{book: orderbook.NewOrderBook(symbol)}
		e.books[symbol] = inst
	}
	return inst
}

func (e *Engine) lookup(symbol string) *instrument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books[symbol]
}

// Execute matches a validated order. Broker and shareholder must be set.
func (e *Engine) Execute(order *domain.Order) *domain.MatchResult {
	inst := e.getOrCreateBook(order.Symbol)
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if e.matcher.Policy() == DeferReservation {
		e.ledgerMu.Lock()
		defer e.ledgerMu.Unlock()
	}

	// always broker before shareholder
	order.Broker.Lock()
	defer order.Broker.Unlock()
	order.Shareholder.Lock()
	defer order.Shareholder.Unlock()

	result := e.matcher.Execute(inst.book, order)

	telemetry.MatchOutcomesTotal.WithLabelValues(order.Symbol, string(result.Outcome)).Inc()
	if result.Executed() {
		telemetry.TradesTotal.WithLabelValues(order.Symbol).Add(float64(len(result.Trades)))
		telemetry.TradedVolumeTotal.WithLabelValues(order.Symbol).Add(float64(result.TradedQuantity()))
	} else {
		e.logger.Debug("order rejected",
			slog.String("order_id", order.OrderID),
			slog.String("symbol", order.Symbol),
			slog.String("outcome", string(result.Outcome)))
	}
	e.recordDepth(inst.book)

	return result
}

// Cancel removes a resting order and releases what it held.
func (e *Engine) Cancel(symbol, orderID string) (domain.OrderSnapshot, error) {
	inst := e.lookup(symbol)
	if inst == nil {
		return domain.OrderSnapshot{}, fmt.Errorf("%s/%s: %w", symbol, orderID, ErrOrderNotFound)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	order := inst.book.CancelOrder(orderID)
	if order == nil {
		return domain.OrderSnapshot{}, fmt.Errorf("%s/%s: %w", symbol, orderID, ErrOrderNotFound)
	}
	e.matcher.Release(order)
	e.recordDepth(inst.book)

	return order.Snapshot(), nil
}

// Rest puts an order straight into a book without matching or touching the
// ledger. It is meant for seeding books.
func (e *Engine) Rest(order *domain.Order) {
	inst := e.getOrCreateBook(order.Symbol)
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.book.Insert(order)
}

// View runs fn with exclusive access to a symbol's book. fn must not keep
// references past its return.
func (e *Engine) View(symbol string, fn func(book *orderbook.OrderBook)) bool {
	inst := e.lookup(symbol)
	if inst == nil {
		return false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	fn(inst.book)
	return true
}

// GetL2Snapshot returns an L2 snapshot for a symbol.
func (e *Engine) GetL2Snapshot(symbol string, depth int) *domain.L2OrderBook {
	var snap *domain.L2OrderBook
	if !e.View(symbol, func(book *orderbook.OrderBook) { snap = book.GetL2Snapshot(depth) }) {
		return &domain.L2OrderBook{
			Symbol: symbol,
			Bids:   []domain.PriceLevel{},
			Asks:   []domain.PriceLevel{},
		}
	}
	return snap
}

// RestingOrders returns snapshots of one side of a book in priority order.
func (e *Engine) RestingOrders(symbol string, side domain.Side) []domain.OrderSnapshot {
	out := []domain.OrderSnapshot{}
	e.View(symbol, func(book *orderbook.OrderBook) {
		for _, o := range book.Orders(side) {
			out = append(out, o.Snapshot())
		}
	})
	return out
}

// RestingOrder returns a snapshot of one resting order. An iceberg shows
// only its displayed slice as visible.
func (e *Engine) RestingOrder(symbol, orderID string) (domain.OrderSnapshot, error) {
	var (
		snap  domain.OrderSnapshot
		found bool
	)
	e.View(symbol, func(book *orderbook.OrderBook) {
		if o := book.Get(orderID); o != nil {
			snap, found = o.Snapshot(), true
		}
	})
	if !found {
		return domain.OrderSnapshot{}, fmt.Errorf("%s/%s: %w", symbol, orderID, ErrOrderNotFound)
	}
	return snap, nil
}

// Symbols returns the symbols that have a book.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	return out
}

func (e *Engine) recordDepth(book *orderbook.OrderBook) {
	telemetry.OrderBookDepth.WithLabelValues(book.Symbol, string(domain.SideBuy)).Set(float64(book.Depth(domain.SideBuy)))
	telemetry.OrderBookDepth.WithLabelValues(book.Symbol, string(domain.SideSell)).Set(float64(book.Depth(domain.SideSell)))
}
