package domain

import "time"

// Side represents the order side (buy or sell).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
)

// Outcome classifies the result of one matching call.
type Outcome string

const (
	OutcomeExecuted           Outcome = "EXECUTED"
	OutcomeNotEnoughCredit    Outcome = "NOT_ENOUGH_CREDIT"
	OutcomeNotEnoughPositions Outcome = "NOT_ENOUGH_POSITIONS"
)

// Trade is one execution between an incoming (taker) order and a resting
// (maker) order. Both sides are value snapshots taken at the instant of the
// fill, so later decrements on the live orders do not leak in.
type Trade struct {
	TradeID    string        `json:"trade_id"`
	Symbol     string        `json:"symbol"`
	Price      int64         `json:"price"` // always the maker's price
	Quantity   int64         `json:"quantity"`
	Taker      OrderSnapshot `json:"taker"`
	Maker      OrderSnapshot `json:"maker"`
	Timestamp  time.Time     `json:"timestamp"`
	SequenceID uint64        `json:"sequence_id"`
}

// Value is the currency amount that changes hands.
func (t Trade) Value() int64 {
	return t.Price * t.Quantity
}

// MatchResult is what a single matching call returns. Trades are in
// execution order; Remainder is the incoming order's state after the call.
type MatchResult struct {
	Outcome   Outcome       `json:"outcome"`
	Trades    []Trade       `json:"trades"`
	Remainder OrderSnapshot `json:"remainder"`
}

// Executed reports whether the call committed.
func (r *MatchResult) Executed() bool {
	return r.Outcome == OutcomeExecuted
}

// TradedQuantity sums the quantity of all trades.
func (r *MatchResult) TradedQuantity() int64 {
	var total int64
	for _, t := range r.Trades {
		total += t.Quantity
	}
	return total
}

// L2OrderBook represents an aggregated L2 order book snapshot.
// Quantities are displayed quantities; iceberg hidden size is never shown.
type L2OrderBook struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// PriceLevel represents an aggregated price level in the L2 order book.
type PriceLevel struct {
	Price      int64 `json:"price"`
	Quantity   int64 `json:"quantity"`
	OrderCount int   `json:"order_count"`
}

// OrderAction is the action type sent through the sequencer.
type OrderAction string

const (
	OrderActionNew    OrderAction = "new"
	OrderActionCancel OrderAction = "cancel"
)

// OrderEvent wraps an order with its action for the sequencer pipeline.
// Cancel events only need Symbol and OrderID.
type OrderEvent struct {
	Action  OrderAction
	Order   *Order
	Symbol  string
	OrderID string
}

// Instrument returns the symbol the event targets.
func (e *OrderEvent) Instrument() string {
	if e.Order != nil {
		return e.Order.Symbol
	}
	return e.Symbol
}

// ExecutionEvent is what the sequencer emits downstream for every event.
type ExecutionEvent struct {
	Action OrderAction
	Symbol string
	// Result is set for new orders.
	Result *MatchResult
	// Trades carry outbound sequence IDs and timestamps.
	Trades []Trade
	// Canceled is set for a successful cancel.
	Canceled *OrderSnapshot
	Err      error
}
