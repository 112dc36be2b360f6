package domain

import (
	"fmt"
	"time"

	"github.com/nathanyu/matching-core/internal/ledger"
)

// Order represents a limit order in the exchange. A positive PeakSize makes
// it an iceberg: while resting, only DisplayedQuantity (at most PeakSize) is
// visible and matchable; the rest of RemainingQuantity stays hidden.
// Prices are integer currency units.
type Order struct {
	OrderID           string      `json:"order_id"`
	Symbol            string      `json:"symbol"`
	Side              Side        `json:"side"`
	Price             int64       `json:"price"`
	Quantity          int64       `json:"quantity"`
	FilledQuantity    int64       `json:"filled_quantity"`
	RemainingQuantity int64       `json:"remaining_quantity"` // hidden + displayed
	PeakSize          int64       `json:"peak_size,omitempty"`
	DisplayedQuantity int64       `json:"displayed_quantity,omitempty"`
	Status            OrderStatus `json:"status"`
	BrokerID          string      `json:"broker_id"`
	ShareholderID     string      `json:"shareholder_id"`
	CreatedAt         time.Time   `json:"created_at"`
	SequenceID        uint64      `json:"sequence_id"`    // inbound sequencer stamp
	EntrySequence     uint64      `json:"entry_sequence"` // time priority inside the book

	Broker      *ledger.Broker      `json:"-"`
	Shareholder *ledger.Shareholder `json:"-"`
}

// NewOrder builds a plain limit order.
func NewOrder(id, symbol string, side Side, quantity, price int64, broker *ledger.Broker, shareholder *ledger.Shareholder) *Order {
	o := &Order{
		OrderID:           id,
		Symbol:            symbol,
		Side:              side,
		Price:             price,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		Status:            OrderStatusNew,
		Broker:            broker,
		Shareholder:       shareholder,
		CreatedAt:         time.Now(),
	}
	if broker != nil {
		o.BrokerID = broker.ID
	}
	if shareholder != nil {
		o.ShareholderID = shareholder.ID
	}
	return o
}

// NewIcebergOrder builds an iceberg order showing at most peakSize at a time.
func NewIcebergOrder(id, symbol string, side Side, quantity, price int64, broker *ledger.Broker, shareholder *ledger.Shareholder, peakSize int64) *Order {
	o := NewOrder(id, symbol, side, quantity, price, broker, shareholder)
	o.PeakSize = peakSize
	return o
}

// IsIceberg reports whether the order hides part of its quantity.
func (o *Order) IsIceberg() bool {
	return o.PeakSize > 0
}

// Visible is the quantity the book may match against right now.
func (o *Order) Visible() int64 {
	if o.IsIceberg() {
		return o.DisplayedQuantity
	}
	return o.RemainingQuantity
}

// Hidden is the part of the remaining quantity not on display.
func (o *Order) Hidden() int64 {
	return o.RemainingQuantity - o.Visible()
}

// NextSlice is what a reveal would display: min(peak, remaining).
func (o *Order) NextSlice() int64 {
	return min(o.PeakSize, o.RemainingQuantity)
}

// Reveal puts the next slice of an iceberg on display once the current one
// is used up. It reports whether a new slice became visible; plain orders
// never reveal.
func (o *Order) Reveal() bool {
	if !o.IsIceberg() || o.DisplayedQuantity > 0 || o.RemainingQuantity == 0 {
		return false
	}
	o.DisplayedQuantity = o.NextSlice()
	return true
}

// Fill consumes quantity from the order. A resting iceberg may only be
// filled out of its displayed slice.
func (o *Order) Fill(quantity int64) {
	if quantity <= 0 || quantity > o.RemainingQuantity {
		panic(fmt.Sprintf("domain: fill %d out of range for order %s with %d remaining", quantity, o.OrderID, o.RemainingQuantity))
	}
	if o.DisplayedQuantity > 0 {
		if quantity > o.DisplayedQuantity {
			panic(fmt.Sprintf("domain: fill %d exceeds displayed %d of iceberg %s", quantity, o.DisplayedQuantity, o.OrderID))
		}
		o.DisplayedQuantity -= quantity
	}

	o.RemainingQuantity -= quantity
	o.FilledQuantity += quantity
	if o.RemainingQuantity == 0 {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
}

// Snapshot captures the order's current state by value.
func (o *Order) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		OrderID:           o.OrderID,
		Symbol:            o.Symbol,
		Side:              o.Side,
		Price:             o.Price,
		Quantity:          o.Quantity,
		RemainingQuantity: o.RemainingQuantity,
		PeakSize:          o.PeakSize,
		DisplayedQuantity: o.DisplayedQuantity,
		Status:            o.Status,
		BrokerID:          o.BrokerID,
		ShareholderID:     o.ShareholderID,
		EntrySequence:     o.EntrySequence,
	}
}

// OrderSnapshot is an immutable copy of an order's state.
type OrderSnapshot struct {
	OrderID           string      `json:"order_id"`
	Symbol            string      `json:"symbol"`
	Side              Side        `json:"side"`
	Price             int64       `json:"price"`
	Quantity          int64       `json:"quantity"`
	RemainingQuantity int64       `json:"remaining_quantity"`
	PeakSize          int64       `json:"peak_size,omitempty"`
	DisplayedQuantity int64       `json:"displayed_quantity,omitempty"`
	Status            OrderStatus `json:"status"`
	BrokerID          string      `json:"broker_id"`
	ShareholderID     string      `json:"shareholder_id"`
	EntrySequence     uint64      `json:"entry_sequence"`
}

// Visible is the quantity the snapshot showed to the book. For an iceberg
// that has not rested yet it is the full remaining quantity.
func (s OrderSnapshot) Visible() int64 {
	if s.PeakSize > 0 && s.DisplayedQuantity > 0 {
		return s.DisplayedQuantity
	}
	return s.RemainingQuantity
}
