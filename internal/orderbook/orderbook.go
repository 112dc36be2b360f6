package orderbook

import (
	"container/list"
	"fmt"
	"slices"

	"github.com/nathanyu/matching-core/internal/domain"
)

// orderEntry maps an order to its linked list element for O(1) removal.
type orderEntry struct {
	order   *domain.Order
	element *list.Element
	level   *bookLevel
}

// bookLevel is a price level in one side of the book.
// It holds a doubly-linked list of orders at this price (FIFO by entry sequence).
type bookLevel struct {
	Price       int64
	TotalVolume int64      // displayed quantity only
	Orders      *list.List // of *domain.Order
}

// Book represents one side (buy or sell) of an order book.
type Book struct {
	Side     domain.Side
	LimitMap map[int64]*bookLevel // price -> level
	prices   []int64              // ascending; best is last for buys, first for sells
}

// NewBook creates a new order book side.
func NewBook(side domain.Side) *Book {
	return &Book{
		Side:     side,
		LimitMap: make(map[int64]*bookLevel),
	}
}

// BestPrice returns the best price on this side, or 0 if empty.
func (b *Book) BestPrice() int64 {
	if !b.HasOrders() {
		return 0
	}
	if b.Side == domain.SideBuy {
		return b.prices[len(b.prices)-1]
	}
	return b.prices[0]
}

// HasOrders returns whether this side has any resting orders.
func (b *Book) HasOrders() bool {
	return len(b.prices) > 0
}

// pricesByPriority returns level prices best first.
func (b *Book) pricesByPriority() []int64 {
	out := slices.Clone(b.prices)
	if b.Side == domain.SideBuy {
		slices.Reverse(out)
	}
	return out
}

// addOrder appends an order to the tail of the price level's linked list.
func (b *Book) addOrder(order *domain.Order) (*bookLevel, *list.Element) {
	level, exists := b.LimitMap[order.Price]
	if !exists {
		level = &bookLevel{
			Price:  order.Price,
			Orders: list.New(),
		}
		b.LimitMap[order.Price] = level
		idx, _ := slices.BinarySearch(b.prices, order.Price)
		b.prices = slices.Insert(b.prices, idx, order.Price)
	}

	level.TotalVolume += order.Visible()
	return level, level.Orders.PushBack(order)
}

// removeOrder removes an order from its price level.
func (b *Book) removeOrder(entry *orderEntry) {
	level := entry.level
	level.Orders.Remove(entry.element)
	level.TotalVolume -= entry.order.Visible()

	if level.Orders.Len() == 0 {
		delete(b.LimitMap, level.Price)
		if idx, found := slices.BinarySearch(b.prices, level.Price); found {
			b.prices = slices.Delete(b.prices, idx, idx+1)
		}
	}
}

// OrderBook holds the full two-sided order book for a single symbol.
//
// It is not safe for concurrent use; the matching engine serializes access
// per instrument.
type OrderBook struct {
	Symbol   string
	BuyBook  *Book
	SellBook *Book
	OrderMap map[string]*orderEntry // orderID -> entry for O(1) lookup/cancel

	lastEntrySeq uint64
}

// NewOrderBook creates a new order book for a symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol:   symbol,
		BuyBook:  NewBook(domain.SideBuy),
		SellBook: NewBook(domain.SideSell),
		OrderMap: make(map[string]*orderEntry),
	}
}

// Side returns the book for one side.
func (ob *OrderBook) Side(side domain.Side) *Book {
	if side == domain.SideBuy {
		return ob.BuyBook
	}
	return ob.SellBook
}

func (ob *OrderBook) nextEntrySeq() uint64 {
	ob.lastEntrySeq++
	return ob.lastEntrySeq
}

func (ob *OrderBook) mustEntry(order *domain.Order) *orderEntry {
	entry, exists := ob.OrderMap[order.OrderID]
	if !exists || entry.order != order {
		panic(fmt.Sprintf("orderbook %s: order %s is not resting in the book", ob.Symbol, order.OrderID))
	}
	return entry
}

// BestOpposite returns the highest-priority resting order that an order on
// side would trade against, or nil if that side is empty.
func (ob *OrderBook) BestOpposite(side domain.Side) *domain.Order {
	book := ob.Side(side.Opposite())
	if !book.HasOrders() {
		return nil
	}
	level := book.LimitMap[book.BestPrice()]
	return level.Orders.Front().Value.(*domain.Order)
}

// Insert rests an order at the back of its price level with a fresh entry
// sequence. An iceberg puts its first slice on display.
func (ob *OrderBook) Insert(order *domain.Order) {
	if _, exists := ob.OrderMap[order.OrderID]; exists {
		panic(fmt.Sprintf("orderbook %s: order %s is already resting", ob.Symbol, order.OrderID))
	}

	order.Reveal()
	order.EntrySequence = ob.nextEntrySeq()

	level, elem := ob.Side(order.Side).addOrder(order)
	ob.OrderMap[order.OrderID] = &orderEntry{
		order:   order,
		element: elem,
		level:   level,
	}
}

// Remove takes a resting order out of the book.
func (ob *OrderBook) Remove(order *domain.Order) {
	entry := ob.mustEntry(order)
	ob.Side(order.Side).removeOrder(entry)
	delete(ob.OrderMap, order.OrderID)
}

// Shrink fills quantity out of a resting order's visible quantity in place.
// The order keeps its position.
func (ob *OrderBook) Shrink(order *domain.Order, quantity int64) {
	entry := ob.mustEntry(order)
	if quantity > order.Visible() {
		panic(fmt.Sprintf("orderbook %s: shrink %d exceeds visible %d of order %s", ob.Symbol, quantity, order.Visible(), order.OrderID))
	}
	order.Fill(quantity)
	entry.level.TotalVolume -= quantity
}

// Requeue moves an iceberg whose displayed slice is used up to the back of
// its price level, revealing the next slice under a new entry sequence. It
// loses time priority to everything already at that price.
func (ob *OrderBook) Requeue(order *domain.Order) {
	entry := ob.mustEntry(order)
	if order.Visible() != 0 || order.Hidden() == 0 {
		panic(fmt.Sprintf("orderbook %s: order %s has nothing to reveal", ob.Symbol, order.OrderID))
	}

	level := entry.level
	order.Reveal()
	order.EntrySequence = ob.nextEntrySeq()
	level.Orders.MoveToBack(entry.element)
	level.TotalVolume += order.Visible()
}

// CancelOrder removes an order from the book by ID. Returns the order if found, nil otherwise.
func (ob *OrderBook) CancelOrder(orderID string) *domain.Order {
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return nil
	}

	ob.Side(entry.order.Side).removeOrder(entry)
	delete(ob.OrderMap, orderID)

	entry.order.Status = domain.OrderStatusCanceled
	return entry.order
}

// Get returns a resting order by ID, or nil.
func (ob *OrderBook) Get(orderID string) *domain.Order {
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return nil
	}
	return entry.order
}

// ForEachLevel visits the levels of one side best first, handing fn the
// level's orders in queue order. Returning false stops the walk. fn must not
// mutate the book.
func (ob *OrderBook) ForEachLevel(side domain.Side, fn func(price int64, queue []*domain.Order) bool) {
	book := ob.Side(side)
	for _, price := range book.pricesByPriority() {
		level := book.LimitMap[price]
		queue := make([]*domain.Order, 0, level.Orders.Len())
		for e := level.Orders.Front(); e != nil; e = e.Next() {
			queue = append(queue, e.Value.(*domain.Order))
		}
		if !fn(price, queue) {
			return
		}
	}
}

// Orders returns every resting order on one side in priority order.
func (ob *OrderBook) Orders(side domain.Side) []*domain.Order {
	var out []*domain.Order
	ob.ForEachLevel(side, func(_ int64, queue []*domain.Order) bool {
		out = append(out, queue...)
		return true
	})
	return out
}

// Depth returns the number of resting orders on one side.
func (ob *OrderBook) Depth(side domain.Side) int {
	n := 0
	for _, level := range ob.Side(side).LimitMap {
		n += level.Orders.Len()
	}
	return n
}

// GetL2Snapshot returns an aggregated L2 order book snapshot.
func (ob *OrderBook) GetL2Snapshot(depth int) *domain.L2OrderBook {
	return &domain.L2OrderBook{
		Symbol: ob.Symbol,
		Bids:   aggregateLevels(ob.BuyBook, depth),
		Asks:   aggregateLevels(ob.SellBook, depth),
	}
}

// aggregateLevels collects price levels best first.
func aggregateLevels(book *Book, depth int) []domain.PriceLevel {
	prices := book.pricesByPriority()
	if depth > 0 && len(prices) > depth {
		prices = prices[:depth]
	}

	levels := make([]domain.PriceLevel, len(prices))
	for i, price := range prices {
		level := book.LimitMap[price]
		levels[i] = domain.PriceLevel{
			Price:      price,
			Quantity:   level.TotalVolume,
			OrderCount: level.Orders.Len(),
		}
	}
	return levels
}
