package matching

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/nathanyu/matching-core/internal/ledger"
	"github.com/nathanyu/matching-core/internal/orderbook"
)

// ReservationPolicy decides how credit is held for the unfilled part of a
// buy order that goes on to rest in the book.
type ReservationPolicy int

const (
	// ReserveAtLimit charges remainder × limit price as soon as the buy
	// rests. A resting buy that is hit later costs its broker nothing more,
	// and canceling it refunds what is left.
	ReserveAtLimit ReservationPolicy = iota
	// DeferReservation only charges executed quantity. A resting buy is
	// charged when it is hit; the incoming sell is rejected with
	// NOT_ENOUGH_CREDIT if that buyer cannot pay.
	DeferReservation
)

func (p ReservationPolicy) String() string {
	switch p {
	case ReserveAtLimit:
		return "limit"
	case DeferReservation:
		return "deferred"
	default:
		return fmt.Sprintf("ReservationPolicy(%d)", int(p))
	}
}

// ParseReservationPolicy maps a config value to a policy.
func ParseReservationPolicy(s string) (ReservationPolicy, error) {
	switch s {
	case "", "limit":
		return ReserveAtLimit, nil
	case "deferred":
		return DeferReservation, nil
	default:
		return 0, fmt.Errorf("unknown reservation policy %q", s)
	}
}

// fill is one tentative execution recorded while planning.
type fill struct {
	maker    *domain.Order
	price    int64
	quantity int64
	// what happens to the maker once this fill is applied
	removes  bool
	requeues bool
}

// plan is the full outcome of matching an order, computed against a
// read-only view of the book.
type plan struct {
	fills     []fill
	remainder int64
	// debits is every currency amount the commit would take, per broker
	debits map[*ledger.Broker]int64
	// overflow is set when a debit does not fit in int64; no broker can
	// cover it
	overflow bool
}

// Matcher runs the price-time matching algorithm against one book. It holds
// no book or ledger state of its own; callers must give it exclusive access
// to the book and to the initiator's ledger entries for the duration of a
// call.
type Matcher struct {
	policy ReservationPolicy
	now    func() time.Time
}

// NewMatcher creates a matcher with the given reservation policy.
func NewMatcher(policy ReservationPolicy) *Matcher {
	return &Matcher{
		policy: policy,
		now:    time.Now,
	}
}

// Policy returns the reservation policy in force.
func (m *Matcher) Policy() ReservationPolicy {
	return m.policy
}

// Execute matches order against book. Either every planned trade and its
// ledger effects are applied, or nothing is touched and the outcome says
// why.
func (m *Matcher) Execute(book *orderbook.OrderBook, order *domain.Order) *domain.MatchResult {
	p := m.plan(book, order)

	if outcome, ok := m.validate(order, p); !ok {
		return &domain.MatchResult{
			Outcome:   outcome,
			Trades:    []domain.Trade{},
			Remainder: order.Snapshot(),
		}
	}

	trades := m.commit(book, order, p)
	return &domain.MatchResult{
		Outcome:   domain.OutcomeExecuted,
		Trades:    trades,
		Remainder: order.Snapshot(),
	}
}

// crosses reports whether a resting price is acceptable to order.
func crosses(order *domain.Order, restingPrice int64) bool {
	if order.Side == domain.SideBuy {
		return restingPrice <= order.Price
	}
	return restingPrice >= order.Price
}

// slot is the planner's private view of one queue position.
type slot struct {
	order     *domain.Order
	visible   int64
	remaining int64
}

func (m *Matcher) plan(book *orderbook.OrderBook, order *domain.Order) plan {
	p := plan{
		remainder: order.RemainingQuantity,
		debits:    make(map[*ledger.Broker]int64),
	}

	book.ForEachLevel(order.Side.Opposite(), func(price int64, queue []*domain.Order) bool {
		if !crosses(order, price) {
			return false
		}

		slots := make([]slot, len(queue))
		for i, o := range queue {
			slots[i] = slot{order: o, visible: o.Visible(), remaining: o.RemainingQuantity}
		}

		for i := 0; i < len(slots) && p.remainder > 0; i++ {
			s := slots[i]
			if s.visible == 0 {
				continue
			}

			qty := min(p.remainder, s.visible)
			p.remainder -= qty
			s.visible -= qty
			s.remaining -= qty

			f := fill{maker: s.order, price: price, quantity: qty}
			switch {
			case s.remaining == 0:
				f.removes = true
			case s.visible == 0:
				// next iceberg slice goes to the back of this level
				f.requeues = true
				slots = append(slots, slot{
					order:     s.order,
					visible:   min(s.order.PeakSize, s.remaining),
					remaining: s.remaining,
				})
			}
			p.fills = append(p.fills, f)
		}
		return p.remainder > 0
	})

	m.collectDebits(order, &p)
	return p
}

func (m *Matcher) collectDebits(order *domain.Order, p *plan) {
	if order.Side == domain.SideBuy {
		var cost int64
		for _, f := range p.fills {
			p.charge(&cost, f.price, f.quantity)
		}
		if m.policy == ReserveAtLimit {
			p.charge(&cost, order.Price, p.remainder)
		}
		p.debits[order.Broker] = cost
		return
	}

	if m.policy == DeferReservation {
		for _, f := range p.fills {
			debit := p.debits[f.maker.Broker]
			p.charge(&debit, f.price, f.quantity)
			p.debits[f.maker.Broker] = debit
		}
	}
}

// charge adds price × quantity to total, flagging the plan on overflow.
func (p *plan) charge(total *int64, price, quantity int64) {
	value, ok := mulAmount(price, quantity)
	if ok {
		*total, ok = addAmount(*total, value)
	}
	if !ok {
		p.overflow = true
	}
}

// mulAmount multiplies two non-negative amounts, reporting false if the
// product does not fit in int64.
func mulAmount(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

// addAmount adds two non-negative amounts, reporting false on overflow.
func addAmount(a, b int64) (int64, bool) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 || sum > math.MaxInt64 {
		return 0, false
	}
	return int64(sum), true
}

func (m *Matcher) validate(order *domain.Order, p plan) (domain.Outcome, bool) {
	if p.overflow {
		return domain.OutcomeNotEnoughCredit, false
	}
	for broker, amount := range p.debits {
		if !broker.HasEnoughCredit(amount) {
			return domain.OutcomeNotEnoughCredit, false
		}
	}
	if order.Side == domain.SideSell &&
		!order.Shareholder.HasEnoughPositions(order.Symbol, order.RemainingQuantity) {
		return domain.OutcomeNotEnoughPositions, false
	}
	return "", true
}

func (m *Matcher) commit(book *orderbook.OrderBook, order *domain.Order, p plan) []domain.Trade {
	if order.Side == domain.SideSell {
		// executed shares and the hold for the remainder leave together
		order.Shareholder.DecreasePosition(order.Symbol, order.RemainingQuantity)
	}

	now := m.now()
	trades := make([]domain.Trade, 0, len(p.fills))
	for i, f := range p.fills {
		if best := book.BestOpposite(order.Side); best != f.maker {
			panic(fmt.Sprintf("matching %s: plan expected maker %s, book offers %v", order.Symbol, f.maker.OrderID, best))
		}

		trades = append(trades, domain.Trade{
			TradeID:   fmt.Sprintf("%s-exec-%d", order.OrderID, i+1),
			Symbol:    order.Symbol,
			Price:     f.price,
			Quantity:  f.quantity,
			Taker:     order.Snapshot(),
			Maker:     f.maker.Snapshot(),
			Timestamp: now,
		})

		order.Fill(f.quantity)
		book.Shrink(f.maker, f.quantity)
		switch {
		case f.removes:
			book.Remove(f.maker)
		case f.requeues:
			book.Requeue(f.maker)
		}

		m.settle(order, f)
	}

	if order.RemainingQuantity > 0 {
		if order.Side == domain.SideBuy && m.policy == ReserveAtLimit {
			order.Broker.DecreaseCredit(order.RemainingQuantity * order.Price)
		}
		book.Insert(order)
	}
	return trades
}

// settle moves currency and shares for one fill.
func (m *Matcher) settle(taker *domain.Order, f fill) {
	value := f.price * f.quantity
	maker := f.maker

	if taker.Side == domain.SideBuy {
		taker.Broker.DecreaseCredit(value)
		maker.Broker.IncreaseCredit(value)
		taker.Shareholder.IncreasePosition(taker.Symbol, f.quantity)
		// maker's shares were taken when it rested
		return
	}

	if m.policy == DeferReservation {
		maker.Broker.DecreaseCredit(value)
	}
	taker.Broker.IncreaseCredit(value)
	maker.Shareholder.IncreasePosition(taker.Symbol, f.quantity)
}

// Release returns what a resting order still holds once it leaves the book
// without trading: the credit reserved for a buy, the shares held for a sell.
func (m *Matcher) Release(order *domain.Order) {
	if order.RemainingQuantity == 0 {
		return
	}
	switch order.Side {
	case domain.SideBuy:
		if m.policy == ReserveAtLimit && order.Broker != nil {
			order.Broker.IncreaseCredit(order.RemainingQuantity * order.Price)
		}
	case domain.SideSell:
		if order.Shareholder != nil {
			order.Shareholder.IncreasePosition(order.Symbol, order.RemainingQuantity)
		}
	}
}
