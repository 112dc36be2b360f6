package matching

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/nathanyu/matching-core/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id string, symbol string, side domain.Side, price, qty int64, broker *ledger.Broker, sh *ledger.Shareholder) *domain.Order {
	return domain.NewOrder(id, symbol, side, qty, price, broker, sh)
}

func TestEngine_NewOrder_NoMatch(t *testing.T) {
	engine := NewEngine(ReserveAtLimit)
	broker := ledger.NewBroker("b1", 0)
	sh := ledger.NewShareholder("s1")
	sh.IncreasePosition("AAPL", 1000)

	order := newOrder("o1", "AAPL", domain.SideSell, 10010, 1000, broker, sh)
	result := engine.Execute(order)

	require.NotNil(t, result)
	assert.Equal(t, domain.OutcomeExecuted, result.Outcome)
	assert.Empty(t, result.Trades)
	assert.Equal(t, int64(1000), result.Remainder.RemainingQuantity)

	// Order should be resting in the book
	snap := engine.GetL2Snapshot("AAPL", 5)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, int64(1000), snap.Asks[0].Quantity)
	assert.Equal(t, int64(0), sh.Position("AAPL"))
}

func TestEngine_NewOrder_Match(t *testing.T) {
	engine := NewEngine(ReserveAtLimit)
	seller := ledger.NewBroker("seller", 0)
	buyer := ledger.NewBroker("buyer", 10_000_000)
	sh := ledger.NewShareholder("s1")
	sh.IncreasePosition("AAPL", 1000)

	engine.Execute(newOrder("s1", "AAPL", domain.SideSell, 10010, 1000, seller, sh))

	buy := newOrder("b1", "AAPL", domain.SideBuy, 10010, 200, buyer, sh)
	result := engine.Execute(buy)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, int64(200), result.Trades[0].Quantity)
	assert.Equal(t, int64(10010), result.Trades[0].Price)
	assert.Equal(t, domain.OrderStatusFilled, buy.Status)
	assert.Equal(t, int64(200*10010), seller.Credit())
	assert.Equal(t, int64(10_000_000-200*10010), buyer.Credit())

	// Sell should have 800 remaining
	snap := engine.GetL2Snapshot("AAPL", 5)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, int64(800), snap.Asks[0].Quantity)
}

func TestEngine_Rejected(t *testing.T) {
	engine := NewEngine(ReserveAtLimit)
	broker := ledger.NewBroker("b1", 100)
	sh := ledger.NewShareholder("s1")

	result := engine.Execute(newOrder("b1", "AAPL", domain.SideBuy, 10010, 10, broker, sh))

	assert.Equal(t, domain.OutcomeNotEnoughCredit, result.Outcome)
	assert.Empty(t, engine.GetL2Snapshot("AAPL", 5).Bids)
	assert.Equal(t, int64(100), broker.Credit())
}

func TestEngine_CancelOrder(t *testing.T) {
	engine := NewEngine(ReserveAtLimit)
	broker := ledger.NewBroker("b1", 0)
	sh := ledger.NewShareholder("s1")
	sh.IncreasePosition("AAPL", 1000)

	engine.Execute(newOrder("s1", "AAPL", domain.SideSell, 10010, 1000, broker, sh))
	require.Equal(t, int64(0), sh.Position("AAPL"))

	canceled, err := engine.Cancel("AAPL", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, canceled.Status)
	assert.Equal(t, int64(1000), sh.Position("AAPL"))

	snap := engine.GetL2Snapshot("AAPL", 5)
	assert.Empty(t, snap.Asks)

	_, err = engine.Cancel("AAPL", "s1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = engine.Cancel("MSFT", "s1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestEngine_CancelRefundsReservedCredit(t *testing.T) {
	engine := NewEngine(ReserveAtLimit)
	broker := ledger.NewBroker("b1", 1_000_000)
	seller := ledger.NewBroker("b2", 0)
	sh := ledger.NewShareholder("s1")
	sh.IncreasePosition("AAPL", 30)

	engine.Execute(newOrder("buy", "AAPL", domain.SideBuy, 1000, 100, broker, sh))
	assert.Equal(t, int64(900_000), broker.Credit())

	engine.Execute(newOrder("sell", "AAPL", domain.SideSell, 1000, 30, seller, sh))
	assert.Equal(t, int64(900_000), broker.Credit(), "fill against a reserved buy costs nothing more")

	_, err := engine.Cancel("AAPL", "buy")
	require.NoError(t, err)
	assert.Equal(t, int64(970_000), broker.Credit())
	assert.Equal(t, int64(30_000), seller.Credit())
}

func TestEngine_MultipleSymbols(t *testing.T) {
	engine := NewEngine(ReserveAtLimit)
	broker := ledger.NewBroker("b1", 0)
	sh := ledger.NewShareholder("s1")
	sh.IncreasePosition("AAPL", 100)
	sh.IncreasePosition("GOOG", 100)

	engine.Execute(newOrder("a1", "AAPL", domain.SideSell, 10010, 100, broker, sh))
	engine.Execute(newOrder("g1", "GOOG", domain.SideSell, 20010, 100, broker, sh))

	assert.Len(t, engine.GetL2Snapshot("AAPL", 5).Asks, 1)
	assert.Len(t, engine.GetL2Snapshot("GOOG", 5).Asks, 1)
	assert.ElementsMatch(t, []string{"AAPL", "GOOG"}, engine.Symbols())

	resting := engine.RestingOrders("GOOG", domain.SideSell)
	require.Len(t, resting, 1)
	assert.Equal(t, "g1", resting[0].OrderID)
	assert.Empty(t, engine.RestingOrders("MSFT", domain.SideSell))
	assert.Empty(t, engine.GetL2Snapshot("MSFT", 5).Bids)
}

func TestEngine_Rest(t *testing.T) {
	engine := NewEngine(ReserveAtLimit)
	broker := ledger.NewBroker("b1", 0)
	sh := ledger.NewShareholder("s1")

	engine.Rest(newOrder("seed", "AAPL", domain.SideSell, 500, 10, broker, sh))

	snap := engine.GetL2Snapshot("AAPL", 5)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, int64(10), snap.Asks[0].Quantity)
	assert.Equal(t, int64(0), sh.Position("AAPL"))
}

func TestEngine_RestingOrder(t *testing.T) {
	engine := NewEngine(ReserveAtLimit)
	sh := ledger.NewShareholder("s1")
	ice := domain.NewIcebergOrder("ice", "AAPL", domain.SideSell, 300, 500, ledger.NewBroker("b1", 0), sh, 40)
	engine.Rest(ice)

	snap, err := engine.RestingOrder("AAPL", "ice")
	require.NoError(t, err)
	assert.Equal(t, int64(300), snap.RemainingQuantity)
	assert.Equal(t, int64(40), snap.Visible())

	_, err = engine.RestingOrder("AAPL", "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = engine.RestingOrder("GOOG", "ice")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// TestEngine_ConcurrentConservation runs orders on two symbols from many
// goroutines. Currency and shares only ever move between accounts, so once
// every resting order is canceled the totals must be back where they began.
func TestEngine_ConcurrentConservation(t *testing.T) {
	for _, policy := range []ReservationPolicy{ReserveAtLimit, DeferReservation} {
		t.Run(policy.String(), func(t *testing.T) {
			engine := NewEngine(policy)
			symbols := []string{"AAA", "BBB"}

			const accounts = 4
			const startCredit = 50_000_000
			const startPosition = 5_000
			brokers := make([]*ledger.Broker, accounts)
			holders := make([]*ledger.Shareholder, accounts)
			for i := range accounts {
				brokers[i] = ledger.NewBroker(fmt.Sprintf("b%d", i), startCredit)
				holders[i] = ledger.NewShareholder(fmt.Sprintf("s%d", i))
				for _, s := range symbols {
					holders[i].IncreasePosition(s, startPosition)
				}
			}

			var wg sync.WaitGroup
			for g := range 8 {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					rng := rand.New(rand.NewPCG(uint64(g), 99))
					for i := range 200 {
						side := domain.SideBuy
						if rng.IntN(2) == 0 {
							side = domain.SideSell
						}
						who := rng.IntN(accounts)
						order := domain.NewIcebergOrder(
							fmt.Sprintf("g%d-%d", g, i),
							symbols[rng.IntN(len(symbols))],
							side,
							int64(1+rng.IntN(50)),
							int64(95+rng.IntN(11)),
							brokers[who],
							holders[who],
							int64(rng.IntN(3)*5),
						)
						engine.Execute(order)
					}
				}(g)
			}
			wg.Wait()

			for _, s := range symbols {
				for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
					for _, o := range engine.RestingOrders(s, side) {
						_, err := engine.Cancel(s, o.OrderID)
						require.NoError(t, err)
					}
				}
			}

			var credit int64
			for _, b := range brokers {
				assert.GreaterOrEqual(t, b.Credit(), int64(0))
				credit += b.Credit()
			}
			assert.Equal(t, int64(accounts*startCredit), credit)

			for _, s := range symbols {
				var position int64
				for _, h := range holders {
					position += h.Position(s)
				}
				assert.Equal(t, int64(accounts*startPosition), position, s)
			}
		})
	}
}
