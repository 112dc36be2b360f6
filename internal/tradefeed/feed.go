package tradefeed

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nathanyu/matching-core/internal/bus"
	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/nathanyu/matching-core/internal/telemetry"
)

const (
	ringBufferCapacity = 1000
	publishTimeout     = 5 * time.Second
)

// RingBuffer is a fixed-size circular buffer of trades.
type RingBuffer struct {
	data  [ringBufferCapacity]domain.Trade
	head  int // next write position
	count int
}

// Push adds a trade, overwriting the oldest once full.
func (rb *RingBuffer) Push(t domain.Trade) {
	rb.data[rb.head] = t
	rb.head = (rb.head + 1) % ringBufferCapacity
	if rb.count < ringBufferCapacity {
		rb.count++
	}
}

// Len is the number of trades held.
func (rb *RingBuffer) Len() int {
	return rb.count
}

// Each calls fn oldest first until fn returns false.
func (rb *RingBuffer) Each(fn func(domain.Trade) bool) {
	start := (rb.head - rb.count + ringBufferCapacity) % ringBufferCapacity
	for i := range rb.count {
		if !fn(rb.data[(start+i)%ringBufferCapacity]) {
			return
		}
	}
}

// Journal is the durable sink for trades.
type Journal interface {
	AppendBatch(trades []domain.Trade) error
}

// Feed consumes execution events from the sequencer, keeps the most recent
// trades per symbol for queries, journals them and publishes them on the
// bus. Sink failures are logged and counted; they never reach the matcher.
type Feed struct {
	mu     sync.RWMutex
	recent map[string]*RingBuffer

	journal   Journal
	publisher bus.TradePublisher

	done   chan struct{}
	logger *slog.Logger
}

// NewFeed creates a feed. journal may be nil; publisher may be bus.Nop.
func NewFeed(journal Journal, publisher bus.TradePublisher) *Feed {
	if publisher == nil {
		publisher = bus.Nop{}
	}
	return &Feed{
		recent:    make(map[string]*RingBuffer),
		journal:   journal,
		publisher: publisher,
		done:      make(chan struct{}),
		logger:    telemetry.Component("tradefeed"),
	}
}

// Run consumes events until in is closed. It is meant to run in its own
// goroutine; Done is closed when it returns.
func (f *Feed) Run(ctx context.Context, in <-chan *domain.ExecutionEvent) {
	defer close(f.done)
	f.logger.Info("started")

	for event := range in {
		f.processExecutionEvent(ctx, event)
	}
	f.logger.Info("stopped")
}

// Done is closed once Run has drained its input.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Restore puts a previously journaled trade back into the recent-trade
// buffers without writing it to any sink.
func (f *Feed) Restore(t domain.Trade) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.push(t)
}

func (f *Feed) push(t domain.Trade) {
	rb, ok := f.recent[t.Symbol]
	if !ok {
		rb = &RingBuffer{}
		f.recent[t.Symbol] = rb
	}
	rb.Push(t)
}

func (f *Feed) processExecutionEvent(ctx context.Context, event *domain.ExecutionEvent) {
	if len(event.Trades) == 0 {
		return
	}

	f.mu.Lock()
	for _, t := range event.Trades {
		f.push(t)
	}
	f.mu.Unlock()

	if f.journal != nil {
		if err := f.journal.AppendBatch(event.Trades); err != nil {
			telemetry.TradeFeedErrorsTotal.WithLabelValues("journal").Inc()
			f.logger.Error("journal append failed",
				slog.String("symbol", event.Symbol),
				slog.Int("trades", len(event.Trades)),
				slog.Any("error", err))
		}
	}

	for _, t := range event.Trades {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := f.publisher.Publish(pctx, t)
		cancel()
		if err != nil {
			telemetry.TradeFeedErrorsTotal.WithLabelValues("bus").Inc()
			f.logger.WarnContext(telemetry.WithOrder(ctx, t.Taker.OrderID), "trade publish failed",
				slog.String("trade_id", t.TradeID),
				slog.Uint64("sequence_id", t.SequenceID),
				slog.Any("error", err))
		}
	}
}

// GetTrades returns up to count of the most recent trades, oldest first.
// An empty symbol means every symbol; a non-empty orderID keeps trades where
// that order was taker or maker. count <= 0 returns all matches.
func (f *Feed) GetTrades(symbol, orderID string, count int) []domain.Trade {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := []domain.Trade{}
	collect := func(rb *RingBuffer) {
		rb.Each(func(t domain.Trade) bool {
			if orderID == "" || t.Taker.OrderID == orderID || t.Maker.OrderID == orderID {
				result = append(result, t)
			}
			return true
		})
	}

	if symbol != "" {
		if rb, ok := f.recent[symbol]; ok {
			collect(rb)
		}
	} else {
		for _, rb := range f.recent {
			collect(rb)
		}
		// symbols interleave; outbound sequence is global
		slices.SortFunc(result, func(a, b domain.Trade) int {
			return cmp.Compare(a.SequenceID, b.SequenceID)
		})
	}

	if count > 0 && len(result) > count {
		result = result[len(result)-count:]
	}
	return result
}
