package sequencer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/nathanyu/matching-core/internal/matching"
	"github.com/nathanyu/matching-core/internal/telemetry"
)

// ErrStopped is returned by Submit once the sequencer has been stopped.
var ErrStopped = errors.New("sequencer stopped")

type request struct {
	event *domain.OrderEvent
	reply chan *domain.ExecutionEvent
}

// lane is the single writer for one symbol.
type lane struct {
	symbol string
	in     chan request
}

// Sequencer stamps monotonically increasing sequence IDs on incoming orders,
// then forwards them to the matching engine. It also stamps outbound trades
// with outbound sequence IDs.
//
// Each symbol gets its own lane goroutine, so events for one symbol are
// applied strictly in arrival order while different symbols proceed in
// parallel. Sequence numbers are global across lanes.
type Sequencer struct {
	inboundSeq  atomic.Uint64
	outboundSeq atomic.Uint64
	engine      *matching.Engine
	bufferSize  int

	// ExecutionOut carries every processed event to downstream consumers
	// (trade feed). Lanes block on it, so it must be drained.
	ExecutionOut chan *domain.ExecutionEvent

	mu      sync.Mutex
	lanes   map[string]*lane
	stopped bool

	// observers see every event in execution order, on the lane goroutine,
	// before the submitter gets its reply
	obsMu     sync.RWMutex
	observers []func(*domain.ExecutionEvent)

	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewSequencer creates a new sequencer wired to the given matching engine.
func NewSequencer(engine *matching.Engine, bufferSize int) *Sequencer {
	return &Sequencer{
		engine:       engine,
		bufferSize:   bufferSize,
		ExecutionOut: make(chan *domain.ExecutionEvent, bufferSize),
		lanes:        make(map[string]*lane),
		done:         make(chan struct{}),
		logger:       telemetry.Component("sequencer"),
	}
}

// Stop shuts every lane down and waits for in-flight events to finish.
// ExecutionOut is closed afterwards.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	close(s.ExecutionOut)
	s.logger.Info("stopped",
		slog.Uint64("inbound_seq", s.CurrentInboundSeq()),
		slog.Uint64("outbound_seq", s.CurrentOutboundSeq()))
}

// OnExecution registers fn to run for every processed event. fn runs on the
// symbol's lane, so events of one symbol arrive in the order they were
// applied, and it runs even when the submitter stopped waiting. fn must not
// call Submit.
func (s *Sequencer) OnExecution(fn func(*domain.ExecutionEvent)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Sequencer) laneFor(symbol string) (*lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrStopped
	}
	l, ok := s.lanes[symbol]
	if !ok {
		l = &lane{symbol: symbol, in: make(chan request, s.bufferSize)}
		s.lanes[symbol] = l
		s.wg.Add(1)
		go s.run(l)
	}
	return l, nil
}

// Submit queues an event on its symbol's lane and waits for the result. A
// canceled ctx abandons the wait; an event already queued is still applied
// and still reaches OnExecution observers.
func (s *Sequencer) Submit(ctx context.Context, event *domain.OrderEvent) (*domain.ExecutionEvent, error) {
	l, err := s.laneFor(event.Instrument())
	if err != nil {
		return nil, err
	}

	req := request{event: event, reply: make(chan *domain.ExecutionEvent, 1)}
	select {
	case l.in <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrStopped
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		// lanes drain what they accepted before exiting
		s.wg.Wait()
		select {
		case res := <-req.reply:
			return res, nil
		default:
			return nil, ErrStopped
		}
	}
}

// run is the lane's application loop. Single writer for its symbol.
func (s *Sequencer) run(l *lane) {
	defer s.wg.Done()
	s.logger.Debug("lane started", slog.String("symbol", l.symbol))

	for {
		select {
		case req := <-l.in:
			s.dispatch(req)
		case <-s.done:
			// apply what was accepted before the stop
			for {
				select {
				case req := <-l.in:
					s.dispatch(req)
				default:
					return
				}
			}
		}
	}
}

func (s *Sequencer) dispatch(req request) {
	res := s.processEvent(req.event)

	s.obsMu.RLock()
	for _, fn := range s.observers {
		fn(res)
	}
	s.obsMu.RUnlock()

	req.reply <- res
	s.ExecutionOut <- res
}

// processEvent stamps sequence IDs and dispatches to the matching engine.
func (s *Sequencer) processEvent(event *domain.OrderEvent) *domain.ExecutionEvent {
	seq := s.inboundSeq.Add(1)
	telemetry.SequencerInboundSeq.Set(float64(seq))

	res := &domain.ExecutionEvent{
		Action: event.Action,
		Symbol: event.Instrument(),
	}

	switch event.Action {
	case domain.OrderActionNew:
		event.Order.SequenceID = seq
		res.Result = s.engine.Execute(event.Order)

		for i := range res.Result.Trades {
			res.Result.Trades[i].SequenceID = s.outboundSeq.Add(1)
		}
		res.Trades = res.Result.Trades
		if n := len(res.Trades); n > 0 {
			telemetry.SequencerOutboundSeq.Set(float64(res.Trades[n-1].SequenceID))
		}

	case domain.OrderActionCancel:
		snap, err := s.engine.Cancel(event.Symbol, event.OrderID)
		if err != nil {
			res.Err = err
			break
		}
		res.Canceled = &snap

	default:
		res.Err = errors.New("unknown order action " + string(event.Action))
	}

	return res
}

// ResumeOutbound continues outbound numbering after seq, so trades from a
// previous run that are already journaled keep their IDs. Call it before the
// first Submit.
func (s *Sequencer) ResumeOutbound(seq uint64) {
	s.outboundSeq.Store(seq)
	telemetry.SequencerOutboundSeq.Set(float64(seq))
}

// CurrentInboundSeq returns the current inbound sequence number.
func (s *Sequencer) CurrentInboundSeq() uint64 {
	return s.inboundSeq.Load()
}

// CurrentOutboundSeq returns the current outbound sequence number.
func (s *Sequencer) CurrentOutboundSeq() uint64 {
	return s.outboundSeq.Load()
}
