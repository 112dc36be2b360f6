package ordermanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/nathanyu/matching-core/internal/ledger"
	"github.com/nathanyu/matching-core/internal/matching"
	"github.com/nathanyu/matching-core/internal/telemetry"
)

// Request validation errors.
var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrInvalidSide     = errors.New("side must be buy or sell")
	ErrInvalidPeakSize = errors.New("peak size must be between 0 and quantity")
	ErrOrderTooLarge   = errors.New("price times quantity exceeds the supported amount")
	ErrUnknownSymbol   = errors.New("symbol not traded")
	ErrInvalidBalance  = errors.New("balance must not be negative")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderClosed     = errors.New("order is no longer open")
)

// Submitter delivers events to the matching pipeline and waits for the result.
// OnExecution observers must see every applied event, per symbol in the order
// it was applied, whether or not its submitter is still waiting.
type Submitter interface {
	Submit(ctx context.Context, event *domain.OrderEvent) (*domain.ExecutionEvent, error)
	OnExecution(fn func(*domain.ExecutionEvent))
}

// PlaceOrderRequest is a new limit order as the API receives it.
type PlaceOrderRequest struct {
	Symbol        string
	Side          domain.Side
	Price         int64
	Quantity      int64
	PeakSize      int64 // 0 for a plain order
	BrokerID      string
	ShareholderID string
}

// Manager is the request-level gateway in front of the matching pipeline. It
// validates requests, resolves ledger accounts, assigns order IDs and keeps
// the last known state of every accepted order.
type Manager struct {
	mu     sync.RWMutex
	orders map[string]domain.OrderSnapshot // orderID -> last known state

	registry  *ledger.Registry
	submitter Submitter
	symbols   map[string]struct{} // empty means any symbol

	logger *slog.Logger
}

// NewManager creates a new order manager. An empty symbols list accepts any
// instrument.
func NewManager(registry *ledger.Registry, submitter Submitter, symbols []string) *Manager {
	allowed := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		allowed[s] = struct{}{}
	}
	m := &Manager{
		orders:    make(map[string]domain.OrderSnapshot),
		registry:  registry,
		submitter: submitter,
		symbols:   allowed,
		logger:    telemetry.Component("ordermanager"),
	}
	submitter.OnExecution(m.processExecutionEvent)
	return m
}

func (m *Manager) validate(req PlaceOrderRequest) error {
	switch {
	case req.Quantity <= 0:
		return ErrInvalidQuantity
	case req.Price <= 0:
		return ErrInvalidPrice
	case !req.Side.Valid():
		return ErrInvalidSide
	case req.PeakSize < 0 || req.PeakSize > req.Quantity:
		return ErrInvalidPeakSize
	case req.Price > math.MaxInt64/req.Quantity:
		return ErrOrderTooLarge
	}
	if len(m.symbols) > 0 {
		if _, ok := m.symbols[req.Symbol]; !ok {
			return fmt.Errorf("%s: %w", req.Symbol, ErrUnknownSymbol)
		}
	} else if req.Symbol == "" {
		return ErrUnknownSymbol
	}
	return nil
}

// PlaceOrder validates a request and runs it through matching. Financing
// rejections come back as a result with a non-EXECUTED outcome, not as an
// error.
func (m *Manager) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.MatchResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "ordermanager.PlaceOrder",
		trace.WithAttributes(
			attribute.String("order.symbol", req.Symbol),
			attribute.String("order.side", string(req.Side)),
			attribute.Int64("order.quantity", req.Quantity),
		),
	)
	defer span.End()

	result, err := m.placeOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order.id", result.Remainder.OrderID),
		attribute.String("match.outcome", string(result.Outcome)),
		attribute.Int("match.trades", len(result.Trades)),
	)
	return result, nil
}

func (m *Manager) placeOrder(ctx context.Context, req PlaceOrderRequest) (*domain.MatchResult, error) {
	if err := m.validate(req); err != nil {
		return nil, err
	}

	broker, err := m.registry.Broker(req.BrokerID)
	if err != nil {
		return nil, err
	}
	shareholder, err := m.registry.Shareholder(req.ShareholderID)
	if err != nil {
		return nil, err
	}

	order := domain.NewIcebergOrder(uuid.New().String(), req.Symbol, req.Side, req.Quantity, req.Price, broker, shareholder, req.PeakSize)
	ctx = telemetry.WithOrder(ctx, order.OrderID)
	telemetry.OrdersTotal.WithLabelValues(string(domain.OrderActionNew), req.Symbol).Inc()

	res, err := m.submitter.Submit(ctx, &domain.OrderEvent{Action: domain.OrderActionNew, Order: order})
	if err != nil {
		return nil, fmt.Errorf("submit order %s: %w", order.OrderID, err)
	}

	result := res.Result

	m.logger.InfoContext(ctx, "order processed",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("outcome", string(result.Outcome)),
		slog.Int("trades", len(result.Trades)),
		slog.Int64("remaining", result.Remainder.RemainingQuantity))

	return result, nil
}

// processExecutionEvent updates tracked order state from the pipeline. It
// runs on the sequencer lane, so a symbol's events arrive in execution order.
// Rejected orders never reached the book and are not tracked.
func (m *Manager) processExecutionEvent(event *domain.ExecutionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Action {
	case domain.OrderActionNew:
		result := event.Result
		if result == nil || !result.Executed() {
			return
		}
		m.orders[result.Remainder.OrderID] = result.Remainder
		for _, t := range result.Trades {
			maker, ok := m.orders[t.Maker.OrderID]
			if !ok {
				maker = t.Maker
			}
			m.orders[t.Maker.OrderID] = afterFill(maker, t.Quantity)
		}

	case domain.OrderActionCancel:
		if event.Canceled != nil {
			m.orders[event.Canceled.OrderID] = *event.Canceled
		}
	}
}

// afterFill derives a maker's state once quantity has been taken from the
// snapshot it had at the trade.
func afterFill(s domain.OrderSnapshot, quantity int64) domain.OrderSnapshot {
	s.RemainingQuantity -= quantity
	if s.PeakSize > 0 {
		s.DisplayedQuantity -= quantity
		if s.DisplayedQuantity <= 0 {
			s.DisplayedQuantity = min(s.PeakSize, s.RemainingQuantity)
		}
	}
	if s.RemainingQuantity == 0 {
		s.Status = domain.OrderStatusFilled
	} else {
		s.Status = domain.OrderStatusPartiallyFilled
	}
	return s
}

// CancelOrder removes a resting order and releases what it held.
func (m *Manager) CancelOrder(ctx context.Context, symbol, orderID string) (domain.OrderSnapshot, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "ordermanager.CancelOrder",
		trace.WithAttributes(
			attribute.String("order.symbol", symbol),
			attribute.String("order.id", orderID),
		),
	)
	defer span.End()

	snap, err := m.cancelOrder(ctx, symbol, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return snap, err
}

func (m *Manager) cancelOrder(ctx context.Context, symbol, orderID string) (domain.OrderSnapshot, error) {
	ctx = telemetry.WithOrder(ctx, orderID)
	m.mu.RLock()
	known, exists := m.orders[orderID]
	m.mu.RUnlock()

	if !exists || known.Symbol != symbol {
		return domain.OrderSnapshot{}, fmt.Errorf("%s/%s: %w", symbol, orderID, ErrOrderNotFound)
	}
	if known.Status == domain.OrderStatusFilled || known.Status == domain.OrderStatusCanceled {
		return domain.OrderSnapshot{}, fmt.Errorf("order %s is %s: %w", orderID, known.Status, ErrOrderClosed)
	}

	telemetry.OrdersTotal.WithLabelValues(string(domain.OrderActionCancel), symbol).Inc()
	res, err := m.submitter.Submit(ctx, &domain.OrderEvent{
		Action:  domain.OrderActionCancel,
		Symbol:  symbol,
		OrderID: orderID,
	})
	if err != nil {
		return domain.OrderSnapshot{}, fmt.Errorf("submit cancel %s: %w", orderID, err)
	}
	if res.Err != nil {
		if errors.Is(res.Err, matching.ErrOrderNotFound) {
			// filled before the cancel reached the book
			return domain.OrderSnapshot{}, fmt.Errorf("order %s: %w", orderID, ErrOrderClosed)
		}
		return domain.OrderSnapshot{}, res.Err
	}

	m.logger.InfoContext(ctx, "order canceled",
		slog.String("symbol", symbol),
		slog.Int64("released", res.Canceled.RemainingQuantity))
	return *res.Canceled, nil
}

// GetOrder returns the last known state of an accepted order.
func (m *Manager) GetOrder(orderID string) (domain.OrderSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.orders[orderID]
	if !ok {
		return domain.OrderSnapshot{}, fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
	}
	return snap, nil
}

// RegisterBroker opens a broker account with starting credit.
func (m *Manager) RegisterBroker(id string, credit int64) (*ledger.Broker, error) {
	if credit < 0 {
		return nil, ErrInvalidBalance
	}
	b, err := m.registry.RegisterBroker(id, credit)
	if err != nil {
		return nil, err
	}
	m.logger.Info("broker registered", slog.String("broker_id", id), slog.Int64("credit", credit))
	return b, nil
}

// RegisterShareholder opens a shareholder account with starting positions.
func (m *Manager) RegisterShareholder(id string, positions map[string]int64) (*ledger.Shareholder, error) {
	for _, qty := range positions {
		if qty < 0 {
			return nil, ErrInvalidBalance
		}
	}
	sh, err := m.registry.RegisterShareholder(id, positions)
	if err != nil {
		return nil, err
	}
	m.logger.Info("shareholder registered", slog.String("shareholder_id", id), slog.Int("instruments", len(positions)))
	return sh, nil
}

// Broker looks up a broker account.
func (m *Manager) Broker(id string) (*ledger.Broker, error) {
	return m.registry.Broker(id)
}

// BrokerIDs lists registered brokers.
func (m *Manager) BrokerIDs() []string {
	return m.registry.BrokerIDs()
}

// Shareholder looks up a shareholder account.
func (m *Manager) Shareholder(id string) (*ledger.Shareholder, error) {
	return m.registry.Shareholder(id)
}
