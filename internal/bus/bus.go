package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nathanyu/matching-core/internal/domain"
)

// Kinds accepted by New.
const (
	KindNone  = "none"
	KindNATS  = "nats"
	KindKafka = "kafka"
)

// TradePublisher pushes executed trades to an external message bus.
type TradePublisher interface {
	Publish(ctx context.Context, trade domain.Trade) error
	Close() error
}

// Config selects and addresses a bus.
type Config struct {
	Kind         string
	NATSURL      string
	NATSSubject  string
	KafkaBrokers []string
	KafkaTopic   string
}

// New builds the publisher for cfg.Kind.
func New(cfg Config) (TradePublisher, error) {
	switch cfg.Kind {
	case "", KindNone:
		return Nop{}, nil
	case KindNATS:
		return NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
	case KindKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}

// Nop drops every trade.
type Nop struct{}

func (Nop) Publish(context.Context, domain.Trade) error { return nil }
func (Nop) Close() error                                { return nil }

// encode is the wire form shared by every bus: the trade as JSON, keyed by
// symbol so a partitioned bus keeps one symbol's trades in order.
func encode(trade domain.Trade) (key, value []byte, err error) {
	value, err = json.Marshal(trade)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal trade: %w", err)
	}
	return []byte(trade.Symbol), value, nil
}
