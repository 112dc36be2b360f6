package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nathanyu/matching-core/internal/domain"
)

// DefaultNATSSubject is the subject prefix trades go out on; the symbol is
// appended as the last token.
const DefaultNATSSubject = "exchange.trades"

// NATSPublisher publishes trades on "<subject>.<symbol>".
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	opts := []nats.Option{
		nats.Name("matching-core"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Subject returns the subject a trade for symbol is published on.
func (p *NATSPublisher) Subject(symbol string) string {
	return p.subject + "." + symbol
}

// Publish sends one trade. NATS core publish is fire-and-forget, so ctx is
// only checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, trade domain.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, data, err := encode(trade)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.Subject(trade.Symbol), data); err != nil {
		return fmt.Errorf("failed to publish trade: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn.Close()
	return err
}
