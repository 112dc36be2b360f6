package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type orderKey struct{}

// WithOrder tags ctx with the order being worked on. Records logged with ctx
// carry it as order_id.
func WithOrder(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderKey{}, orderID)
}

// OrderFrom returns the order id set by WithOrder, if any.
func OrderFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(orderKey{}).(string)
	return id, ok && id != ""
}

// ContextHandler is a JSON slog handler that copies request-scoped values
// (trace and span ids, the order id) from the context into each record.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler writes JSON records to w.
func NewContextHandler(w io.Writer, opts *slog.HandlerOptions) *ContextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ContextHandler{next: slog.NewJSONHandler(w, opts)}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := OrderFrom(ctx); ok {
		record.AddAttrs(slog.String("order_id", id))
	}
	return h.next.Handle(ctx, record)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is the process logger installed by InitLogger.
var Logger *slog.Logger

// InitLogger installs a JSON logger on stdout as the slog default. Every
// record carries the service name and the given attributes (the reservation
// policy, for instance), so logs from differently configured instances can be
// told apart.
func InitLogger(serviceName string, level slog.Level, attrs ...slog.Attr) *slog.Logger {
	Logger = newLogger(os.Stdout, serviceName, level, attrs...)
	slog.SetDefault(Logger)
	return Logger
}

func newLogger(w io.Writer, serviceName string, level slog.Level, attrs ...slog.Attr) *slog.Logger {
	handler := NewContextHandler(w, &slog.HandlerOptions{Level: level})
	base := make([]slog.Attr, 0, len(attrs)+1)
	base = append(base, slog.String("service", serviceName))
	base = append(base, attrs...)
	return slog.New(handler.WithAttrs(base))
}

// Component returns the default logger tagged with a pipeline component
// (engine, sequencer, tradefeed, ...).
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}
