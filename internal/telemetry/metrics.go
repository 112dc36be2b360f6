package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path", "status"},
	)

	// OrdersTotal counts orders by action.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_orders_total",
			Help: "Total number of orders by action",
		},
		[]string{"action", "symbol"},
	)

	// MatchOutcomesTotal counts matching calls by outcome.
	MatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_match_outcomes_total",
			Help: "Matching calls by symbol and outcome",
		},
		[]string{"symbol", "outcome"},
	)

	// TradesTotal counts executed trades.
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_trades_total",
			Help: "Total number of trades by symbol",
		},
		[]string{"symbol"},
	)

	// TradedVolumeTotal sums executed quantity.
	TradedVolumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_traded_volume_total",
			Help: "Total executed quantity by symbol",
		},
		[]string{"symbol"},
	)

	// OrderBookDepth tracks resting order count.
	OrderBookDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_orderbook_depth",
			Help: "Current number of resting orders",
		},
		[]string{"symbol", "side"},
	)

	// SequencerInboundSeq tracks the current inbound sequence number.
	SequencerInboundSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "exchange_sequencer_inbound_seq",
			Help: "Current inbound sequence number",
		},
	)

	// SequencerOutboundSeq tracks the current outbound sequence number.
	SequencerOutboundSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "exchange_sequencer_outbound_seq",
			Help: "Current outbound sequence number",
		},
	)

	// TradeFeedErrorsTotal counts trades a sink failed to take.
	TradeFeedErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_tradefeed_errors_total",
			Help: "Trade feed sink failures",
		},
		[]string{"sink"}, // journal, bus
	)
)
