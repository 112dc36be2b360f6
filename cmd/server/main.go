package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nathanyu/matching-core/internal/bus"
	"github.com/nathanyu/matching-core/internal/config"
	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/nathanyu/matching-core/internal/handler"
	"github.com/nathanyu/matching-core/internal/journal"
	"github.com/nathanyu/matching-core/internal/ledger"
	"github.com/nathanyu/matching-core/internal/matching"
	"github.com/nathanyu/matching-core/internal/middleware"
	"github.com/nathanyu/matching-core/internal/ordermanager"
	"github.com/nathanyu/matching-core/internal/sequencer"
	"github.com/nathanyu/matching-core/internal/telemetry"
	"github.com/nathanyu/matching-core/internal/tradefeed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := telemetry.InitLogger(cfg.ServiceName, telemetry.ParseLevel(cfg.LogLevel),
		slog.String("reservation_policy", cfg.ReservationPolicy))
	logger.Info("starting matching service",
		slog.String("port", cfg.Port),
		slog.String("bus", cfg.Bus.Kind),
		slog.Any("symbols", cfg.Symbols))

	if cfg.Tracing.Enabled {
		cleanup, err := telemetry.InitTracer(telemetry.TracerConfig{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.Tracing.Endpoint,
			Environment: cfg.Tracing.Environment,
		})
		if err != nil {
			logger.Error("failed to initialize tracer", slog.Any("error", err))
			os.Exit(1)
		}
		defer cleanup()
	}

	policy, err := matching.ParseReservationPolicy(cfg.ReservationPolicy)
	if err != nil {
		logger.Error("invalid reservation policy", slog.Any("error", err))
		os.Exit(1)
	}

	// --- Core components ---

	// Matching engine (per-symbol books, each behind its own lock)
	engine := matching.NewEngine(policy)

	// Sequencer (one lane per symbol, stamps sequence IDs, feeds the engine)
	seq := sequencer.NewSequencer(engine, cfg.ChannelBufferSize)

	// Trade sinks
	var store *journal.Journal
	if cfg.JournalDir != "" {
		store, err = journal.Open(cfg.JournalDir)
		if err != nil {
			logger.Error("failed to open trade journal", slog.Any("error", err))
			os.Exit(1)
		}
	}

	publisher, err := bus.New(bus.Config{
		Kind:         cfg.Bus.Kind,
		NATSURL:      cfg.Bus.NATSURL,
		NATSSubject:  cfg.Bus.NATSSubject,
		KafkaBrokers: cfg.Bus.KafkaBrokers,
		KafkaTopic:   cfg.Bus.KafkaTopic,
	})
	if err != nil {
		logger.Error("failed to connect trade bus", slog.Any("error", err))
		os.Exit(1)
	}

	// Trade feed (recent trades, journal, bus)
	var feed *tradefeed.Feed
	if store != nil {
		feed = tradefeed.NewFeed(store, publisher)
		if err := restore(store, seq, feed); err != nil {
			logger.Error("failed to replay trade journal", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		feed = tradefeed.NewFeed(nil, publisher)
	}

	// Order manager (validation, accounts, order state)
	manager := ordermanager.NewManager(ledger.NewRegistry(), seq, cfg.Symbols)

	// --- Wire channels ---
	//
	// API Handler → Order Manager → Sequencer lane → Matching Engine
	//                                    ↓
	// Trade Feed (journal, bus) ← [ExecutionOut]
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	go feed.Run(feedCtx, seq.ExecutionOut)

	// --- HTTP Server ---
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing())
	r.Use(middleware.PrometheusMiddleware())

	h := handler.NewHandler(manager, engine, feed)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// --- Metrics Server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server listening", slog.String("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	go func() {
		logger.Info("HTTP server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// stop taking requests, then let the pipeline drain into the sinks
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", slog.Any("error", err))
	}
	seq.Stop()
	<-feed.Done()

	if err := publisher.Close(); err != nil {
		logger.Error("trade bus close error", slog.Any("error", err))
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("trade journal close error", slog.Any("error", err))
		}
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown error", slog.Any("error", err))
	}

	logger.Info("matching service stopped")
}

// restore reloads journaled trades into the feed and continues outbound
// numbering after the last one.
func restore(store *journal.Journal, seq *sequencer.Sequencer, feed *tradefeed.Feed) error {
	last, err := store.LastSequence()
	if err != nil {
		return err
	}
	seq.ResumeOutbound(last)

	var n int
	err = store.Replay(0, func(t domain.Trade) error {
		n++
		feed.Restore(t)
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("trade journal replayed", slog.Int("trades", n), slog.Uint64("last_sequence", last))
	return nil
}
