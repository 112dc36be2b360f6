package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	MetricsPort       string
	ServiceName       string
	LogLevel          string
	ChannelBufferSize int
	Symbols           []string // empty accepts any symbol
	ReservationPolicy string   // limit | deferred
	JournalDir        string   // empty disables the journal
	Bus               BusConfig
	Tracing           TracingConfig
}

type BusConfig struct {
	Kind         string // none | nats | kafka
	NATSURL      string
	NATSSubject  string
	KafkaBrokers []string
	KafkaTopic   string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Environment string
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	bufferSize, err := strconv.Atoi(getEnv("CHANNEL_BUFFER_SIZE", "4096"))
	if err != nil || bufferSize < 0 {
		return nil, fmt.Errorf("CHANNEL_BUFFER_SIZE: invalid value %q", os.Getenv("CHANNEL_BUFFER_SIZE"))
	}
	tracing, err := strconv.ParseBool(getEnv("TRACING_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("TRACING_ENABLED: %w", err)
	}

	return &Config{
		Port:              getEnv("PORT", "8080"),
		MetricsPort:       getEnv("METRICS_PORT", "9090"),
		ServiceName:       getEnv("SERVICE_NAME", "matching-core"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ChannelBufferSize: bufferSize,
		Symbols:           splitList(getEnv("SYMBOLS", "")),
		ReservationPolicy: getEnv("RESERVATION_POLICY", "limit"),
		JournalDir:        getEnv("JOURNAL_DIR", ""),
		Bus: BusConfig{
			Kind:         getEnv("BUS_KIND", "none"),
			NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
			NATSSubject:  getEnv("NATS_SUBJECT", "exchange.trades"),
			KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "exchange.trades"),
		},
		Tracing: TracingConfig{
			Enabled:     tracing,
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
