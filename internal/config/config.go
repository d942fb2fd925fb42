package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	DatabaseURL              string
	SequenceRetryLimit       int
	DefaultAvgServiceSeconds int
	RateLimitPerMinute       int
	RateLimitBurst           int
	OtelEndpoint             string
	OtelInsecure             bool
	TraceSampleRatio         float64
}

func Load() Config {
	// Missing .env is fine, containers inject env directly.
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                     port,
		DatabaseURL:              os.Getenv("DB_DSN"),
		SequenceRetryLimit:       readInt("SEQUENCE_RETRY_LIMIT", 1000),
		DefaultAvgServiceSeconds: readInt("DEFAULT_AVG_SERVICE_SECONDS", 300),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		OtelEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OtelInsecure:             readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRatio:         readFloat("TRACE_SAMPLE_RATIO", 1.0),
	}
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
