package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr      string
	CRDBDSN       string
	MongoURI      string
	RedisAddr     string
	RabbitURL     string
	HoldTTL       time.Duration
	SweepInterval time.Duration
	LockWait      time.Duration
	DedupeWindow  time.Duration
	OTLPEndpoint  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		CRDBDSN:       os.Getenv("CRDB_DSN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		HoldTTL:       getDuration("HOLD_TTL", 10*time.Minute),
		SweepInterval: getDuration("SWEEP_INTERVAL", 30*time.Second),
		LockWait:      getDuration("SEATMAP_LOCK_WAIT", 2*time.Second),
		DedupeWindow:  getDuration("PAYMENT_DEDUPE_WINDOW", time.Hour),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d == 0 {
		return fallback
	}
	return d
}
