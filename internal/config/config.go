package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	APIPort  string
	LogLevel string

	DetectionAPIURL            string
	DetectionTimeoutSeconds    int
	DetectionBreakerEnabled    bool
	DetectionBreakerMinRequest int
	DetectionBreakerFailRatio  float64
	DetectionBreakerOpenSecs   int

	PostgresDSN string

	NATSURL             string
	NATSRequestSubject  string
	NATSProgressSubject string

	APIRateLimitRPS       float64
	APIRateLimitBurst     int
	APIMaxInFlight        int
	APIBackpressureWaitMS int

	WorkerMetricsPort string
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		DetectionAPIURL:            mustEnv("DETECTION_API_URL", "http://localhost:3001"),
		DetectionTimeoutSeconds:    mustEnvInt("DETECTION_TIMEOUT_SECONDS", 120),
		DetectionBreakerEnabled:    mustEnvBool("DETECTION_BREAKER_ENABLED", true),
		DetectionBreakerMinRequest: mustEnvInt("DETECTION_BREAKER_MIN_REQUESTS", 10),
		DetectionBreakerFailRatio:  failureRatio(),
		DetectionBreakerOpenSecs:   mustEnvInt("DETECTION_BREAKER_OPEN_SECONDS", 30),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSURL:             mustEnv("NATS_URL", ""),
		NATSRequestSubject:  mustEnv("NATS_REQUEST_SUBJECT", "detection.requests"),
		NATSProgressSubject: mustEnv("NATS_PROGRESS_SUBJECT", "detection.progress"),

		APIRateLimitRPS:       mustEnvFloat("API_RATE_LIMIT_RPS", 5),
		APIRateLimitBurst:     mustEnvInt("API_RATE_LIMIT_BURST", 10),
		APIMaxInFlight:        mustEnvInt("API_MAX_IN_FLIGHT", 16),
		APIBackpressureWaitMS: mustEnvInt("API_BACKPRESSURE_WAIT_MS", 250),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

// failureRatio accepts either DETECTION_BREAKER_FAILURE_RATIO (0..1) or the percent form.
func failureRatio() float64 {
	if os.Getenv("DETECTION_BREAKER_FAILURE_RATIO") == "" {
		if pct := mustEnvInt("DETECTION_BREAKER_FAILURE_PERCENT", 0); pct > 0 && pct <= 100 {
			return float64(pct) / 100
		}
	}
	ratio := mustEnvFloat("DETECTION_BREAKER_FAILURE_RATIO", 0.5)
	if ratio <= 0 || ratio > 1 {
		return 0.5
	}
	return ratio
}

func mustEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
