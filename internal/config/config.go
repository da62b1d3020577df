package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	NotifierNATS      = "nats"
	NotifierRedis     = "redis"
	NotifierWebSocket = "websocket"
)

type Config struct {
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	NatsURL        string
	JaegerEndpoint string
	Port           string

	// Terminal
	Provider string
	KioskID  string
	StoreID  string

	PaymentAPIURL    string
	PaymentAPIKey    string
	PaymentAPIWSURL  string
	Notifier         string
	APITimeout       time.Duration
	APIRetries       int
	BreakerThreshold uint32

	TransactionTimeout time.Duration
	AutoResetSuccess   time.Duration
	AutoResetFailure   time.Duration
	AutoResetEnabled   bool

	NotificationWait time.Duration
	PollInterval     time.Duration
	PollTimeout      time.Duration

	VerifyAttempts       int
	VerifyAttemptTimeout time.Duration
	VerifyRetryDelay     time.Duration

	HealthTimeout   time.Duration
	RecoverOnStart  bool
	IdempotencyKeys bool
}

// Load reads a .env file when present and then the process environment.
// Malformed values fall back to their defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getEnv("REDIS_URL", "localhost:6379"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		NatsURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
		Port:           getEnv("PORT", "8085"),

		Provider: strings.ToUpper(getEnv("TERMINAL_PROVIDER", "MOCK")),
		KioskID:  os.Getenv("TERMINAL_KIOSK_ID"),
		StoreID:  os.Getenv("TERMINAL_STORE_ID"),

		PaymentAPIURL:    getEnv("PAYMENT_API_URL", "http://localhost:8080"),
		PaymentAPIKey:    os.Getenv("PAYMENT_API_KEY"),
		PaymentAPIWSURL:  os.Getenv("PAYMENT_API_WS_URL"),
		Notifier:         strings.ToLower(getEnv("NOTIFIER", NotifierNATS)),
		APITimeout:       getDuration("PAYMENT_API_TIMEOUT", 15*time.Second),
		APIRetries:       getInt("PAYMENT_API_RETRIES", 2),
		BreakerThreshold: uint32(getInt("PAYMENT_API_BREAKER_THRESHOLD", 5)),

		TransactionTimeout: getDuration("TRANSACTION_TIMEOUT", 60*time.Second),
		AutoResetSuccess:   getDuration("AUTO_RESET_SUCCESS_DELAY", 5*time.Second),
		AutoResetFailure:   getDuration("AUTO_RESET_FAILURE_DELAY", 5*time.Second),
		AutoResetEnabled:   getBool("AUTO_RESET_ENABLED", true),

		NotificationWait: getDuration("NOTIFICATION_WAIT", 10*time.Second),
		PollInterval:     getDuration("POLL_INTERVAL", 2*time.Second),
		PollTimeout:      getDuration("POLL_TIMEOUT", 120*time.Second),

		VerifyAttempts:       getInt("VERIFY_ATTEMPTS", 3),
		VerifyAttemptTimeout: getDuration("VERIFY_ATTEMPT_TIMEOUT", 10*time.Second),
		VerifyRetryDelay:     getDuration("VERIFY_RETRY_DELAY", 1500*time.Millisecond),

		HealthTimeout:   getDuration("HEALTH_TIMEOUT", 3*time.Second),
		RecoverOnStart:  getBool("RECOVER_ON_START", true),
		IdempotencyKeys: getBool("IDEMPOTENCY_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// UsesRedis reports whether any component is configured to talk to Redis.
func (c *Config) UsesRedis() bool {
	return c.Notifier == NotifierRedis || c.IdempotencyKeys
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}
