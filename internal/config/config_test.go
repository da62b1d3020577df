package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "TERMINAL_PROVIDER", "NOTIFIER", "TRANSACTION_TIMEOUT", "VERIFY_ATTEMPTS", "AUTO_RESET_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "8085" {
		t.Errorf("expected default port, got %q", cfg.Port)
	}
	if cfg.Provider != "MOCK" {
		t.Errorf("expected MOCK provider, got %q", cfg.Provider)
	}
	if cfg.Notifier != NotifierNATS {
		t.Errorf("expected nats notifier, got %q", cfg.Notifier)
	}
	if cfg.TransactionTimeout != 60*time.Second || cfg.VerifyAttempts != 3 || cfg.VerifyRetryDelay != 1500*time.Millisecond {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.NotificationWait != 10*time.Second || cfg.PollInterval != 2*time.Second || cfg.PollTimeout != 120*time.Second {
		t.Errorf("unexpected completion timings %+v", cfg)
	}
	if !cfg.AutoResetEnabled {
		t.Error("expected auto-reset enabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TERMINAL_PROVIDER", "viva")
	t.Setenv("TERMINAL_STORE_ID", "42")
	t.Setenv("NOTIFIER", "WebSocket")
	t.Setenv("TRANSACTION_TIMEOUT", "90s")
	t.Setenv("VERIFY_ATTEMPTS", "5")
	t.Setenv("AUTO_RESET_ENABLED", "false")
	t.Setenv("POLL_INTERVAL", "not-a-duration")

	cfg := Load()

	if cfg.Provider != "VIVA" || cfg.StoreID != "42" {
		t.Errorf("unexpected terminal config %+v", cfg)
	}
	if cfg.Notifier != NotifierWebSocket {
		t.Errorf("expected websocket notifier, got %q", cfg.Notifier)
	}
	if cfg.TransactionTimeout != 90*time.Second || cfg.VerifyAttempts != 5 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.AutoResetEnabled {
		t.Error("expected auto-reset disabled")
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("malformed duration should fall back, got %v", cfg.PollInterval)
	}
}

func TestConfig_UsesRedis(t *testing.T) {
	tests := []struct {
		name        string
		notifier    string
		idempotency bool
		want        bool
	}{
		{"redis notifier", NotifierRedis, false, true},
		{"idempotency keys", NotifierNATS, true, true},
		{"nats without idempotency", NotifierNATS, false, false},
		{"websocket without idempotency", NotifierWebSocket, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Notifier: tt.notifier, IdempotencyKeys: tt.idempotency}
			if got := cfg.UsesRedis(); got != tt.want {
				t.Errorf("UsesRedis() = %v, want %v", got, tt.want)
			}
		})
	}
}
