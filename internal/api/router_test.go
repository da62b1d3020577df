package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/service"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/strategy"
)

func TestNewRouter(t *testing.T) {
	// Given
	reg := prometheus.NewRegistry()
	orchestrator := service.NewOrchestrator(strategy.NewMockStrategy(time.Millisecond, nil), service.Options{
		Metrics: service.NewMetrics(reg),
	})
	r := NewRouter(Deps{Terminal: orchestrator, Gatherer: reg})

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		contains string
	}{
		{"state", http.MethodGet, "/state", "", http.StatusOK, `"state":"IDLE"`},
		{"health without checker", http.MethodGet, "/health", "", http.StatusOK, `"status":"ok"`},
		{"payment", http.MethodPost, "/transactions", `{"order_ref":"o1","amount_cents":100,"currency":"EUR","display_id":"d1"}`, http.StatusOK, `"success":true`},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, `terminal_transactions_total{outcome="success",provider="MOCK"} 1`},
		{"reset", http.MethodPost, "/reset", "", http.StatusOK, `"state":"IDLE"`},
		{"cancel when idle", http.MethodPost, "/transactions/cancel", "", http.StatusConflict, `"cancelled":false`},
		{"lookup without persistence", http.MethodGet, "/transactions/o1", "", http.StatusNotImplemented, "persistence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)).WithContext(context.Background())
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			// Then
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("expected body to contain %q, got %s", tt.contains, w.Body.String())
			}
		})
	}
}
