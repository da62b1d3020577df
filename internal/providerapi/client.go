package providerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

const (
	pathVivaTransactions = "/v3/payments/viva/transactions"
	pathVivaCancel       = "/v2/payments/viva/transactions/cancel"
	pathVivaRefunds      = "/v1/payments/viva/refunds"
	pathNetsTransactions = "/v1/payments/nets/terminal-transactions"
	pathNetsCancel       = "/v1/payments/nets/terminal-transactions/cancel"
	pathStatus           = "/v1/payments/status"
	pathHealth           = "/health"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("payment API returned %d: %s", e.Status, e.Body)
}

func (e *StatusError) StatusCode() int {
	return e.Status
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Consecutive transport or 5xx failures before the breaker opens.
	FailureThreshold uint32
	OpenTimeout      time.Duration
	// Retries of a POST after a transport error or 5xx. Every retry carries
	// the first attempt's Idempotency-Key. Zero means 2, negative disables.
	Retries    int
	RetryDelay time.Duration
}

// Client talks to the payment backend that fronts the Viva and Nets terminals.
type Client struct {
	baseURL    string
	apiKey     string
	retries    int
	retryDelay time.Duration
	http       *http.Client
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	switch {
	case cfg.Retries == 0:
		cfg.Retries = 2
	case cfg.Retries < 0:
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 300 * time.Millisecond
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		http:       &http.Client{Timeout: cfg.Timeout},
		tracer:     otel.Tracer("terminal-orchestrator/providerapi"),
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "payment-api",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A 4xx is the backend answering; only transport errors and 5xx count.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Status < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

func (c *Client) InitiateViva(ctx context.Context, req models.VivaTransactionRequest) (*models.VivaSession, error) {
	var out models.VivaSession
	if err := c.do(ctx, http.MethodPost, pathVivaTransactions, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelViva(ctx context.Context, req models.VivaCancelRequest) error {
	return c.do(ctx, http.MethodPost, pathVivaCancel, req, nil)
}

func (c *Client) RefundViva(ctx context.Context, req models.VivaRefundRequest) (*models.VivaSession, error) {
	var out models.VivaSession
	if err := c.do(ctx, http.MethodPost, pathVivaRefunds, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) InitiateNets(ctx context.Context, req models.NetsTransactionRequest) (*models.NetsSession, error) {
	var out models.NetsSession
	if err := c.do(ctx, http.MethodPost, pathNetsTransactions, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelNets(ctx context.Context, req models.NetsCancelRequest) error {
	return c.do(ctx, http.MethodPost, pathNetsCancel, req, nil)
}

func (c *Client) GetPaymentStatus(ctx context.Context, q models.StatusQuery) (*models.ProviderStatus, error) {
	params := url.Values{}
	params.Set("businessId", strconv.FormatInt(q.BusinessID, 10))
	params.Set("orderId", q.OrderID)
	params.Set("provider", q.Provider)
	params.Set("referenceId", q.ReferenceID)

	var out models.ProviderStatus
	if err := c.do(ctx, http.MethodGet, pathStatus+"?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping checks that the payment backend answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, pathHealth, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	route := path
	if i := strings.IndexByte(route, '?'); i >= 0 {
		route = route[:i]
	}
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, route), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	// One key per logical call; only POSTs with a body are retried.
	var key string
	retries := 0
	if body != nil {
		key = uuid.NewString()
		retries = c.retries
	}

	attempt := 0
	op := func() error {
		attempt++
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, span, method, path, key, body, out)
		})
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		if err != nil && attempt <= retries {
			c.logger.Debug("Retrying payment API call",
				zap.String("path", route),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(retries)), ctx)
	err := backoff.Retry(op, b)
	span.SetAttributes(attribute.Int("http.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("Payment API call failed",
			zap.String("method", method),
			zap.String("path", route),
			zap.Error(err),
		)
	}
	return err
}

// retryable reports transport failures and 5xx answers. An open breaker,
// a 4xx or a cancelled caller end the call.
func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

func (c *Client) roundTrip(ctx context.Context, span trace.Span, method, path, idempotencyKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(
		semconv.HTTPMethodKey.String(method),
		semconv.HTTPStatusCodeKey.Int(resp.StatusCode),
		attribute.String("http.path", path),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
