package strategy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

// Timings bounds the completion race.
type Timings struct {
	NotificationWait time.Duration
	PollInterval     time.Duration
	PollTimeout      time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		NotificationWait: 10 * time.Second,
		PollInterval:     2 * time.Second,
		PollTimeout:      120 * time.Second,
	}
}

// session holds the single active terminal session of a strategy and the
// abort signal of its completion race.
type session struct {
	mu    sync.Mutex
	id    string
	abort chan struct{}
	once  *sync.Once
}

// begin arms a fresh abort signal for a new transaction.
func (s *session) begin() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.abort = make(chan struct{})
	s.once = &sync.Once{}
	return s.abort
}

func (s *session) set(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *session) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// take returns the active session id and invalidates it.
func (s *session) take() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id
	s.id = ""
	return id
}

func (s *session) clear() {
	s.take()
}

// abortRace signals the race that was armed when the session started.
func (s *session) abortRace() {
	s.mu.Lock()
	abort, once := s.abort, s.once
	s.mu.Unlock()
	if abort == nil {
		return
	}
	once.Do(func() { close(abort) })
}

type statusQuery func(ctx context.Context) (*models.ProviderStatus, error)

type pollResult struct {
	status *models.ProviderStatus
	err    error
}

// completion races a push notification against a delayed status poll loop.
type completion struct {
	subscriber interfaces.NotificationSubscriber
	timings    Timings
	logger     *zap.Logger
}

// await resolves with the first non-pending status from either source. The
// abort channel and ctx reject with CANCELLED; the poll deadline with TIMEOUT.
func (c *completion) await(ctx context.Context, channel string, query statusQuery, abort <-chan struct{}) (*models.ProviderStatus, error) {
	notified := make(chan *models.ProviderStatus, 1)

	unsubscribe, err := c.subscriber.Subscribe(channel, models.EventStatusChanged, func(payload []byte) {
		var status models.ProviderStatus
		if err := json.Unmarshal(payload, &status); err != nil {
			c.logger.Warn("Discarding malformed status notification",
				zap.String("channel", channel),
				zap.Error(err),
			)
			return
		}
		if status.Status == models.ProviderStatusPending {
			return
		}
		select {
		case notified <- &status:
		default:
		}
	})
	if err != nil {
		c.logger.Warn("Notification subscribe failed, relying on polling",
			zap.String("channel", channel),
			zap.Error(err),
		)
		unsubscribe = func() {}
	}
	defer unsubscribe()

	wait := time.NewTimer(c.timings.NotificationWait)
	defer wait.Stop()

	select {
	case status := <-notified:
		return status, nil
	case <-abort:
		return nil, payerr.New(payerr.CodeCancelled, "Transaction cancelled")
	case <-ctx.Done():
		return nil, payerr.Wrap(payerr.CodeCancelled, "Transaction cancelled", ctx.Err())
	case <-wait.C:
	}

	c.logger.Info("No notification received, polling status", zap.String("channel", channel))

	deadline := time.NewTimer(c.timings.PollTimeout)
	defer deadline.Stop()

	for {
		pollCtx, cancelPoll := context.WithCancel(ctx)
		results := make(chan pollResult, 1)
		go func() {
			status, err := query(pollCtx)
			results <- pollResult{status: status, err: err}
		}()

		select {
		case status := <-notified:
			cancelPoll()
			return status, nil
		case <-abort:
			cancelPoll()
			return nil, payerr.New(payerr.CodeCancelled, "Transaction cancelled")
		case <-ctx.Done():
			cancelPoll()
			return nil, payerr.Wrap(payerr.CodeCancelled, "Transaction cancelled", ctx.Err())
		case <-deadline.C:
			cancelPoll()
			return nil, payerr.New(payerr.CodeTimeout, "Payment status polling timed out")
		case res := <-results:
			cancelPoll()
			if res.err != nil {
				c.logger.Debug("Status poll failed, retrying",
					zap.String("channel", channel),
					zap.Error(res.err),
				)
			} else if res.status != nil && res.status.Status != models.ProviderStatusPending {
				return res.status, nil
			}
		}

		interval := time.NewTimer(c.timings.PollInterval)
		select {
		case status := <-notified:
			interval.Stop()
			return status, nil
		case <-abort:
			interval.Stop()
			return nil, payerr.New(payerr.CodeCancelled, "Transaction cancelled")
		case <-ctx.Done():
			interval.Stop()
			return nil, payerr.Wrap(payerr.CodeCancelled, "Transaction cancelled", ctx.Err())
		case <-deadline.C:
			interval.Stop()
			return nil, payerr.New(payerr.CodeTimeout, "Payment status polling timed out")
		case <-interval.C:
		}
	}
}

// toResult maps a provider status onto a caller-facing result.
func toResult(status *models.ProviderStatus, orderRef, sessionID string) *models.PaymentResult {
	orderID := status.OrderID
	if orderID == "" {
		orderID = orderRef
	}
	result := &models.PaymentResult{
		OrderID:       orderID,
		TransactionID: status.TransactionID,
		SessionID:     sessionID,
		Transaction:   status.Transaction,
	}
	if result.TransactionID == "" && status.Transaction != nil {
		result.TransactionID = status.Transaction.TransactionID
	}

	switch status.Status {
	case models.ProviderStatusSuccess:
		result.Success = true
		result.Status = models.StatusSuccess
	case models.ProviderStatusPending:
		result.Status = models.StatusPending
		result.ErrorCode = payerr.FailureTerminalTimeout
		result.ErrorMessage = "Payment was not completed within the allowed time"
	default:
		result.Status = models.StatusFailed
		if status.Error != nil && (status.Error.Code != "" || status.Error.Message != "") {
			result.ErrorCode = payerr.Normalize(status.Error.Code)
			result.ErrorMessage = status.Error.Message
			result.ErrorReference = status.Error.ReferenceError
		} else {
			result.ErrorCode = payerr.FailureSystemUnknown
			result.ErrorMessage = "Transaction failed without error details"
		}
	}
	return result
}

func finalState(result *models.PaymentResult) models.InteractionState {
	if result.Success {
		return models.StateSuccess
	}
	return models.StateFailed
}
