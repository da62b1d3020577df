package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

const (
	defaultTimeout         = 60 * time.Second
	defaultAutoResetDelay  = 5 * time.Second
	defaultVerifyAttempts  = 3
	defaultAttemptTimeout  = 10 * time.Second
	defaultVerifyRetryWait = 1500 * time.Millisecond
	persistTimeout         = 5 * time.Second
)

// AutoResetPolicy returns the orchestrator to IDLE after a terminal state.
// Zero delays fall back to five seconds.
type AutoResetPolicy struct {
	SuccessDelay time.Duration
	FailureDelay time.Duration
}

// VerifyPolicy bounds the status re-verification run during reconciliation.
type VerifyPolicy struct {
	Attempts       int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
}

type Options struct {
	Timeout     time.Duration
	Logger      *zap.Logger
	AutoReset   *AutoResetPolicy
	Verify      VerifyPolicy
	HealthCheck interfaces.HealthChecker
	Persistence interfaces.TransactionStore
	Idempotency interfaces.IdempotencyStore
	Events      interfaces.EventPublisher
	Metrics     *Metrics
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.AutoReset != nil {
		policy := *o.AutoReset
		if policy.SuccessDelay <= 0 {
			policy.SuccessDelay = defaultAutoResetDelay
		}
		if policy.FailureDelay <= 0 {
			policy.FailureDelay = defaultAutoResetDelay
		}
		o.AutoReset = &policy
	}
	if o.Verify.Attempts <= 0 {
		o.Verify.Attempts = defaultVerifyAttempts
	}
	if o.Verify.AttemptTimeout <= 0 {
		o.Verify.AttemptTimeout = defaultAttemptTimeout
	}
	if o.Verify.RetryDelay < 0 {
		o.Verify.RetryDelay = 0
	} else if o.Verify.RetryDelay == 0 {
		o.Verify.RetryDelay = defaultVerifyRetryWait
	}
	return o
}

// CallbackInfo identifies the transaction an intermediate callback refers to.
type CallbackInfo struct {
	OrderRef     string
	RefPaymentID string
}

// TransactionCallbacks are optional lifecycle hooks for one transaction.
// A panicking callback is recovered and logged.
type TransactionCallbacks struct {
	OnConnecting    func(CallbackInfo)
	OnRequiresInput func(CallbackInfo)
	OnProcessing    func(CallbackInfo)
	OnVerifying     func(CallbackInfo)
	OnSuccess       func(*models.PaymentResult)
	OnError         func(*models.PaymentResult)
	OnCancelled     func(*models.PaymentResult)
}

func (c *TransactionCallbacks) forState(state models.InteractionState) func(CallbackInfo) {
	switch state {
	case models.StateConnecting:
		return c.OnConnecting
	case models.StateRequiresInput:
		return c.OnRequiresInput
	case models.StateProcessing:
		return c.OnProcessing
	case models.StateVerifying:
		return c.OnVerifying
	}
	return nil
}
