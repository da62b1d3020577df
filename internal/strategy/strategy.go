package strategy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

type Option func(*options)

type options struct {
	logger  *zap.Logger
	timings Timings
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithTimings(t Timings) Option {
	return func(o *options) { o.timings = t }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), timings: DefaultTimings()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// terminal carries the state shared by the cloud-terminal strategies.
type terminal struct {
	provider   string
	api        interfaces.PaymentAPI
	config     models.TerminalConfig
	businessID int64
	session    session
	completion completion
	logger     *zap.Logger
}

func newTerminal(provider string, api interfaces.PaymentAPI, sub interfaces.NotificationSubscriber, cfg models.TerminalConfig, opts []Option) (*terminal, error) {
	if api == nil || sub == nil {
		return nil, payerr.New(payerr.CodeMissingConfig, provider+" strategy requires an API client and a notification subscriber")
	}
	businessID, err := strconv.ParseInt(strings.TrimSpace(cfg.StoreID), 10, 64)
	if err != nil {
		return nil, payerr.Wrap(payerr.CodeMissingConfig, "store id must be numeric", err)
	}
	o := buildOptions(opts)
	logger := o.logger.With(zap.String("provider", provider))
	return &terminal{
		provider:   provider,
		api:        api,
		config:     cfg,
		businessID: businessID,
		completion: completion{subscriber: sub, timings: o.timings, logger: logger},
		logger:     logger,
	}, nil
}

func (t *terminal) Provider() string {
	return t.provider
}

func (t *terminal) statusQuery(orderRef, sessionID string) models.StatusQuery {
	return models.StatusQuery{
		BusinessID:  t.businessID,
		OrderID:     orderRef,
		Provider:    strings.ToLower(t.provider),
		ReferenceID: sessionID,
	}
}

// complete reports the acknowledged session and runs the completion race for it.
func (t *terminal) complete(ctx context.Context, channel, orderRef, sessionID string, abort <-chan struct{}, onState models.StateChangeFunc) (*models.PaymentResult, error) {
	select {
	case <-abort:
		return nil, payerr.New(payerr.CodeCancelled, "Transaction cancelled")
	default:
	}

	onState(models.StateRequiresInput, models.StateDetail{SessionID: sessionID})

	query := t.statusQuery(orderRef, sessionID)
	status, err := t.completion.await(ctx, channel, func(ctx context.Context) (*models.ProviderStatus, error) {
		return t.api.GetPaymentStatus(ctx, query)
	}, abort)
	if err != nil {
		return nil, err
	}

	onState(models.StateProcessing, models.StateDetail{SessionID: sessionID})
	result := toResult(status, orderRef, sessionID)
	onState(finalState(result), models.StateDetail{SessionID: sessionID})

	t.logger.Info("Terminal transaction completed",
		zap.String("order_ref", orderRef),
		zap.String("session_id", sessionID),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

func (t *terminal) VerifyFinalStatus(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error) {
	status, err := t.api.GetPaymentStatus(ctx, t.statusQuery(req.OrderRef, sessionID))
	if err != nil {
		return nil, payerr.Wrap(payerr.CodeNetworkError, fmt.Sprintf("Failed to query %s payment status", t.provider), err)
	}
	if status == nil {
		return nil, payerr.New(payerr.CodeNetworkError, "empty status response")
	}
	return toResult(status, req.OrderRef, sessionID), nil
}

// cancel invalidates the session before calling the provider and aborts the
// race only when the provider confirms.
func (t *terminal) cancel(ctx context.Context, remote func(ctx context.Context, sessionID string) error) (bool, error) {
	sessionID := t.session.take()
	if sessionID == "" {
		return false, nil
	}

	if err := remote(ctx, sessionID); err != nil {
		t.logger.Warn("Remote cancel failed, still awaiting outcome",
			zap.String("session_id", sessionID),
			zap.Int("status_code", payerr.StatusCode(err)),
			zap.Error(err),
		)
		return false, payerr.Wrap(payerr.CodeNetworkError, fmt.Sprintf("Failed to cancel %s transaction", t.provider), err)
	}

	t.session.abortRace()
	t.logger.Info("Terminal transaction cancelled", zap.String("session_id", sessionID))
	return true, nil
}
