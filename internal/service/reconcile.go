package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

var errStillPending = errors.New("transaction still pending")

// reconcile resolves an interrupted or cancelled transaction against the
// provider's status endpoint. A verified success always wins, even over a
// pending cancel.
func (o *Orchestrator) reconcile(ctx context.Context, req models.PaymentRequest, cb *TransactionCallbacks, cause error, raw *models.PaymentResult) (*models.PaymentResult, error) {
	ctx, span := o.tracer.Start(context.WithoutCancel(ctx), "orchestrator.reconcile")
	defer span.End()

	o.mu.Lock()
	sessionID := o.sessionID
	o.reconciling = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.reconciling = false
		o.mu.Unlock()
	}()

	if _, err := o.apply(models.StateVerifying, nil, nil); err != nil {
		return nil, err
	}
	o.fire(cb.OnVerifying, CallbackInfo{OrderRef: req.OrderRef, RefPaymentID: sessionID})

	var verified *models.PaymentResult
	var verifyErr error
	if sessionID != "" {
		verified, verifyErr = o.verifyWithRetry(ctx, req, sessionID)
	}

	if verified != nil && verified.Success {
		o.logger.Info("Verification confirmed payment",
			zap.String("order_ref", req.OrderRef),
			zap.Bool("cancel_requested", o.cancelIntent()),
		)
		return o.settleSuccess(req.OrderRef, verified, cb)
	}

	if o.cancelIntent() {
		return o.settleCancelled(req.OrderRef, &models.PaymentResult{
			Success:      false,
			Status:       models.StatusCancelled,
			OrderID:      req.OrderRef,
			SessionID:    sessionID,
			ErrorCode:    payerr.FailureCancelledByUser,
			ErrorMessage: "Transaction cancelled by user",
		}, cb)
	}

	var res *models.PaymentResult
	switch {
	case verified != nil:
		res = verified
		if res.Status == models.StatusPending && res.ErrorCode == "" {
			res.ErrorCode = payerr.FailureTerminalTimeout
			res.ErrorMessage = "Payment was not completed within the allowed time"
		}
		if res.ErrorCode == "" {
			res.ErrorCode = payerr.FailureSystemUnknown
			res.ErrorMessage = "Transaction failed without error details"
		}
		res.Status = models.StatusFailed
	case verifyErr != nil:
		res = &models.PaymentResult{
			Status:       models.StatusFailed,
			OrderID:      req.OrderRef,
			SessionID:    sessionID,
			ErrorCode:    payerr.Normalize(string(payerr.CodeOf(verifyErr))),
			ErrorMessage: payerr.MessageOf(verifyErr),
		}
	case raw != nil:
		res = raw
	default:
		res = failureFromError(req.OrderRef, sessionID, cause)
	}
	return o.settleFailure(req.OrderRef, res, cb)
}

func failureFromError(orderRef, sessionID string, err error) *models.PaymentResult {
	code := payerr.CodeOf(err)
	status := models.StatusError
	if code == payerr.CodeDeclined {
		status = models.StatusFailed
	}
	return &models.PaymentResult{
		Status:       status,
		OrderID:      orderRef,
		SessionID:    sessionID,
		ErrorCode:    payerr.Normalize(string(code)),
		ErrorMessage: payerr.MessageOf(err),
	}
}

// verifyWithRetry queries the final status up to Verify.Attempts times, each
// attempt bounded by Verify.AttemptTimeout. Exhaustion reports TIMEOUT when
// every attempt timed out and VERIFICATION_FAILED when any attempt failed for
// another reason. A status that stays pending is returned as-is.
func (o *Orchestrator) verifyWithRetry(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error) {
	policy := o.opts.Verify
	var (
		attempt     int
		lastPending *models.PaymentResult
		sawFailure  bool
		settled     *models.PaymentResult
	)

	op := func() error {
		attempt++
		res, err := o.verifyOnce(ctx, req, sessionID)
		switch {
		case err != nil && payerr.IsTimeout(err):
			o.opts.Metrics.observeVerify("timeout")
			o.logger.Warn("Verification attempt timed out",
				zap.String("order_ref", req.OrderRef),
				zap.Int("attempt", attempt),
			)
			return err
		case err != nil:
			sawFailure = true
			o.opts.Metrics.observeVerify("error")
			o.logger.Warn("Verification attempt failed",
				zap.String("order_ref", req.OrderRef),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		case res.Status == models.StatusPending:
			lastPending = res
			o.opts.Metrics.observeVerify("pending")
			return errStillPending
		default:
			settled = res
			o.opts.Metrics.observeVerify("settled")
			return nil
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.opts.Verify.RetryDelay), uint64(policy.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err == nil && settled != nil {
		if settled.OrderID == "" {
			settled.OrderID = req.OrderRef
		}
		return settled, nil
	}

	switch {
	case sawFailure:
		return nil, payerr.New(payerr.CodeVerificationFailed, "Failed to verify final transaction status")
	case lastPending != nil:
		return lastPending, nil
	default:
		return nil, payerr.New(payerr.CodeTimeout, fmt.Sprintf("Payment status could not be verified after %d attempts", attempt))
	}
}

// verifyOnce bounds a single status query even when the strategy ignores ctx.
func (o *Orchestrator) verifyOnce(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.opts.Verify.AttemptTimeout)
	defer cancel()

	type outcome struct {
		res *models.PaymentResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: payerr.New(payerr.CodeStrategyError, fmt.Sprintf("strategy panic: %v", r))}
			}
		}()
		res, err := o.strategy.VerifyFinalStatus(attemptCtx, req, sessionID)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return nil, payerr.Wrap(payerr.CodeTimeout, "Verification attempt timed out", out.err)
			}
			return nil, out.err
		}
		if out.res == nil {
			return nil, payerr.New(payerr.CodeStrategyError, "strategy returned no verification result")
		}
		return out.res, nil
	case <-attemptCtx.Done():
		return nil, payerr.Wrap(payerr.CodeTimeout, "Verification attempt timed out", attemptCtx.Err())
	}
}
