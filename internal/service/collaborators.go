package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

// checkHealth returns a failure result when initiation must be refused.
func (o *Orchestrator) checkHealth(ctx context.Context, orderRef string) *models.PaymentResult {
	if o.opts.HealthCheck == nil {
		return nil
	}
	status, err := o.opts.HealthCheck.CheckHealth(ctx)
	if err != nil {
		o.logger.Error("Health check error", zap.String("order_ref", orderRef), zap.Error(err))
		return &models.PaymentResult{
			Status:       models.StatusError,
			OrderID:      orderRef,
			ErrorCode:    payerr.Normalize(string(payerr.CodeHealthCheckFailed)),
			ErrorMessage: "Health check error: " + err.Error(),
		}
	}
	if !status.IsHealthy {
		o.logger.Warn("System unhealthy, refusing transaction",
			zap.String("order_ref", orderRef),
			zap.Any("details", status.Details),
		)
		return &models.PaymentResult{
			Status:       models.StatusError,
			OrderID:      orderRef,
			ErrorCode:    payerr.Normalize(string(payerr.CodeHealthCheckFailed)),
			ErrorMessage: "System is offline or unhealthy",
		}
	}
	return nil
}

// acquire refuses an order reference that is already being processed or
// was already paid. Store errors are logged and do not block the payment.
func (o *Orchestrator) acquire(ctx context.Context, orderRef string) *models.PaymentResult {
	if o.opts.Idempotency == nil {
		return nil
	}
	ok, err := o.opts.Idempotency.Acquire(ctx, orderRef)
	if err != nil {
		o.logger.Warn("Idempotency check failed", zap.String("order_ref", orderRef), zap.Error(err))
		return nil
	}
	if !ok {
		o.logger.Warn("Duplicate order reference refused", zap.String("order_ref", orderRef))
		return rejected(orderRef, payerr.CodeAlreadyInProgress, "Order reference already processed")
	}
	o.mu.Lock()
	o.acquired = true
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) complete(orderRef string, res *models.PaymentResult) {
	o.mu.Lock()
	acquired := o.acquired
	o.acquired = false
	o.mu.Unlock()
	if !acquired {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.opts.Idempotency.Complete(ctx, orderRef, res); err != nil {
		o.logger.Warn("Failed to record idempotent outcome", zap.String("order_ref", orderRef), zap.Error(err))
	}
}

// saveTransaction stores the starting record. Status updates follow only
// when the save succeeded, so a refused save never touches an existing row.
func (o *Orchestrator) saveTransaction(ctx context.Context, record models.TransactionRecord) {
	o.mu.Lock()
	o.orderRef = record.OrderRef
	o.mu.Unlock()

	if o.opts.Persistence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := o.opts.Persistence.SaveTransaction(ctx, record); err != nil {
		o.logger.Error("Failed to save transaction",
			zap.String("order_ref", record.OrderRef),
			zap.String("kind", record.Kind),
			zap.Error(err),
		)
		return
	}
	o.mu.Lock()
	o.persisted = true
	o.mu.Unlock()
}

func (o *Orchestrator) updateStatus(orderRef string, state models.InteractionState, details map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.opts.Persistence.UpdateTransactionStatus(ctx, orderRef, state, details); err != nil {
		o.logger.Error("Failed to update transaction status",
			zap.String("order_ref", orderRef),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publish(event models.StateChange) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.opts.Events.PublishStateChange(ctx, event); err != nil {
		o.logger.Warn("Failed to publish state change",
			zap.String("order_ref", event.OrderRef),
			zap.Error(err),
		)
	}
}
