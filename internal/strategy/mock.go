package strategy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

// MockStrategy approves every transaction after a fixed delay. It backs kiosks
// that run without a physical terminal.
type MockStrategy struct {
	delay  time.Duration
	logger *zap.Logger
}

func NewMockStrategy(delay time.Duration, logger *zap.Logger) *MockStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockStrategy{delay: delay, logger: logger}
}

func (m *MockStrategy) Provider() string {
	return models.ProviderMock
}

func (m *MockStrategy) wait(ctx context.Context) error {
	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return payerr.Wrap(payerr.CodeCancelled, "Transaction cancelled", ctx.Err())
	}
}

func (m *MockStrategy) ProcessPayment(ctx context.Context, req models.PaymentRequest, onState models.StateChangeFunc) (*models.PaymentResult, error) {
	m.logger.Info("Mock processing payment", zap.String("order_ref", req.OrderRef), zap.Int64("amount_cents", req.AmountCents))
	onState(models.StateConnecting, models.StateDetail{})
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return &models.PaymentResult{Success: true, Status: models.StatusSuccess, OrderID: req.OrderRef}, nil
}

func (m *MockStrategy) RefundTransaction(ctx context.Context, req models.RefundRequest, onState models.StateChangeFunc) (*models.PaymentResult, error) {
	onState(models.StateConnecting, models.StateDetail{})
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return &models.PaymentResult{Success: true, Status: models.StatusSuccess, OrderID: req.OrderRef}, nil
}

func (m *MockStrategy) CancelTransaction(_ context.Context, _ func(models.InteractionState)) (bool, error) {
	m.logger.Info("Mock transaction cancelled")
	return true, nil
}

func (m *MockStrategy) VerifyFinalStatus(_ context.Context, req models.PaymentRequest, _ string) (*models.PaymentResult, error) {
	return &models.PaymentResult{Success: false, Status: models.StatusFailed, OrderID: req.OrderRef}, nil
}
