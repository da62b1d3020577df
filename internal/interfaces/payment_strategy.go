package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

// PaymentStrategy drives one provider's terminal protocol
type PaymentStrategy interface {
	Provider() string
	ProcessPayment(ctx context.Context, req models.PaymentRequest, onState models.StateChangeFunc) (*models.PaymentResult, error)
	CancelTransaction(ctx context.Context, onState func(models.InteractionState)) (bool, error)
	RefundTransaction(ctx context.Context, req models.RefundRequest, onState models.StateChangeFunc) (*models.PaymentResult, error)
	VerifyFinalStatus(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error)
}

// PaymentAPI defines the contract for the provider HTTP API
type PaymentAPI interface {
	InitiateViva(ctx context.Context, req models.VivaTransactionRequest) (*models.VivaSession, error)
	CancelViva(ctx context.Context, req models.VivaCancelRequest) error
	RefundViva(ctx context.Context, req models.VivaRefundRequest) (*models.VivaSession, error)
	InitiateNets(ctx context.Context, req models.NetsTransactionRequest) (*models.NetsSession, error)
	CancelNets(ctx context.Context, req models.NetsCancelRequest) error
	GetPaymentStatus(ctx context.Context, q models.StatusQuery) (*models.ProviderStatus, error)
}

// NotificationSubscriber delivers at most one meaningful push per channel.
// The returned func unsubscribes and is safe to call more than once.
type NotificationSubscriber interface {
	Subscribe(channel, event string, handler func(payload []byte)) (func(), error)
}
