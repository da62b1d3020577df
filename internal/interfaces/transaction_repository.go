package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

// TransactionStore is the persistence hook used by the orchestrator
type TransactionStore interface {
	SaveTransaction(ctx context.Context, record models.TransactionRecord) error
	UpdateTransactionStatus(ctx context.Context, orderRef string, state models.InteractionState, details map[string]interface{}) error
}

// TransactionRepository defines the contract for transaction record data access
type TransactionRepository interface {
	TransactionStore
	GetByOrderRef(ctx context.Context, orderRef string) (*models.TransactionRecord, error)
	ListInFlight(ctx context.Context) ([]models.TransactionRecord, error)
}

type HealthChecker interface {
	CheckHealth(ctx context.Context) (models.HealthStatus, error)
}

// IdempotencyStore refuses a second start of the same order reference.
type IdempotencyStore interface {
	Acquire(ctx context.Context, orderRef string) (bool, error)
	Complete(ctx context.Context, orderRef string, result *models.PaymentResult) error
}

type EventPublisher interface {
	PublishStateChange(ctx context.Context, event models.StateChange) error
}
