package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

// RecoverTransaction re-verifies a transaction persisted before a restart.
// Settled outcomes are written back; a still-pending status is returned as-is.
func (o *Orchestrator) RecoverTransaction(ctx context.Context, record models.TransactionRecord) *models.PaymentResult {
	ctx, span := o.tracer.Start(ctx, "orchestrator.RecoverTransaction")
	defer span.End()

	logger := o.logger.With(zap.String("order_ref", record.OrderRef), zap.String("session_id", record.SessionID))

	if record.SessionID == "" {
		res := &models.PaymentResult{
			Status:       models.StatusFailed,
			OrderID:      record.OrderRef,
			ErrorCode:    payerr.FailureSystemUnknown,
			ErrorMessage: "Cannot recover transaction without session ID",
		}
		logger.Warn("Recovery impossible, marking transaction failed")
		o.persistRecovery(record.OrderRef, models.StateFailed, res)
		return res
	}

	req := models.PaymentRequest{
		OrderRef:    record.OrderRef,
		AmountCents: record.AmountCents,
		Currency:    record.Currency,
		DisplayID:   record.DisplayID,
	}
	res, err := o.verifyOnce(ctx, req, record.SessionID)
	if err != nil {
		logger.Error("Recovery verification failed", zap.Error(err))
		return &models.PaymentResult{
			Status:       models.StatusError,
			OrderID:      record.OrderRef,
			SessionID:    record.SessionID,
			ErrorCode:    payerr.Normalize(string(payerr.CodeOf(err))),
			ErrorMessage: fmt.Sprintf("Recovery failed: %s", payerr.MessageOf(err)),
		}
	}

	switch res.Status {
	case models.StatusSuccess:
		o.persistRecovery(record.OrderRef, models.StateSuccess, res)
	case models.StatusFailed:
		o.persistRecovery(record.OrderRef, models.StateFailed, res)
	default:
		logger.Info("Recovered transaction still pending")
	}
	logger.Info("Transaction recovered", zap.String("status", string(res.Status)))
	return res
}

func (o *Orchestrator) persistRecovery(orderRef string, state models.InteractionState, res *models.PaymentResult) {
	if o.opts.Persistence == nil {
		return
	}
	details := transitionDetails("", res)
	details["recovered"] = true
	o.updateStatus(orderRef, state, details)
}

// RecoveryOutcome reports what a recovery pass did with one record.
type RecoveryOutcome struct {
	OrderRef string                `json:"order_ref"`
	Result   *models.PaymentResult `json:"result,omitempty"`
	Skipped  bool                  `json:"skipped,omitempty"`
}

// Recoverer re-verifies every in-flight record left behind by a previous process.
type Recoverer struct {
	repo         interfaces.TransactionRepository
	orchestrator *Orchestrator
	logger       *zap.Logger
}

func NewRecoverer(repo interfaces.TransactionRepository, orchestrator *Orchestrator, logger *zap.Logger) *Recoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recoverer{repo: repo, orchestrator: orchestrator, logger: logger}
}

func (r *Recoverer) RecoverAll(ctx context.Context) ([]RecoveryOutcome, error) {
	records, err := r.repo.ListInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("list in-flight transactions: %w", err)
	}

	outcomes := make([]RecoveryOutcome, 0, len(records))
	for _, record := range records {
		if record.Kind == models.RecordKindRefund {
			r.logger.Warn("Skipping refund record, refunds are not re-verified",
				zap.String("order_ref", record.OrderRef),
				zap.String("parent_ref", record.ParentRef),
			)
			outcomes = append(outcomes, RecoveryOutcome{OrderRef: record.OrderRef, Skipped: true})
			continue
		}
		if !strings.EqualFold(record.Provider, r.orchestrator.Provider()) {
			r.logger.Warn("Skipping transaction from another provider",
				zap.String("order_ref", record.OrderRef),
				zap.String("record_provider", record.Provider),
			)
			outcomes = append(outcomes, RecoveryOutcome{OrderRef: record.OrderRef, Skipped: true})
			continue
		}
		res := r.orchestrator.RecoverTransaction(ctx, record)
		outcomes = append(outcomes, RecoveryOutcome{OrderRef: record.OrderRef, Result: res})
	}

	r.logger.Info("Recovery pass finished", zap.Int("records", len(records)))
	return outcomes, nil
}
