package service

import (
	"context"
	"testing"
	"time"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

func inFlightRecord(orderRef, sessionID string) models.TransactionRecord {
	return models.TransactionRecord{
		OrderRef:    orderRef,
		AmountCents: 2500,
		Currency:    "EUR",
		DisplayID:   "d1",
		Provider:    models.ProviderViva,
		SessionID:   sessionID,
		Status:      models.StateRequiresInput,
	}
}

// =============================================================================
// Test: RecoverTransaction
// =============================================================================

func TestRecoverTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("Given a record without session Then it is marked failed", func(t *testing.T) {
		// Given
		strat := NewMockStrategy()
		store := &MockStore{}
		o := NewOrchestrator(strat, Options{Persistence: store})

		// When
		res := o.RecoverTransaction(ctx, inFlightRecord("o1", ""))

		// Then
		if res.Status != models.StatusFailed || res.ErrorMessage != "Cannot recover transaction without session ID" {
			t.Errorf("unexpected result %+v", res)
		}
		if _, _, verify := strat.calls(); verify != 0 {
			t.Errorf("expected no verification, got %d", verify)
		}
		_, updates := store.snapshot()
		if len(updates) != 1 || updates[0].State != models.StateFailed || updates[0].Details["recovered"] != true {
			t.Errorf("unexpected updates %+v", updates)
		}
	})

	t.Run("Given the provider reports success Then success is persisted", func(t *testing.T) {
		// Given
		strat := NewMockStrategy()
		strat.VerifyFunc = func(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error) {
			if req.AmountCents != 2500 || sessionID != "sess-9" {
				t.Errorf("unexpected verify input %+v %s", req, sessionID)
			}
			return &models.PaymentResult{Success: true, Status: models.StatusSuccess, TransactionID: "tx-9"}, nil
		}
		store := &MockStore{}
		o := NewOrchestrator(strat, Options{Persistence: store})

		// When
		res := o.RecoverTransaction(ctx, inFlightRecord("o9", "sess-9"))

		// Then
		if !res.Success {
			t.Errorf("expected success, got %+v", res)
		}
		_, updates := store.snapshot()
		if len(updates) != 1 || updates[0].State != models.StateSuccess || updates[0].Details["transaction_id"] != "tx-9" {
			t.Errorf("unexpected updates %+v", updates)
		}
		if o.CurrentState() != models.StateIdle {
			t.Errorf("recovery must not drive the live state machine, got %s", o.CurrentState())
		}
	})

	t.Run("Given a still pending status Then nothing is persisted", func(t *testing.T) {
		strat := NewMockStrategy()
		strat.VerifyFunc = func(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error) {
			return &models.PaymentResult{Status: models.StatusPending}, nil
		}
		store := &MockStore{}
		o := NewOrchestrator(strat, Options{Persistence: store})

		res := o.RecoverTransaction(ctx, inFlightRecord("o2", "sess-2"))

		if res.Status != models.StatusPending {
			t.Errorf("expected PENDING, got %+v", res)
		}
		if _, updates := store.snapshot(); len(updates) != 0 {
			t.Errorf("expected no updates, got %+v", updates)
		}
	})

	t.Run("Given the status query fails Then an error result is returned", func(t *testing.T) {
		strat := NewMockStrategy()
		strat.VerifyFunc = func(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error) {
			return nil, payerr.New(payerr.CodeNetworkError, "status endpoint down")
		}
		o := NewOrchestrator(strat, Options{})

		res := o.RecoverTransaction(ctx, inFlightRecord("o3", "sess-3"))

		if res.Status != models.StatusError || res.ErrorMessage != "Recovery failed: status endpoint down" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("Given a hanging status query Then the attempt is bounded", func(t *testing.T) {
		strat := NewMockStrategy()
		hang := make(chan struct{})
		defer close(hang)
		strat.VerifyFunc = func(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error) {
			<-hang
			return nil, nil
		}
		o := NewOrchestrator(strat, Options{Verify: fastVerify()})

		start := time.Now()
		res := o.RecoverTransaction(ctx, inFlightRecord("o4", "sess-4"))

		if res.ErrorCode != payerr.FailureTerminalTimeout {
			t.Errorf("expected terminal.timeout, got %+v", res)
		}
		if time.Since(start) > time.Second {
			t.Error("recovery was not bounded by the attempt timeout")
		}
	})
}

// =============================================================================
// Test: Recoverer
// =============================================================================

func TestRecoverer_RecoverAll(t *testing.T) {
	ctx := context.Background()

	t.Run("Given records from several providers Then only this provider is recovered", func(t *testing.T) {
		// Given
		strat := NewMockStrategy()
		strat.VerifyFunc = func(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error) {
			return &models.PaymentResult{Success: true, Status: models.StatusSuccess}, nil
		}
		nets := inFlightRecord("n1", "req-1")
		nets.Provider = models.ProviderNets
		store := &MockStore{InFlight: []models.TransactionRecord{inFlightRecord("v1", "sess-1"), nets}}
		o := NewOrchestrator(strat, Options{Persistence: store})
		r := NewRecoverer(store, o, nil)

		// When
		outcomes, err := r.RecoverAll(ctx)

		// Then
		if err != nil {
			t.Fatalf("RecoverAll failed: %v", err)
		}
		if len(outcomes) != 2 {
			t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
		}
		if outcomes[0].Skipped || !outcomes[0].Result.Success {
			t.Errorf("expected v1 recovered, got %+v", outcomes[0])
		}
		if !outcomes[1].Skipped || outcomes[1].Result != nil {
			t.Errorf("expected n1 skipped, got %+v", outcomes[1])
		}
		if _, _, verify := strat.calls(); verify != 1 {
			t.Errorf("expected 1 verification, got %d", verify)
		}
	})

	t.Run("Given a refund record Then it is skipped without verification", func(t *testing.T) {
		// Given
		strat := NewMockStrategy()
		refund := inFlightRecord("o1:refund:r1", "sess-9")
		refund.Kind = models.RecordKindRefund
		refund.ParentRef = "o1"
		store := &MockStore{InFlight: []models.TransactionRecord{refund}}
		r := NewRecoverer(store, NewOrchestrator(strat, Options{Persistence: store}), nil)

		// When
		outcomes, err := r.RecoverAll(ctx)

		// Then
		if err != nil {
			t.Fatalf("RecoverAll failed: %v", err)
		}
		if len(outcomes) != 1 || !outcomes[0].Skipped {
			t.Errorf("expected the refund to be skipped, got %+v", outcomes)
		}
		if _, _, verify := strat.calls(); verify != 0 {
			t.Errorf("expected no verification, got %d", verify)
		}
		if _, updates := store.snapshot(); len(updates) != 0 {
			t.Errorf("expected no updates, got %+v", updates)
		}
	})

	t.Run("Given the repository fails Then the error is returned", func(t *testing.T) {
		store := &MockStore{ListErr: ErrMockStorage}
		r := NewRecoverer(store, NewOrchestrator(NewMockStrategy(), Options{}), nil)

		if _, err := r.RecoverAll(ctx); err == nil {
			t.Error("expected error")
		}
	})
}
