package strategy

import (
	"context"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

type VivaStrategy struct {
	*terminal
}

func NewVivaStrategy(api interfaces.PaymentAPI, sub interfaces.NotificationSubscriber, cfg models.TerminalConfig, opts ...Option) (*VivaStrategy, error) {
	t, err := newTerminal(models.ProviderViva, api, sub, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &VivaStrategy{terminal: t}, nil
}

func vivaChannel(sessionID string) string {
	return "viva.kiosk.requests." + sessionID
}

func (s *VivaStrategy) ProcessPayment(ctx context.Context, req models.PaymentRequest, onState models.StateChangeFunc) (*models.PaymentResult, error) {
	abort := s.session.begin()
	defer s.session.clear()

	onState(models.StateConnecting, models.StateDetail{})

	payload := models.VivaTransactionRequest{
		Amount:                req.AmountCents,
		BusinessID:            s.businessID,
		Currency:              req.Currency,
		DisplayID:             req.DisplayID,
		ReferenceID:           req.OrderRef,
		ShowReceipt:           true,
		ShowTransactionResult: true,
	}
	if req.Options != nil {
		payload.Installments = req.Options.Installments
		payload.TipAmount = req.Options.TipAmountCents
		payload.SourceCode = req.Options.SourceCode
	}

	sess, err := s.api.InitiateViva(ctx, payload)
	if err != nil {
		return nil, payerr.Wrap(payerr.CodeNetworkError, "Failed to initiate Viva transaction", err)
	}
	if sess == nil || sess.SessionID == "" {
		return nil, payerr.New(payerr.CodeNetworkError, "sessionId is missing from response")
	}
	s.session.set(sess.SessionID)

	return s.complete(ctx, vivaChannel(sess.SessionID), req.OrderRef, sess.SessionID, abort, onState)
}

func (s *VivaStrategy) RefundTransaction(ctx context.Context, req models.RefundRequest, onState models.StateChangeFunc) (*models.PaymentResult, error) {
	abort := s.session.begin()
	defer s.session.clear()

	onState(models.StateConnecting, models.StateDetail{})

	sess, err := s.api.RefundViva(ctx, models.VivaRefundRequest{
		Amount:                req.AmountCents,
		BusinessID:            s.businessID,
		Currency:              req.Currency,
		DisplayID:             req.DisplayID,
		ReferenceID:           req.OrderRef,
		OriginalTransactionID: req.OriginalTransactionID,
	})
	if err != nil {
		return nil, payerr.Wrap(payerr.CodeNetworkError, "Failed to initiate Viva refund", err)
	}
	if sess == nil || sess.SessionID == "" {
		return nil, payerr.New(payerr.CodeNetworkError, "sessionId is missing from response")
	}
	s.session.set(sess.SessionID)

	return s.complete(ctx, vivaChannel(sess.SessionID), req.OrderRef, sess.SessionID, abort, onState)
}

func (s *VivaStrategy) CancelTransaction(ctx context.Context, _ func(models.InteractionState)) (bool, error) {
	return s.cancel(ctx, func(ctx context.Context, sessionID string) error {
		return s.api.CancelViva(ctx, models.VivaCancelRequest{SessionID: sessionID, BusinessID: s.businessID})
	})
}
