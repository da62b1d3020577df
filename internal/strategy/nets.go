package strategy

import (
	"context"
	"net/http"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

type NetsStrategy struct {
	*terminal
}

func NewNetsStrategy(api interfaces.PaymentAPI, sub interfaces.NotificationSubscriber, cfg models.TerminalConfig, opts ...Option) (*NetsStrategy, error) {
	t, err := newTerminal(models.ProviderNets, api, sub, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &NetsStrategy{terminal: t}, nil
}

func netsChannel(requestID string) string {
	return "nets.requests." + requestID
}

// initiateError maps a rejected initiate call. Nets answers 409/423 while the
// terminal is still serving another request.
func initiateError(err error, message string) *payerr.Error {
	switch payerr.StatusCode(err) {
	case http.StatusConflict, http.StatusLocked:
		return payerr.Wrap(payerr.CodeTerminalBusy, "Terminal is busy with another request", err)
	}
	return payerr.Wrap(payerr.CodeNetworkError, message, err)
}

func (s *NetsStrategy) ProcessPayment(ctx context.Context, req models.PaymentRequest, onState models.StateChangeFunc) (*models.PaymentResult, error) {
	payload := models.NetsTransactionRequest{
		Amount:      req.AmountCents,
		BusinessID:  s.businessID,
		Currency:    req.Currency,
		DisplayID:   req.DisplayID,
		ReferenceID: req.OrderRef,
		Options: models.NetsOptions{
			AllowPinBypass:  true,
			TransactionType: models.TransactionTypePurchase,
		},
	}
	if req.Options != nil {
		payload.Options.VATAmount = req.Options.VATAmountCents
		payload.Options.OperatorID = req.Options.OperatorID
	}
	return s.run(ctx, payload, onState, "Failed to create Nets transaction")
}

func (s *NetsStrategy) RefundTransaction(ctx context.Context, req models.RefundRequest, onState models.StateChangeFunc) (*models.PaymentResult, error) {
	displayID := req.DisplayID
	if displayID == "" {
		displayID = s.config.KioskID
	}
	payload := models.NetsTransactionRequest{
		Amount:      req.AmountCents,
		BusinessID:  s.businessID,
		Currency:    req.Currency,
		DisplayID:   displayID,
		ReferenceID: req.OrderRef,
		Options: models.NetsOptions{
			AllowPinBypass:  true,
			TransactionType: models.TransactionTypeReturnOfGoods,
		},
	}
	return s.run(ctx, payload, onState, "Failed to create Nets refund")
}

func (s *NetsStrategy) run(ctx context.Context, payload models.NetsTransactionRequest, onState models.StateChangeFunc, failure string) (*models.PaymentResult, error) {
	abort := s.session.begin()
	defer s.session.clear()

	onState(models.StateConnecting, models.StateDetail{})

	sess, err := s.api.InitiateNets(ctx, payload)
	if err != nil {
		return nil, initiateError(err, failure)
	}
	if sess == nil || sess.ConnectCloudRequestID == "" {
		return nil, payerr.New(payerr.CodeNetworkError, "connectCloudRequestId is missing from response")
	}
	requestID := sess.ConnectCloudRequestID
	s.session.set(requestID)

	return s.complete(ctx, netsChannel(requestID), payload.ReferenceID, requestID, abort, onState)
}

func (s *NetsStrategy) CancelTransaction(ctx context.Context, _ func(models.InteractionState)) (bool, error) {
	return s.cancel(ctx, func(ctx context.Context, requestID string) error {
		return s.api.CancelNets(ctx, models.NetsCancelRequest{RequestID: requestID, BusinessID: s.businessID})
	})
}
