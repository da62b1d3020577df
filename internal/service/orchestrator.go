package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/strategy"
)

const Version = "1.6.0"

// Orchestrator runs one terminal transaction at a time and owns the
// interaction state shown to the kiosk UI.
type Orchestrator struct {
	strategy interfaces.PaymentStrategy
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer

	// emitMu orders state changes with their listener fan-out.
	emitMu sync.Mutex

	mu              sync.Mutex
	state           models.InteractionState
	cancelRequested bool
	sessionID       string
	inFlight        bool
	reconciling     bool
	generation      uint64
	orderRef        string
	persisted       bool
	acquired        bool
	startedAt       time.Time

	resetTimer  *time.Timer
	resetGen    uint64
	nextResetAt time.Time

	listeners      map[uint64]func(models.InteractionState)
	nextListenerID uint64
}

func NewOrchestrator(s interfaces.PaymentStrategy, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	o := &Orchestrator{
		strategy:  s,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("provider", s.Provider())),
		tracer:    otel.Tracer("terminal-orchestrator"),
		state:     models.StateIdle,
		listeners: make(map[uint64]func(models.InteractionState)),
	}
	opts.Metrics.setState(models.StateIdle)
	return o
}

// NewFromConfig resolves the provider strategy and builds an orchestrator for it.
func NewFromConfig(cfg models.TerminalConfig, api interfaces.PaymentAPI, sub interfaces.NotificationSubscriber, timings strategy.Timings, opts Options) (*Orchestrator, error) {
	s, err := strategy.Resolve(cfg, api, sub, strategy.WithLogger(opts.Logger), strategy.WithTimings(timings))
	if err != nil {
		return nil, err
	}
	return NewOrchestrator(s, opts), nil
}

func (o *Orchestrator) Version() string {
	return Version
}

func (o *Orchestrator) Provider() string {
	return o.strategy.Provider()
}

func (o *Orchestrator) CurrentState() models.InteractionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// NextAutoResetAt returns when the pending auto-reset fires, or the zero time.
func (o *Orchestrator) NextAutoResetAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.nextResetAt
}

// Subscribe registers a state listener. Listeners run synchronously in
// transition order and must not call Cancel or Reset.
func (o *Orchestrator) Subscribe(listener func(models.InteractionState)) func() {
	o.mu.Lock()
	id := o.nextListenerID
	o.nextListenerID++
	o.listeners[id] = listener
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// InitiateTransaction runs one payment to a settled outcome. Business failures
// are reported in the result; the error is reserved for protocol violations.
func (o *Orchestrator) InitiateTransaction(ctx context.Context, req models.PaymentRequest, cb *TransactionCallbacks) (*models.PaymentResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.InitiateTransaction", trace.WithAttributes(
		attribute.String("order_ref", req.OrderRef),
		attribute.String("provider", o.strategy.Provider()),
		attribute.Int64("amount_cents", req.AmountCents),
	))
	defer span.End()

	if cb == nil {
		cb = &TransactionCallbacks{}
	}

	gen, ok := o.begin()
	if !ok {
		o.logger.Warn("Transaction rejected, another one is in progress", zap.String("order_ref", req.OrderRef))
		return rejected(req.OrderRef, payerr.CodeAlreadyInProgress, "Transaction already in progress"), nil
	}
	defer o.finish()

	if err := o.forceIdle(); err != nil {
		return nil, err
	}

	if req.AmountCents <= 0 {
		return rejected(req.OrderRef, payerr.CodeInvalidAmount, "Amount must be greater than 0"), nil
	}

	if res := o.checkHealth(ctx, req.OrderRef); res != nil {
		return o.settleFailure(req.OrderRef, res, cb)
	}

	if res := o.acquire(ctx, req.OrderRef); res != nil {
		return res, nil
	}

	o.saveTransaction(ctx, models.TransactionRecord{
		OrderRef:    req.OrderRef,
		Kind:        models.RecordKindPayment,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		DisplayID:   req.DisplayID,
		Provider:    o.strategy.Provider(),
		Status:      models.StateIdle,
	})

	o.logger.Info("Starting terminal transaction",
		zap.String("order_ref", req.OrderRef),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("currency", req.Currency),
	)

	res, err := o.run(ctx, func(runCtx context.Context) (*models.PaymentResult, error) {
		return o.strategy.ProcessPayment(runCtx, req, o.forwarder(gen, req.OrderRef, cb))
	})

	switch {
	case err != nil:
		o.logger.Warn("Transaction interrupted, reconciling",
			zap.String("order_ref", req.OrderRef),
			zap.Error(err),
		)
		return o.reconcile(ctx, req, cb, err, nil)
	case res.Success:
		return o.settleSuccess(req.OrderRef, res, cb)
	case o.cancelIntent():
		return o.reconcile(ctx, req, cb, nil, res)
	default:
		return o.settleFailure(req.OrderRef, res, cb)
	}
}

// Refund runs a returns transaction under the same one-at-a-time rule as a payment.
func (o *Orchestrator) Refund(ctx context.Context, req models.RefundRequest, cb *TransactionCallbacks) (*models.PaymentResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Refund", trace.WithAttributes(
		attribute.String("order_ref", req.OrderRef),
		attribute.String("original_transaction_id", req.OriginalTransactionID),
	))
	defer span.End()

	if cb == nil {
		cb = &TransactionCallbacks{}
	}

	gen, ok := o.begin()
	if !ok {
		return rejected(req.OrderRef, payerr.CodeAlreadyInProgress, "Transaction already in progress"), nil
	}
	defer o.finish()

	if err := o.forceIdle(); err != nil {
		return nil, err
	}

	if req.AmountCents <= 0 {
		return rejected(req.OrderRef, payerr.CodeInvalidAmount, "Amount must be greater than 0"), nil
	}

	o.saveTransaction(ctx, models.TransactionRecord{
		OrderRef:    refundRecordRef(req.OrderRef),
		Kind:        models.RecordKindRefund,
		ParentRef:   req.OrderRef,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		DisplayID:   req.DisplayID,
		Provider:    o.strategy.Provider(),
		Status:      models.StateIdle,
		Details:     map[string]interface{}{"original_transaction_id": req.OriginalTransactionID},
	})

	res, err := o.run(ctx, func(runCtx context.Context) (*models.PaymentResult, error) {
		return o.strategy.RefundTransaction(runCtx, req, o.forwarder(gen, req.OrderRef, cb))
	})
	if err != nil {
		o.logger.Warn("Refund failed", zap.String("order_ref", req.OrderRef), zap.Error(err))
		return o.settleFailure(req.OrderRef, &models.PaymentResult{
			Success:      false,
			Status:       models.StatusFailed,
			OrderID:      req.OrderRef,
			ErrorCode:    payerr.Normalize(string(payerr.CodeOf(err))),
			ErrorMessage: payerr.MessageOf(err),
		}, cb)
	}
	if res.Success {
		return o.settleSuccess(req.OrderRef, res, cb)
	}
	return o.settleFailure(req.OrderRef, res, cb)
}

// refundRecordRef keys a refund apart from the paid order it returns, so
// partial refunds of one order each get their own record.
func refundRecordRef(orderRef string) string {
	return orderRef + ":refund:" + uuid.NewString()
}

// Cancel asks the terminal to abort the current transaction. It returns false
// when nothing is in flight. The in-flight InitiateTransaction call still
// decides the final outcome.
func (o *Orchestrator) Cancel(ctx context.Context) bool {
	accepted := false
	if _, err := o.apply(models.StateVerifying, nil, func(from models.InteractionState) bool {
		if from.IsTerminal() || !o.inFlight {
			return false
		}
		o.cancelRequested = true
		accepted = true
		return true
	}); err != nil {
		o.logger.Error("Cancel transition rejected", zap.Error(err))
	}
	if !accepted {
		return false
	}

	o.logger.Info("Cancellation requested")

	ok, err := o.strategy.CancelTransaction(ctx, func(models.InteractionState) {})
	if err != nil || !ok {
		o.logger.Warn("Terminal did not confirm cancellation",
			zap.Bool("confirmed", ok),
			zap.Error(err),
		)
		// Reconciliation owns VERIFYING and decides the outcome itself.
		o.apply(models.StateIdle, nil, func(from models.InteractionState) bool {
			return from == models.StateVerifying && !o.reconciling
		})
		return false
	}
	return true
}

// Reset returns a settled orchestrator to IDLE. It is a no-op otherwise.
func (o *Orchestrator) Reset() {
	o.apply(models.StateIdle, nil, func(from models.InteractionState) bool {
		return from.IsTerminal()
	})
}

// begin claims the orchestrator for a new transaction.
func (o *Orchestrator) begin() (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight || !o.state.IsResting() {
		return 0, false
	}
	o.inFlight = true
	o.reconciling = false
	o.generation++
	o.cancelRequested = false
	o.sessionID = ""
	o.orderRef = ""
	o.persisted = false
	o.acquired = false
	o.startedAt = time.Now()
	return o.generation, true
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

func (o *Orchestrator) forceIdle() error {
	_, err := o.apply(models.StateIdle, nil, nil)
	return err
}

func (o *Orchestrator) cancelIntent() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelRequested
}

// run races the strategy call against the overall timeout and the caller's
// context. The strategy context is cancelled once the race is decided.
func (o *Orchestrator) run(ctx context.Context, call func(ctx context.Context) (*models.PaymentResult, error)) (*models.PaymentResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res *models.PaymentResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("Strategy panicked", zap.Any("panic", r))
				done <- outcome{err: payerr.New(payerr.CodeStrategyError, fmt.Sprintf("strategy panic: %v", r))}
			}
		}()
		res, err := call(runCtx)
		done <- outcome{res: res, err: err}
	}()

	timer := time.NewTimer(o.opts.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err == nil && out.res == nil {
			return nil, payerr.New(payerr.CodeStrategyError, "strategy returned no result")
		}
		return out.res, out.err
	case <-timer.C:
		return nil, payerr.New(payerr.CodeTimeout, "Transaction timed out")
	case <-ctx.Done():
		return nil, payerr.Wrap(payerr.CodeCancelled, "Transaction abandoned by caller", ctx.Err())
	}
}

// forwarder relays intermediate strategy states for one transaction
// generation. FAILED is never forwarded and nothing is forwarded while
// the orchestrator is verifying.
func (o *Orchestrator) forwarder(gen uint64, orderRef string, cb *TransactionCallbacks) models.StateChangeFunc {
	return func(state models.InteractionState, detail models.StateDetail) {
		switch state {
		case models.StateConnecting, models.StateRequiresInput, models.StateProcessing:
		default:
			return
		}

		var sessionID string
		changed, err := o.apply(state, nil, func(from models.InteractionState) bool {
			if gen != o.generation || !o.inFlight {
				return false
			}
			if state == models.StateRequiresInput && detail.SessionID != "" {
				o.sessionID = detail.SessionID
			}
			sessionID = o.sessionID
			return from != models.StateVerifying
		})
		if err != nil {
			o.logger.Error("Dropped strategy state", zap.String("state", string(state)), zap.Error(err))
			return
		}
		if changed {
			o.fire(cb.forState(state), CallbackInfo{OrderRef: orderRef, RefPaymentID: sessionID})
		}
	}
}

// apply moves the state machine to `to` if guard (run under the state lock)
// allows it. Leaving a terminal state for anything but IDLE forces
// INTERNAL_ERROR once and returns a *payerr.ProtocolError.
func (o *Orchestrator) apply(to models.InteractionState, result *models.PaymentResult, guard func(from models.InteractionState) bool) (bool, error) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	from := o.state
	if guard != nil && !guard(from) {
		o.mu.Unlock()
		return false, nil
	}
	if from == to {
		if to == models.StateIdle {
			o.stopAutoResetLocked()
		}
		o.mu.Unlock()
		return false, nil
	}

	var protoErr error
	if from.IsTerminal() && to != models.StateIdle {
		protoErr = &payerr.ProtocolError{From: from, To: to}
		if from == models.StateInternalError {
			o.mu.Unlock()
			return false, protoErr
		}
		to = models.StateInternalError
	}

	o.state = to
	switch {
	case to == models.StateIdle:
		o.stopAutoResetLocked()
	case to.IsTerminal():
		o.scheduleAutoResetLocked(to)
	}

	listeners := make([]func(models.InteractionState), 0, len(o.listeners))
	for _, l := range o.listeners {
		listeners = append(listeners, l)
	}
	orderRef, persisted, sessionID := o.orderRef, o.persisted, o.sessionID
	o.mu.Unlock()

	o.logger.Info("Interaction state transition",
		zap.String("order_ref", orderRef),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(to)),
	)
	if protoErr != nil {
		o.logger.Error("Protocol violation", zap.Error(protoErr))
	}
	o.opts.Metrics.setState(to)

	for _, l := range listeners {
		l := l
		o.fire(func(CallbackInfo) { l(to) }, CallbackInfo{})
	}

	// Returning to IDLE after settling is a UI reset; the stored outcome stays.
	if persisted && !(from.IsTerminal() && to == models.StateIdle) {
		o.updateStatus(orderRef, to, transitionDetails(sessionID, result))
	}
	if orderRef != "" && o.opts.Events != nil {
		o.publish(models.StateChange{
			EventID:       uuid.NewString(),
			OrderRef:      orderRef,
			Provider:      o.strategy.Provider(),
			State:         to,
			PreviousState: from,
			Timestamp:     time.Now().UTC(),
		})
	}

	return true, protoErr
}

func transitionDetails(sessionID string, result *models.PaymentResult) map[string]interface{} {
	if sessionID == "" && result == nil {
		return nil
	}
	details := map[string]interface{}{}
	if sessionID != "" {
		details["session_id"] = sessionID
	}
	if result != nil {
		details["status"] = string(result.Status)
		if result.TransactionID != "" {
			details["transaction_id"] = result.TransactionID
		}
		if result.ErrorCode != "" {
			details["error_code"] = result.ErrorCode
			details["error_message"] = result.ErrorMessage
		}
		if result.ErrorReference != "" {
			details["error_reference"] = result.ErrorReference
		}
	}
	return details
}

func (o *Orchestrator) settleSuccess(orderRef string, res *models.PaymentResult, cb *TransactionCallbacks) (*models.PaymentResult, error) {
	out := *res
	if out.OrderID == "" {
		out.OrderID = orderRef
	}
	out.Success = true
	out.Status = models.StatusSuccess

	_, err := o.apply(models.StateSuccess, &out, nil)
	o.observe("success")
	o.complete(orderRef, &out)
	o.fire(func(CallbackInfo) {
		if cb.OnSuccess != nil {
			cb.OnSuccess(&out)
		}
	}, CallbackInfo{})
	return &out, err
}

func (o *Orchestrator) settleFailure(orderRef string, res *models.PaymentResult, cb *TransactionCallbacks) (*models.PaymentResult, error) {
	out := *res
	if out.OrderID == "" {
		out.OrderID = orderRef
	}
	out.Success = false

	_, err := o.apply(models.StateFailed, &out, nil)
	o.observe("failed")
	o.complete(orderRef, &out)
	o.fire(func(CallbackInfo) {
		if cb.OnError != nil {
			cb.OnError(&out)
		}
	}, CallbackInfo{})
	return &out, err
}

func (o *Orchestrator) settleCancelled(orderRef string, res *models.PaymentResult, cb *TransactionCallbacks) (*models.PaymentResult, error) {
	_, err := o.apply(models.StateFailed, res, nil)
	o.observe("cancelled")
	o.complete(orderRef, res)
	o.fire(func(CallbackInfo) {
		if cb.OnCancelled != nil {
			cb.OnCancelled(res)
		}
	}, CallbackInfo{})
	return res, err
}

func (o *Orchestrator) observe(outcome string) {
	o.mu.Lock()
	started := o.startedAt
	o.mu.Unlock()
	o.opts.Metrics.observeOutcome(o.strategy.Provider(), outcome, started)
}

// fire runs a caller hook and contains any panic it raises.
func (o *Orchestrator) fire(fn func(CallbackInfo), info CallbackInfo) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Callback panicked", zap.Any("panic", r), zap.String("order_ref", info.OrderRef))
		}
	}()
	fn(info)
}

func rejected(orderRef string, code payerr.Code, message string) *models.PaymentResult {
	return &models.PaymentResult{
		Success:      false,
		Status:       models.StatusError,
		OrderID:      orderRef,
		ErrorCode:    payerr.Normalize(string(code)),
		ErrorMessage: message,
	}
}

func (o *Orchestrator) stopAutoResetLocked() {
	if o.resetTimer != nil {
		o.resetTimer.Stop()
		o.resetTimer = nil
	}
	o.resetGen++
	o.nextResetAt = time.Time{}
}

func (o *Orchestrator) scheduleAutoResetLocked(state models.InteractionState) {
	o.stopAutoResetLocked()
	if o.opts.AutoReset == nil {
		return
	}
	delay := o.opts.AutoReset.FailureDelay
	if state == models.StateSuccess {
		delay = o.opts.AutoReset.SuccessDelay
	}
	gen := o.resetGen
	o.nextResetAt = time.Now().Add(delay)
	o.resetTimer = time.AfterFunc(delay, func() {
		o.apply(models.StateIdle, nil, func(from models.InteractionState) bool {
			return gen == o.resetGen && from.IsTerminal()
		})
	})
}
