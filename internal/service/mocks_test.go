package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

// Common test errors
var (
	ErrMockNetwork = errors.New("mock network error")
	ErrMockStorage = errors.New("mock storage error")
)

// MockStrategy implements interfaces.PaymentStrategy for testing
type MockStrategy struct {
	mu          sync.Mutex
	ProcessFunc func(ctx context.Context, req models.PaymentRequest, onState models.StateChangeFunc) (*models.PaymentResult, error)
	RefundFunc  func(ctx context.Context, req models.RefundRequest, onState models.StateChangeFunc) (*models.PaymentResult, error)
	CancelFunc  func(ctx context.Context) (bool, error)
	VerifyFunc  func(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error)

	ProcessCalls int
	RefundCalls  int
	CancelCalls  int
	VerifyCalls  int
	LastSession  string
}

func NewMockStrategy() *MockStrategy {
	return &MockStrategy{}
}

func (m *MockStrategy) Provider() string { return models.ProviderViva }

func (m *MockStrategy) ProcessPayment(ctx context.Context, req models.PaymentRequest, onState models.StateChangeFunc) (*models.PaymentResult, error) {
	m.mu.Lock()
	m.ProcessCalls++
	fn := m.ProcessFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, onState)
	}
	return &models.PaymentResult{Success: true, Status: models.StatusSuccess, OrderID: req.OrderRef}, nil
}

func (m *MockStrategy) RefundTransaction(ctx context.Context, req models.RefundRequest, onState models.StateChangeFunc) (*models.PaymentResult, error) {
	m.mu.Lock()
	m.RefundCalls++
	fn := m.RefundFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, onState)
	}
	return &models.PaymentResult{Success: true, Status: models.StatusSuccess, OrderID: req.OrderRef}, nil
}

func (m *MockStrategy) CancelTransaction(ctx context.Context, _ func(models.InteractionState)) (bool, error) {
	m.mu.Lock()
	m.CancelCalls++
	fn := m.CancelFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return true, nil
}

func (m *MockStrategy) VerifyFinalStatus(ctx context.Context, req models.PaymentRequest, sessionID string) (*models.PaymentResult, error) {
	m.mu.Lock()
	m.VerifyCalls++
	m.LastSession = sessionID
	fn := m.VerifyFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, sessionID)
	}
	return &models.PaymentResult{Success: false, Status: models.StatusFailed, OrderID: req.OrderRef}, nil
}

func (m *MockStrategy) calls() (process, cancel, verify int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ProcessCalls, m.CancelCalls, m.VerifyCalls
}

type statusUpdate struct {
	OrderRef string
	State    models.InteractionState
	Details  map[string]interface{}
}

// MockStore implements interfaces.TransactionRepository for testing
type MockStore struct {
	mu       sync.Mutex
	Saved    []models.TransactionRecord
	Updates  []statusUpdate
	InFlight []models.TransactionRecord
	SaveErr  error
	ListErr  error
}

func (m *MockStore) SaveTransaction(_ context.Context, record models.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saved = append(m.Saved, record)
	return m.SaveErr
}

func (m *MockStore) UpdateTransactionStatus(_ context.Context, orderRef string, state models.InteractionState, details map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Updates = append(m.Updates, statusUpdate{OrderRef: orderRef, State: state, Details: details})
	return nil
}

func (m *MockStore) GetByOrderRef(_ context.Context, orderRef string) (*models.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Saved {
		if r.OrderRef == orderRef {
			rec := r
			return &rec, nil
		}
	}
	return nil, ErrMockStorage
}

func (m *MockStore) ListInFlight(_ context.Context) ([]models.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InFlight, m.ListErr
}

func (m *MockStore) snapshot() ([]models.TransactionRecord, []statusUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TransactionRecord(nil), m.Saved...), append([]statusUpdate(nil), m.Updates...)
}

// MockHealth implements interfaces.HealthChecker for testing
type MockHealth struct {
	Status models.HealthStatus
	Err    error
	Calls  int
}

func (m *MockHealth) CheckHealth(context.Context) (models.HealthStatus, error) {
	m.Calls++
	return m.Status, m.Err
}

// MockIdempotency implements interfaces.IdempotencyStore for testing
type MockIdempotency struct {
	mu        sync.Mutex
	Held      map[string]bool
	Completed map[string]*models.PaymentResult
}

func NewMockIdempotency() *MockIdempotency {
	return &MockIdempotency{Held: map[string]bool{}, Completed: map[string]*models.PaymentResult{}}
}

func (m *MockIdempotency) Acquire(_ context.Context, orderRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Held[orderRef] {
		return false, nil
	}
	m.Held[orderRef] = true
	return true, nil
}

func (m *MockIdempotency) Complete(_ context.Context, orderRef string, res *models.PaymentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Completed[orderRef] = res
	if !res.Success {
		delete(m.Held, orderRef)
	}
	return nil
}

// MockEvents implements interfaces.EventPublisher for testing
type MockEvents struct {
	mu     sync.Mutex
	Events []models.StateChange
}

func (m *MockEvents) PublishStateChange(_ context.Context, e models.StateChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
	return nil
}

// callbackRecorder counts lifecycle callbacks.
type callbackRecorder struct {
	mu        sync.Mutex
	events    []string
	success   []*models.PaymentResult
	errors    []*models.PaymentResult
	cancelled []*models.PaymentResult
	refIDs    []string
}

func (r *callbackRecorder) callbacks() *TransactionCallbacks {
	note := func(name string) func(CallbackInfo) {
		return func(info CallbackInfo) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, name)
			r.refIDs = append(r.refIDs, info.RefPaymentID)
		}
	}
	return &TransactionCallbacks{
		OnConnecting:    note("connecting"),
		OnRequiresInput: note("requires_input"),
		OnProcessing:    note("processing"),
		OnVerifying:     note("verifying"),
		OnSuccess: func(res *models.PaymentResult) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "success")
			r.success = append(r.success, res)
		},
		OnError: func(res *models.PaymentResult) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "error")
			r.errors = append(r.errors, res)
		},
		OnCancelled: func(res *models.PaymentResult) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "cancelled")
			r.cancelled = append(r.cancelled, res)
		},
	}
}

func (r *callbackRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// stateLog records listener notifications.
type stateLog struct {
	mu     sync.Mutex
	states []models.InteractionState
}

func (l *stateLog) listen(s models.InteractionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []models.InteractionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.InteractionState(nil), l.states...)
}

func fastVerify() VerifyPolicy {
	return VerifyPolicy{Attempts: 3, AttemptTimeout: 30 * time.Millisecond, RetryDelay: time.Millisecond}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type initOutcome struct {
	res *models.PaymentResult
	err error
}

func startInitiate(o *Orchestrator, req models.PaymentRequest, cb *TransactionCallbacks) <-chan initOutcome {
	done := make(chan initOutcome, 1)
	go func() {
		res, err := o.InitiateTransaction(context.Background(), req, cb)
		done <- initOutcome{res: res, err: err}
	}()
	return done
}

func awaitInitiate(t *testing.T, done <-chan initOutcome) initOutcome {
	t.Helper()
	select {
	case out := <-done:
		return out
	case <-time.After(3 * time.Second):
		t.Fatal("InitiateTransaction did not settle")
		return initOutcome{}
	}
}

func sampleRequest() models.PaymentRequest {
	return models.PaymentRequest{OrderRef: "o1", AmountCents: 1000, Currency: "EUR", DisplayID: "d1"}
}
