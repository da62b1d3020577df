package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

var errMockTransport = errors.New("mock transport error")

// statusErr mimics an adapter error carrying an HTTP status.
type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("unexpected status %d", e.code) }
func (e statusErr) StatusCode() int { return e.code }

// MockPaymentAPI implements interfaces.PaymentAPI for testing
type MockPaymentAPI struct {
	mu sync.Mutex

	InitiateVivaFunc func(ctx context.Context, req models.VivaTransactionRequest) (*models.VivaSession, error)
	RefundVivaFunc   func(ctx context.Context, req models.VivaRefundRequest) (*models.VivaSession, error)
	CancelVivaFunc   func(ctx context.Context, req models.VivaCancelRequest) error
	InitiateNetsFunc func(ctx context.Context, req models.NetsTransactionRequest) (*models.NetsSession, error)
	CancelNetsFunc   func(ctx context.Context, req models.NetsCancelRequest) error
	StatusFunc       func(ctx context.Context, q models.StatusQuery) (*models.ProviderStatus, error)

	InitiateCalls int
	CancelCalls   int
	StatusCalls   int
	LastViva      models.VivaTransactionRequest
	LastVivaRefnd models.VivaRefundRequest
	LastNets      models.NetsTransactionRequest
	LastQuery     models.StatusQuery
	LastCancel    interface{}
}

func NewMockPaymentAPI() *MockPaymentAPI {
	return &MockPaymentAPI{}
}

func (m *MockPaymentAPI) InitiateViva(ctx context.Context, req models.VivaTransactionRequest) (*models.VivaSession, error) {
	m.mu.Lock()
	m.InitiateCalls++
	m.LastViva = req
	fn := m.InitiateVivaFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &models.VivaSession{SessionID: "sess-1"}, nil
}

func (m *MockPaymentAPI) RefundViva(ctx context.Context, req models.VivaRefundRequest) (*models.VivaSession, error) {
	m.mu.Lock()
	m.InitiateCalls++
	m.LastVivaRefnd = req
	fn := m.RefundVivaFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &models.VivaSession{SessionID: "refund-1"}, nil
}

func (m *MockPaymentAPI) CancelViva(ctx context.Context, req models.VivaCancelRequest) error {
	m.mu.Lock()
	m.CancelCalls++
	m.LastCancel = req
	fn := m.CancelVivaFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return nil
}

func (m *MockPaymentAPI) InitiateNets(ctx context.Context, req models.NetsTransactionRequest) (*models.NetsSession, error) {
	m.mu.Lock()
	m.InitiateCalls++
	m.LastNets = req
	fn := m.InitiateNetsFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &models.NetsSession{ConnectCloudRequestID: "req-1"}, nil
}

func (m *MockPaymentAPI) CancelNets(ctx context.Context, req models.NetsCancelRequest) error {
	m.mu.Lock()
	m.CancelCalls++
	m.LastCancel = req
	fn := m.CancelNetsFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return nil
}

func (m *MockPaymentAPI) GetPaymentStatus(ctx context.Context, q models.StatusQuery) (*models.ProviderStatus, error) {
	m.mu.Lock()
	m.StatusCalls++
	m.LastQuery = q
	fn := m.StatusFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, q)
	}
	return &models.ProviderStatus{Status: models.ProviderStatusPending, OrderID: q.OrderID}, nil
}

func (m *MockPaymentAPI) statusCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StatusCalls
}

func (m *MockPaymentAPI) cancelCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CancelCalls
}

// MockSubscriber implements interfaces.NotificationSubscriber for testing
type MockSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]func([]byte)
	Subscribed   chan string
	Unsubscribed int
	Err          error
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{
		handlers:   make(map[string]func([]byte)),
		Subscribed: make(chan string, 16),
	}
}

func (m *MockSubscriber) Subscribe(channel, event string, handler func([]byte)) (func(), error) {
	m.mu.Lock()
	if m.Err != nil {
		m.mu.Unlock()
		return nil, m.Err
	}
	key := channel + "|" + event
	m.handlers[key] = handler
	m.mu.Unlock()

	m.Subscribed <- channel

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, key)
			m.Unsubscribed++
			m.mu.Unlock()
		})
	}, nil
}

// Publish delivers a status to a live subscription and reports whether one existed.
func (m *MockSubscriber) Publish(channel string, status models.ProviderStatus) bool {
	payload, _ := json.Marshal(status)
	m.mu.Lock()
	h, ok := m.handlers[channel+"|"+models.EventStatusChanged]
	m.mu.Unlock()
	if !ok {
		return false
	}
	h(payload)
	return true
}

func (m *MockSubscriber) unsubscribed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Unsubscribed
}

func (m *MockSubscriber) waitSubscribed(timeout time.Duration) (string, bool) {
	select {
	case ch := <-m.Subscribed:
		return ch, true
	case <-time.After(timeout):
		return "", false
	}
}

// stateRecorder collects strategy state reports.
type stateRecorder struct {
	mu     sync.Mutex
	states []models.InteractionState
	detail []models.StateDetail
}

func (r *stateRecorder) record(state models.InteractionState, d models.StateDetail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.detail = append(r.detail, d)
}

func (r *stateRecorder) snapshot() []models.InteractionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.InteractionState(nil), r.states...)
}

func fastTimings() Timings {
	return Timings{
		NotificationWait: 30 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		PollTimeout:      300 * time.Millisecond,
	}
}

func testConfig() models.TerminalConfig {
	return models.TerminalConfig{Provider: "VIVA", KioskID: "kiosk-7", StoreID: "42"}
}
