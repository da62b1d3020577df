package models

import "time"

type InteractionState string

const (
	StateIdle          InteractionState = "IDLE"
	StateConnecting    InteractionState = "CONNECTING"
	StateRequiresInput InteractionState = "REQUIRES_INPUT"
	StateProcessing    InteractionState = "PROCESSING"
	StateVerifying     InteractionState = "VERIFYING"
	StateSuccess       InteractionState = "SUCCESS"
	StateFailed        InteractionState = "FAILED"
	StateInternalError InteractionState = "INTERNAL_ERROR"
)

// IsTerminal reports whether the state settles a transaction.
func (s InteractionState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateInternalError
}

// IsResting reports whether a new transaction may start from s.
func (s InteractionState) IsResting() bool {
	return s == StateIdle || s.IsTerminal()
}

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusSuccess   PaymentStatus = "SUCCESS"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCancelled PaymentStatus = "CANCELLED"
	StatusError     PaymentStatus = "ERROR"
)

type PaymentOptions struct {
	// Viva
	Installments   int    `json:"installments,omitempty"`
	TipAmountCents int64  `json:"tip_amount_cents,omitempty"`
	SourceCode     string `json:"source_code,omitempty"`
	// Nets
	VATAmountCents int64  `json:"vat_amount_cents,omitempty"`
	OperatorID     string `json:"operator_id,omitempty"`
}

type PaymentRequest struct {
	OrderRef    string          `json:"order_ref"`
	AmountCents int64           `json:"amount_cents"`
	Currency    string          `json:"currency"`
	DisplayID   string          `json:"display_id"`
	Options     *PaymentOptions `json:"options,omitempty"`
}

type RefundRequest struct {
	OrderRef              string `json:"order_ref"`
	AmountCents           int64  `json:"amount_cents"`
	Currency              string `json:"currency"`
	DisplayID             string `json:"display_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
}

// TransactionDetails is the provider's view of a settled transaction.
type TransactionDetails struct {
	TransactionID string `json:"transactionId,omitempty"`
	AuthCode      string `json:"authCode,omitempty"`
	CardType      string `json:"cardType,omitempty"`
	MaskedPan     string `json:"maskedPan,omitempty"`
	AmountCents   int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

type PaymentResult struct {
	Success        bool                `json:"success"`
	Status         PaymentStatus       `json:"status"`
	OrderID        string              `json:"order_id"`
	TransactionID  string              `json:"transaction_id,omitempty"`
	SessionID      string              `json:"session_id,omitempty"`
	ErrorCode      string              `json:"error_code,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	ErrorReference string              `json:"error_reference,omitempty"`
	Transaction    *TransactionDetails `json:"transaction,omitempty"`
}

type StateDetail struct {
	SessionID string
}

// StateChangeFunc receives intermediate states reported by a strategy.
type StateChangeFunc func(state InteractionState, detail StateDetail)

// ProviderStatus is the payload shared by status notifications and status queries.
type ProviderStatus struct {
	Status        string              `json:"status"`
	OrderID       string              `json:"orderId"`
	TransactionID string              `json:"transactionId,omitempty"`
	Error         *ProviderError      `json:"error,omitempty"`
	Transaction   *TransactionDetails `json:"transaction,omitempty"`
}

const (
	ProviderStatusPending = "Pending"
	ProviderStatusSuccess = "Success"
	ProviderStatusFailed  = "Failed"
)

type ProviderError struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	ReferenceError string `json:"referenceError,omitempty"`
}

type TerminalConfig struct {
	Provider string
	KioskID  string
	StoreID  string
}

type HealthStatus struct {
	IsHealthy bool              `json:"is_healthy"`
	Details   map[string]string `json:"details,omitempty"`
}

// Record kinds. A refund is stored under its own key and points back at
// the paid order through ParentRef.
const (
	RecordKindPayment = "payment"
	RecordKindRefund  = "refund"
)

// TransactionRecord is the persisted view of one transaction attempt.
type TransactionRecord struct {
	OrderRef    string                 `json:"order_ref"`
	Kind        string                 `json:"kind"`
	ParentRef   string                 `json:"parent_ref,omitempty"`
	AmountCents int64                  `json:"amount_cents"`
	Currency    string                 `json:"currency"`
	DisplayID   string                 `json:"display_id"`
	Provider    string                 `json:"provider"`
	SessionID   string                 `json:"session_id,omitempty"`
	Status      InteractionState       `json:"status"`
	Details     map[string]interface{} `json:"details,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// StateChange is published whenever the orchestrator changes state.
type StateChange struct {
	EventID       string           `json:"event_id"`
	OrderRef      string           `json:"order_ref"`
	Provider      string           `json:"provider"`
	State         InteractionState `json:"state"`
	PreviousState InteractionState `json:"previous_state"`
	Timestamp     time.Time        `json:"timestamp"`
}
