package models

// Provider identifiers accepted in TerminalConfig.Provider.
const (
	ProviderViva = "VIVA"
	ProviderNets = "NETS"
	ProviderMock = "MOCK"
)

const (
	TransactionTypePurchase      = "purchase"
	TransactionTypeReturnOfGoods = "returnOfGoods"
)

// EventStatusChanged is the notification event carrying a ProviderStatus.
const EventStatusChanged = "payment:status-changed"

type VivaTransactionRequest struct {
	Amount                int64  `json:"amount"`
	BusinessID            int64  `json:"businessId"`
	Currency              string `json:"currency"`
	DisplayID             string `json:"displayId"`
	ReferenceID           string `json:"referenceId"`
	ShowReceipt           bool   `json:"showReceipt"`
	ShowTransactionResult bool   `json:"showTransactionResult"`
	Installments          int    `json:"installments,omitempty"`
	TipAmount             int64  `json:"tipAmount,omitempty"`
	SourceCode            string `json:"sourceCode,omitempty"`
}

type VivaRefundRequest struct {
	Amount                int64  `json:"amount"`
	BusinessID            int64  `json:"businessId"`
	Currency              string `json:"currency"`
	DisplayID             string `json:"displayId"`
	ReferenceID           string `json:"referenceId"`
	OriginalTransactionID string `json:"originalTransactionId"`
}

type VivaCancelRequest struct {
	SessionID  string `json:"sessionId"`
	BusinessID int64  `json:"businessId"`
}

type VivaSession struct {
	SessionID string `json:"sessionId"`
}

type NetsOptions struct {
	AllowPinBypass  bool   `json:"allowPinBypass"`
	TransactionType string `json:"transactionType"`
	VATAmount       int64  `json:"vatAmount,omitempty"`
	OperatorID      string `json:"operatorId,omitempty"`
}

type NetsTransactionRequest struct {
	Amount      int64       `json:"amount"`
	BusinessID  int64       `json:"businessId"`
	Currency    string      `json:"currency"`
	DisplayID   string      `json:"displayId"`
	ReferenceID string      `json:"referenceId"`
	Options     NetsOptions `json:"options"`
}

type NetsCancelRequest struct {
	RequestID  string `json:"requestId"`
	BusinessID int64  `json:"businessId"`
}

type NetsSession struct {
	ConnectCloudRequestID string `json:"connectCloudRequestId"`
}

// StatusQuery selects one transaction on the provider status endpoint.
type StatusQuery struct {
	BusinessID  int64
	OrderID     string
	Provider    string
	ReferenceID string
}
