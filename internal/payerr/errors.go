package payerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

type Code string

const (
	CodeMissingConfig      Code = "MISSING_CONFIG"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeNetworkError       Code = "NETWORK_ERROR"
	CodeTerminalOffline    Code = "TERMINAL_OFFLINE"
	CodeTerminalBusy       Code = "TERMINAL_BUSY"
	CodeTimeout            Code = "TIMEOUT"
	CodeDeclined           Code = "DECLINED"
	CodeCancelled          Code = "CANCELLED"
	CodeStrategyError      Code = "STRATEGY_ERROR"
	CodeHealthCheckFailed  Code = "HEALTH_CHECK_FAILED"
	CodeAlreadyInProgress  Code = "ALREADY_IN_PROGRESS"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"
	CodeUnknown            Code = "UNKNOWN"
)

// Provider-agnostic failure codes reported to callers.
const (
	FailureTerminalTimeout = "terminal.timeout"
	FailureTerminalBusy    = "terminal.busy"
	FailureTerminalOffline = "terminal.offline"
	FailureDeclined        = "payment.declined"
	FailureCancelledByUser = "payment.cancelled_by_user"
	FailurePaymentUnknown  = "payment.unknown"
	FailureProviderError   = "system.provider_error"
	FailureSystemUnknown   = "system.unknown"
)

var failureCodes = map[Code]string{
	CodeTimeout:            FailureTerminalTimeout,
	CodeDeclined:           FailureDeclined,
	CodeCancelled:          FailureCancelledByUser,
	CodeNetworkError:       FailureProviderError,
	CodeHealthCheckFailed:  FailureProviderError,
	CodeTerminalBusy:       FailureTerminalBusy,
	CodeTerminalOffline:    FailureTerminalOffline,
	CodeVerificationFailed: FailurePaymentUnknown,
}

// Normalize maps an internal or provider code to a failure code. Codes that
// already carry a namespace separator are returned unchanged.
func Normalize(code string) string {
	if strings.Contains(code, ".") {
		return code
	}
	if mapped, ok := failureCodes[Code(code)]; ok {
		return mapped
	}
	return FailureSystemUnknown
}

// Error is the typed error raised by strategies and adapters.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in the chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// MessageOf returns the human message of a typed error, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func IsTimeout(err error) bool {
	return CodeOf(err) == CodeTimeout
}

// StatusCode extracts an HTTP status carried anywhere in the error chain.
func StatusCode(err error) int {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// ProtocolError reports an illegal interaction state transition.
type ProtocolError struct {
	From models.InteractionState
	To   models.InteractionState
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}
