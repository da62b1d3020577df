package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/service"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/telemetry"
)

// Terminal is the orchestrator surface the HTTP layer drives.
type Terminal interface {
	InitiateTransaction(ctx context.Context, req models.PaymentRequest, cb *service.TransactionCallbacks) (*models.PaymentResult, error)
	Refund(ctx context.Context, req models.RefundRequest, cb *service.TransactionCallbacks) (*models.PaymentResult, error)
	Cancel(ctx context.Context) bool
	Reset()
	CurrentState() models.InteractionState
	NextAutoResetAt() time.Time
	Subscribe(listener func(models.InteractionState)) func()
	Provider() string
	Version() string
}

type TerminalHandler struct {
	terminal Terminal
}

func NewTerminalHandler(terminal Terminal) *TerminalHandler {
	return &TerminalHandler{terminal: terminal}
}

// InitiateTransaction blocks until the payment settles. The transaction is
// detached from the request so a dropped connection does not abandon it.
func (h *TerminalHandler) InitiateTransaction(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Error("Error decoding payment request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if msg := validatePayment(req.OrderRef, req.Currency, req.DisplayID); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	c.Set("order_ref", req.OrderRef)

	res, err := h.terminal.InitiateTransaction(context.WithoutCancel(c.Request.Context()), req, nil)
	h.respond(c, req.OrderRef, res, err)
}

func (h *TerminalHandler) Refund(c *gin.Context) {
	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Error("Error decoding refund request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if msg := validatePayment(req.OrderRef, req.Currency, req.DisplayID); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	c.Set("order_ref", req.OrderRef)

	res, err := h.terminal.Refund(context.WithoutCancel(c.Request.Context()), req, nil)
	h.respond(c, req.OrderRef, res, err)
}

func (h *TerminalHandler) Cancel(c *gin.Context) {
	if !h.terminal.Cancel(c.Request.Context()) {
		c.JSON(http.StatusConflict, gin.H{
			"cancelled": false,
			"state":     h.terminal.CurrentState(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (h *TerminalHandler) Reset(c *gin.Context) {
	h.terminal.Reset()
	c.JSON(http.StatusOK, gin.H{"state": h.terminal.CurrentState()})
}

func (h *TerminalHandler) GetState(c *gin.Context) {
	body := gin.H{
		"state":    h.terminal.CurrentState(),
		"provider": h.terminal.Provider(),
		"version":  h.terminal.Version(),
	}
	if next := h.terminal.NextAutoResetAt(); !next.IsZero() {
		body["next_auto_reset_at"] = next.UTC()
	}
	c.JSON(http.StatusOK, body)
}

func (h *TerminalHandler) respond(c *gin.Context, orderRef string, res *models.PaymentResult, err error) {
	if err != nil {
		telemetry.Logger.Error("Terminal state machine fault",
			zap.String("order_ref", orderRef),
			zap.Error(err),
		)
		body := gin.H{"error": "terminal state machine fault", "order_ref": orderRef}
		if res != nil {
			body["result"] = res
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	if !res.Success {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func validatePayment(orderRef, currency, displayID string) string {
	switch {
	case strings.TrimSpace(orderRef) == "":
		return "order_ref is required"
	case len(currency) != 3:
		return "currency must be a 3-letter ISO code"
	case strings.TrimSpace(displayID) == "":
		return "display_id is required"
	}
	return ""
}
